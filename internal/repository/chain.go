package repository

import (
	"context"
	"errors"

	"lexsign/internal/model"
)

// Sentinel errors surfaced by the ledger. ErrHeadMismatch is the single
// concurrency signal of the whole system: it means another append won the
// race and the caller must re-read the head before retrying.
var (
	ErrNotFound     = errors.New("document not found")
	ErrHeadMismatch = errors.New("head item id mismatch")
)

// AppendInput carries the metadata of a version being appended.
type AppendInput struct {
	ItemID    string
	Filename  string
	CreatedBy string
}

// ChainRepository defines data access for documents and their version
// chains using SQL queries only. No business logic here — strictly
// persistence operations.
type ChainRepository interface {
	// CreateDocument inserts a new document row with its signer roster.
	// The document's head starts at the original external item; the
	// version list starts empty.
	CreateDocument(ctx context.Context, doc *model.Document, signers []model.Signer) (*model.VersionChain, error)

	// FindChain returns a document with its full version history and
	// signer roster.
	FindChain(ctx context.Context, documentID string) (*model.VersionChain, error)

	// ListByMatter returns a paginated list of a matter's documents.
	ListByMatter(ctx context.Context, matterID string, pq PageQuery) (*PageResult[model.Document], error)

	// AppendVersion is the compare-and-swap on the head pointer. If the
	// live head differs from expectedHeadItemID it returns ErrHeadMismatch
	// without mutating anything. On match it appends the version and moves
	// the head in a single transaction, so a reader never observes a chain
	// whose versions and head disagree.
	AppendVersion(ctx context.Context, documentID, expectedHeadItemID string, in AppendInput) (*model.VersionChain, error)

	// RevertToVersion truncates the chain to (and including) the target
	// version and repoints the head. Destructive: everything after the
	// target is gone.
	RevertToVersion(ctx context.Context, documentID, targetItemID, actor string) (*model.VersionChain, error)

	// SetStatus moves the document between draft/published/signed.
	SetStatus(ctx context.Context, documentID string, status model.DocumentStatus, actor string) (*model.Document, error)

	// MarkSigner records a signer's terminal outcome on the roster.
	MarkSigner(ctx context.Context, documentID, email string, status model.SignerStatus) error

	// AppendAudit records a standalone audit event for the document.
	AppendAudit(ctx context.Context, documentID, event, actor string, detail map[string]any) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
