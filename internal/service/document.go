package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"lexsign/internal/model"
	"lexsign/internal/repository"
	"lexsign/internal/signing"
	"lexsign/internal/stamp"
	"lexsign/internal/storage"
)

var (
	ErrIDRequired   = errors.New("id is required")
	ErrNotFound     = errors.New("document not found")
	ErrReaderNil    = errors.New("reader is nil")
	ErrNotPublished = errors.New("document is not published")
	// ErrIntegrity means the bytes stored under the submitted item id do
	// not hash to the submitted value. Fatal to the attempt: a signed
	// version with unverifiable integrity is never recorded.
	ErrIntegrity = errors.New("content hash mismatch")
)

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// InitiatedUpload is the single-URL upload start handed to internal
// clients: a presigned PUT plus the storage path the ledger will record.
type InitiatedUpload struct {
	UploadURL string `json:"upload_url"`
	FilePath  string `json:"file_path"`
}

// SignInput drives server-side signing: the signature image and its
// placement in the source PDF's point space. Placement survives retries
// unchanged; only the base document moves.
type SignInput struct {
	SignatureImage []byte
	X              float64
	Y              float64
	Width          float64
	PageIndex      int
	SignerName     string
	SignerEmail    string
	SessionID      string
	IncludeStamp   bool
}

// UpdateSignedInput is the finalize payload: the freshly uploaded item,
// the head the signer started from, and the hash computed at composite
// time.
type UpdateSignedInput struct {
	DriveItemID  string
	SourceItemID string
	FileHash     string
	SignerEmail  string
	SessionID    string
}

// UploadOpener is the slice of the upload session manager the service
// needs: opening a chunked session for a destination key.
type UploadOpener interface {
	Open(ctx context.Context, key string, totalBytes int64, contentType string) (*model.UploadSession, error)
}

// SessionVoider is the slice of the signing session store the document
// service needs: consuming a finished session and voiding a document's
// sessions on unpublish.
type SessionVoider interface {
	Start(ctx context.Context, documentID, signerEmail, headItemID string) (*model.SigningSession, error)
	Consume(ctx context.Context, id string) error
	VoidDocument(ctx context.Context, documentID string) (int, error)
}

// DocumentService defines the internal-user use cases for documents and
// their version chains.
type DocumentService interface {
	// Create uploads the original content, then records the document with
	// its signer roster. The head starts at the uploaded object; the
	// version list starts empty. Storage is rolled back if the DB insert
	// fails.
	Create(ctx context.Context, r io.Reader, matterID, originalFilename, contentType string, size int64, signers []model.Signer) (*model.VersionChain, error)

	// Get returns a document with its full chain and roster.
	Get(ctx context.Context, id string) (*model.VersionChain, error)

	// ListByMatter returns a matter's documents using limit/offset.
	ListByMatter(ctx context.Context, matterID string, limit, offset int) (*DocumentListResult, error)

	// Publish makes a draft signable.
	Publish(ctx context.Context, id, actor string) (*model.Document, error)

	// Unpublish retracts a document and voids its in-flight signing
	// sessions, so nothing started before the retraction can finalize.
	Unpublish(ctx context.Context, id, actor string) (*model.Document, error)

	// InitiateUpload hands out a presigned PUT for the next version's
	// storage path.
	InitiateUpload(ctx context.Context, id, filename string) (*InitiatedUpload, error)

	// OpenUploadSession starts a resumable chunked upload for the next
	// version, for clients that cannot do a single PUT.
	OpenUploadSession(ctx context.Context, id, filename string, totalBytes int64) (*model.UploadSession, error)

	// DownloadLink hands out a time-boxed presigned GET for the current
	// head object.
	DownloadLink(ctx context.Context, id string) (string, error)

	// StartSession begins a signing attempt, capturing the current head.
	StartSession(ctx context.Context, id, signerEmail string) (*model.SigningSession, error)

	// UpdateSigned verifies the uploaded object's hash and appends it as
	// the next version. Returns repository.ErrHeadMismatch when another
	// signer moved the head first.
	UpdateSigned(ctx context.Context, id string, in UpdateSignedInput) (*model.VersionChain, error)

	// Sign composites the signature onto the current head server-side,
	// uploads the result and appends it, retrying a bounded number of
	// times when a concurrent signer moves the head. Clients that
	// composite locally use UpdateSigned instead.
	Sign(ctx context.Context, id string, in SignInput) (*model.VersionChain, error)

	// MarkDeclined records a signer's refusal on the roster.
	MarkDeclined(ctx context.Context, id, signerEmail string) error

	// Revert truncates the chain back to the target version. Destructive
	// and audited; signer statuses are left as they are.
	Revert(ctx context.Context, id, targetItemID, actor string) (*model.VersionChain, error)
}

type documentService struct {
	store    storage.Storage
	repo     repository.ChainRepository
	sessions SessionVoider
	uploads  UploadOpener
	ctrl     *signing.Controller
	linkTTL  time.Duration
}

// NewDocumentService constructs a DocumentService. linkTTL bounds the
// presigned URLs it hands out; maxSignAttempts bounds the server-side
// retry loop of Sign.
func NewDocumentService(store storage.Storage, repo repository.ChainRepository, sessions SessionVoider, uploads UploadOpener, linkTTL time.Duration, maxSignAttempts int) DocumentService {
	return &documentService{
		store:    store,
		repo:     repo,
		sessions: sessions,
		uploads:  uploads,
		ctrl:     signing.NewController(repo, maxSignAttempts),
		linkTTL:  linkTTL,
	}
}

// versionKey is the storage path of a document's nth version; the
// original upload is version zero. Each call yields a distinct key:
// concurrent signers composing against the same head must not write to
// the same object, so the append decides which upload becomes the
// version and a lost race leaves only an orphaned object behind.
func versionKey(documentID string, n int, filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".pdf"
	}
	return fmt.Sprintf("documents/%s/v%d-%s%s", documentID, n, uuid.New().String()[:8], ext)
}

func (s *documentService) Create(ctx context.Context, r io.Reader, matterID, originalFilename, contentType string, size int64, signers []model.Signer) (*model.VersionChain, error) {
	if r == nil {
		return nil, ErrReaderNil
	}
	if matterID == "" {
		return nil, fmt.Errorf("matter id is required")
	}

	docID := uuid.New().String()
	key := versionKey(docID, 0, originalFilename)

	objInfo, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": originalFilename,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	now := time.Now().UTC()
	doc := &model.Document{
		ID:         docID,
		MatterID:   matterID,
		Filename:   originalFilename,
		HeadItemID: objInfo.Key,
		Status:     model.StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := range signers {
		signers[i].Status = model.SignerPending
		if signers[i].Order == 0 {
			signers[i].Order = i + 1
		}
	}

	chain, err := s.repo.CreateDocument(ctx, doc, signers)
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return chain, nil
}

func (s *documentService) Get(ctx context.Context, id string) (*model.VersionChain, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	chain, err := s.repo.FindChain(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return chain, nil
}

func (s *documentService) ListByMatter(ctx context.Context, matterID string, limit, offset int) (*DocumentListResult, error) {
	if matterID == "" {
		return nil, fmt.Errorf("matter id is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	res, err := s.repo.ListByMatter(ctx, matterID, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *documentService) Publish(ctx context.Context, id, actor string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.SetStatus(ctx, id, model.StatusPublished, actor)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return doc, nil
}

func (s *documentService) Unpublish(ctx context.Context, id, actor string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.SetStatus(ctx, id, model.StatusDraft, actor)
	if err != nil {
		return nil, mapNotFound(err)
	}
	voided, err := s.sessions.VoidDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("void signing sessions: %w", err)
	}
	if voided > 0 {
		_ = s.repo.AppendAudit(ctx, id, "sessions_voided", actor, map[string]any{"count": voided})
	}
	return doc, nil
}

func (s *documentService) InitiateUpload(ctx context.Context, id, filename string) (*InitiatedUpload, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	chain, err := s.repo.FindChain(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if filename == "" {
		filename = chain.Document.Filename
	}

	key := versionKey(id, chain.NextVersion(), filename)
	url, err := s.store.PresignPut(ctx, key, s.linkTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return &InitiatedUpload{UploadURL: url, FilePath: key}, nil
}

func (s *documentService) OpenUploadSession(ctx context.Context, id, filename string, totalBytes int64) (*model.UploadSession, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	chain, err := s.repo.FindChain(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if filename == "" {
		filename = chain.Document.Filename
	}
	key := versionKey(id, chain.NextVersion(), filename)
	return s.uploads.Open(ctx, key, totalBytes, "application/pdf")
}

func (s *documentService) DownloadLink(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrIDRequired
	}
	chain, err := s.repo.FindChain(ctx, id)
	if err != nil {
		return "", mapNotFound(err)
	}
	url, err := s.store.PresignGet(ctx, chain.Head(), s.linkTTL)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

func (s *documentService) StartSession(ctx context.Context, id, signerEmail string) (*model.SigningSession, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	chain, err := s.repo.FindChain(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if chain.Document.Status != model.StatusPublished {
		return nil, ErrNotPublished
	}
	return s.sessions.Start(ctx, id, signerEmail, chain.Head())
}

func (s *documentService) UpdateSigned(ctx context.Context, id string, in UpdateSignedInput) (*model.VersionChain, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	if in.DriveItemID == "" || in.SourceItemID == "" {
		return nil, fmt.Errorf("item ids are required")
	}

	current, err := s.repo.FindChain(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if current.Document.Status != model.StatusPublished {
		return nil, ErrNotPublished
	}
	if in.SignerEmail != "" && !onRoster(current.Signers, in.SignerEmail) {
		return nil, ErrNotOnRoster
	}

	if err := s.verifyHash(ctx, in.DriveItemID, in.FileHash); err != nil {
		return nil, err
	}

	chain, err := s.repo.AppendVersion(ctx, id, in.SourceItemID, repository.AppendInput{
		ItemID:    in.DriveItemID,
		Filename:  current.Document.Filename,
		CreatedBy: in.SignerEmail,
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return s.recordSignature(ctx, id, chain, in.SignerEmail, in.SessionID)
}

func (s *documentService) Sign(ctx context.Context, id string, in SignInput) (*model.VersionChain, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	if len(in.SignatureImage) == 0 {
		return nil, fmt.Errorf("signature image is required")
	}

	current, err := s.repo.FindChain(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if current.Document.Status != model.StatusPublished {
		return nil, ErrNotPublished
	}
	if in.SignerEmail != "" && !onRoster(current.Signers, in.SignerEmail) {
		return nil, ErrNotOnRoster
	}
	filename := current.Document.Filename

	compose := func(ctx context.Context, baseItemID string, attempt int) (string, string, error) {
		rc, _, err := s.store.Get(ctx, baseItemID)
		if err != nil {
			return "", "", fmt.Errorf("read head object: %w", err)
		}
		base, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", "", fmt.Errorf("read head object: %w", err)
		}

		res, err := stamp.Composite(base, in.SignatureImage, stamp.Options{
			X:            in.X,
			Y:            in.Y,
			Width:        in.Width,
			PageIndex:    in.PageIndex,
			SignerName:   in.SignerName,
			AuditID:      uuid.New().String(),
			IncludeStamp: in.IncludeStamp,
		})
		if err != nil {
			return "", "", err
		}

		fresh, err := s.repo.FindChain(ctx, id)
		if err != nil {
			return "", "", mapNotFound(err)
		}
		key := versionKey(id, fresh.NextVersion(), filename)
		if _, err := s.store.Put(ctx, key, bytes.NewReader(res.SignedBytes), storage.PutObjectOptions{
			Size:        int64(len(res.SignedBytes)),
			ContentType: "application/pdf",
		}); err != nil {
			return "", "", fmt.Errorf("upload signed version: %w", err)
		}
		return key, res.ContentHash, nil
	}

	out, err := s.ctrl.Sign(ctx, id, current.Head(), filename, in.SignerEmail, compose)
	if err != nil {
		return nil, err
	}
	return s.recordSignature(ctx, id, out.Chain, in.SignerEmail, in.SessionID)
}

// recordSignature is the post-append bookkeeping shared by UpdateSigned
// and Sign: mark the signer on the roster, flip the document to signed
// once the roster is complete, and retire the signing session.
func (s *documentService) recordSignature(ctx context.Context, id string, chain *model.VersionChain, signerEmail, sessionID string) (*model.VersionChain, error) {
	if signerEmail != "" {
		if err := s.repo.MarkSigner(ctx, id, signerEmail, model.SignerSigned); err != nil {
			return nil, fmt.Errorf("mark signer: %w", err)
		}
		fresh, err := s.repo.FindChain(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = fresh
		if allSigned(chain.Signers) {
			doc, err := s.repo.SetStatus(ctx, id, model.StatusSigned, signerEmail)
			if err != nil {
				return nil, err
			}
			chain.Document = *doc
		}
	}
	if sessionID != "" {
		if err := s.sessions.Consume(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("consume signing session: %w", err)
		}
	}
	return chain, nil
}

func (s *documentService) MarkDeclined(ctx context.Context, id, signerEmail string) error {
	if id == "" || signerEmail == "" {
		return ErrIDRequired
	}
	if err := s.repo.MarkSigner(ctx, id, signerEmail, model.SignerDeclined); err != nil {
		return mapNotFound(err)
	}
	return s.repo.AppendAudit(ctx, id, "signer_declined", signerEmail, nil)
}

func (s *documentService) Revert(ctx context.Context, id, targetItemID, actor string) (*model.VersionChain, error) {
	if id == "" || targetItemID == "" {
		return nil, ErrIDRequired
	}
	chain, err := s.repo.RevertToVersion(ctx, id, targetItemID, actor)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return chain, nil
}

// verifyHash recomputes the hash of the stored object and compares it to
// the one carried through the upload.
func (s *documentService) verifyHash(ctx context.Context, itemID, fileHash string) error {
	if fileHash == "" {
		return ErrIntegrity
	}
	rc, _, err := s.store.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("read uploaded object: %w", err)
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return fmt.Errorf("hash uploaded object: %w", err)
	}
	if "sha256:"+hex.EncodeToString(h.Sum(nil)) != fileHash {
		return ErrIntegrity
	}
	return nil
}

// onRoster reports whether email belongs to one of the document's
// signers. Checked before any version is appended: a commit attributed
// to an unknown signer could never be marked on the roster afterwards.
func onRoster(signers []model.Signer, email string) bool {
	for _, sg := range signers {
		if sg.Email == email {
			return true
		}
	}
	return false
}

func allSigned(signers []model.Signer) bool {
	if len(signers) == 0 {
		return false
	}
	for _, sg := range signers {
		if sg.Status != model.SignerSigned {
			return false
		}
	}
	return true
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
