// Package signing coordinates one signer's attempt to land a new version
// on a document. Two signers racing from the same head are resolved by
// the ledger's compare-and-swap; this package is the caller's side of
// that protocol, a bounded retry loop that re-reads the head and
// recomposites after every lost race.
package signing

import (
	"context"
	"errors"
	"fmt"

	"lexsign/internal/model"
	"lexsign/internal/repository"
)

// ErrTooManyConflicts is returned once the attempt budget is exhausted.
// The user-facing message is "too many concurrent edits, reload and try
// again"; the chain itself is untouched by the failed attempts.
var ErrTooManyConflicts = errors.New("too many concurrent signing conflicts")

// Ledger is the slice of the repository the controller needs: the
// compare-and-swap append and a fresh head read for conflict recovery.
type Ledger interface {
	AppendVersion(ctx context.Context, documentID, expectedHeadItemID string, in repository.AppendInput) (*model.VersionChain, error)
	FindChain(ctx context.Context, documentID string) (*model.VersionChain, error)
}

// ComposeFunc produces and uploads a signed rendition of the document
// identified by baseItemID, returning the external id of the new object
// and the content hash of its bytes. Called once per attempt; after a
// lost race it is called again with the new head, so implementations
// must retain the signature image and placement across calls.
type ComposeFunc func(ctx context.Context, baseItemID string, attempt int) (newItemID, contentHash string, err error)

// Outcome reports a successful sign: the chain after the append and how
// many attempts it took. Attempts > 1 means at least one lost race.
type Outcome struct {
	Chain    *model.VersionChain
	Attempts int
	ItemID   string
	Hash     string
}

// Controller runs the sign-upload-append loop against the ledger.
type Controller struct {
	ledger      Ledger
	maxAttempts int
}

// NewController creates a controller with the given attempt budget.
// A budget below one is treated as one.
func NewController(ledger Ledger, maxAttempts int) *Controller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Controller{ledger: ledger, maxAttempts: maxAttempts}
}

// Sign drives one signer's flow to completion. startedFromItemID is the
// head the signer observed when their session began; compose is invoked
// with that head on the first attempt and with the re-read head after
// every conflict. Filename and signerEmail go into the appended version's
// metadata unchanged across attempts.
func (c *Controller) Sign(ctx context.Context, documentID, startedFromItemID, filename, signerEmail string, compose ComposeFunc) (*Outcome, error) {
	head := startedFromItemID
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		newItemID, hash, err := compose(ctx, head, attempt)
		if err != nil {
			return nil, fmt.Errorf("compose attempt %d: %w", attempt, err)
		}

		chain, err := c.ledger.AppendVersion(ctx, documentID, head, repository.AppendInput{
			ItemID:    newItemID,
			Filename:  filename,
			CreatedBy: signerEmail,
		})
		if err == nil {
			return &Outcome{Chain: chain, Attempts: attempt, ItemID: newItemID, Hash: hash}, nil
		}
		if !errors.Is(err, repository.ErrHeadMismatch) {
			return nil, err
		}

		// Lost the race. The signed object just uploaded is orphaned in
		// the store, which is fine; only the ledger append commits.
		fresh, err := c.ledger.FindChain(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("re-read head after conflict: %w", err)
		}
		head = fresh.Head()
	}
	return nil, fmt.Errorf("%w: document %s after %d attempts", ErrTooManyConflicts, documentID, c.maxAttempts)
}
