package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lexsign/internal/model"
	"lexsign/internal/repository"
)

// ChainPostgres is a PostgreSQL implementation of repository.ChainRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type ChainPostgres struct {
	db *sql.DB
}

// NewChainPostgres creates a new ChainPostgres repository.
func NewChainPostgres(db *sql.DB) *ChainPostgres {
	return &ChainPostgres{db: db}
}

var _ repository.ChainRepository = (*ChainPostgres)(nil)

const documentColumns = `id, matter_id, filename, head_item_id, status, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(
		&d.ID,
		&d.MatterID,
		&d.Filename,
		&d.HeadItemID,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDocument inserts the document row plus its signer roster in one transaction.
func (r *ChainPostgres) CreateDocument(ctx context.Context, doc *model.Document, signers []model.Signer) (*model.VersionChain, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const qDoc = `
		INSERT INTO documents (id, matter_id, filename, head_item_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING ` + documentColumns
	stored, err := scanDocument(tx.QueryRowContext(ctx, qDoc,
		doc.ID,
		doc.MatterID,
		doc.Filename,
		doc.HeadItemID,
		doc.Status,
		doc.CreatedAt,
	))
	if err != nil {
		return nil, err
	}

	const qSigner = `
		INSERT INTO signers (document_id, email, name, status, sign_order)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, s := range signers {
		if _, err := tx.ExecContext(ctx, qSigner, stored.ID, s.Email, s.Name, model.SignerPending, s.Order); err != nil {
			return nil, err
		}
	}

	if err := insertAudit(ctx, tx, stored.ID, "document_created", doc.HeadItemID, map[string]any{
		"filename": doc.Filename,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.FindChain(ctx, stored.ID)
}

// FindChain loads the document, its versions (oldest first) and its signer roster.
func (r *ChainPostgres) FindChain(ctx context.Context, documentID string) (*model.VersionChain, error) {
	const qDoc = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, qDoc, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	chain := &model.VersionChain{Document: *doc}

	const qVersions = `
		SELECT item_id, filename, position, created_at, created_by
		FROM versions
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := r.db.QueryContext(ctx, qVersions, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v model.Version
		if err := rows.Scan(&v.ItemID, &v.Filename, &v.Position, &v.CreatedAt, &v.CreatedBy); err != nil {
			return nil, err
		}
		chain.Versions = append(chain.Versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const qSigners = `
		SELECT email, name, status, sign_order, signed_at
		FROM signers
		WHERE document_id = $1
		ORDER BY sign_order ASC, email ASC
	`
	srows, err := r.db.QueryContext(ctx, qSigners, documentID)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var s model.Signer
		if err := srows.Scan(&s.Email, &s.Name, &s.Status, &s.Order, &s.SignedAt); err != nil {
			return nil, err
		}
		chain.Signers = append(chain.Signers, s)
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}

	return chain, nil
}

// ListByMatter returns documents of a matter using LIMIT/OFFSET pagination and a total count.
func (r *ChainPostgres) ListByMatter(ctx context.Context, matterID string, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents WHERE matter_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, matterID).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE matter_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, matterID, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// AppendVersion performs the compare-and-swap append. The head row is
// locked for the duration of the transaction, so two racing appends are
// serialized and exactly one of them sees its expected head.
func (r *ChainPostgres) AppendVersion(ctx context.Context, documentID, expectedHeadItemID string, in repository.AppendInput) (*model.VersionChain, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const qHead = `SELECT head_item_id FROM documents WHERE id = $1 FOR UPDATE`
	var head string
	if err := tx.QueryRowContext(ctx, qHead, documentID).Scan(&head); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if head != expectedHeadItemID {
		// The loser's transaction rolls back without touching anything.
		return nil, repository.ErrHeadMismatch
	}

	const qPos = `SELECT COALESCE(MAX(position), 0) + 1 FROM versions WHERE document_id = $1`
	var position int
	if err := tx.QueryRowContext(ctx, qPos, documentID).Scan(&position); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	const qInsert = `
		INSERT INTO versions (document_id, position, item_id, filename, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.ExecContext(ctx, qInsert, documentID, position, in.ItemID, in.Filename, now, in.CreatedBy); err != nil {
		return nil, err
	}

	const qUpdate = `UPDATE documents SET head_item_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, qUpdate, documentID, in.ItemID, now); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, tx, documentID, "version_appended", in.CreatedBy, map[string]any{
		"item_id":  in.ItemID,
		"position": position,
		"previous": expectedHeadItemID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.FindChain(ctx, documentID)
}

// RevertToVersion truncates the chain after the target version and repoints the head.
func (r *ChainPostgres) RevertToVersion(ctx context.Context, documentID, targetItemID, actor string) (*model.VersionChain, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const qHead = `SELECT head_item_id FROM documents WHERE id = $1 FOR UPDATE`
	var head string
	if err := tx.QueryRowContext(ctx, qHead, documentID).Scan(&head); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	const qTarget = `SELECT position FROM versions WHERE document_id = $1 AND item_id = $2`
	var position int
	if err := tx.QueryRowContext(ctx, qTarget, documentID, targetItemID).Scan(&position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	const qTruncate = `DELETE FROM versions WHERE document_id = $1 AND position > $2`
	if _, err := tx.ExecContext(ctx, qTruncate, documentID, position); err != nil {
		return nil, err
	}

	const qUpdate = `UPDATE documents SET head_item_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, qUpdate, documentID, targetItemID, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, tx, documentID, "chain_reverted", actor, map[string]any{
		"target_item_id":  targetItemID,
		"target_position": position,
		"previous_head":   head,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.FindChain(ctx, documentID)
}

// SetStatus updates the document lifecycle state and records the transition.
func (r *ChainPostgres) SetStatus(ctx context.Context, documentID string, status model.DocumentStatus, actor string) (*model.Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const q = `
		UPDATE documents SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + documentColumns
	doc, err := scanDocument(tx.QueryRowContext(ctx, q, documentID, status, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if err := insertAudit(ctx, tx, documentID, "status_changed", actor, map[string]any{
		"status": string(status),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doc, nil
}

// MarkSigner records the signer's outcome; signed_at is set only when signing.
func (r *ChainPostgres) MarkSigner(ctx context.Context, documentID, email string, status model.SignerStatus) error {
	const q = `
		UPDATE signers
		SET status = $3,
		    signed_at = CASE WHEN $3 = 'signed' THEN now() ELSE signed_at END
		WHERE document_id = $1 AND email = $2
	`
	res, err := r.db.ExecContext(ctx, q, documentID, email, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendAudit records a standalone audit event outside any chain mutation.
func (r *ChainPostgres) AppendAudit(ctx context.Context, documentID, event, actor string, detail map[string]any) error {
	return insertAudit(ctx, r.db, documentID, event, actor, detail)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, ex execer, documentID, event, actor string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	const q = `
		INSERT INTO audit_events (document_id, event, actor, detail)
		VALUES ($1, $2, $3, $4)
	`
	_, err = ex.ExecContext(ctx, q, documentID, event, actor, b)
	return err
}
