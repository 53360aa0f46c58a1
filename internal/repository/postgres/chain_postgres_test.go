package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"lexsign/internal/model"
	"lexsign/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*ChainPostgres, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	return NewChainPostgres(db), mock, func() { db.Close() }
}

func expectFindChain(mock sqlmock.Sqlmock, docID, head string, versionItems ...string) {
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = ?").
		WithArgs(docID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "matter_id", "filename", "head_item_id", "status", "created_at", "updated_at"}).
			AddRow(docID, "matter-1", "engagement.pdf", head, "published", now, now))

	vrows := sqlmock.NewRows([]string{"item_id", "filename", "position", "created_at", "created_by"})
	for i, item := range versionItems {
		vrows.AddRow(item, "engagement.pdf", i+1, now, "alice@firm.example")
	}
	mock.ExpectQuery("SELECT (.+) FROM versions").
		WithArgs(docID).
		WillReturnRows(vrows)

	mock.ExpectQuery("SELECT (.+) FROM signers").
		WithArgs(docID).
		WillReturnRows(sqlmock.NewRows([]string{"email", "name", "status", "sign_order", "signed_at"}).
			AddRow("alice@firm.example", "Alice", "pending", 1, nil))
}

func TestChainPostgres_AppendVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("head matches - append succeeds", func(t *testing.T) {
		repo, mock, closeFn := newMockRepo(t)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT head_item_id FROM documents WHERE id = (.+) FOR UPDATE").
			WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"head_item_id"}).AddRow("item-h0"))
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(position\\), 0\\) \\+ 1 FROM versions").
			WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(2))
		mock.ExpectExec("INSERT INTO versions").
			WithArgs("doc-1", 2, "item-h1", "engagement.pdf", sqlmock.AnyArg(), "alice@firm.example").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE documents SET head_item_id").
			WithArgs("doc-1", "item-h1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs("doc-1", "version_appended", "alice@firm.example", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		expectFindChain(mock, "doc-1", "item-h1", "item-h0", "item-h1")

		chain, err := repo.AppendVersion(ctx, "doc-1", "item-h0", repository.AppendInput{
			ItemID:    "item-h1",
			Filename:  "engagement.pdf",
			CreatedBy: "alice@firm.example",
		})

		require.NoError(t, err)
		assert.Equal(t, "item-h1", chain.Head())
		assert.True(t, chain.Consistent())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("head moved - mismatch without mutation", func(t *testing.T) {
		repo, mock, closeFn := newMockRepo(t)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT head_item_id FROM documents WHERE id = (.+) FOR UPDATE").
			WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"head_item_id"}).AddRow("item-h1"))
		mock.ExpectRollback()

		chain, err := repo.AppendVersion(ctx, "doc-1", "item-h0", repository.AppendInput{
			ItemID: "item-h1b",
		})

		assert.ErrorIs(t, err, repository.ErrHeadMismatch)
		assert.Nil(t, chain)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown document", func(t *testing.T) {
		repo, mock, closeFn := newMockRepo(t)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT head_item_id FROM documents WHERE id = (.+) FOR UPDATE").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.AppendVersion(ctx, "missing", "item-h0", repository.AppendInput{})

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestChainPostgres_RevertToVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("truncates after target and repoints head", func(t *testing.T) {
		repo, mock, closeFn := newMockRepo(t)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT head_item_id FROM documents WHERE id = (.+) FOR UPDATE").
			WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"head_item_id"}).AddRow("item-h2"))
		mock.ExpectQuery("SELECT position FROM versions").
			WithArgs("doc-1", "item-h1").
			WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(2))
		mock.ExpectExec("DELETE FROM versions").
			WithArgs("doc-1", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE documents SET head_item_id").
			WithArgs("doc-1", "item-h1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs("doc-1", "chain_reverted", "alice@firm.example", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		expectFindChain(mock, "doc-1", "item-h1", "item-h0", "item-h1")

		chain, err := repo.RevertToVersion(ctx, "doc-1", "item-h1", "alice@firm.example")

		require.NoError(t, err)
		assert.Equal(t, "item-h1", chain.Head())
		assert.Len(t, chain.Versions, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown target version", func(t *testing.T) {
		repo, mock, closeFn := newMockRepo(t)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT head_item_id FROM documents WHERE id = (.+) FOR UPDATE").
			WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"head_item_id"}).AddRow("item-h2"))
		mock.ExpectQuery("SELECT position FROM versions").
			WithArgs("doc-1", "item-nope").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.RevertToVersion(ctx, "doc-1", "item-nope", "alice@firm.example")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestChainPostgres_FindChain(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		expectFindChain(mock, "doc-1", "item-h1", "item-h0", "item-h1")

		chain, err := repo.FindChain(ctx, "doc-1")

		require.NoError(t, err)
		assert.Equal(t, "doc-1", chain.Document.ID)
		assert.Len(t, chain.Versions, 2)
		assert.Len(t, chain.Signers, 1)
		assert.True(t, chain.Consistent())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.FindChain(ctx, "missing")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestChainPostgres_MarkSigner(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()
	ctx := context.Background()

	t.Run("updates roster row", func(t *testing.T) {
		mock.ExpectExec("UPDATE signers").
			WithArgs("doc-1", "guest@client.example", model.SignerSigned).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkSigner(ctx, "doc-1", "guest@client.example", model.SignerSigned)
		assert.NoError(t, err)
	})

	t.Run("unknown signer", func(t *testing.T) {
		mock.ExpectExec("UPDATE signers").
			WithArgs("doc-1", "nobody@client.example", model.SignerDeclined).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkSigner(ctx, "doc-1", "nobody@client.example", model.SignerDeclined)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestChainPostgres_ListByMatter(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
		WithArgs("matter-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM documents").
		WithArgs("matter-1", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "matter_id", "filename", "head_item_id", "status", "created_at", "updated_at"}).
			AddRow("doc-1", "matter-1", "engagement.pdf", "item-h0", "draft", now, now))

	res, err := repo.ListByMatter(ctx, "matter-1", repository.PageQuery{Limit: 10, Offset: 0})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Len(t, res.Items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
