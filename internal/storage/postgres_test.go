package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/models"
)

func newMockPostgres(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStorageFromDB(db), mock
}

var documentColumns = []string{"id", "kind", "title", "raw_text", "normalized_text", "fingerprint", "fields", "source", "embedding", "created_at", "updated_at"}

func TestPostgresStorage_InitSchema(t *testing.T) {
	store, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.InitSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_Upsert(t *testing.T) {
	store, mock := newMockPostgres(t)
	created := time.Date(2024, 7, 14, 9, 0, 0, 0, time.UTC)

	doc := testArticle("KB1", "Reset password")
	doc.Embedding = []float32{1, 2, 3}
	mock.ExpectQuery(regexp.QuoteMeta(postgresUpsert)).
		WithArgs("KB1", "article", "Reset password", "Reset password", "Reset password", "fp-KB1",
			sqlmock.AnyArg(), "", "[1,2,3]", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, store.UpsertDocument(context.Background(), doc))
	assert.True(t, created.Equal(doc.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_GetDocument(t *testing.T) {
	store, mock := newMockPostgres(t)
	now := time.Date(2024, 7, 14, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(documentColumns).AddRow(
		"T7", "ticket", "Printer offline", "printer offline", "printer offline", "fp",
		[]byte(`{"tracking_index":"T7","description":"printer offline","quality":"Fair"}`),
		nil, []byte("[0.5,0.25]"), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).WithArgs("T7").WillReturnRows(rows)

	doc, err := store.GetDocument(context.Background(), "T7")
	require.NoError(t, err)
	assert.Equal(t, models.KindTicket, doc.Kind)
	assert.Equal(t, "Fair", doc.Ticket.Quality)
	assert.Equal(t, []float32{0.5, 0.25}, doc.Embedding)
	assert.Empty(t, doc.Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_NotFound(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).WithArgs("KB9").WillReturnError(sql.ErrNoRows)
	_, err := store.GetDocument(ctx, "KB9")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE id = $1")).WithArgs("KB9").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DeleteDocument(ctx, "KB9"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_ListDocuments(t *testing.T) {
	store, mock := newMockPostgres(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(documentColumns).
		AddRow("KB1", "article", "a", "a", "a", "f1", []byte(`{"title":"a"}`), "upload.csv", nil, now, now).
		AddRow("KB2", "article", "b", "b", "b", "f2", []byte(`{"title":"b"}`), "upload.csv", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ($1 = '' OR kind = $1)")).WithArgs("article", 10, 0).WillReturnRows(rows)

	docs, err := store.ListDocuments(context.Background(), ListOptions{Kind: models.KindArticle, Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].Article.Title)
	assert.Equal(t, "upload.csv", docs[0].Source)
	assert.Nil(t, docs[0].Embedding)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_CountByDay(t *testing.T) {
	store, mock := newMockPostgres(t)
	since := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')")).
		WithArgs("ticket", since).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).AddRow("2024-07-01", 4).AddRow("2024-07-03", 1))

	counts, err := store.CountByDay(context.Background(), models.KindTicket, since)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2024-07-01": 4, "2024-07-03": 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_Embeddings(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (namespace, fingerprint) DO NOTHING")).
		WithArgs("m", "fp", "[1,0.5]").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.PutEmbedding(ctx, "m", "fp", []float32{1, 0.5}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT vector FROM embeddings")).
		WithArgs("m", "fp").WillReturnRows(sqlmock.NewRows([]string{"vector"}).AddRow([]byte("[1,0.5]")))
	v, ok, err := store.GetEmbedding(ctx, "m", "fp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 0.5}, v)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT vector FROM embeddings")).
		WithArgs("m", "missing").WillReturnError(sql.ErrNoRows)
	_, ok, err = store.GetEmbedding(ctx, "m", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
