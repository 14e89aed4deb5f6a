package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/kbsearch/internal/models"
)

// PostgresStorage implements Storage on PostgreSQL with the pgvector extension, for
// deployments where several service instances share one database.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects with dsn and initializes the schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := NewPostgresStorageFromDB(db)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewPostgresStorageFromDB wraps an open database handle without touching the schema.
func NewPostgresStorageFromDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	title TEXT,
	raw_text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	fields JSONB NOT NULL,
	source TEXT,
	embedding vector,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_kind ON documents(kind);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

CREATE TABLE IF NOT EXISTS embeddings (
	namespace TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	vector vector NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, fingerprint)
);
`

// InitSchema creates the extension, tables and indexes if missing.
func (s *PostgresStorage) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

const postgresDocumentColumns = `id, kind, title, raw_text, normalized_text, fingerprint, fields, source, embedding, created_at, updated_at`

const postgresUpsert = `INSERT INTO documents (` + postgresDocumentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	kind = EXCLUDED.kind,
	title = EXCLUDED.title,
	raw_text = EXCLUDED.raw_text,
	normalized_text = EXCLUDED.normalized_text,
	fingerprint = EXCLUDED.fingerprint,
	fields = EXCLUDED.fields,
	source = EXCLUDED.source,
	embedding = EXCLUDED.embedding,
	updated_at = EXCLUDED.updated_at
RETURNING created_at`

func (s *PostgresStorage) UpsertDocument(ctx context.Context, doc *models.Document) error {
	fields, err := encodeFields(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	stamp(doc, time.Now())

	var emb any
	if len(doc.Embedding) > 0 {
		emb = pgvector.NewVector(doc.Embedding)
	}
	var created time.Time
	err = s.db.QueryRowContext(ctx, postgresUpsert,
		doc.ID, string(doc.Kind), doc.Title(), doc.RawText, doc.NormalizedText, doc.Fingerprint,
		fields, doc.Source, emb, doc.CreatedAt, doc.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	doc.CreatedAt = created.UTC()
	return nil
}

func scanPostgresDocument(r rowScanner) (*models.Document, error) {
	var (
		doc           models.Document
		kind          string
		fields        []byte
		title, source sql.NullString
		emb           *pgvector.Vector
	)
	if err := r.Scan(&doc.ID, &kind, &title, &doc.RawText, &doc.NormalizedText, &doc.Fingerprint,
		&fields, &source, &emb, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Kind = models.Kind(kind)
	doc.Source = source.String
	if err := decodeFields(&doc, fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields of %s: %w", doc.ID, err)
	}
	if emb != nil {
		doc.Embedding = emb.Slice()
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func (s *PostgresStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresDocumentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanPostgresDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStorage) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) ListDocuments(ctx context.Context, opts ListOptions) ([]*models.Document, error) {
	limit := any(nil)
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postgresDocumentColumns+` FROM documents
		 WHERE ($1 = '' OR kind = $1)
		 ORDER BY created_at, id
		 LIMIT $2 OFFSET $3`,
		string(opts.Kind), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanPostgresDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStorage) CountDocuments(ctx context.Context, kind models.Kind) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE ($1 = '' OR kind = $1)`, string(kind)).Scan(&n)
	return n, err
}

func (s *PostgresStorage) CountByDay(ctx context.Context, kind models.Kind, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM documents
		 WHERE kind = $1 AND created_at >= $2
		 GROUP BY day`,
		string(kind), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count documents by day: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStorage) GetEmbedding(ctx context.Context, namespace, fingerprint string) ([]float32, bool, error) {
	var v pgvector.Vector
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE namespace = $1 AND fingerprint = $2`,
		namespace, fingerprint).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v.Slice(), true, nil
}

func (s *PostgresStorage) PutEmbedding(ctx context.Context, namespace, fingerprint string, v []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (namespace, fingerprint, vector) VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, fingerprint) DO NOTHING`,
		namespace, fingerprint, pgvector.NewVector(v))
	return err
}

func (s *PostgresStorage) DeleteEmbedding(ctx context.Context, namespace, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE namespace = $1 AND fingerprint = $2`, namespace, fingerprint)
	return err
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
