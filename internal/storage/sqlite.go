package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

// SQLiteStorage implements Storage on a local SQLite file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if needed. ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		title TEXT,
		raw_text TEXT NOT NULL,
		normalized_text TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		fields TEXT NOT NULL,
		source TEXT,
		embedding BLOB,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_kind ON documents(kind);
	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
	CREATE INDEX IF NOT EXISTS idx_documents_fingerprint ON documents(fingerprint);

	CREATE TABLE IF NOT EXISTS embeddings (
		namespace TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		vector BLOB NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (namespace, fingerprint)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// sqliteTimeLayout is fixed width so that text comparison orders timestamps.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteDocumentColumns = `id, kind, title, raw_text, normalized_text, fingerprint, fields, source, embedding, created_at, updated_at`

// UpsertDocument inserts or replaces doc, preserving created_at of an existing row.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *models.Document) error {
	fields, err := encodeFields(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	stamp(doc, time.Now())

	var emb []byte
	if len(doc.Embedding) > 0 {
		emb = utils.EncodeVector(doc.Embedding)
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO documents (`+sqliteDocumentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			raw_text = excluded.raw_text,
			normalized_text = excluded.normalized_text,
			fingerprint = excluded.fingerprint,
			fields = excluded.fields,
			source = excluded.source,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
		 RETURNING created_at`,
		doc.ID, string(doc.Kind), doc.Title(), doc.RawText, doc.NormalizedText, doc.Fingerprint,
		string(fields), doc.Source, emb,
		doc.CreatedAt.UTC().Format(sqliteTimeLayout), doc.UpdatedAt.UTC().Format(sqliteTimeLayout),
	)
	var created string
	if err := row.Scan(&created); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	if t, err := time.Parse(sqliteTimeLayout, created); err == nil {
		doc.CreatedAt = t
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(r rowScanner) (*models.Document, error) {
	var (
		doc                  models.Document
		kind, fields         string
		title, source        sql.NullString
		emb                  []byte
		createdAt, updatedAt string
	)
	if err := r.Scan(&doc.ID, &kind, &title, &doc.RawText, &doc.NormalizedText, &doc.Fingerprint,
		&fields, &source, &emb, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Kind = models.Kind(kind)
	doc.Source = source.String
	if err := decodeFields(&doc, []byte(fields)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields of %s: %w", doc.ID, err)
	}
	if len(emb) > 0 {
		v, err := utils.DecodeVector(emb)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding of %s: %w", doc.ID, err)
		}
		doc.Embedding = v
	}
	doc.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
	doc.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)
	return &doc, nil
}

// GetDocument returns a document by ID or ErrNotFound.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteDocumentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// DeleteDocument removes a document or returns ErrNotFound.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDocuments returns documents ordered by creation time, oldest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, opts ListOptions) ([]*models.Document, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	query := `SELECT ` + sqliteDocumentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of documents of kind (all kinds when empty).
func (s *SQLiteStorage) CountDocuments(ctx context.Context, kind models.Kind) (int64, error) {
	var n int64
	var err error
	if kind == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE kind = ?`, string(kind)).Scan(&n)
	}
	return n, err
}

// CountByDay groups documents of kind created at or after since by UTC day.
func (s *SQLiteStorage) CountByDay(ctx context.Context, kind models.Kind, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(created_at, 1, 10) AS day, COUNT(*) FROM documents
		 WHERE kind = ? AND created_at >= ?
		 GROUP BY day`,
		string(kind), since.UTC().Format(sqliteTimeLayout))
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

// GetEmbedding reads a cached embedding.
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, namespace, fingerprint string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE namespace = ? AND fingerprint = ?`,
		namespace, fingerprint).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := utils.DecodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// PutEmbedding stores an embedding; an existing entry is kept.
func (s *SQLiteStorage) PutEmbedding(ctx context.Context, namespace, fingerprint string, v []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO embeddings (namespace, fingerprint, vector, created_at) VALUES (?, ?, ?, ?)`,
		namespace, fingerprint, utils.EncodeVector(v), time.Now().UTC().Format(sqliteTimeLayout))
	return err
}

// DeleteEmbedding removes a cached embedding.
func (s *SQLiteStorage) DeleteEmbedding(ctx context.Context, namespace, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE namespace = ? AND fingerprint = ?`, namespace, fingerprint)
	return err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
