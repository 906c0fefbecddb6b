package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	doc_id     TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, doc_id)
)`

// Postgres stores documents in a single JSONB table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool and ensures the documents table exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring documents table: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Get retrieves a document. Returns ErrNotFound if it does not exist.
func (p *Postgres) Get(ctx context.Context, collection, key string) (Document, error) {
	query := `SELECT data FROM documents WHERE collection = $1 AND doc_id = $2`

	var raw []byte
	err := p.pool.QueryRow(ctx, query, collection, Key(key)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// Set writes fields to a document. With merge=true the fields are overlaid
// onto the stored object via the JSONB concatenation operator; with
// merge=false the stored object is replaced.
func (p *Postgres) Set(ctx context.Context, collection, key string, fields map[string]any, merge bool) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, doc_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, doc_id) DO UPDATE SET
			data = documents.data || EXCLUDED.data,
			updated_at = now()
	`
	if !merge {
		query = `
			INSERT INTO documents (collection, doc_id, data, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (collection, doc_id) DO UPDATE SET
				data = EXCLUDED.data,
				updated_at = now()
		`
	}

	if _, err := p.pool.Exec(ctx, query, collection, Key(key), payload); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (p *Postgres) Count(ctx context.Context, collection string) (int64, error) {
	query := `SELECT count(*) FROM documents WHERE collection = $1`

	var n int64
	if err := p.pool.QueryRow(ctx, query, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}
