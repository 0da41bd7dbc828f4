// Package pgstore stores each domain in its own postgres table with a
// pgvector embedding column, the layout Supabase-style RAG deployments use.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"campusrag/internal/domain"
)

// DB is a connection pool shared by the tables of every domain.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to postgres and registers the vector type on every
// connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return &DB{pool: pool}, nil
}

// EnsureSchema creates the extension, table, indexes and match function.
func (db *DB) EnsureSchema(ctx context.Context, t Table) error {
	if err := t.validate(); err != nil {
		return err
	}
	for _, stmt := range SchemaSQL(t) {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return classify(fmt.Sprintf("create schema for %s", t.Name), err)
		}
	}
	return nil
}

// Store returns the chunk store of domain d backed by t.
func (db *DB) Store(d domain.Domain, t Table) (*Store, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &Store{pool: db.pool, domain: d, table: t}, nil
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Store is one domain table.
type Store struct {
	pool   *pgxpool.Pool
	domain domain.Domain
	table  Table
}

func (s *Store) Domain() domain.Domain { return s.domain }

func (s *Store) Dimension() int { return s.table.Dimension }

func (s *Store) Upsert(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	if err := chunk.Validate(s.table.Dimension); err != nil {
		return domain.Chunk{}, err
	}
	if chunk.Metadata == nil {
		chunk.Metadata = domain.Metadata{}
	}
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return domain.Chunk{}, &domain.ConstraintError{Field: "metadata", Reason: err.Error()}
	}

	var createdAt *time.Time
	if !chunk.CreatedAt.IsZero() {
		createdAt = &chunk.CreatedAt
	}

	q := fmt.Sprintf(`INSERT INTO %s (url, chunk_number, title, summary, content, metadata, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, COALESCE($8::timestamptz, timezone('utc'::text, now())))
ON CONFLICT (url, chunk_number) DO UPDATE SET
    title = EXCLUDED.title,
    summary = EXCLUDED.summary,
    content = EXCLUDED.content,
    metadata = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding
RETURNING id, created_at`, s.table.ident())

	err = s.pool.QueryRow(ctx, q,
		chunk.URL, chunk.ChunkNumber, chunk.Title, chunk.Summary, chunk.Content,
		string(meta), pgvector.NewVector(chunk.Embedding), createdAt,
	).Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return domain.Chunk{}, classify("upsert "+chunk.Key().String(), err)
	}
	return chunk, nil
}

func (s *Store) Get(ctx context.Context, key domain.ChunkKey) (domain.Chunk, error) {
	q := fmt.Sprintf(`SELECT id, url, chunk_number, title, summary, content, metadata, embedding, created_at
FROM %s WHERE url = $1 AND chunk_number = $2`, s.table.ident())

	var (
		c    domain.Chunk
		meta []byte
		emb  pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, q, key.URL, key.ChunkNumber).
		Scan(&c.ID, &c.URL, &c.ChunkNumber, &c.Title, &c.Summary, &c.Content, &meta, &emb, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Chunk{}, fmt.Errorf("%w: %s chunk %s", domain.ErrNotFound, s.domain, key)
	}
	if err != nil {
		return domain.Chunk{}, classify("get "+key.String(), err)
	}
	if err := json.Unmarshal(meta, &c.Metadata); err != nil {
		return domain.Chunk{}, fmt.Errorf("failed to decode metadata of %s: %w", key, err)
	}
	c.Embedding = emb.Slice()
	return c, nil
}

// QueryNearest runs the cosine distance search in a transaction so that
// ivfflat.probes applies only to it.
func (s *Store) QueryNearest(ctx context.Context, query []float32, k int, filter *domain.Filter) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, domain.ErrInvalidMatchCount
	}
	if len(query) != s.table.Dimension {
		return nil, &domain.DimensionError{Domain: s.domain, Expected: s.table.Dimension, Got: len(query)}
	}

	where, whereArgs, err := whereClause(filter, 3)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, url, chunk_number, title, summary, content, metadata, created_at,
    1 - (embedding <=> $1) AS similarity
FROM %s`, s.table.ident())
	if where != "" {
		q += "\nWHERE " + where
	}
	q += "\nORDER BY embedding <=> $1, id\nLIMIT $2"
	args := append([]any{pgvector.NewVector(query), k}, whereArgs...)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classify("begin search", err)
	}
	defer tx.Rollback(ctx)

	if s.table.Probes > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", s.table.Probes)); err != nil {
			return nil, classify("set probes", err)
		}
	}

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, classify("search "+s.table.Name, err)
	}
	defer rows.Close()

	results := make([]domain.SearchResult, 0, k)
	for rows.Next() {
		var (
			c    domain.Chunk
			meta []byte
			sim  float64
		)
		if err := rows.Scan(&c.ID, &c.URL, &c.ChunkNumber, &c.Title, &c.Summary, &c.Content, &meta, &c.CreatedAt, &sim); err != nil {
			return nil, classify("scan result", err)
		}
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of chunk %d: %w", c.ID, err)
		}
		results = append(results, domain.SearchResult{Domain: s.domain, Chunk: c, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search "+s.table.Name, err)
	}

	domain.SortResults(results)
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table.ident())).Scan(&n)
	if err != nil {
		return 0, classify("count "+s.table.Name, err)
	}
	return n, nil
}

// Close is a no-op; the pool is closed by DB.Close.
func (s *Store) Close() error {
	return nil
}

// classify maps driver errors onto the domain taxonomy: integrity
// violations are constraint errors, server errors are returned as is and
// everything else is treated as a connectivity failure.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
			return &domain.ConstraintError{Field: pgErr.ColumnName, Reason: pgErr.Message}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}
