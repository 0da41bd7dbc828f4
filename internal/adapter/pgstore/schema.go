package pgstore

import (
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,50}$`)

// Table describes the postgres table backing one domain.
type Table struct {
	Name      string
	Dimension int
	// Lists is the ivfflat lists parameter. Zero skips the ANN index.
	Lists int
	// Probes is ivfflat.probes for searches. Zero keeps the server default.
	Probes int
}

func (t Table) validate() error {
	if !identRe.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if t.Dimension < 1 || t.Dimension > 16000 {
		return fmt.Errorf("invalid dimension %d for table %s", t.Dimension, t.Name)
	}
	return nil
}

func (t Table) ident() string {
	return pgx.Identifier{t.Name}.Sanitize()
}

// SchemaSQL returns the idempotent statements that create the table, its
// indexes, the match function and the public read policy.
func SchemaSQL(t Table) []string {
	tbl := t.ident()
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id bigserial PRIMARY KEY,
    url varchar NOT NULL,
    chunk_number integer NOT NULL CHECK (chunk_number >= 0),
    title varchar NOT NULL DEFAULT '',
    summary varchar NOT NULL DEFAULT '',
    content text NOT NULL,
    metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
    embedding vector(%d) NOT NULL,
    created_at timestamptz NOT NULL DEFAULT timezone('utc'::text, now()),
    UNIQUE (url, chunk_number)
)`, tbl, t.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (metadata)`,
			pgx.Identifier{"idx_" + t.Name + "_metadata"}.Sanitize(), tbl),
	}

	if t.Lists > 0 {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			pgx.Identifier{t.Name + "_embedding_idx"}.Sanitize(), tbl, t.Lists))
	}

	stmts = append(stmts,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s (
    query_embedding vector(%d),
    match_count int DEFAULT 3,
    filter jsonb DEFAULT '{}'::jsonb
) RETURNS TABLE (
    id bigint,
    url varchar,
    chunk_number integer,
    title varchar,
    summary varchar,
    content text,
    metadata jsonb,
    similarity float
)
LANGUAGE plpgsql
AS $$
#variable_conflict use_column
BEGIN
    RETURN QUERY
    SELECT id, url, chunk_number, title, summary, content, metadata,
        1 - (%s.embedding <=> query_embedding) AS similarity
    FROM %s
    WHERE metadata @> filter
    ORDER BY %s.embedding <=> query_embedding, id
    LIMIT match_count;
END;
$$`, pgx.Identifier{"match_" + t.Name}.Sanitize(), t.Dimension, tbl, tbl, tbl),
		fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, tbl),
		fmt.Sprintf(`DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_policies WHERE tablename = '%s' AND policyname = 'Allow public read access'
    ) THEN
        CREATE POLICY "Allow public read access" ON %s FOR SELECT TO public USING (true);
    END IF;
END
$$`, t.Name, tbl),
	)
	return stmts
}
