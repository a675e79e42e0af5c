package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

// Index runs full-text search over the chunks table. Ranking uses
// ts_rank_cd over a stored tsvector column so scores stay comparable
// across queries.
type Index struct {
	db *sql.DB
}

func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (i *Index) EnsureSchema(ctx context.Context) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026040201)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	collection TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON chunks USING GIN (tsv);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (i *Index) Search(
	ctx context.Context,
	queryText string,
	limit int,
	filter domain.SearchFilter,
) ([]domain.CandidateResult, error) {
	query := `
SELECT chunk_id, document_id, content,
	ts_rank_cd(tsv, websearch_to_tsquery('english', $1)) AS rank
FROM chunks
WHERE tsv @@ websearch_to_tsquery('english', $1)`
	args := []any{queryText}

	if filter.Collection != "" {
		args = append(args, filter.Collection)
		query += fmt.Sprintf(" AND collection = $%d", len(args))
	}
	if len(filter.Filters) > 0 {
		metadataJSON, err := json.Marshal(filter.Filters)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata filter: %w", err)
		}
		args = append(args, string(metadataJSON))
		query += fmt.Sprintf(" AND metadata @> $%d::jsonb", len(args))
	}
	if len(filter.DocumentIDs) > 0 {
		docsJSON, err := json.Marshal(filter.DocumentIDs)
		if err != nil {
			return nil, fmt.Errorf("marshal document filter: %w", err)
		}
		args = append(args, string(docsJSON))
		query += fmt.Sprintf(" AND document_id = ANY(SELECT jsonb_array_elements_text($%d::jsonb))", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY rank DESC, chunk_id ASC LIMIT $%d", len(args))

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search query: %w", err)
	}
	defer rows.Close()

	var out []domain.CandidateResult
	for rows.Next() {
		var c domain.CandidateResult
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Text, &c.Score); err != nil {
			return nil, fmt.Errorf("scan lexical result: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical results: %w", err)
	}
	return out, nil
}
