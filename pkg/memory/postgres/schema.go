// Package postgres implements memory.Store on PostgreSQL with the pgvector
// extension.
//
// Turns live in a single table with two nullable vector columns: the speaker
// embedding recorded for audit and dataset export, and the text embedding
// indexed with HNSW for SearchTurns. Feedback is a separate append-only table.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536, 11)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveTurn(ctx, turn)
//	hits, _ := store.SearchTurns(ctx, queryVec, memory.SearchOpts{Limit: 5})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// vectorType returns the column type for dims, leaving the dimension open
// when it is not known up front.
func vectorType(dims int) string {
	if dims <= 0 {
		return "vector"
	}
	return fmt.Sprintf("vector(%d)", dims)
}

func ddlTurns(textDims, speakerDims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    seq                BIGSERIAL    NOT NULL,
    id                 TEXT         PRIMARY KEY,
    session_id         TEXT         NOT NULL,
    speaker_label      TEXT         NOT NULL DEFAULT '',
    role               TEXT         NOT NULL,
    text               TEXT         NOT NULL,
    mode               TEXT         NOT NULL DEFAULT '',
    intent             TEXT         NOT NULL DEFAULT '',
    timestamp          TIMESTAMPTZ  NOT NULL,
    duration_ns        BIGINT       NOT NULL DEFAULT 0,
    speaker_embedding  %s,
    text_embedding     %s,
    audio_path         TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_turns_session_timestamp
    ON turns (session_id, timestamp);
`, vectorType(speakerDims), vectorType(textDims))
}

// HNSW needs a fixed dimension, so the index is only created when one is known.
const ddlTextEmbeddingIndex = `
CREATE INDEX IF NOT EXISTS idx_turns_text_embedding
    ON turns USING hnsw (text_embedding vector_cosine_ops);
`

const ddlFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    rating      TEXT         NOT NULL,
    text        TEXT         NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_session_timestamp
    ON feedback (session_id, timestamp);
`

// Migrate creates the tables and indexes if they are missing. It is
// idempotent and runs on every NewStore.
//
// The vector dimensions are baked into the column types on first run;
// changing them later requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, textDims, speakerDims int) error {
	statements := []string{ddlTurns(textDims, speakerDims), ddlFeedback}
	if textDims > 0 {
		statements = append(statements, ddlTextEmbeddingIndex)
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
