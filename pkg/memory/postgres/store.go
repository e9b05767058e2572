package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/hearken/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed conversation store. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers the pgvector types on every pooled
// connection, and runs [Migrate].
//
// textDims must match the text-embedding model (e.g. 1536 for
// text-embedding-3-small); speakerDims must match the active speaker
// embedding backend (11 for the spectral fallback). Zero leaves a dimension
// unconstrained and, for text, skips the HNSW index.
func NewStore(ctx context.Context, dsn string, textDims, speakerDims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, textDims, speakerDims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveTurn implements [memory.Store].
func (s *Store) SaveTurn(ctx context.Context, t memory.Turn) error {
	if err := memory.ValidateTurn(t); err != nil {
		return fmt.Errorf("postgres store: save turn: %w", err)
	}
	const q = `
		INSERT INTO turns
		    (id, session_id, speaker_label, role, text, mode, intent, timestamp, duration_ns,
		     speaker_embedding, text_embedding, audio_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
		    session_id        = EXCLUDED.session_id,
		    speaker_label     = EXCLUDED.speaker_label,
		    role              = EXCLUDED.role,
		    text              = EXCLUDED.text,
		    mode              = EXCLUDED.mode,
		    intent            = EXCLUDED.intent,
		    timestamp         = EXCLUDED.timestamp,
		    duration_ns       = EXCLUDED.duration_ns,
		    speaker_embedding = EXCLUDED.speaker_embedding,
		    text_embedding    = EXCLUDED.text_embedding,
		    audio_path        = EXCLUDED.audio_path`

	_, err := s.pool.Exec(ctx, q,
		t.ID,
		t.SessionID,
		t.SpeakerLabel,
		t.Role,
		t.Text,
		t.Mode,
		t.Intent,
		t.Timestamp,
		t.Duration.Nanoseconds(),
		nullableVector(t.SpeakerEmbedding),
		nullableVector(t.TextEmbedding),
		t.AudioPath,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save turn: %w", err)
	}
	return nil
}

// SaveFeedback implements [memory.Store].
func (s *Store) SaveFeedback(ctx context.Context, f memory.Feedback) error {
	if err := memory.ValidateFeedback(f); err != nil {
		return fmt.Errorf("postgres store: save feedback: %w", err)
	}
	const q = `INSERT INTO feedback (session_id, rating, text, timestamp) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, f.SessionID, f.Rating, f.Text, f.Timestamp); err != nil {
		return fmt.Errorf("postgres store: save feedback: %w", err)
	}
	return nil
}

// SessionTurns implements [memory.Store]. Embeddings are not loaded.
func (s *Store) SessionTurns(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	const q = `
		SELECT id, session_id, speaker_label, role, text, mode, intent, timestamp, duration_ns, audio_path
		FROM   turns
		WHERE  session_id = $1
		ORDER  BY timestamp, seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: session turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		return scanTurn(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: session turns: scan: %w", err)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("postgres store: session %q: %w", sessionID, memory.ErrNotFound)
	}
	return turns, nil
}

// ListSessions implements [memory.Store].
func (s *Store) ListSessions(ctx context.Context, opts memory.ListOpts) ([]memory.SessionSummary, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if !opts.Since.IsZero() {
		conditions = append(conditions, "s.started_at >= "+next(opts.Since))
	}
	if opts.Rating != "" {
		conditions = append(conditions, "COALESCE(r.rating, '') = "+next(opts.Rating))
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}
	limitClause := ""
	if opts.Limit > 0 {
		limitClause = "LIMIT " + next(opts.Limit)
	}

	q := fmt.Sprintf(`
		SELECT s.session_id, s.started_at, s.ended_at, s.turns, s.speakers, COALESCE(r.rating, '')
		FROM (
		    SELECT session_id,
		           min(timestamp) AS started_at,
		           max(timestamp) AS ended_at,
		           count(*)       AS turns,
		           COALESCE(
		               array_agg(DISTINCT speaker_label ORDER BY speaker_label)
		                   FILTER (WHERE role = 'user' AND speaker_label <> ''),
		               '{}') AS speakers
		    FROM   turns
		    GROUP  BY session_id
		) s
		LEFT JOIN LATERAL (
		    SELECT rating
		    FROM   feedback f
		    WHERE  f.session_id = s.session_id
		    ORDER  BY f.timestamp DESC, f.id DESC
		    LIMIT  1
		) r ON true
		%s
		ORDER BY s.started_at DESC
		%s`, whereClause, limitClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SessionSummary, error) {
		var ss memory.SessionSummary
		err := row.Scan(&ss.SessionID, &ss.StartedAt, &ss.EndedAt, &ss.Turns, &ss.Speakers, &ss.Rating)
		return ss, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: scan: %w", err)
	}
	if sessions == nil {
		sessions = []memory.SessionSummary{}
	}
	return sessions, nil
}

// SearchTurns implements [memory.Store] with the pgvector cosine distance
// operator, served by the HNSW index.
func (s *Store) SearchTurns(ctx context.Context, query []float32, opts memory.SearchOpts) ([]memory.SearchResult, error) {
	if len(query) == 0 {
		return nil, errors.New("postgres store: search turns: empty query embedding")
	}
	args := []any{pgvector.NewVector(query)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"text_embedding IS NOT NULL"}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.Speaker != "" {
		conditions = append(conditions, "speaker_label = "+next(opts.Speaker))
	}
	limitArg := next(opts.EffectiveLimit())

	q := fmt.Sprintf(`
		SELECT id, session_id, speaker_label, role, text, mode, intent, timestamp, duration_ns, audio_path,
		       1 - (text_embedding <=> $1) AS score
		FROM   turns
		WHERE  %s
		ORDER  BY text_embedding <=> $1
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search turns: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var (
			r          memory.SearchResult
			durationNs int64
		)
		if err := row.Scan(
			&r.Turn.ID,
			&r.Turn.SessionID,
			&r.Turn.SpeakerLabel,
			&r.Turn.Role,
			&r.Turn.Text,
			&r.Turn.Mode,
			&r.Turn.Intent,
			&r.Turn.Timestamp,
			&durationNs,
			&r.Turn.AudioPath,
			&r.Score,
		); err != nil {
			return memory.SearchResult{}, err
		}
		r.Turn.Duration = time.Duration(durationNs)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: search turns: scan: %w", err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}

// FeedbackStats implements [memory.Store].
func (s *Store) FeedbackStats(ctx context.Context, since time.Time) (memory.FeedbackStats, error) {
	q := `SELECT rating, count(*) FROM feedback`
	var args []any
	if !since.IsZero() {
		q += ` WHERE timestamp >= $1`
		args = append(args, since)
	}
	q += ` GROUP BY rating`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return memory.FeedbackStats{}, fmt.Errorf("postgres store: feedback stats: %w", err)
	}
	defer rows.Close()

	stats := memory.FeedbackStats{ByRating: make(map[string]int)}
	for rows.Next() {
		var (
			rating string
			n      int
		)
		if err := rows.Scan(&rating, &n); err != nil {
			return memory.FeedbackStats{}, fmt.Errorf("postgres store: feedback stats: scan: %w", err)
		}
		stats.ByRating[rating] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return memory.FeedbackStats{}, fmt.Errorf("postgres store: feedback stats: %w", err)
	}
	return stats, nil
}

// Ping implements [memory.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanTurn(row pgx.CollectableRow) (memory.Turn, error) {
	var (
		t          memory.Turn
		durationNs int64
	)
	if err := row.Scan(
		&t.ID,
		&t.SessionID,
		&t.SpeakerLabel,
		&t.Role,
		&t.Text,
		&t.Mode,
		&t.Intent,
		&t.Timestamp,
		&durationNs,
		&t.AudioPath,
	); err != nil {
		return memory.Turn{}, err
	}
	t.Duration = time.Duration(durationNs)
	return t, nil
}

// nullableVector maps an empty slice to SQL NULL.
func nullableVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}
