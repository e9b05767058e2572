// Package sqlite implements memory.Store on a single-file SQLite database
// through modernc.org/sqlite, a cgo-free driver.
//
// Timestamps and durations are stored as integer nanoseconds. Vectors are
// stored as JSON arrays and SearchTurns ranks them in process, which is fine
// for the few thousand turns a local install accumulates.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/hearken/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
    id                 TEXT    PRIMARY KEY,
    session_id         TEXT    NOT NULL,
    speaker_label      TEXT    NOT NULL DEFAULT '',
    role               TEXT    NOT NULL,
    text               TEXT    NOT NULL,
    mode               TEXT    NOT NULL DEFAULT '',
    intent             TEXT    NOT NULL DEFAULT '',
    timestamp          INTEGER NOT NULL,
    duration_ns        INTEGER NOT NULL DEFAULT 0,
    speaker_embedding  TEXT,
    text_embedding     TEXT,
    audio_path         TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_turns_session_timestamp ON turns (session_id, timestamp);

CREATE TABLE IF NOT EXISTS feedback (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL,
    rating      TEXT    NOT NULL,
    text        TEXT    NOT NULL DEFAULT '',
    timestamp   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_session_timestamp ON feedback (session_id, timestamp);
`

// Store is the SQLite-backed conversation store. It is safe for concurrent
// use; writes are serialised by SQLite itself.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path with WAL journaling and
// applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path must not be empty")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveTurn implements [memory.Store].
func (s *Store) SaveTurn(ctx context.Context, t memory.Turn) error {
	if err := memory.ValidateTurn(t); err != nil {
		return fmt.Errorf("sqlite store: save turn: %w", err)
	}
	speakerVec, err := encodeVector(t.SpeakerEmbedding)
	if err != nil {
		return fmt.Errorf("sqlite store: save turn: %w", err)
	}
	textVec, err := encodeVector(t.TextEmbedding)
	if err != nil {
		return fmt.Errorf("sqlite store: save turn: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns
		    (id, session_id, speaker_label, role, text, mode, intent, timestamp, duration_ns,
		     speaker_embedding, text_embedding, audio_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    session_id        = excluded.session_id,
		    speaker_label     = excluded.speaker_label,
		    role              = excluded.role,
		    text              = excluded.text,
		    mode              = excluded.mode,
		    intent            = excluded.intent,
		    timestamp         = excluded.timestamp,
		    duration_ns       = excluded.duration_ns,
		    speaker_embedding = excluded.speaker_embedding,
		    text_embedding    = excluded.text_embedding,
		    audio_path        = excluded.audio_path`,
		t.ID, t.SessionID, t.SpeakerLabel, t.Role, t.Text, t.Mode, t.Intent,
		t.Timestamp.UnixNano(), t.Duration.Nanoseconds(), speakerVec, textVec, t.AudioPath,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save turn: %w", err)
	}
	return nil
}

// SaveFeedback implements [memory.Store].
func (s *Store) SaveFeedback(ctx context.Context, f memory.Feedback) error {
	if err := memory.ValidateFeedback(f); err != nil {
		return fmt.Errorf("sqlite store: save feedback: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (session_id, rating, text, timestamp) VALUES (?, ?, ?, ?)`,
		f.SessionID, f.Rating, f.Text, f.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite store: save feedback: %w", err)
	}
	return nil
}

const turnColumns = `id, session_id, speaker_label, role, text, mode, intent, timestamp, duration_ns, audio_path`

// SessionTurns implements [memory.Store]. Embeddings are not loaded.
func (s *Store) SessionTurns(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE session_id = ? ORDER BY timestamp, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: session turns: %w", err)
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: session turns: scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: session turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("sqlite store: session %q: %w", sessionID, memory.ErrNotFound)
	}
	return turns, nil
}

// ListSessions implements [memory.Store].
func (s *Store) ListSessions(ctx context.Context, opts memory.ListOpts) ([]memory.SessionSummary, error) {
	var (
		conditions []string
		args       []any
	)
	if !opts.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Rating != "" {
		conditions = append(conditions, "rating = ?")
		args = append(args, opts.Rating)
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	limitClause := ""
	if opts.Limit > 0 {
		limitClause = "LIMIT ?"
		args = append(args, opts.Limit)
	}

	q := fmt.Sprintf(`
		SELECT session_id, started_at, ended_at, turns, speakers, rating FROM (
		    SELECT t.session_id     AS session_id,
		           min(t.timestamp) AS started_at,
		           max(t.timestamp) AS ended_at,
		           count(*)         AS turns,
		           group_concat(DISTINCT CASE WHEN t.role = 'user' AND t.speaker_label <> ''
		                                      THEN t.speaker_label END) AS speakers,
		           COALESCE((SELECT f.rating FROM feedback f
		                     WHERE f.session_id = t.session_id
		                     ORDER BY f.timestamp DESC, f.id DESC LIMIT 1), '') AS rating
		    FROM turns t
		    GROUP BY t.session_id
		)
		%s
		ORDER BY started_at DESC
		%s`, whereClause, limitClause)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []memory.SessionSummary{}
	for rows.Next() {
		var (
			ss             memory.SessionSummary
			started, ended int64
			speakers       sql.NullString
		)
		if err := rows.Scan(&ss.SessionID, &started, &ended, &ss.Turns, &speakers, &ss.Rating); err != nil {
			return nil, fmt.Errorf("sqlite store: list sessions: scan: %w", err)
		}
		ss.StartedAt = time.Unix(0, started)
		ss.EndedAt = time.Unix(0, ended)
		ss.Speakers = []string{}
		if speakers.Valid && speakers.String != "" {
			ss.Speakers = strings.Split(speakers.String, ",")
			slices.Sort(ss.Speakers)
		}
		sessions = append(sessions, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list sessions: %w", err)
	}
	return sessions, nil
}

// SearchTurns implements [memory.Store] by scanning every turn with a text
// embedding and ranking by cosine similarity.
func (s *Store) SearchTurns(ctx context.Context, query []float32, opts memory.SearchOpts) ([]memory.SearchResult, error) {
	if len(query) == 0 {
		return nil, errors.New("sqlite store: search turns: empty query embedding")
	}
	conditions := []string{"text_embedding IS NOT NULL"}
	var args []any
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.Speaker != "" {
		conditions = append(conditions, "speaker_label = ?")
		args = append(args, opts.Speaker)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+`, text_embedding FROM turns WHERE `+strings.Join(conditions, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search turns: %w", err)
	}
	defer rows.Close()

	results := []memory.SearchResult{}
	for rows.Next() {
		var (
			t       memory.Turn
			ts, dur int64
			vecJSON string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.SpeakerLabel, &t.Role, &t.Text, &t.Mode, &t.Intent,
			&ts, &dur, &t.AudioPath, &vecJSON); err != nil {
			return nil, fmt.Errorf("sqlite store: search turns: scan: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			return nil, fmt.Errorf("sqlite store: search turns: decode embedding of %s: %w", t.ID, err)
		}
		t.Timestamp = time.Unix(0, ts)
		t.Duration = time.Duration(dur)
		results = append(results, memory.SearchResult{Turn: t, Score: memory.CosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: search turns: %w", err)
	}

	slices.SortStableFunc(results, func(a, b memory.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if limit := opts.EffectiveLimit(); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FeedbackStats implements [memory.Store].
func (s *Store) FeedbackStats(ctx context.Context, since time.Time) (memory.FeedbackStats, error) {
	q := `SELECT rating, count(*) FROM feedback`
	var args []any
	if !since.IsZero() {
		q += ` WHERE timestamp >= ?`
		args = append(args, since.UnixNano())
	}
	q += ` GROUP BY rating`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return memory.FeedbackStats{}, fmt.Errorf("sqlite store: feedback stats: %w", err)
	}
	defer rows.Close()

	stats := memory.FeedbackStats{ByRating: make(map[string]int)}
	for rows.Next() {
		var (
			rating string
			n      int
		)
		if err := rows.Scan(&rating, &n); err != nil {
			return memory.FeedbackStats{}, fmt.Errorf("sqlite store: feedback stats: scan: %w", err)
		}
		stats.ByRating[rating] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return memory.FeedbackStats{}, fmt.Errorf("sqlite store: feedback stats: %w", err)
	}
	return stats, nil
}

// Ping implements [memory.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (memory.Turn, error) {
	var (
		t       memory.Turn
		ts, dur int64
	)
	if err := row.Scan(&t.ID, &t.SessionID, &t.SpeakerLabel, &t.Role, &t.Text, &t.Mode, &t.Intent,
		&ts, &dur, &t.AudioPath); err != nil {
		return memory.Turn{}, err
	}
	t.Timestamp = time.Unix(0, ts)
	t.Duration = time.Duration(dur)
	return t, nil
}

// encodeVector maps an empty slice to NULL and anything else to a JSON array.
func encodeVector(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode embedding: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
