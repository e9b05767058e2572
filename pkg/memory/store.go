// Package memory defines the conversation store that persists every turn the
// assistant hears or speaks, together with the feedback users give at the end
// of a conversation.
//
// The write path (SaveTurn, SaveFeedback) is fed asynchronously by the
// pipeline dispatcher and never sits on the audio hot path. The read path
// (SessionTurns, ListSessions, SearchTurns, FeedbackStats) serves the
// analytics MCP server and the fine-tuning dataset exporter only.
//
// Backends live in sub-packages:
//
//   - postgres: pgx connection pool with pgvector columns and an HNSW index
//     for semantic search over turn text.
//   - sqlite: a single-file database via modernc.org/sqlite; vectors are kept
//     as JSON and ranked in process.
//   - mock: an in-memory test double.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested session has no stored turns.
var ErrNotFound = errors.New("memory: not found")

// Store is the conversation database.
type Store interface {
	// SaveTurn inserts t, replacing any stored turn with the same ID.
	SaveTurn(ctx context.Context, t Turn) error

	// SaveFeedback appends a feedback record. A session may collect several;
	// the latest one is reported as the session rating.
	SaveFeedback(ctx context.Context, f Feedback) error

	// SessionTurns returns the turns of sessionID in chronological order, or
	// [ErrNotFound] when the session has none.
	SessionTurns(ctx context.Context, sessionID string) ([]Turn, error)

	// ListSessions summarises stored sessions, most recently started first.
	ListSessions(ctx context.Context, opts ListOpts) ([]SessionSummary, error)

	// SearchTurns ranks turns that carry a text embedding by cosine similarity
	// to query, best first.
	SearchTurns(ctx context.Context, query []float32, opts SearchOpts) ([]SearchResult, error)

	// FeedbackStats counts feedback records at or after since. A zero since
	// counts everything.
	FeedbackStats(ctx context.Context, since time.Time) (FeedbackStats, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// ValidateTurn checks the fields every backend requires before writing t.
func ValidateTurn(t Turn) error {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if t.SessionID == "" {
		errs = append(errs, errors.New("session id must not be empty"))
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		errs = append(errs, fmt.Errorf("unknown role %q", t.Role))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("memory: invalid turn: %w", err)
	}
	return nil
}

// ValidateFeedback checks the fields every backend requires before writing f.
func ValidateFeedback(f Feedback) error {
	if f.SessionID == "" {
		return errors.New("memory: invalid feedback: session id must not be empty")
	}
	if f.Rating == "" {
		return errors.New("memory: invalid feedback: rating must not be empty")
	}
	return nil
}
