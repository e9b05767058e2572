// Package mock provides an in-memory test double for memory.Store.
//
// The mock keeps real state, so the read path behaves like a backend, and it
// records every call for assertions. Setting an *Err field makes the matching
// method fail without touching state.
//
//	store := &mock.Store{}
//	// inject store into the system under test …
//	if got := store.CallCount("SaveTurn"); got != 2 {
//	    t.Errorf("SaveTurn calls = %d, want 2", got)
//	}
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/memory"
)

// Call records the name and non-context arguments of one method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable test double for [memory.Store]. The zero value is
// ready to use.
type Store struct {
	mu    sync.Mutex
	calls []Call

	turns    []memory.Turn
	feedback []memory.Feedback
	closed   bool

	SaveTurnErr      error
	SaveFeedbackErr  error
	SessionTurnsErr  error
	ListSessionsErr  error
	SearchTurnsErr   error
	FeedbackStatsErr error
	PingErr          error
	CloseErr         error
}

var _ memory.Store = (*Store)(nil)

func (s *Store) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// SaveTurn implements [memory.Store].
func (s *Store) SaveTurn(_ context.Context, t memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SaveTurn", t)
	if s.SaveTurnErr != nil {
		return s.SaveTurnErr
	}
	if err := memory.ValidateTurn(t); err != nil {
		return err
	}
	t.SpeakerEmbedding = slices.Clone(t.SpeakerEmbedding)
	t.TextEmbedding = slices.Clone(t.TextEmbedding)
	for i := range s.turns {
		if s.turns[i].ID == t.ID {
			s.turns[i] = t
			return nil
		}
	}
	s.turns = append(s.turns, t)
	return nil
}

// SaveFeedback implements [memory.Store].
func (s *Store) SaveFeedback(_ context.Context, f memory.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SaveFeedback", f)
	if s.SaveFeedbackErr != nil {
		return s.SaveFeedbackErr
	}
	if err := memory.ValidateFeedback(f); err != nil {
		return err
	}
	s.feedback = append(s.feedback, f)
	return nil
}

// SessionTurns implements [memory.Store].
func (s *Store) SessionTurns(_ context.Context, sessionID string) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SessionTurns", sessionID)
	if s.SessionTurnsErr != nil {
		return nil, s.SessionTurnsErr
	}
	out := s.sessionTurns(sessionID)
	if len(out) == 0 {
		return nil, fmt.Errorf("mock store: session %q: %w", sessionID, memory.ErrNotFound)
	}
	for i := range out {
		out[i].SpeakerEmbedding = nil
		out[i].TextEmbedding = nil
	}
	return out, nil
}

// sessionTurns returns the turns of id in chronological order, insertion
// order breaking ties. Callers hold mu.
func (s *Store) sessionTurns(id string) []memory.Turn {
	var out []memory.Turn
	for _, t := range s.turns {
		if t.SessionID == id {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b memory.Turn) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// latestRating returns the most recent rating of id. Callers hold mu.
func (s *Store) latestRating(id string) string {
	var (
		rating string
		at     time.Time
	)
	for _, f := range s.feedback {
		if f.SessionID == id && (rating == "" || !f.Timestamp.Before(at)) {
			rating, at = f.Rating, f.Timestamp
		}
	}
	return rating
}

// ListSessions implements [memory.Store].
func (s *Store) ListSessions(_ context.Context, opts memory.ListOpts) ([]memory.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListSessions", opts)
	if s.ListSessionsErr != nil {
		return nil, s.ListSessionsErr
	}

	var ids []string
	for _, t := range s.turns {
		if !slices.Contains(ids, t.SessionID) {
			ids = append(ids, t.SessionID)
		}
	}

	out := []memory.SessionSummary{}
	for _, id := range ids {
		turns := s.sessionTurns(id)
		ss := memory.SessionSummary{
			SessionID: id,
			StartedAt: turns[0].Timestamp,
			EndedAt:   turns[len(turns)-1].Timestamp,
			Turns:     len(turns),
			Speakers:  []string{},
			Rating:    s.latestRating(id),
		}
		for _, t := range turns {
			if t.Role == memory.RoleUser && t.SpeakerLabel != "" && !slices.Contains(ss.Speakers, t.SpeakerLabel) {
				ss.Speakers = append(ss.Speakers, t.SpeakerLabel)
			}
		}
		slices.Sort(ss.Speakers)
		if !opts.Since.IsZero() && ss.StartedAt.Before(opts.Since) {
			continue
		}
		if opts.Rating != "" && ss.Rating != opts.Rating {
			continue
		}
		out = append(out, ss)
	}
	slices.SortStableFunc(out, func(a, b memory.SessionSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// SearchTurns implements [memory.Store].
func (s *Store) SearchTurns(_ context.Context, query []float32, opts memory.SearchOpts) ([]memory.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SearchTurns", query, opts)
	if s.SearchTurnsErr != nil {
		return nil, s.SearchTurnsErr
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("mock store: search turns: empty query embedding")
	}

	out := []memory.SearchResult{}
	for _, t := range s.turns {
		if len(t.TextEmbedding) == 0 ||
			(opts.SessionID != "" && t.SessionID != opts.SessionID) ||
			(opts.Speaker != "" && t.SpeakerLabel != opts.Speaker) {
			continue
		}
		score := memory.CosineSimilarity(query, t.TextEmbedding)
		t.SpeakerEmbedding, t.TextEmbedding = nil, nil
		out = append(out, memory.SearchResult{Turn: t, Score: score})
	}
	slices.SortStableFunc(out, func(a, b memory.SearchResult) int { return cmp.Compare(b.Score, a.Score) })
	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FeedbackStats implements [memory.Store].
func (s *Store) FeedbackStats(_ context.Context, since time.Time) (memory.FeedbackStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("FeedbackStats", since)
	if s.FeedbackStatsErr != nil {
		return memory.FeedbackStats{}, s.FeedbackStatsErr
	}
	stats := memory.FeedbackStats{ByRating: make(map[string]int)}
	for _, f := range s.feedback {
		if !since.IsZero() && f.Timestamp.Before(since) {
			continue
		}
		stats.ByRating[f.Rating]++
		stats.Total++
	}
	return stats, nil
}

// Ping implements [memory.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Ping")
	return s.PingErr
}

// Close implements [memory.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Close")
	s.closed = true
	return s.CloseErr
}

// ─────────────────────────────────────────────────────────────────────────────
// Inspection helpers
// ─────────────────────────────────────────────────────────────────────────────

// Calls returns a copy of every recorded call.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Turns returns every stored turn, embeddings included, in insertion order.
func (s *Store) Turns() []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.turns)
}

// Feedback returns every stored feedback record.
func (s *Store) Feedback() []memory.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.feedback)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reset clears state, call records and error fields.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.turns = nil
	s.feedback = nil
	s.closed = false
	s.SaveTurnErr = nil
	s.SaveFeedbackErr = nil
	s.SessionTurnsErr = nil
	s.ListSessionsErr = nil
	s.SearchTurnsErr = nil
	s.FeedbackStatsErr = nil
	s.PingErr = nil
	s.CloseErr = nil
}
