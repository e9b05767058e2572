// Package memorytest holds a behavioural test suite shared by every
// memory.Store backend.
//
//	func TestConformance(t *testing.T) {
//	    memorytest.Run(t, func(t *testing.T) memory.Store { return newTestStore(t) })
//	}
//
// Text embeddings in the suite have 3 dimensions and speaker embeddings 2, so
// backends with fixed vector columns must be created with those sizes.
package memorytest

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/hearken/pkg/memory"
)

// Dimensions the suite writes.
const (
	TextDims    = 3
	SpeakerDims = 2
)

// Factory returns an empty store. It is called once per subtest and should
// register its own cleanup.
type Factory func(t *testing.T) memory.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndReadTurns", func(t *testing.T) { testSaveAndReadTurns(t, newStore(t)) })
	t.Run("UpsertTurn", func(t *testing.T) { testUpsertTurn(t, newStore(t)) })
	t.Run("InvalidInput", func(t *testing.T) { testInvalidInput(t, newStore(t)) })
	t.Run("SessionTurnsNotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("ListSessions", func(t *testing.T) { testListSessions(t, newStore(t)) })
	t.Run("SearchTurns", func(t *testing.T) { testSearchTurns(t, newStore(t)) })
	t.Run("FeedbackStats", func(t *testing.T) { testFeedbackStats(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

// ── fixtures ─────────────────────────────────────────────────────────────────

func mustSaveTurn(t *testing.T, s memory.Store, turn memory.Turn) {
	t.Helper()
	if err := s.SaveTurn(context.Background(), turn); err != nil {
		t.Fatalf("SaveTurn(%s): %v", turn.ID, err)
	}
}

func mustSaveFeedback(t *testing.T, s memory.Store, f memory.Feedback) {
	t.Helper()
	if err := s.SaveFeedback(context.Background(), f); err != nil {
		t.Fatalf("SaveFeedback: %v", err)
	}
}

func userTurn(id, session, speaker, text string, sec int) memory.Turn {
	return memory.Turn{
		ID:           id,
		SessionID:    session,
		SpeakerLabel: speaker,
		Role:         memory.RoleUser,
		Text:         text,
		Mode:         "GEMMA_CONVERSATION",
		Intent:       "question",
		Timestamp:    at(sec),
		Duration:     1500 * time.Millisecond,
	}
}

func assistantTurn(id, session, text string, sec int) memory.Turn {
	return memory.Turn{
		ID:        id,
		SessionID: session,
		Role:      memory.RoleAssistant,
		Text:      text,
		Mode:      "GEMMA_CONVERSATION",
		Timestamp: at(sec),
	}
}

// ── tests ────────────────────────────────────────────────────────────────────

func testSaveAndReadTurns(t *testing.T, s memory.Store) {
	ctx := context.Background()
	first := userTurn("t1", "s1", "Speaker_A", "What time is it?", 0)
	first.SpeakerEmbedding = []float32{0.5, 0.5}
	first.TextEmbedding = []float32{1, 0, 0}
	first.AudioPath = "/tmp/utt/t1.wav"
	// Saved out of order on purpose.
	mustSaveTurn(t, s, assistantTurn("t2", "s1", "It is noon.", 2))
	mustSaveTurn(t, s, first)
	mustSaveTurn(t, s, userTurn("other", "s2", "Speaker_B", "unrelated", 1))

	got, err := s.SessionTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("order = [%s %s], want [t1 t2]", got[0].ID, got[1].ID)
	}
	g := got[0]
	if g.SessionID != "s1" || g.SpeakerLabel != "Speaker_A" || g.Role != memory.RoleUser ||
		g.Text != "What time is it?" || g.Mode != "GEMMA_CONVERSATION" || g.Intent != "question" ||
		g.AudioPath != "/tmp/utt/t1.wav" {
		t.Errorf("turn fields = %+v", g)
	}
	if !g.Timestamp.Equal(at(0)) {
		t.Errorf("Timestamp = %v, want %v", g.Timestamp, at(0))
	}
	if g.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v", g.Duration)
	}
	if g.SpeakerEmbedding != nil || g.TextEmbedding != nil {
		t.Error("reads should not load embeddings")
	}
	if got[1].SpeakerLabel != "" || got[1].Role != memory.RoleAssistant {
		t.Errorf("assistant turn = %+v", got[1])
	}
}

func testUpsertTurn(t *testing.T, s memory.Store) {
	mustSaveTurn(t, s, userTurn("t1", "s1", "Speaker_A", "draft", 0))
	updated := userTurn("t1", "s1", "Speaker_A", "final text", 0)
	updated.AudioPath = "/a.wav"
	mustSaveTurn(t, s, updated)

	got, err := s.SessionTurns(context.Background(), "s1")
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	if len(got) != 1 || got[0].Text != "final text" || got[0].AudioPath != "/a.wav" {
		t.Errorf("after upsert = %+v", got)
	}
}

func testInvalidInput(t *testing.T, s memory.Store) {
	ctx := context.Background()
	if err := s.SaveTurn(ctx, memory.Turn{SessionID: "s1", Role: memory.RoleUser}); err == nil {
		t.Error("SaveTurn without id: expected error")
	}
	if err := s.SaveFeedback(ctx, memory.Feedback{Rating: "helpful"}); err == nil {
		t.Error("SaveFeedback without session: expected error")
	}
}

func testNotFound(t *testing.T, s memory.Store) {
	_, err := s.SessionTurns(context.Background(), "missing")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func testListSessions(t *testing.T, s memory.Store) {
	ctx := context.Background()
	// s1: two speakers, rated twice (latest wins).
	mustSaveTurn(t, s, userTurn("a1", "s1", "Speaker_B", "hi", 0))
	mustSaveTurn(t, s, assistantTurn("a2", "s1", "hello", 1))
	mustSaveTurn(t, s, userTurn("a3", "s1", "Speaker_A", "bye", 5))
	mustSaveFeedback(t, s, memory.Feedback{SessionID: "s1", Rating: "not_helpful", Timestamp: at(6)})
	mustSaveFeedback(t, s, memory.Feedback{SessionID: "s1", Rating: "helpful", Text: "yes", Timestamp: at(7)})
	// s2: later, unrated.
	mustSaveTurn(t, s, userTurn("b1", "s2", "Speaker_A", "what now", 100))

	all, err := s.ListSessions(ctx, memory.ListOpts{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 || all[0].SessionID != "s2" || all[1].SessionID != "s1" {
		t.Fatalf("sessions = %+v, want [s2 s1]", all)
	}
	s1 := all[1]
	if s1.Turns != 3 || !s1.StartedAt.Equal(at(0)) || !s1.EndedAt.Equal(at(5)) {
		t.Errorf("s1 summary = %+v", s1)
	}
	if !slices.Equal(s1.Speakers, []string{"Speaker_A", "Speaker_B"}) {
		t.Errorf("s1 speakers = %v", s1.Speakers)
	}
	if s1.Rating != "helpful" {
		t.Errorf("s1 rating = %q, want latest (helpful)", s1.Rating)
	}
	if all[0].Rating != "" {
		t.Errorf("s2 rating = %q, want empty", all[0].Rating)
	}

	tests := []struct {
		name string
		opts memory.ListOpts
		want []string
	}{
		{"by rating", memory.ListOpts{Rating: "helpful"}, []string{"s1"}},
		{"stale rating ignored", memory.ListOpts{Rating: "not_helpful"}, nil},
		{"since", memory.ListOpts{Since: at(50)}, []string{"s2"}},
		{"limit", memory.ListOpts{Limit: 1}, []string{"s2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListSessions(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListSessions: %v", err)
			}
			var ids []string
			for _, ss := range got {
				ids = append(ids, ss.SessionID)
			}
			if !slices.Equal(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func testSearchTurns(t *testing.T, s memory.Store) {
	ctx := context.Background()
	withVec := func(turn memory.Turn, v ...float32) memory.Turn {
		turn.TextEmbedding = v
		return turn
	}
	mustSaveTurn(t, s, withVec(userTurn("x", "s1", "Speaker_A", "weather today", 0), 1, 0, 0))
	mustSaveTurn(t, s, withVec(userTurn("y", "s1", "Speaker_B", "rain tomorrow", 1), 0.8, 0.6, 0))
	mustSaveTurn(t, s, withVec(userTurn("z", "s2", "Speaker_A", "play music", 2), 0, 0, 1))
	mustSaveTurn(t, s, userTurn("n", "s2", "Speaker_A", "no vector", 3))

	query := []float32{1, 0, 0}
	got, err := s.SearchTurns(ctx, query, memory.SearchOpts{})
	if err != nil {
		t.Fatalf("SearchTurns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3 (turn without vector excluded)", len(got))
	}
	wantOrder := []string{"x", "y", "z"}
	wantScore := []float64{1, 0.8, 0}
	for i, r := range got {
		if r.Turn.ID != wantOrder[i] {
			t.Errorf("result %d = %s, want %s", i, r.Turn.ID, wantOrder[i])
		}
		if math.Abs(r.Score-wantScore[i]) > 1e-4 {
			t.Errorf("result %d score = %v, want %v", i, r.Score, wantScore[i])
		}
		if r.Turn.TextEmbedding != nil {
			t.Errorf("result %d carries an embedding", i)
		}
	}

	filters := []struct {
		name string
		opts memory.SearchOpts
		want []string
	}{
		{"session", memory.SearchOpts{SessionID: "s2"}, []string{"z"}},
		{"speaker", memory.SearchOpts{Speaker: "Speaker_B"}, []string{"y"}},
		{"limit", memory.SearchOpts{Limit: 1}, []string{"x"}},
	}
	for _, tt := range filters {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.SearchTurns(ctx, query, tt.opts)
			if err != nil {
				t.Fatalf("SearchTurns: %v", err)
			}
			var ids []string
			for _, r := range res {
				ids = append(ids, r.Turn.ID)
			}
			if !slices.Equal(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	if _, err := s.SearchTurns(ctx, nil, memory.SearchOpts{}); err == nil {
		t.Error("empty query: expected error")
	}
}

func testFeedbackStats(t *testing.T, s memory.Store) {
	ctx := context.Background()
	for i, r := range []string{"helpful", "helpful", "partial", "not_helpful"} {
		mustSaveFeedback(t, s, memory.Feedback{SessionID: "s", Rating: r, Timestamp: at(i * 10)})
	}

	stats, err := s.FeedbackStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("FeedbackStats: %v", err)
	}
	if stats.Total != 4 || stats.ByRating["helpful"] != 2 || stats.ByRating["partial"] != 1 || stats.ByRating["not_helpful"] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	recent, err := s.FeedbackStats(ctx, at(15))
	if err != nil {
		t.Fatalf("FeedbackStats(since): %v", err)
	}
	if recent.Total != 2 || recent.ByRating["helpful"] != 0 {
		t.Errorf("recent stats = %+v", recent)
	}
}
