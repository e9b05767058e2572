package memory

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSearchLimit applies when SearchOpts.Limit is zero.
const DefaultSearchLimit = 10

// Turn is one persisted utterance or assistant reply.
type Turn struct {
	// ID uniquely identifies the turn (a UUID).
	ID string

	// SessionID groups the turns of one conversation.
	SessionID string

	// SpeakerLabel is the arbiter's label for user turns ("Speaker_A") and
	// empty for assistant turns.
	SpeakerLabel string

	// Role is RoleUser or RoleAssistant.
	Role string

	Text string

	// Mode is the conversation mode the turn was handled in.
	Mode string

	// Intent is the coarse intent tag of user turns.
	Intent string

	Timestamp time.Time
	Duration  time.Duration

	// SpeakerEmbedding holds the voice features of the speaker at the time
	// of the turn. Optional.
	SpeakerEmbedding []float32

	// TextEmbedding is the semantic vector of Text used by SearchTurns.
	// Optional.
	TextEmbedding []float32

	// AudioPath points at the WAV recording of the utterance. Optional.
	AudioPath string
}

// Feedback is the user's verdict on a finished conversation.
type Feedback struct {
	SessionID string

	// Rating is one of helpful, not_helpful, partial or unknown.
	Rating string

	// Text is the utterance the rating was derived from.
	Text string

	Timestamp time.Time
}

// SessionSummary describes a stored session.
type SessionSummary struct {
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time

	// Turns counts user and assistant turns.
	Turns int

	// Speakers lists the distinct user speaker labels, sorted.
	Speakers []string

	// Rating is the latest feedback rating, or empty.
	Rating string
}

// SearchResult is a turn ranked by SearchTurns.
type SearchResult struct {
	Turn Turn

	// Score is the cosine similarity to the query in [-1, 1].
	Score float64
}

// FeedbackStats aggregates feedback records.
type FeedbackStats struct {
	Total    int
	ByRating map[string]int
}

// ListOpts filters ListSessions. Zero fields are ignored.
type ListOpts struct {
	// Since keeps sessions that started at or after this instant.
	Since time.Time

	// Rating keeps sessions whose latest rating equals this value.
	Rating string

	Limit int
}

// SearchOpts filters SearchTurns. Zero fields are ignored.
type SearchOpts struct {
	SessionID string

	// Speaker restricts results to one speaker label.
	Speaker string

	// Limit defaults to DefaultSearchLimit.
	Limit int
}

// EffectiveLimit returns Limit or DefaultSearchLimit when unset.
func (o SearchOpts) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultSearchLimit
	}
	return o.Limit
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	x, y := widen(a), widen(b)
	na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	c := floats.Dot(x, y) / (na * nb)
	return math.Max(-1, math.Min(1, c))
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
