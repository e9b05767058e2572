package stt

import "time"

// Transcript is a recognition result. Partials and finals share the type.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence is in [0, 1]; zero when the backend does not report it.
	Confidence float64

	// Words is nil for backends without word timings.
	Words []WordDetail

	// Timestamp is the utterance start relative to the session start.
	Timestamp time.Duration
	Duration  time.Duration
}

// WordDetail carries per-word timing.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a recognition hint. Boost uses the backend's own scale.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
