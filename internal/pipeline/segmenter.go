package pipeline

import "github.com/MrWong99/hearken/internal/speaker"

// SegmenterConfig tunes forced segmentation.
type SegmenterConfig struct {
	// ForceFrames is the number of speech frames the new speaker must stay
	// current after a change before the old speaker's partial is cut.
	// Default 30.
	ForceFrames int

	// MinPartialChars is the partial length that must be exceeded for a
	// forced segment. Default 5.
	MinPartialChars int
}

// DefaultSegmenterConfig returns the defaults.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{ForceFrames: 30, MinPartialChars: 5}
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	def := DefaultSegmenterConfig()
	if c.ForceFrames <= 0 {
		c.ForceFrames = def.ForceFrames
	}
	if c.MinPartialChars <= 0 {
		c.MinPartialChars = def.MinPartialChars
	}
	return c
}

// Segment is an utterance cut by the segmenter rather than the recognizer.
type Segment struct {
	Speaker string
	Text    string
	Forced  bool
}

// Segmenter decides when a speaker change should finalize the partial
// transcript on behalf of the previous speaker. Recognizers only finalize
// on pauses, so without it a quick hand-over merges two speakers into one
// utterance.
type Segmenter struct {
	cfg      SegmenterConfig
	tracking bool
	previous string
	current  string
	frames   int
}

// NewSegmenter creates a segmenter. Zero fields take their defaults.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults()}
}

// Observe is called for each speech frame with the arbiter's decision and
// the recognizer's partial text. It returns a forced segment at most once
// per confirmed change.
func (s *Segmenter) Observe(d speaker.Decision, partial string) (Segment, bool) {
	if d.Change != nil {
		s.tracking = d.Change.Previous != ""
		s.previous = d.Change.Previous
		s.current = d.Change.Current
		s.frames = 0
	}
	if !s.tracking {
		return Segment{}, false
	}
	if d.Current != s.current {
		s.Cancel()
		return Segment{}, false
	}
	s.frames++
	if s.frames < s.cfg.ForceFrames || len(partial) <= s.cfg.MinPartialChars {
		return Segment{}, false
	}
	seg := Segment{Speaker: s.previous, Text: partial, Forced: true}
	s.Cancel()
	return seg, true
}

// Cancel stops tracking the last change, e.g. because the recognizer
// finalized on its own.
func (s *Segmenter) Cancel() {
	s.tracking = false
	s.previous, s.current = "", ""
	s.frames = 0
}

// Tracking reports whether a change is being followed.
func (s *Segmenter) Tracking() bool { return s.tracking }

// Config returns the active tuning.
func (s *Segmenter) Config() SegmenterConfig { return s.cfg }

// SetConfig replaces the tuning. Tracking state is kept.
func (s *Segmenter) SetConfig(cfg SegmenterConfig) { s.cfg = cfg.withDefaults() }
