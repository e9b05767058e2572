package conversation

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hearken/internal/phonetic"
	"github.com/MrWong99/hearken/pkg/provider/llm"
)

// ControllerConfig tunes a [Controller]. Zero numeric fields take defaults.
type ControllerConfig struct {
	// EnterKeywords start a conversation from LISTENING.
	EnterKeywords []string

	// ExitKeywords end a conversation and ask for feedback.
	ExitKeywords []string

	// QuestionWords open a question. Nil selects DefaultQuestionWords.
	QuestionWords []string

	// MaxHistoryItems caps the stored history; the oldest entries are
	// evicted first. Default 20.
	MaxHistoryItems int

	// MaxContextMessages bounds the history passed to the LLM. Default 6.
	MaxContextMessages int

	SystemPrompt string

	// FuzzyKeywords additionally accepts phonetically similar keywords.
	FuzzyKeywords bool
}

// DefaultControllerConfig returns the stock keyword lists and limits.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		EnterKeywords:      []string{"hey gemma", "hey assistant", "okay assistant"},
		ExitKeywords:       []string{"exit", "bye", "goodbye", "stop", "that's all"},
		QuestionWords:      slices.Clone(DefaultQuestionWords),
		MaxHistoryItems:    20,
		MaxContextMessages: 6,
		SystemPrompt:       "You are a concise, friendly voice assistant. Answer in one or two short spoken sentences.",
	}
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.MaxHistoryItems <= 0 {
		c.MaxHistoryItems = 20
	}
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = 6
	}
	if c.QuestionWords == nil {
		c.QuestionWords = slices.Clone(DefaultQuestionWords)
	}
	return c
}

// KeywordMatcher finds keywords that were misrecognized. [phonetic.Matcher]
// satisfies it.
type KeywordMatcher interface {
	MatchPhrase(text string, keywords []string) (keyword string, score float64, matched bool)
}

// Utterance is a finalized piece of user speech.
type Utterance struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}

// Feedback is the rating extracted in AWAITING_FEEDBACK.
type Feedback struct {
	// SessionID identifies the rated conversation.
	SessionID string
	Rating    FeedbackRating
	Text      string
	Timestamp time.Time
}

// Result describes what HandleUtterance did.
type Result struct {
	Previous Mode
	Mode     Mode

	// SessionID is the session the utterance belongs to. After feedback this
	// is the rated session; the fresh one is in State().SessionID.
	SessionID string

	// PreviousSessionID is set when the session id changed.
	PreviousSessionID string

	Transitioned bool

	// Respond asks the caller to generate an LLM reply from Context.
	Respond bool

	// Feedback is set on AWAITING_FEEDBACK → LISTENING.
	Feedback *Feedback

	// Keyword is the enter or exit keyword that fired, if any.
	Keyword string
}

// State is a snapshot of the controller.
type State struct {
	Mode      Mode
	SessionID string
	StartedAt time.Time
	History   []llm.Message
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMatcher sets the matcher used when FuzzyKeywords is on. Without it a
// default [phonetic.Matcher] is used.
func WithMatcher(m KeywordMatcher) Option { return func(c *Controller) { c.matcher = m } }

// WithSessionIDFunc replaces the UUID v4 session id generator.
func WithSessionIDFunc(fn func() string) Option { return func(c *Controller) { c.newID = fn } }

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option { return func(c *Controller) { c.now = fn } }

// WithLogger sets the logger for state transitions. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// Controller is the conversation mode state machine.
type Controller struct {
	cfg     ControllerConfig
	pending *ControllerConfig

	matcher KeywordMatcher
	newID   func() string
	now     func() time.Time
	logger  *slog.Logger

	mode      Mode
	sessionID string
	startedAt time.Time
	history   []llm.Message
}

// NewController returns a controller in LISTENING with a fresh session id.
func NewController(cfg ControllerConfig, opts ...Option) *Controller {
	c := &Controller{
		cfg:   cfg.withDefaults(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.matcher == nil {
		c.matcher = phonetic.New()
	}
	c.sessionID = c.newID()
	c.startedAt = c.now()
	return c
}

// HandleUtterance advances the state machine with one finalized utterance.
// Blank text is ignored.
func (c *Controller) HandleUtterance(u Utterance) Result {
	res := Result{Previous: c.mode, Mode: c.mode, SessionID: c.sessionID}
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return res
	}

	switch c.mode {
	case Listening:
		kw, enter := c.match(text, c.cfg.EnterKeywords)
		if !enter && !isQuestion(text, c.cfg.QuestionWords) {
			return res
		}
		res.PreviousSessionID = c.sessionID
		c.startSession()
		c.appendHistory(llm.Message{Role: "user", Content: text, Name: u.Speaker})
		c.mode = GemmaConversation
		res.SessionID = c.sessionID
		res.Respond = true
		res.Keyword = kw

	case GemmaConversation:
		if kw, exit := c.match(text, c.cfg.ExitKeywords); exit {
			c.mode = AwaitingFeedback
			res.Keyword = kw
			break
		}
		c.appendHistory(llm.Message{Role: "user", Content: text, Name: u.Speaker})
		res.Respond = true

	case AwaitingFeedback:
		ts := u.Timestamp
		if ts.IsZero() {
			ts = c.now()
		}
		res.Feedback = &Feedback{
			SessionID: c.sessionID,
			Rating:    ClassifyFeedback(text),
			Text:      text,
			Timestamp: ts,
		}
		res.PreviousSessionID = c.sessionID
		c.mode = Listening
		c.startSession()
		c.applyPending()
		c.logger.Info("conversation: feedback recorded",
			"session_id", res.Feedback.SessionID, "rating", res.Feedback.Rating)
	}

	res.Mode = c.mode
	res.Transitioned = res.Mode != res.Previous
	if res.Transitioned {
		c.logger.Info("conversation: mode transition",
			"from", res.Previous, "to", res.Mode, "session_id", c.sessionID, "speaker", u.Speaker)
	}
	return res
}

// AppendAssistant records an LLM reply in the history. An empty reply, i.e.
// a failed generation, is dropped, as is any reply arriving while LISTENING.
// It reports whether the reply was recorded.
func (c *Controller) AppendAssistant(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || c.mode == Listening {
		return false
	}
	c.appendHistory(llm.Message{Role: "assistant", Content: text})
	return true
}

// Context returns the most recent MaxContextMessages history entries.
func (c *Controller) Context() []llm.Message {
	n := min(len(c.history), c.cfg.MaxContextMessages)
	return slices.Clone(c.history[len(c.history)-n:])
}

// ContextString renders Context as "role: content" lines.
func (c *Controller) ContextString() string {
	var b strings.Builder
	for i, m := range c.Context() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// SystemPrompt returns the configured system prompt.
func (c *Controller) SystemPrompt() string { return c.cfg.SystemPrompt }

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

// SessionID returns the current session id.
func (c *Controller) SessionID() string { return c.sessionID }

// State returns a snapshot that shares no memory with the controller.
func (c *Controller) State() State {
	return State{
		Mode:      c.mode,
		SessionID: c.sessionID,
		StartedAt: c.startedAt,
		History:   slices.Clone(c.history),
	}
}

// SetConfig replaces the configuration. While LISTENING it applies at once;
// during a conversation it waits until the controller returns to LISTENING.
func (c *Controller) SetConfig(cfg ControllerConfig) {
	cfg = cfg.withDefaults()
	c.pending = &cfg
	if c.mode == Listening {
		c.applyPending()
	}
}

// Config returns the active configuration.
func (c *Controller) Config() ControllerConfig { return c.cfg }

func (c *Controller) applyPending() {
	if c.pending == nil {
		return
	}
	c.cfg = *c.pending
	c.pending = nil
	c.logger.Debug("conversation: config applied", "session_id", c.sessionID)
}

func (c *Controller) startSession() {
	c.sessionID = c.newID()
	c.startedAt = c.now()
	c.history = nil
}

func (c *Controller) appendHistory(m llm.Message) {
	c.history = append(c.history, m)
	if over := len(c.history) - c.cfg.MaxHistoryItems; over > 0 {
		c.history = slices.Delete(c.history, 0, over)
	}
}

// match finds a keyword in text: exact whole-word or phrase first, then the
// phonetic matcher when FuzzyKeywords is on.
func (c *Controller) match(text string, keywords []string) (string, bool) {
	if kw, ok := containsPhrase(phonetic.Tokens(text), keywords); ok {
		return kw, true
	}
	if !c.cfg.FuzzyKeywords {
		return "", false
	}
	kw, score, ok := c.matcher.MatchPhrase(text, keywords)
	if ok {
		c.logger.Debug("conversation: fuzzy keyword", "keyword", kw, "score", score, "text", text)
	}
	return kw, ok
}
