// Package conversation drives the assistant's conversational state machine.
//
// The [Controller] cycles LISTENING → GEMMA_CONVERSATION → AWAITING_FEEDBACK
// → LISTENING, one finalized utterance at a time. It owns the capped chat
// history used as LLM context and the session id under which turns are
// persisted. The controller is not safe for concurrent use: it belongs to
// the pipeline's frame loop.
package conversation

// Mode is the controller state.
type Mode int

const (
	// Listening is the initial state: utterances are transcribed and stored
	// but not answered.
	Listening Mode = iota

	// GemmaConversation answers every utterance until an exit keyword.
	GemmaConversation

	// AwaitingFeedback interprets the next utterance as a rating of the
	// conversation that just ended.
	AwaitingFeedback
)

func (m Mode) String() string {
	switch m {
	case Listening:
		return "LISTENING"
	case GemmaConversation:
		return "GEMMA_CONVERSATION"
	case AwaitingFeedback:
		return "AWAITING_FEEDBACK"
	default:
		return "UNKNOWN"
	}
}

// FeedbackRating is the classified verdict of a feedback utterance.
type FeedbackRating string

const (
	RatingHelpful    FeedbackRating = "helpful"
	RatingNotHelpful FeedbackRating = "not_helpful"
	RatingPartial    FeedbackRating = "partial"
	RatingUnknown    FeedbackRating = "unknown"
)

// Valid reports whether r is one of the four known ratings.
func (r FeedbackRating) Valid() bool {
	switch r {
	case RatingHelpful, RatingNotHelpful, RatingPartial, RatingUnknown:
		return true
	}
	return false
}

// Intent is a coarse tag for user utterances.
type Intent string

const (
	IntentQuestion  Intent = "question"
	IntentCommand   Intent = "command"
	IntentGreeting  Intent = "greeting"
	IntentStatement Intent = "statement"
)
