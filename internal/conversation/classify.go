package conversation

import (
	"slices"
	"strings"

	"github.com/MrWong99/hearken/internal/phonetic"
)

// DefaultQuestionWords are interrogatives and auxiliary verbs that open a
// question even when the recognizer drops the question mark.
var DefaultQuestionWords = []string{
	"what", "when", "where", "who", "whom", "whose", "why", "how", "which",
	"is", "are", "am", "was", "were", "do", "does", "did",
	"can", "could", "will", "would", "should", "shall", "may", "might",
	"have", "has", "had",
}

var (
	yesWords     = []string{"yes", "yeah", "yep", "yup", "sure", "absolutely", "definitely", "correct"}
	noWords      = []string{"no", "nope", "nah"}
	positive     = []string{"helpful", "useful", "great", "good", "perfect", "thanks", "thank", "excellent", "awesome", "right"}
	negative     = []string{"unhelpful", "useless", "wrong", "bad", "terrible", "awful"}
	negators     = []string{"not", "don't", "didn't", "wasn't", "isn't", "never"}
	partialWords = []string{"partially", "partly", "somewhat", "kinda", "mostly", "halfway", "sorta"}
	partialPairs = [][2]string{{"sort", "of"}, {"kind", "of"}, {"a", "bit"}, {"a", "little"}, {"more", "or"}}

	greetingWords = []string{"hello", "hi", "hey", "hiya", "howdy", "greetings", "morning", "evening", "afternoon"}
	commandWords  = []string{
		"play", "stop", "pause", "resume", "set", "turn", "open", "close", "tell", "show",
		"start", "call", "remind", "find", "search", "give", "read", "add", "remove",
		"cancel", "please", "make", "let's", "switch", "explain", "list",
	}
)

// ClassifyFeedback maps a free-text answer to "was this helpful?" onto a
// rating. A leading yes or no decides unless the answer hedges; otherwise
// positive and negative words are weighed, and mixed signals count as
// partial.
func ClassifyFeedback(text string) FeedbackRating {
	tokens := phonetic.Tokens(text)
	if len(tokens) == 0 {
		return RatingUnknown
	}
	for i, t := range tokens {
		if slices.Contains(partialWords, t) {
			return RatingPartial
		}
		if i+1 < len(tokens) && slices.Contains(partialPairs, [2]string{t, tokens[i+1]}) {
			return RatingPartial
		}
	}

	hasYes := slices.ContainsFunc(tokens, func(t string) bool { return slices.Contains(yesWords, t) })
	hasNo := slices.ContainsFunc(tokens, func(t string) bool { return slices.Contains(noWords, t) })
	switch {
	case hasYes && hasNo:
		return RatingPartial
	case slices.Contains(yesWords, tokens[0]):
		return RatingHelpful
	case slices.Contains(noWords, tokens[0]):
		return RatingNotHelpful
	}

	pos, neg := 0, 0
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case slices.Contains(negators, t):
			neg++
			// "not helpful", "not really": the negator absorbs the next word.
			if i+1 < len(tokens) && (slices.Contains(positive, tokens[i+1]) || tokens[i+1] == "really") {
				i++
			}
		case slices.Contains(positive, t) || slices.Contains(yesWords, t):
			pos++
		case slices.Contains(negative, t) || slices.Contains(noWords, t):
			neg++
		}
	}
	switch {
	case pos > 0 && neg > 0:
		return RatingPartial
	case pos > 0:
		return RatingHelpful
	case neg > 0:
		return RatingNotHelpful
	default:
		return RatingUnknown
	}
}

// ClassifyIntent tags a user utterance. Questions win over greetings, which
// win over commands; everything else is a statement.
func ClassifyIntent(text string) Intent {
	if isQuestion(text, DefaultQuestionWords) {
		return IntentQuestion
	}
	tokens := phonetic.Tokens(text)
	if len(tokens) == 0 {
		return IntentStatement
	}
	switch first := tokens[0]; {
	case slices.Contains(greetingWords, first):
		return IntentGreeting
	case first == "good" && len(tokens) > 1 && slices.Contains(greetingWords, tokens[1]):
		return IntentGreeting
	case slices.Contains(commandWords, first):
		return IntentCommand
	}
	return IntentStatement
}

// isQuestion reports whether text ends in '?' or opens with a question word.
func isQuestion(text string, questionWords []string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	tokens := phonetic.Tokens(trimmed)
	if len(tokens) == 0 {
		return false
	}
	return slices.ContainsFunc(questionWords, func(w string) bool {
		return strings.EqualFold(strings.TrimSpace(w), tokens[0])
	})
}

// containsPhrase reports whether any keyword appears in tokens as a whole
// word or contiguous phrase.
func containsPhrase(tokens []string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		kwTokens := phonetic.Tokens(kw)
		n := len(kwTokens)
		if n == 0 {
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			if slices.Equal(tokens[i:i+n], kwTokens) {
				return kw, true
			}
		}
	}
	return "", false
}
