// Package phonetic provides fuzzy keyword spotting for transcribed speech.
//
// Speech recognizers routinely misspell short command words ("goodby",
// "exet", "hey asistant"). A [Matcher] accepts such a word when it sounds
// like a keyword and is spelled close enough:
//
//  1. Double Metaphone codes of the input tokens and the keyword tokens are
//     compared. A shared code makes the keyword a phonetic candidate, accepted
//     at the (lower) phonetic threshold.
//  2. Without a shared code the keyword is still accepted when its
//     Jaro-Winkler similarity reaches the (higher) fuzzy threshold.
//
// Tokens shorter than the minimum word length are never fuzzed, so "a" or
// "is" cannot turn into a command.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
	defaultMinWordLength     = 3
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the Jaro-Winkler score a phonetic candidate must
// reach. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the Jaro-Winkler score required without a phonetic
// overlap. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// WithMinWordLength sets the shortest input, in runes, that is matched
// fuzzily. Default: 3.
func WithMinWordLength(n int) Option {
	return func(m *Matcher) { m.minWordLength = n }
}

// Matcher spots keywords phonetically. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minWordLength     int
}

// New returns a Matcher with the supplied options applied over the defaults.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minWordLength:     defaultMinWordLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the keyword that word most plausibly stands for. word may be
// a single token or a phrase. When matched is false, keyword is empty and
// score is 0.
func (m *Matcher) Match(word string, keywords []string) (keyword string, score float64, matched bool) {
	input := strings.Join(Tokens(word), " ")
	if len(keywords) == 0 || utf8.RuneCountInString(strings.ReplaceAll(input, " ", "")) < m.minWordLength {
		return "", 0, false
	}
	inputTokens := strings.Fields(input)
	inputCodes := codesFor(inputTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, kw := range keywords {
		kwTokens := Tokens(kw)
		if len(kwTokens) == 0 {
			continue
		}
		s := similarity(inputTokens, kwTokens)
		if sharesCode(inputCodes, codesFor(kwTokens)) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = kw, s, true
			}
		} else if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			best, bestScore = kw, s
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

// MatchPhrase scans text for any keyword, comparing each keyword against
// every run of the same number of tokens. It returns the best-scoring
// keyword.
func (m *Matcher) MatchPhrase(text string, keywords []string) (keyword string, score float64, matched bool) {
	tokens := Tokens(text)
	byLen := make(map[int][]string)
	for _, kw := range keywords {
		if n := len(Tokens(kw)); n > 0 {
			byLen[n] = append(byLen[n], kw)
		}
	}
	for n, group := range byLen {
		for i := 0; i+n <= len(tokens); i++ {
			gram := strings.Join(tokens[i:i+n], " ")
			if kw, s, ok := m.Match(gram, group); ok && s > score {
				keyword, score, matched = kw, s, true
			}
		}
	}
	return keyword, score, matched
}

// Tokens lowercases s and splits it into words, dropping punctuation other
// than in-word apostrophes.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity scores whole phrases and their space-free concatenations. For
// multi-token keywords it also takes the weakest aligned token pair, so a
// phrase only scores high when every word is close.
func similarity(input, keyword []string) float64 {
	score := matchr.JaroWinkler(strings.Join(input, " "), strings.Join(keyword, " "), false)
	if s := matchr.JaroWinkler(strings.Join(input, ""), strings.Join(keyword, ""), false); s > score {
		score = s
	}
	if len(input) == len(keyword) && len(input) > 1 {
		weakest := 1.0
		for i := range input {
			weakest = min(weakest, matchr.JaroWinkler(input[i], keyword[i], false))
		}
		score = min(score, weakest)
	}
	return score
}
