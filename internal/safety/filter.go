// Package safety decides whether a piece of text touches disallowed content.
// It is applied to both the fan's message and the generated reply.
package safety

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
)

// ageContextWindow is how many characters either side of an age mention are
// searched for exploitative terms.
const ageContextWindow = 50

// ageRE matches a standalone number from 0 to 17 (optionally zero-padded).
var ageRE = regexp.MustCompile(`\b(0?[0-9]|1[0-7])\b`)

// ContextTerms are the sexual or exploitative words that make a nearby
// underage number a violation.
var ContextTerms = []string{
	"sex", "sexual", "porn", "nude", "naked", "sexy", "hot",
	"fuck", "masturbate", "penis", "vagina", "boobs", "ass",
	"molest", "rape", "abuse", "exploit",
}

// DefaultSafeResponses is used when no deflections are configured.
var DefaultSafeResponses = []string{
	"Sorry, I don't feel comfortable talking about that. Let's talk about something fun instead! 😊",
	"That's not really my vibe. Want to hear about my latest movie marathon? 🎥",
	"Hmm, I'd rather not get into that. How about we talk about iced matcha instead? ☕",
}

// Reason identifies which rule fired.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonBlockedTopic Reason = "blocked_topic"
	ReasonUnderage     Reason = "underage_context"
)

// Verdict describes the outcome of a check. Term is the blocked topic or the
// context word that triggered it.
type Verdict struct {
	Blocked bool
	Reason  Reason
	Term    string
}

// Filter holds the compiled keyword automata. It is safe for concurrent use.
type Filter struct {
	topics    *matcher
	context   *matcher
	responses []string
}

// New compiles blockedTopics (matched case-insensitively as substrings) and
// keeps safeResponses for deflection. An empty safeResponses falls back to
// DefaultSafeResponses.
func New(blockedTopics, safeResponses []string) *Filter {
	topics := make([]string, 0, len(blockedTopics))
	for _, t := range blockedTopics {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			topics = append(topics, t)
		}
	}
	responses := make([]string, 0, len(safeResponses))
	for _, r := range safeResponses {
		if r = strings.TrimSpace(r); r != "" {
			responses = append(responses, r)
		}
	}
	if len(responses) == 0 {
		responses = append(responses, DefaultSafeResponses...)
	}
	return &Filter{
		topics:    newMatcher(topics),
		context:   newMatcher(ContextTerms),
		responses: responses,
	}
}

// ContainsBlockedContent reports whether text mentions a blocked topic or a
// number under 18 within ageContextWindow characters of a context term.
func (f *Filter) ContainsBlockedContent(text string) bool {
	return f.Check(text).Blocked
}

// Check is ContainsBlockedContent with the triggering rule attached.
func (f *Filter) Check(text string) Verdict {
	lower := strings.ToLower(text)
	if term, ok := f.topics.find(lower); ok {
		return Verdict{Blocked: true, Reason: ReasonBlockedTopic, Term: term}
	}

	locs := ageRE.FindAllStringIndex(lower, -1)
	if len(locs) == 0 {
		return Verdict{}
	}
	runes := []rune(lower)
	for _, loc := range locs {
		start := utf8.RuneCountInString(lower[:loc[0]])
		end := start + utf8.RuneCountInString(lower[loc[0]:loc[1]])
		lo := max(0, start-ageContextWindow)
		hi := min(len(runes), end+ageContextWindow)
		if term, ok := f.context.find(string(runes[lo:hi])); ok {
			return Verdict{Blocked: true, Reason: ReasonUnderage, Term: term}
		}
	}
	return Verdict{}
}

// SafeResponse returns a uniformly random deflection reply.
func (f *Filter) SafeResponse() string {
	return f.responses[rand.IntN(len(f.responses))]
}

// matcher finds any of a fixed set of substrings in one pass.
type matcher struct {
	patterns []string
	ac       *ahocorasick.Automaton
}

func newMatcher(patterns []string) *matcher {
	m := &matcher{patterns: patterns}
	if len(patterns) == 0 {
		return m
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err == nil {
		m.ac = ac
	}
	return m
}

// find returns the first pattern found in text. Without an automaton it
// falls back to a linear scan.
func (m *matcher) find(text string) (string, bool) {
	if len(m.patterns) == 0 || text == "" {
		return "", false
	}
	if m.ac == nil {
		for _, p := range m.patterns {
			if strings.Contains(text, p) {
				return p, true
			}
		}
		return "", false
	}
	hits := m.ac.FindAllOverlapping([]byte(text))
	if len(hits) == 0 {
		return "", false
	}
	id := hits[0].PatternID
	if id >= 0 && id < len(m.patterns) {
		return m.patterns[id], true
	}
	return text[hits[0].Start:hits[0].End], true
}
