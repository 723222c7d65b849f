// Package services – LoreExtractor
//
// This file implements fan memory: ExtractName finds a self-introduced name in
// the message, lore or history, and LoreExtractor.UpdateLore asks the backend
// for at most one new fact and appends it. Any backend failure counts as
// "no new info", so stored lore only ever grows.
//
// Observability: UpdateLore runs in its own span and counts backend outcomes.

package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/persona-engine/internal/domain"
	"github.com/tbourn/persona-engine/internal/llm"
	"github.com/tbourn/persona-engine/internal/observability"
)

// NoNewInfo is the sentinel the lore prompt asks the model to emit when the
// message carries nothing worth remembering.
const NoNewInfo = "NO_NEW_INFO"

// namePatterns are tried in order against lowercased text. The first pattern
// that matches anywhere in a source wins for that source.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`i['’]m\s+([\p{L}\p{N}_]+)`),
	regexp.MustCompile(`call me\s+([\p{L}\p{N}_]+)`),
	regexp.MustCompile(`my name is\s+([\p{L}\p{N}_]+)`),
	regexp.MustCompile(`name['’]s\s+([\p{L}\p{N}_]+)`),
	regexp.MustCompile(`i go by\s+([\p{L}\p{N}_]+)`),
}

// ExtractName looks for a self-introduction in message, then lore, then each
// history turn (oldest first) and returns the captured word capitalized. Lore
// also yields the value of a "Fan Name:" fact. It returns "" when nothing
// matches.
func ExtractName(message, lore string, history []llm.Turn) string {
	if name := matchName(message); name != "" {
		return name
	}
	if lore != "" {
		if name := matchName(lore); name != "" {
			return name
		}
		if name, ok := domain.FanNameFromLore(lore); ok && name != domain.DefaultFanName {
			return name
		}
	}
	for _, t := range history {
		if name := matchName(t.Content); name != "" {
			return name
		}
	}
	return ""
}

func matchName(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return cases.Title(language.Und).String(m[1])
		}
	}
	return ""
}

// LoreExtractor asks the completion backend which new facts about a fan are
// worth keeping and appends them to the fan's lore.
type LoreExtractor struct {
	LLM         llm.Completer
	PersonaName string

	Temperature float64
	TopP        float64
	MaxTokens   int
}

// NewLoreExtractor returns an extractor tuned for short, consistent output.
func NewLoreExtractor(c llm.Completer, personaName string) *LoreExtractor {
	return &LoreExtractor{
		LLM:         c,
		PersonaName: personaName,
		Temperature: 0.3,
		TopP:        0.8,
		MaxTokens:   200,
	}
}

// UpdateLore returns previous with at most one new fact appended. Any backend
// failure, empty answer or NO_NEW_INFO leaves previous unchanged, so existing
// lines are never removed or rewritten.
func (e *LoreExtractor) UpdateLore(ctx context.Context, message, previous string) string {
	previous = strings.TrimSpace(previous)

	ctx, span := otel.Tracer("services/LoreExtractor").Start(ctx, "UpdateLore")
	defer span.End()

	start := time.Now()
	out, err := e.LLM.Complete(ctx, llm.Request{
		Purpose:     llm.PurposeLore,
		System:      e.prompt(message, previous),
		Turns:       []llm.Turn{{Role: llm.RoleUser, Content: "Analyze this message for important fan information to remember"}},
		Temperature: e.Temperature,
		TopP:        e.TopP,
		MaxTokens:   e.MaxTokens,
	})
	if err != nil {
		kind := llm.Classify(err)
		observability.LLMRequests.WithLabelValues(llm.PurposeLore, string(kind)).Inc()
		span.RecordError(err)
		loggerFrom(ctx).Warn().Err(err).Str("kind", string(kind)).Dur("took", time.Since(start)).Msg("lore update failed; keeping previous lore")
		return previous
	}
	observability.LLMRequests.WithLabelValues(llm.PurposeLore, "ok").Inc()

	fact := cleanFact(out)
	span.SetAttributes(attribute.Bool("lore.new_info", fact != ""))
	if fact == "" {
		return previous
	}
	for _, existing := range domain.Facts(previous) {
		if existing == fact {
			return previous
		}
	}
	return domain.AppendFact(previous, fact)
}

// cleanFact strips wrapping quotes and returns "" for the sentinel.
func cleanFact(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, NoNewInfo) {
		return ""
	}
	return s
}

func (e *LoreExtractor) prompt(message, previous string) string {
	name := e.PersonaName
	if name == "" {
		name = "the persona"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI assistant that analyzes fan messages to extract important information that %s should remember about the fan.\n\n", name)
	fmt.Fprintf(&b, "Current Fan Lore:\n%s\n\n", previous)
	fmt.Fprintf(&b, "New Message from Fan:\n%s\n\n", message)
	b.WriteString(`Instructions:
1. Identify if there's any new information about the fan that should be stored
2. Information could include: name, location, interests, hobbies, pets, family, job, etc.
3. Keep the response very concise - just the important new information
4. If there's no new information, return "` + NoNewInfo + `"
5. Do not include any formatting - just plain text
6. If the new information contradicts existing lore, do NOT include it
7. Record a name as "Fan Name: <name>"

Example Responses:
- "Fan Name: Jake"
- "Fan likes night photography"
- "Fan has a Golden Retriever named Max"
- "Fan is from Chicago"
- "` + NoNewInfo + `"`)
	return b.String()
}
