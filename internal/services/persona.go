// Package services – PersonaResponder
//
// This file implements PersonaResponder, which assembles the persona system
// prompt (description, attribute sections, style/conversation/safety rules,
// fan lore) and asks the completion backend for an in-character reply. Both
// the fan message and the reply pass the safety filter. Backend failures map
// to in-character fallback lines; accepted replies are stripped of stage
// directions and have placeholder nicknames swapped for the fan's name.
//
// Observability: GenerateReply is OpenTelemetry-instrumented; safety blocks
// and backend outcomes are counted in Prometheus.

package services

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/persona-engine/internal/config"
	"github.com/tbourn/persona-engine/internal/llm"
	"github.com/tbourn/persona-engine/internal/observability"
	"github.com/tbourn/persona-engine/internal/safety"
)

// DefaultHistoryTurns bounds how many prior turns are sent with a reply request.
const DefaultHistoryTurns = 5

var (
	// stageDirectionRE matches asterisk-delimited asides such as *blushes*.
	stageDirectionRE = regexp.MustCompile(`\*[^*]+\*`)
	whitespaceRE     = regexp.MustCompile(`\s+`)
)

// PersonaResponder produces in-character replies. GenerateReply never fails:
// blocked content gets a deflection and backend errors get a fallback line.
type PersonaResponder struct {
	LLM     llm.Completer
	Filter  *safety.Filter
	Persona config.Persona

	HistoryTurns int
	Temperature  float64
	TopP         float64
	MaxTokens    int

	// static is the lore-independent head of the system prompt.
	static string
}

// NewPersonaResponder renders the persona's fixed prompt once.
func NewPersonaResponder(p config.Persona, c llm.Completer, f *safety.Filter) *PersonaResponder {
	return &PersonaResponder{
		LLM:          c,
		Filter:       f,
		Persona:      p,
		HistoryTurns: DefaultHistoryTurns,
		Temperature:  0.9,
		TopP:         0.95,
		MaxTokens:    2000,
		static:       renderPersona(p),
	}
}

// GenerateReply answers message given the fan's lore and chronological history.
func (r *PersonaResponder) GenerateReply(ctx context.Context, message, lore string, history []llm.Turn) string {
	ctx, span := otel.Tracer("services/PersonaResponder").Start(ctx, "GenerateReply")
	defer span.End()
	logger := loggerFrom(ctx)

	name := ExtractName(message, lore, history)

	if v := r.Filter.Check(message); v.Blocked {
		observability.SafetyBlocks.WithLabelValues("inbound").Inc()
		span.SetAttributes(attribute.String("safety.inbound", string(v.Reason)))
		logger.Warn().Str("reason", string(v.Reason)).Str("term", v.Term).Msg("blocked content in inbound message")
		return r.Filter.SafeResponse()
	}

	start := time.Now()
	raw, err := r.LLM.Complete(ctx, llm.Request{
		Purpose:     llm.PurposeReply,
		System:      r.SystemPrompt(lore),
		Turns:       r.turns(message, history),
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		kind := llm.Classify(err)
		observability.LLMRequests.WithLabelValues(llm.PurposeReply, string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		logger.Error().Err(err).Str("kind", string(kind)).Int("status", llm.StatusCode(err)).
			Dur("took", time.Since(start)).Msg("reply generation failed; using fallback")
		return r.fallback(kind)
	}
	observability.LLMRequests.WithLabelValues(llm.PurposeReply, "ok").Inc()

	if v := r.Filter.Check(raw); v.Blocked {
		observability.SafetyBlocks.WithLabelValues("outbound").Inc()
		span.SetAttributes(attribute.String("safety.outbound", string(v.Reason)))
		logger.Warn().Str("reason", string(v.Reason)).Str("term", v.Term).Str("reply", preview(raw)).Msg("blocked content in generated reply")
		return r.Filter.SafeResponse()
	}

	reply := r.PostProcess(raw, name)
	if reply == "" {
		return r.fallback(llm.KindOther)
	}
	logger.Info().Str("reply", preview(reply)).Dur("took", time.Since(start)).Msg("reply generated")
	return reply
}

// PostProcess removes stage directions, collapses whitespace and swaps
// placeholder nicknames for name when one is known.
func (r *PersonaResponder) PostProcess(reply, name string) string {
	reply = stageDirectionRE.ReplaceAllString(reply, "")
	reply = strings.TrimSpace(whitespaceRE.ReplaceAllString(reply, " "))
	if name == "" {
		return reply
	}
	for _, nick := range r.Persona.PlaceholderNicknames {
		reply = strings.ReplaceAll(reply, nick, name)
	}
	return reply
}

// SystemPrompt is the full instruction for one reply, including lore.
func (r *PersonaResponder) SystemPrompt(lore string) string {
	var b strings.Builder
	b.WriteString(r.static)
	b.WriteString("\n\nFan Lore: ")
	b.WriteString(strings.TrimSpace(lore))
	writeRules(&b, "Safety Rules", r.Persona.SafetyRules)
	writeRules(&b, "Style Guidance", r.Persona.StyleRules)
	writeRules(&b, "Conversation Rules", r.Persona.ConversationRules)
	return b.String()
}

// turns keeps the last HistoryTurns entries and ends with message. A trailing
// history entry identical to message (the just-stored inbound row) is dropped.
func (r *PersonaResponder) turns(message string, history []llm.Turn) []llm.Turn {
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleUser && history[n-1].Content == message {
		history = history[:n-1]
	}
	limit := r.HistoryTurns
	if limit <= 0 {
		limit = DefaultHistoryTurns
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]llm.Turn, 0, len(history)+1)
	out = append(out, history...)
	return append(out, llm.Turn{Role: llm.RoleUser, Content: message})
}

func (r *PersonaResponder) fallback(kind llm.Kind) string {
	fb := r.Persona.FallbackReplies
	var pool []string
	switch kind {
	case llm.KindTimeout:
		pool = fb.Timeout
	case llm.KindConnection:
		pool = fb.Connection
	case llm.KindUpstream:
		pool = fb.Upstream
	}
	if pool = nonBlank(pool); len(pool) == 0 {
		pool = nonBlank(fb.Generic)
	}
	if len(pool) == 0 {
		pool = config.DefaultFallbackReplies.Generic
	}
	return pool[rand.IntN(len(pool))]
}

func nonBlank(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func renderPersona(p config.Persona) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Description))
	for _, s := range p.Sections {
		b.WriteString("\n\n")
		b.WriteString(s.Title)
		b.WriteString(":")
		for _, it := range s.Items {
			b.WriteString("\n- ")
			b.WriteString(it.Label)
			b.WriteString(": ")
			b.WriteString(it.Value)
		}
	}
	return b.String()
}

func writeRules(b *strings.Builder, title string, rules []string) {
	if len(rules) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(title)
	b.WriteString(":")
	for _, r := range rules {
		b.WriteString("\n- ")
		b.WriteString(r)
	}
}
