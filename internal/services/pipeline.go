// Package services – MessagePipeline
//
// This file implements MessagePipeline, the per-event state machine that
// turns one verified webhook message into a stored, delivered persona reply:
// load or create the fan, store the inbound message idempotently, build the
// recent history, grow the fan's lore, generate, store the reply, deliver.
// A duplicate inbound id stops the run after the insert. Failures end the run
// in StageFailed and never reach the webhook caller.
//
// Observability: one OpenTelemetry span per run (child of the webhook
// request span when available), per-stage duration histograms, a terminal
// outcome counter, and a zerolog child logger carrying fan/message/chat ids.

package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/persona-engine/internal/domain"
	"github.com/tbourn/persona-engine/internal/llm"
	"github.com/tbourn/persona-engine/internal/observability"
	"github.com/tbourn/persona-engine/internal/webhook"
)

// Stage is a step of the per-message state machine.
type Stage int

const (
	StageVerifying Stage = iota
	StageLoadingFanState
	StagePersistingInbound
	StageBuildingHistory
	StageUpdatingLore
	StageGenerating
	StagePersistingOutbound
	StageDelivering
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageVerifying:          "Verifying",
	StageLoadingFanState:    "LoadingFanState",
	StagePersistingInbound:  "PersistingInbound",
	StageBuildingHistory:    "BuildingHistory",
	StageUpdatingLore:       "UpdatingLore",
	StageGenerating:         "Generating",
	StagePersistingOutbound: "PersistingOutbound",
	StageDelivering:         "Delivering",
	StageDone:               "Done",
	StageFailed:             "Failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// DefaultHistoryLimit is how many stored messages are read back as context,
// including the inbound message that was just saved.
const DefaultHistoryLimit = 6

// FanStore is the persistence the pipeline needs.
type FanStore interface {
	GetOrCreateFan(ctx context.Context, fanID string) (*domain.Fan, error)
	InsertMessage(ctx context.Context, m *domain.Message) (inserted bool, err error)
	RecentMessages(ctx context.Context, fanID string, limit int) ([]domain.Message, error)
	UpdateLore(ctx context.Context, fanID, lore string) error
	UpdateName(ctx context.Context, fanID, name string) error
}

// Sender delivers a reply into a platform chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// MessagePipeline turns one verified inbound event into a stored and
// delivered reply.
type MessagePipeline struct {
	Store     FanStore
	Lore      *LoreExtractor
	Responder *PersonaResponder
	// Sender may be nil, in which case replies are stored but not delivered.
	Sender Sender

	HistoryLimit int
	Now          func() time.Time
}

// NewMessagePipeline wires the pipeline with default limits.
func NewMessagePipeline(store FanStore, lore *LoreExtractor, responder *PersonaResponder, sender Sender) *MessagePipeline {
	return &MessagePipeline{
		Store:        store,
		Lore:         lore,
		Responder:    responder,
		Sender:       sender,
		HistoryLimit: DefaultHistoryLimit,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// run carries the state of a single Process call.
type run struct {
	ev     webhook.Event
	stage  Stage
	logger zerolog.Logger

	fan     *domain.Fan
	history []llm.Turn
	lore    string
	reply   string
}

// Process runs ev from LoadingFanState to Done and returns the terminal
// stage. Signature verification happens before the event is dispatched.
// Errors and panics are logged and end in StageFailed; they are never
// returned.
func (p *MessagePipeline) Process(ctx context.Context, ev webhook.Event) (final Stage) {
	ctx, span := otel.Tracer("services/MessagePipeline").Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("fan.id", ev.FanID),
			attribute.String("message.id", ev.MessageID),
		),
	)
	defer span.End()

	lc := log.With().
		Str("event_id", ev.ID).
		Str("fan_id", ev.FanID).
		Str("message_id", ev.MessageID).
		Str("chat_id", ev.ChatID)
	if sc := span.SpanContext(); sc.HasTraceID() {
		lc = lc.Str("trace_id", sc.TraceID().String())
	}
	r := &run{ev: ev, stage: StageLoadingFanState, logger: lc.Logger()}
	ctx = r.logger.WithContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Stringer("stage", r.stage).Msg("pipeline panicked")
			span.SetStatus(codes.Error, "panic")
			observability.PipelineRuns.WithLabelValues(observability.OutcomeFailed).Inc()
			final = StageFailed
		}
	}()

	if err := ev.Validate(); err != nil {
		r.logger.Warn().Err(err).Msg("skipping malformed event")
		observability.PipelineRuns.WithLabelValues(observability.OutcomeSkipped).Inc()
		return StageFailed
	}

	steps := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{StageLoadingFanState, p.loadFan},
		{StagePersistingInbound, p.persistInbound},
		{StageBuildingHistory, p.buildHistory},
		{StageUpdatingLore, p.updateLore},
		{StageGenerating, p.generate},
		{StagePersistingOutbound, p.persistOutbound},
		{StageDelivering, p.deliver},
	}
	for _, s := range steps {
		r.stage = s.stage
		start := time.Now()
		err := s.fn(ctx, r)
		observability.ObserveStage(s.stage.String(), start)

		if errors.Is(err, errDuplicate) {
			r.logger.Info().Msg("duplicate delivery; already processed")
			observability.PipelineRuns.WithLabelValues(observability.OutcomeDuplicate).Inc()
			span.SetAttributes(attribute.Bool("message.duplicate", true))
			return StageDone
		}
		if err != nil {
			r.logger.Error().Err(err).Stringer("stage", s.stage).Msg("pipeline failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, s.stage.String())
			observability.PipelineRuns.WithLabelValues(observability.OutcomeFailed).Inc()
			return StageFailed
		}
	}

	r.stage = StageDone
	observability.PipelineRuns.WithLabelValues(observability.OutcomeDone).Inc()
	r.logger.Info().Str("reply", preview(r.reply)).Msg("message processed")
	return StageDone
}

// errDuplicate stops a run whose inbound message was stored by an earlier delivery.
var errDuplicate = errors.New("duplicate inbound message")

func (p *MessagePipeline) loadFan(ctx context.Context, r *run) error {
	fan, err := p.Store.GetOrCreateFan(ctx, r.ev.FanID)
	if err != nil {
		return fmt.Errorf("load fan: %w", err)
	}
	r.fan = fan
	r.lore = fan.LoreText
	return nil
}

func (p *MessagePipeline) persistInbound(ctx context.Context, r *run) error {
	inserted, err := p.Store.InsertMessage(ctx, &domain.Message{
		ID:        r.ev.MessageID,
		FanID:     r.ev.FanID,
		Role:      domain.RoleUser,
		Content:   r.ev.Text,
		CreatedAt: p.now(),
	})
	if err != nil {
		return fmt.Errorf("store inbound message: %w", err)
	}
	if !inserted {
		return errDuplicate
	}
	return nil
}

func (p *MessagePipeline) buildHistory(ctx context.Context, r *run) error {
	limit := p.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := p.Store.RecentMessages(ctx, r.ev.FanID, limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	slices.Reverse(msgs)
	r.history = make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		r.history = append(r.history, llm.Turn{Role: m.Role, Content: m.Content})
	}
	return nil
}

// updateLore never fails the run: both writes are best-effort.
func (p *MessagePipeline) updateLore(ctx context.Context, r *run) error {
	updated := p.Lore.UpdateLore(ctx, r.ev.Text, r.fan.LoreText)
	if updated != r.fan.LoreText {
		if err := p.Store.UpdateLore(ctx, r.ev.FanID, updated); err != nil {
			r.logger.Warn().Err(err).Msg("lore update not saved")
		} else {
			r.logger.Debug().Int("facts", len(domain.Facts(updated))).Msg("lore updated")
		}
	}
	r.lore = updated

	if name, ok := domain.FanNameFromLore(updated); ok && name != r.fan.Name && name != domain.DefaultFanName {
		if err := p.Store.UpdateName(ctx, r.ev.FanID, name); err != nil {
			r.logger.Warn().Err(err).Msg("fan name not saved")
		} else {
			r.logger.Info().Str("name", name).Msg("fan name learned")
		}
	}
	return nil
}

func (p *MessagePipeline) generate(ctx context.Context, r *run) error {
	r.reply = p.Responder.GenerateReply(ctx, r.ev.Text, r.lore, r.history)
	return nil
}

func (p *MessagePipeline) persistOutbound(ctx context.Context, r *run) error {
	_, err := p.Store.InsertMessage(ctx, &domain.Message{
		ID:        uuid.NewString(),
		FanID:     r.ev.FanID,
		Role:      domain.RoleAssistant,
		Content:   r.reply,
		CreatedAt: p.now(),
	})
	if err != nil {
		return fmt.Errorf("store reply: %w", err)
	}
	return nil
}

// deliver logs failures without failing the run; the reply is already stored.
func (p *MessagePipeline) deliver(ctx context.Context, r *run) error {
	if p.Sender == nil {
		r.logger.Warn().Msg("no platform sender configured; reply stored only")
		return nil
	}
	if err := p.Sender.SendMessage(ctx, r.ev.ChatID, r.reply); err != nil {
		observability.PlatformDeliveries.WithLabelValues("error").Inc()
		r.logger.Error().Err(err).Msg("reply delivery failed")
		return nil
	}
	observability.PlatformDeliveries.WithLabelValues("ok").Inc()
	return nil
}

func (p *MessagePipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
