// Webhook HTTP handler.
//
// POST /webhooks/fanvue authenticates a platform delivery, decodes it and
// hands triggering events to the deferred pipeline. The response never waits
// for reply generation.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/persona-engine/internal/config"
	"github.com/tbourn/persona-engine/internal/dispatch"
	"github.com/tbourn/persona-engine/internal/http/middleware"
	"github.com/tbourn/persona-engine/internal/services"
	"github.com/tbourn/persona-engine/internal/webhook"
)

// FallbackSignatureHeader is accepted when the configured header is absent.
const FallbackSignatureHeader = "X-Platform-Signature"

// Dispatcher queues work outside the request lifecycle.
type Dispatcher interface {
	Submit(t dispatch.Task) error
}

// Processor runs the per-message pipeline for one event.
type Processor interface {
	Process(ctx context.Context, ev webhook.Event) services.Stage
}

// WebhookHandler serves the inbound platform webhook.
type WebhookHandler struct {
	cfg      config.WebhookConfig
	secret   []byte
	pipeline Processor
	queue    Dispatcher
	now      func() time.Time
}

// NewWebhookHandler binds the handler to its verification settings, the
// pipeline and the queue the pipeline runs on.
func NewWebhookHandler(cfg config.WebhookConfig, p Processor, q Dispatcher) *WebhookHandler {
	return &WebhookHandler{
		cfg:      cfg,
		secret:   []byte(cfg.Secret),
		pipeline: p,
		queue:    q,
		now:      time.Now,
	}
}

// Receive godoc
// @ID          receiveWebhook
// @Summary     Receive a platform webhook delivery
// @Description Verifies the timestamped HMAC signature, acknowledges the delivery and processes message events in the background.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Fanvue-Signature  header  string  true  "t=<unix>,v0=<hex hmac>"
// @Param       body                body    object  true  "Webhook payload"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Signature mismatch"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Router      /webhooks/fanvue [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read body")
		return
	}

	header := c.GetHeader(h.cfg.SignatureHeader)
	if strings.TrimSpace(header) == "" {
		header = c.GetHeader(FallbackSignatureHeader)
	}
	if !webhook.VerifyWithin(body, header, h.secret, h.now(), h.tolerance()) {
		lg.Warn().Int("bytes", len(body)).Msg("webhook signature mismatch")
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Signature mismatch")
		return
	}

	ev, err := webhook.DecodeEvent(body)
	if err != nil {
		lg.Warn().Err(err).Msg("webhook payload not decodable; acknowledged")
		ack(c)
		return
	}
	if !ev.Triggers() {
		lg.Debug().Str("type", ev.Type).Msg("webhook event ignored")
		ack(c)
		return
	}
	if err := ev.Validate(); err != nil {
		lg.Warn().Str("type", ev.Type).Str("event_id", ev.ID).Msg("message event missing fan id or text; acknowledged")
		ack(c)
		return
	}

	// The pipeline span continues the request's trace after the response is sent.
	parent := trace.SpanContextFromContext(c.Request.Context())
	task := dispatch.Task{
		Key:  ev.FanID,
		Name: "message:" + ev.MessageID,
		Run: func(ctx context.Context) {
			if parent.IsValid() {
				ctx = trace.ContextWithSpanContext(ctx, parent)
			}
			h.pipeline.Process(ctx, ev)
		},
	}
	if err := h.queue.Submit(task); err != nil {
		lg.Error().Err(err).
			Str("fan_id", ev.FanID).
			Str("message_id", ev.MessageID).
			Msg("message dropped; pipeline queue unavailable")
	}
	ack(c)
}

func (h *WebhookHandler) tolerance() time.Duration {
	if h.cfg.Tolerance > 0 {
		return h.cfg.Tolerance
	}
	return webhook.DefaultTolerance
}

func ack(c *gin.Context) {
	ok(c, http.StatusOK, StatusResponse{Status: "ok"})
}
