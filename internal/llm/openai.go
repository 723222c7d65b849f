package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/persona-engine/internal/config"
)

// repetitionPenalty is an OpenRouter sampling extension sent with every call.
const repetitionPenalty = 1.1

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient implements Completer using openai-go. It targets OpenRouter by
// default, pinning the configured provider (no fallbacks) and never retrying.
type OpenAIClient struct {
	completions chatCompletions
	model       string
}

// NewOpenAIClient builds a client from cfg. Each HTTP call is bounded by cfg.Timeout.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("llm: api key required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{completions: &client.Chat.Completions, model: cfg.Model}, nil
}

// Complete sends req and returns the trimmed text of the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	tr := otel.Tracer("llm/OpenAIClient")
	ctx, span := tr.Start(ctx, "Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.String("llm.purpose", req.Purpose),
		attribute.Int("llm.turns", len(req.Turns)),
	)

	completion, err := c.completions.New(ctx, c.params(req),
		option.WithJSONSet("repetition_penalty", repetitionPenalty),
		option.WithJSONSet("provider", map[string]any{"allow_fallbacks": false}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Classify(err)))
		return "", err
	}
	if completion == nil || len(completion.Choices) == 0 {
		span.SetStatus(codes.Error, "empty")
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		span.SetStatus(codes.Error, "empty")
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *OpenAIClient) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	if s := strings.TrimSpace(req.System); s != "" {
		msgs = append(msgs, openai.SystemMessage(s))
	}
	for _, t := range req.Turns {
		switch t.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: msgs,
	}
	if req.Temperature > 0 {
		p.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		p.TopP = openai.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return p
}
