package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/tbourn/persona-engine/internal/config"
)

// ErrDeliveryFailed wraps any non-2xx answer from the send endpoint.
var ErrDeliveryFailed = errors.New("platform: delivery failed")

// Tokens supplies bearer tokens for API calls.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client calls the platform REST API. Outbound sends are rate limited.
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	http       *http.Client
	tokens     Tokens
	limiter    *rate.Limiter
}

// NewClient builds an API client. httpClient may be nil.
func NewClient(cfg config.PlatformConfig, tokens Tokens, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	rps, burst := cfg.SendRPS, cfg.SendBurst
	if rps <= 0 {
		rps = 5
	}
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		http:       httpClient,
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// SendMessage posts text into chatID. A 401 drops the cached token and the
// request is retried once.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	tr := otel.Tracer("platform/Client")
	ctx, span := tr.Start(ctx, "SendMessage")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))

	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("%w: empty chat id", ErrDeliveryFailed)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	endpoint := c.baseURL + "/chats/" + url.PathEscape(chatID) + "/messages"

	status, snippet, err := c.post(ctx, endpoint, body)
	if err == nil && status == http.StatusUnauthorized {
		c.tokens.Invalidate()
		status, snippet, err = c.post(ctx, endpoint, body)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrDeliveryFailed, status, snippet)
	}
	return nil
}

// Profile fetches the authenticated creator's profile using accessToken.
func (c *Client) Profile(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return nil, err
	}
	c.headers(req, accessToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("platform: profile status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("platform: decode profile: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (int, string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("platform: access token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	c.headers(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	return resp.StatusCode, readSnippet(resp.Body), nil
}

func (c *Client) headers(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	if c.apiVersion != "" {
		req.Header.Set("X-Fanvue-API-Version", c.apiVersion)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Fanvue-API-Key", c.apiKey)
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
