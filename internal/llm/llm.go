// Package llm talks to an OpenAI-compatible chat completion endpoint.
//
// Callers describe a request as a system instruction plus role-tagged turns;
// the package returns the first choice's text. Failures are returned as
// errors and can be bucketed with Classify so callers can choose an
// appropriate fallback.
package llm

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/openai/openai-go"
)

// Roles used in Turn.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Purposes label requests in logs and metrics.
const (
	PurposeLore  = "lore"
	PurposeReply = "reply"
)

// Turn is one prior message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Purpose     string
	System      string
	Turns       []Turn
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Completer produces a completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrEmptyCompletion is returned when the backend answers without any text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Kind buckets completion failures.
type Kind string

const (
	KindNone       Kind = ""
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindUpstream   Kind = "upstream"
	KindOther      Kind = "other"
)

// Classify maps err to a failure kind. A nil error is KindNone.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return KindUpstream
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	return KindOther
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
