package webhook

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrMalformedEvent is returned for bodies that are not JSON objects or lack
// the fields needed to process a message.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Event types that start the message pipeline. "message.recieved" is a
// misspelling some deliveries carry.
const (
	TypeMessageReceived = "message.received"
	TypeMessageCreated  = "message.created"
	typeMessageRecieved = "message.recieved"
)

// eventNamespace seeds deterministic ids for deliveries without a message id.
var eventNamespace = uuid.MustParse("6f1c2b0e-8d4a-4f57-9a43-2f7e0c5d9b11")

// Event is the flattened view of a platform webhook delivery.
type Event struct {
	ID        string // delivery id (top-level "id")
	Type      string
	FanID     string
	Text      string
	MessageID string
	ChatID    string
}

// Triggers reports whether the event type should run the message pipeline.
func (e Event) Triggers() bool {
	switch e.Type {
	case TypeMessageReceived, TypeMessageCreated, typeMessageRecieved:
		return true
	}
	return false
}

// Field extraction paths in priority order. The first non-empty string wins.
var (
	fanPaths     = []string{"sender.uuid", "userId"}
	textPaths    = []string{"message.text", "text"}
	messagePaths = []string{"message.uuid", "id"}
	chatPaths    = []string{"chat.uuid", "chatId"}
)

// DecodeEvent parses a webhook body. The message payload is read from "data"
// when it is an object and from the body itself otherwise, so both the nested
// and the flat delivery shapes decode the same way.
//
// Only the envelope is validated here; use Validate before processing a
// triggering event. A missing message id is replaced with a stable id derived
// from the body so redeliveries stay idempotent. A missing chat id falls back
// to the fan id.
func DecodeEvent(body []byte) (Event, error) {
	if !gjson.ValidBytes(body) {
		return Event{}, ErrMalformedEvent
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Event{}, ErrMalformedEvent
	}
	payload := doc.Get("data")
	if !payload.IsObject() {
		payload = doc
	}

	ev := Event{
		ID:        str(doc.Get("id")),
		Type:      strings.TrimSpace(str(doc.Get("type"))),
		FanID:     first(payload, fanPaths),
		Text:      first(payload, textPaths),
		MessageID: first(payload, messagePaths),
		ChatID:    first(payload, chatPaths),
	}
	if ev.MessageID == "" && ev.FanID != "" {
		ev.MessageID = uuid.NewSHA1(eventNamespace, body).String()
	}
	if ev.ChatID == "" {
		ev.ChatID = ev.FanID
	}
	return ev, nil
}

// Validate reports ErrMalformedEvent when the fields the pipeline depends on
// are missing.
func (e Event) Validate() error {
	if e.FanID == "" || strings.TrimSpace(e.Text) == "" {
		return ErrMalformedEvent
	}
	return nil
}

func first(v gjson.Result, paths []string) string {
	for _, p := range paths {
		if s := str(v.Get(p)); s != "" {
			return s
		}
	}
	return ""
}

// str returns scalar values as strings; numeric ids are kept verbatim.
func str(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number:
		return r.Raw
	}
	return ""
}
