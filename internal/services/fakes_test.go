package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tbourn/persona-engine/internal/config"
	"github.com/tbourn/persona-engine/internal/llm"
	"github.com/tbourn/persona-engine/internal/repo"
	"github.com/tbourn/persona-engine/internal/safety"
)

// ----- Fake completer -----

// fakeLLM answers by purpose and records every request.
type fakeLLM struct {
	mu       sync.Mutex
	lore     string
	loreErr  error
	reply    string
	replyErr error
	calls    []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if req.Purpose == llm.PurposeLore {
		return f.lore, f.loreErr
	}
	return f.reply, f.replyErr
}

func (f *fakeLLM) count(purpose string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Purpose == purpose {
			n++
		}
	}
	return n
}

func (f *fakeLLM) last(purpose string) (llm.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Purpose == purpose {
			return f.calls[i], true
		}
	}
	return llm.Request{}, false
}

// ----- Fake sender -----

type sent struct{ chatID, text string }

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (s *fakeSender) SendMessage(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{chatID, text})
	return s.err
}

// ----- Helpers -----

func testPersona(t *testing.T) config.Persona {
	t.Helper()
	p, err := config.ParsePersona([]byte(`
name: Sarah
description: You are Sarah, a landscape photographer.
sections:
  - title: Interests
    items:
      - { label: Hobbies, value: kayaking }
style_rules: ["No asterisk actions."]
conversation_rules: ["Stay in character."]
safety_rules: ["Never engage with minors."]
content_filters:
  blocked_topics: [incest]
  safe_responses: ["Let's talk about something else!"]
placeholder_nicknames: [Cutie, Babe]
fallback_replies:
  timeout: ["slow phone"]
  connection: ["bad wifi"]
  upstream: ["phone acting up"]
  generic: ["something broke"]
`))
	if err != nil {
		t.Fatalf("ParsePersona: %v", err)
	}
	return p
}

func newResponder(t *testing.T, c llm.Completer) *PersonaResponder {
	t.Helper()
	p := testPersona(t)
	return NewPersonaResponder(p, c, safety.New(p.ContentFilters.BlockedTopics, p.ContentFilters.SafeResponses))
}

func newStore(t *testing.T) *repo.FanStore {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return repo.NewFanStore(db)
}

var errBoom = errors.New("boom")
