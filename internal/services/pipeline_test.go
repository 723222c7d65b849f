package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/persona-engine/internal/config"
	"github.com/tbourn/persona-engine/internal/domain"
	"github.com/tbourn/persona-engine/internal/llm"
	"github.com/tbourn/persona-engine/internal/repo"
	"github.com/tbourn/persona-engine/internal/webhook"
)

func newPipeline(t *testing.T, c llm.Completer, sender Sender) (*MessagePipeline, *repo.FanStore) {
	t.Helper()
	store := newStore(t)
	p := NewMessagePipeline(store, NewLoreExtractor(c, "Sarah"), newResponder(t, c), sender)
	return p, store
}

func event(fanID, msgID, text string) webhook.Event {
	return webhook.Event{
		Type:      webhook.TypeMessageReceived,
		FanID:     fanID,
		MessageID: msgID,
		ChatID:    "chat-" + fanID,
		Text:      text,
	}
}

func TestStage_String(t *testing.T) {
	if StageLoadingFanState.String() != "LoadingFanState" || StageFailed.String() != "Failed" {
		t.Fatal("unexpected stage names")
	}
	if got := Stage(99).String(); got != "Stage(99)" {
		t.Fatalf("out of range = %q", got)
	}
}

func TestProcess_EndToEnd_NewFan(t *testing.T) {
	f := &fakeLLM{lore: "Fan Name: Mike", reply: "*grins* Hey Cutie, kayaking is the best!"}
	sender := &fakeSender{}
	p, store := newPipeline(t, f, sender)
	ctx := context.Background()

	if got := p.Process(ctx, event("fan-1", "m-1", "I'm Mike, I love kayaking")); got != StageDone {
		t.Fatalf("Process = %v; want Done", got)
	}

	fan, err := repo.GetFan(ctx, store.DB, "fan-1")
	if err != nil {
		t.Fatalf("GetFan: %v", err)
	}
	if !strings.Contains(fan.LoreText, "Fan Name: Mike") {
		t.Fatalf("lore = %q", fan.LoreText)
	}
	if fan.Name != "Mike" {
		t.Fatalf("name = %q", fan.Name)
	}
	if fan.LastVibe != domain.DefaultVibe {
		t.Fatalf("last_vibe = %q", fan.LastVibe)
	}

	msgs, err := repo.ListMessagesPage(ctx, store.DB, "fan-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d; want 2", len(msgs))
	}
	if msgs[0].ID != "m-1" || msgs[0].Role != domain.RoleUser {
		t.Fatalf("first message = %+v", msgs[0])
	}
	reply := msgs[1]
	if reply.Role != domain.RoleAssistant || strings.Contains(reply.Content, "*") {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Content != "Hey Mike, kayaking is the best!" {
		t.Fatalf("reply content = %q", reply.Content)
	}

	if len(sender.sent) != 1 || sender.sent[0].chatID != "chat-fan-1" || sender.sent[0].text != reply.Content {
		t.Fatalf("deliveries = %+v", sender.sent)
	}
}

func TestProcess_DuplicateDeliveryShortCircuits(t *testing.T) {
	f := &fakeLLM{lore: NoNewInfo, reply: "hi there"}
	sender := &fakeSender{}
	p, store := newPipeline(t, f, sender)
	ctx := context.Background()

	ev := event("fan-2", "m-dup", "hello")
	if got := p.Process(ctx, ev); got != StageDone {
		t.Fatalf("first = %v", got)
	}
	ev.Text = "changed text"
	if got := p.Process(ctx, ev); got != StageDone {
		t.Fatalf("second = %v", got)
	}

	if n, _ := repo.CountMessages(ctx, store.DB, "fan-2"); n != 2 {
		t.Fatalf("messages = %d; want 2", n)
	}
	msgs, _ := repo.ListMessagesPage(ctx, store.DB, "fan-2", 0, 10)
	if msgs[0].Content != "hello" {
		t.Fatalf("first-seen content must win, got %q", msgs[0].Content)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("deliveries = %d; want 1", len(sender.sent))
	}
	if f.count(llm.PurposeReply) != 1 {
		t.Fatalf("reply generated %d times", f.count(llm.PurposeReply))
	}
}

func TestProcess_HistoryIsChronologicalAndBounded(t *testing.T) {
	f := &fakeLLM{lore: NoNewInfo, reply: "ok"}
	p, _ := newPipeline(t, f, &fakeSender{})
	ctx := context.Background()

	for i, text := range []string{"one", "two", "three", "four"} {
		if got := p.Process(ctx, event("fan-3", "m-"+text, text)); got != StageDone {
			t.Fatalf("message %d: %v", i, got)
		}
	}

	req, _ := f.last(llm.PurposeReply)
	// the six newest rows end with the inbound message, which is sent once as the final turn
	var contents []string
	for _, turn := range req.Turns {
		contents = append(contents, turn.Content)
	}
	got := strings.Join(contents, "|")
	if want := "ok|two|ok|three|ok|four"; got != want {
		t.Fatalf("turns = %s; want %s", got, want)
	}
}

func TestProcess_BackendFailureStillPersistsAndDelivers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"down"}}`))
	}))
	defer srv.Close()

	c, err := llm.NewOpenAIClient(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	sender := &fakeSender{}
	p, store := newPipeline(t, c, sender)
	ctx := context.Background()

	if got := p.Process(ctx, event("fan-4", "m-4", "hey")); got != StageDone {
		t.Fatalf("Process = %v", got)
	}
	msgs, _ := repo.ListMessagesPage(ctx, store.DB, "fan-4", 0, 10)
	if len(msgs) != 2 || msgs[1].Content != "phone acting up" {
		t.Fatalf("messages = %+v", msgs)
	}
	fan, _ := repo.GetFan(ctx, store.DB, "fan-4")
	if fan.LoreText != "" {
		t.Fatalf("failed lore call must not change lore, got %q", fan.LoreText)
	}
	if len(sender.sent) != 1 || sender.sent[0].text != "phone acting up" {
		t.Fatalf("deliveries = %+v", sender.sent)
	}
}

func TestProcess_DeliveryFailureIsNotFatal(t *testing.T) {
	p, store := newPipeline(t, &fakeLLM{lore: NoNewInfo, reply: "hey"}, &fakeSender{err: errBoom})
	ctx := context.Background()
	if got := p.Process(ctx, event("fan-5", "m-5", "hi")); got != StageDone {
		t.Fatalf("Process = %v", got)
	}
	if n, _ := repo.CountMessages(ctx, store.DB, "fan-5"); n != 2 {
		t.Fatalf("reply must stay stored, count = %d", n)
	}
}

func TestProcess_NilSenderStoresOnly(t *testing.T) {
	p, store := newPipeline(t, &fakeLLM{lore: NoNewInfo, reply: "hey"}, nil)
	ctx := context.Background()
	if got := p.Process(ctx, event("fan-6", "m-6", "hi")); got != StageDone {
		t.Fatalf("Process = %v", got)
	}
	if n, _ := repo.CountMessages(ctx, store.DB, "fan-6"); n != 2 {
		t.Fatalf("count = %d", n)
	}
}

func TestProcess_MalformedEvent(t *testing.T) {
	f := &fakeLLM{}
	p, _ := newPipeline(t, f, &fakeSender{})
	if got := p.Process(context.Background(), event("", "m", "hi")); got != StageFailed {
		t.Fatalf("Process = %v", got)
	}
	if got := p.Process(context.Background(), event("fan", "m", "   ")); got != StageFailed {
		t.Fatalf("Process = %v", got)
	}
	if len(f.calls) != 0 {
		t.Fatal("backend must not be called")
	}
}

// failingStore fails at a chosen step.
type failingStore struct {
	FanStore
	failInsert bool
	failLore   bool
	panicLoad  bool
}

func (s *failingStore) GetOrCreateFan(ctx context.Context, fanID string) (*domain.Fan, error) {
	if s.panicLoad {
		panic("db exploded")
	}
	return s.FanStore.GetOrCreateFan(ctx, fanID)
}

func (s *failingStore) InsertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	if s.failInsert {
		return false, errors.New("disk full")
	}
	return s.FanStore.InsertMessage(ctx, m)
}

func (s *failingStore) UpdateLore(ctx context.Context, fanID, lore string) error {
	if s.failLore {
		return errors.New("locked")
	}
	return s.FanStore.UpdateLore(ctx, fanID, lore)
}

func TestProcess_PersistenceFailureAborts(t *testing.T) {
	f := &fakeLLM{lore: NoNewInfo, reply: "hey"}
	sender := &fakeSender{}
	p, store := newPipeline(t, f, sender)
	p.Store = &failingStore{FanStore: store, failInsert: true}

	if got := p.Process(context.Background(), event("fan-7", "m-7", "hi")); got != StageFailed {
		t.Fatalf("Process = %v", got)
	}
	if len(f.calls) != 0 || len(sender.sent) != 0 {
		t.Fatal("later stages must not run")
	}
}

func TestProcess_LoreWriteFailureIsBestEffort(t *testing.T) {
	sender := &fakeSender{}
	p, store := newPipeline(t, &fakeLLM{lore: "Fan Name: Ana", reply: "hi Babe"}, sender)
	p.Store = &failingStore{FanStore: store, failLore: true}
	ctx := context.Background()

	if got := p.Process(ctx, event("fan-8", "m-8", "my name is ana")); got != StageDone {
		t.Fatalf("Process = %v", got)
	}
	fan, _ := repo.GetFan(ctx, store.DB, "fan-8")
	if fan.LoreText != "" || fan.Name != "Ana" {
		t.Fatalf("lore write fails independently of name write: %+v", fan)
	}
	if len(sender.sent) != 1 || sender.sent[0].text != "hi Ana" {
		t.Fatalf("deliveries = %+v", sender.sent)
	}
}

func TestProcess_PanicRecovered(t *testing.T) {
	p, store := newPipeline(t, &fakeLLM{}, &fakeSender{})
	p.Store = &failingStore{FanStore: store, panicLoad: true}
	if got := p.Process(context.Background(), event("fan-9", "m-9", "hi")); got != StageFailed {
		t.Fatalf("Process = %v", got)
	}
}
