package eventhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/events/bus"
	"github.com/cooksession/cooksession/internal/recipe/engine"
	ws "github.com/cooksession/cooksession/pkg/websocket"
)

type recordingChannel struct {
	mu   sync.Mutex
	msgs []*ws.Message
}

func (c *recordingChannel) Send(msg *ws.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Action
	}
	return out
}

type recordingAssistant struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAssistant) InjectSystemMessage(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, text)
	return nil
}

func TestStepStartSendsStateAndFocus(t *testing.T) {
	ch := &recordingChannel{}
	h := New("s1", ch, nil, logger.Default())
	h.Handle(engine.Event{Kind: engine.KindStepStart, StepID: "prep"})

	got := ch.actions()
	if len(got) != 2 || got[0] != "recipe_state" || got[1] != "control" {
		t.Fatalf("expected [recipe_state, control], got %v", got)
	}
}

func TestTimerDoneWithConfirmSpeaksAssistant(t *testing.T) {
	asst := &recordingAssistant{}
	h := New("s1", nil, asst, logger.Default())
	h.Handle(engine.Event{Kind: engine.KindTimerDone, StepID: "roast", RequiresConfirm: true})

	if len(asst.messages) != 1 {
		t.Fatalf("expected one injected message, got %d", len(asst.messages))
	}
}

func TestTimerDoneWithoutConfirmIsSilentMemo(t *testing.T) {
	asst := &recordingAssistant{}
	h := New("s1", nil, asst, logger.Default())
	h.Handle(engine.Event{Kind: engine.KindTimerDone, StepID: "roast", RequiresConfirm: false})

	if len(asst.messages) != 1 {
		t.Fatalf("expected one injected (silent) message, got %d", len(asst.messages))
	}
}

func TestHandlerNeverPanicsOutward(t *testing.T) {
	h := New("s1", nil, nil, logger.Default())
	h.Handle(engine.Event{Kind: engine.KindError, Message: "boom"})
}

func TestPublishLifecycleEventSkippedWhenBusUnset(t *testing.T) {
	h := New("s1", nil, nil, logger.Default())
	// No WithEventBus call: Handle must not panic or block on a nil bus.
	h.Handle(engine.Event{Kind: engine.KindStepStart, StepID: "prep"})
}

func TestPublishLifecycleEventForStepStart(t *testing.T) {
	b := bus.NewMemoryEventBus(logger.Default())
	defer b.Close()

	received := make(chan *bus.Event, 1)
	sub, err := b.Subscribe("recipe.session.s1", func(ctx context.Context, ev *bus.Event) error {
		received <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	h := New("s1", nil, nil, logger.Default()).WithEventBus(b)
	h.Handle(engine.Event{Kind: engine.KindStepStart, StepID: "prep"})

	select {
	case ev := <-received:
		if ev.Type != string(engine.KindStepStart) {
			t.Errorf("expected type %q, got %q", engine.KindStepStart, ev.Type)
		}
		data, _ := ev.Data.(map[string]interface{})
		if data["step_id"] != "prep" {
			t.Errorf("expected step_id prep, got %v", data["step_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lifecycle event")
	}
}

func TestPublishLifecycleEventSkipsNonLifecycleKinds(t *testing.T) {
	b := bus.NewMemoryEventBus(logger.Default())
	defer b.Close()

	received := make(chan *bus.Event, 1)
	sub, err := b.Subscribe("recipe.session.s1", func(ctx context.Context, ev *bus.Event) error {
		received <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	h := New("s1", nil, nil, logger.Default()).WithEventBus(b)
	h.Handle(engine.Event{Kind: engine.KindTimerStarted, StepID: "roast"})

	select {
	case ev := <-received:
		t.Fatalf("expected no lifecycle event for KindTimerStarted, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
