// Package eventhandler subscribes to one session's engine events and
// performs the two translations spec'd for the core: UI-facing frames sent
// over the session's output channel, and assistant nudges (spoken or
// silent) injected into the LLM's next turn.
//
// Grounded on the event-bus subscription model (internal/events/bus):
// here it is narrowed to a single per-session subscriber rather than a
// topic-based pub/sub, since each engine's events only ever matter to its
// own session.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/events/bus"
	"github.com/cooksession/cooksession/internal/recipe/assistant"
	"github.com/cooksession/cooksession/internal/recipe/engine"
	ws "github.com/cooksession/cooksession/pkg/websocket"
	"go.uber.org/zap"
)

// lifecycleSubject is the bus subject recipe lifecycle events publish on,
// namespaced per session so external subscribers (analytics, cross-instance
// observers) can filter without the core knowing who's listening.
func lifecycleSubject(sessionID string) string {
	return "recipe.session." + sessionID
}

// OutputChannel is the narrow send-only surface the handler needs; satisfied
// by session.OutputChannel without importing the session package (avoids a
// dependency cycle, since session wires this handler in).
type OutputChannel interface {
	Send(msg *ws.Message) error
}

// Handler performs the dual translation for one session. Create one per
// session and pass Handle as the engine's Sink.
type Handler struct {
	sessionID string
	output    OutputChannel
	assistant assistant.Assistant
	eventBus  bus.EventBus
	logger    *logger.Logger
}

// New builds a Handler bound to one session's output channel and assistant
// handle. Either may be nil; sends/injections are then silently skipped.
func New(sessionID string, output OutputChannel, asst assistant.Assistant, log *logger.Logger) *Handler {
	if asst == nil {
		asst = assistant.NoopAssistant{}
	}
	return &Handler{
		sessionID: sessionID,
		output:    output,
		assistant: asst,
		logger:    log.WithFields(zap.String("component", "recipe_event_handler"), zap.String("session_id", sessionID)),
	}
}

// WithEventBus attaches an event bus lifecycle events publish onto,
// returning h for chaining. A nil bus (the default) disables publishing.
func (h *Handler) WithEventBus(b bus.EventBus) *Handler {
	h.eventBus = b
	return h
}

// Handle is the engine.Sink implementation. Failures here are logged and
// swallowed: a bad event translation must never crash the engine or abort
// the step that produced it.
func (h *Handler) Handle(ev engine.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked", zap.Any("recover", r), zap.String("kind", string(ev.Kind)))
		}
	}()

	h.sendUIEvent(ev)
	h.nudgeAssistant(ev)
	h.publishLifecycleEvent(ev)
}

// publishLifecycleEvent mirrors step/recipe lifecycle transitions onto the
// event bus, for external subscribers (analytics, cross-instance
// coordination) the core itself neither depends on nor knows about.
func (h *Handler) publishLifecycleEvent(ev engine.Event) {
	if h.eventBus == nil {
		return
	}
	switch ev.Kind {
	case engine.KindStepStart, engine.KindStepCompleted, engine.KindAllCompleted, engine.KindError:
	default:
		return
	}

	data := map[string]interface{}{
		"session_id": h.sessionID,
		"step_id":    ev.StepID,
	}
	busEvent := bus.NewEvent(string(ev.Kind), "cooksession", data)
	if err := h.eventBus.Publish(context.Background(), lifecycleSubject(h.sessionID), busEvent); err != nil {
		h.logger.Warn("failed to publish lifecycle event", zap.Error(err), zap.String("kind", string(ev.Kind)))
	}
}

func (h *Handler) send(action string, payload interface{}) {
	if h.output == nil {
		return
	}
	msg, err := ws.NewNotification(action, payload)
	if err != nil {
		h.logger.Error("failed to build outbound message", zap.Error(err), zap.String("action", action))
		return
	}
	if err := h.output.Send(msg); err != nil {
		h.logger.Error("failed to send outbound message", zap.Error(err), zap.String("action", action))
	}
}

func (h *Handler) sendUIEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.KindStepStart:
		h.send(ws.ActionRecipeState, map[string]interface{}{"reason": ev.Kind})
		h.send(ws.ActionControl, map[string]interface{}{
			"action":  "focus_step",
			"step_id": ev.StepID,
		})
	case engine.KindStepCompleted, engine.KindStepReady, engine.KindAllCompleted:
		h.send(ws.ActionRecipeState, map[string]interface{}{"reason": ev.Kind})
	case engine.KindTimerStarted:
		h.send(ws.ActionRecipeState, map[string]interface{}{"reason": ev.Kind})
		h.send(ws.ActionControl, map[string]interface{}{
			"action":  "timer_start",
			"step_id": ev.StepID,
		})
	case engine.KindTimerListUpdate:
		h.send(ws.ActionRecipeState, map[string]interface{}{"reason": ev.Kind})
		h.send(ws.ActionTimerList, map[string]interface{}{
			"timers": ev.Timers,
			"count":  len(ev.Timers),
		})
	case engine.KindTimerCancelled:
		h.send(ws.ActionControl, map[string]interface{}{
			"action":  "timer_cancel",
			"step_id": ev.StepID,
		})
	case engine.KindTimerDone:
		h.send(ws.ActionManagerSystem, map[string]interface{}{
			"type":    "timer_done",
			"step_id": ev.StepID,
		})
	case engine.KindReminderTick:
		h.send(ws.ActionManagerSystem, map[string]interface{}{
			"type":    "reminder_tick",
			"step_id": ev.StepID,
		})
	case engine.KindMessage:
		h.send(ws.ActionRecipeMessage, map[string]interface{}{"message": ev.Message})
	case engine.KindError:
		h.send(ws.ActionRecipeError, map[string]interface{}{"message": ev.Message})
	}
}

// nudgeAssistant decides whether an engine event should become a spoken
// injection, a silent memo, or nothing at all. This policy lives here, not
// in the engine, per spec §9 "silent vs. spoken assistant notifications".
func (h *Handler) nudgeAssistant(ev engine.Event) {
	ctx := context.Background()

	switch ev.Kind {
	case engine.KindTimerDone:
		var text string
		if ev.RequiresConfirm {
			text = fmt.Sprintf("The timer for step %q has finished. Ask the user to confirm it's done.", ev.StepID)
		} else {
			text = fmt.Sprintf("[silent] Step %q finished automatically when its timer elapsed.", ev.StepID)
		}
		if err := h.assistant.InjectSystemMessage(ctx, text); err != nil {
			h.logger.Warn("failed to inject assistant message", zap.Error(err))
		}
	case engine.KindReminderTick:
		text := fmt.Sprintf("Gentle reminder: step %q is still waiting for confirmation.", ev.StepID)
		if err := h.assistant.InjectSystemMessage(ctx, text); err != nil {
			h.logger.Warn("failed to inject assistant reminder", zap.Error(err))
		}
	case engine.KindAllCompleted:
		text := fmt.Sprintf("All steps of %q are complete. Congratulate the user and wrap up.", ev.RecipeTitle)
		if err := h.assistant.InjectSystemMessage(ctx, text); err != nil {
			h.logger.Warn("failed to inject assistant closing message", zap.Error(err))
		}
	}
}
