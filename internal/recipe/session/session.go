// Package session is the process-wide registry of recipe engines, keyed by
// session id. It generalizes the gateway's WebSocket Hub client registry
// (map + mutex, one entry per connection) to one entry per cooking session,
// holding the engine plus the collaborators an engine needs to talk to the
// outside world: an event sink, an assistant handle, and an outbound UI
// channel.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/recipe/assistant"
	"github.com/cooksession/cooksession/internal/recipe/engine"
	"github.com/cooksession/cooksession/internal/recipe/model"
	ws "github.com/cooksession/cooksession/pkg/websocket"
	"go.uber.org/zap"
)

// OutputChannel sends a typed UI event out over a session's transport.
// Implementations must not block for long; a slow or disconnected
// transport should drop or buffer, not stall the session actor.
type OutputChannel interface {
	Send(msg *ws.Message) error
}

// KitchenTimerState is the bookkeeping session.go keeps for ad-hoc
// (non-step-bound) kitchen timers: a running flag and the seconds last
// reported, since pause/resume needs to remember where it left off.
type KitchenTimerState struct {
	Running       bool
	RemainingSecs int
	LabelOrEmpty  string
}

// Entry is everything the registry stores for one session.
type Entry struct {
	mu sync.Mutex

	ID            string
	Engine        *engine.Engine
	RecipeID      string
	RecipePayload []byte

	assistant    assistant.Assistant
	output       OutputChannel
	kitchenTimer KitchenTimerState
	lastActivity time.Time
}

func (e *Entry) touch() {
	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()
}

// Assistant returns the session's registered assistant handle, or a no-op
// stand-in if none has been registered yet.
func (e *Entry) Assistant() assistant.Assistant {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.assistant == nil {
		return assistant.NoopAssistant{}
	}
	return e.assistant
}

// Output returns the session's registered output channel, or nil.
func (e *Entry) Output() OutputChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output
}

// KitchenTimer returns a copy of the session's ad-hoc timer bookkeeping.
func (e *Entry) KitchenTimer() KitchenTimerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kitchenTimer
}

// SetKitchenTimer updates the session's ad-hoc timer bookkeeping.
func (e *Entry) SetKitchenTimer(state KitchenTimerState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kitchenTimer = state
}

// ErrChannelNotRegistered is returned by SendControlEvent when no output
// channel has been registered for the session.
var ErrChannelNotRegistered = fmt.Errorf("session: no output channel registered")

// ErrSessionNotFound is returned by registry lookups that miss.
var ErrSessionNotFound = fmt.Errorf("session: not found")

// Registry is the concurrency-safe process-wide session map (I7/I8:
// concurrent engines for different sessions never share state; a session
// has at most one engine at a time).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
	logger   *logger.Logger
}

// New creates an empty registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Entry),
		logger:   log.WithFields(zap.String("component", "recipe_session_registry")),
	}
}

// Create installs a new engine for a session. If an engine already exists
// for the session it is stopped first (I8), then the new one replaces it;
// the session's assistant/output-channel registrations are preserved.
func (r *Registry) Create(sessionID string, recipe *model.Recipe, sink engine.Sink) *engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[sessionID]
	if !ok {
		entry = &Entry{ID: sessionID}
		r.sessions[sessionID] = entry
	} else if entry.Engine != nil {
		entry.Engine.Stop()
	}

	eng := engine.New(recipe, sink)
	entry.Engine = eng
	entry.RecipeID = recipe.Meta.ID
	entry.touch()

	r.logger.Debug("recipe engine installed", zap.String("session_id", sessionID), zap.String("recipe_id", recipe.Meta.ID))
	return eng
}

// Get returns the engine for a session, if any.
func (r *Registry) Get(sessionID string) (*engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	if !ok || entry.Engine == nil {
		return nil, false
	}
	return entry.Engine, true
}

// entryOrCreate returns the session's entry, creating an empty one if this
// is the first interaction (e.g. registering an output channel before any
// recipe has been started).
func (r *Registry) entryOrCreate(sessionID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		entry = &Entry{ID: sessionID}
		r.sessions[sessionID] = entry
	}
	return entry
}

// SetSessionRecipe records the recipe id and raw payload most recently
// loaded for a session, independent of whether an engine is currently live.
func (r *Registry) SetSessionRecipe(sessionID, recipeID string, payload []byte) {
	entry := r.entryOrCreate(sessionID)
	entry.mu.Lock()
	entry.RecipeID = recipeID
	entry.RecipePayload = payload
	entry.mu.Unlock()
}

// GetSessionRecipe returns the last-known recipe id and payload for a session.
func (r *Registry) GetSessionRecipe(sessionID string) (recipeID string, payload []byte, ok bool) {
	r.mu.RLock()
	entry, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	if !exists {
		return "", nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.RecipeID, entry.RecipePayload, entry.RecipeID != ""
}

// RegisterAssistant attaches an assistant handle to a session.
func (r *Registry) RegisterAssistant(sessionID string, a assistant.Assistant) {
	entry := r.entryOrCreate(sessionID)
	entry.mu.Lock()
	entry.assistant = a
	entry.mu.Unlock()
}

// GetAssistant returns a session's assistant handle, or NoopAssistant if none.
func (r *Registry) GetAssistant(sessionID string) assistant.Assistant {
	r.mu.RLock()
	entry, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return assistant.NoopAssistant{}
	}
	return entry.Assistant()
}

// RegisterOutputChannel attaches an outbound UI channel to a session.
func (r *Registry) RegisterOutputChannel(sessionID string, ch OutputChannel) {
	entry := r.entryOrCreate(sessionID)
	entry.mu.Lock()
	entry.output = ch
	entry.mu.Unlock()
	entry.touch()
}

// GetOutputChannel returns a session's output channel, if registered.
func (r *Registry) GetOutputChannel(sessionID string) (OutputChannel, bool) {
	r.mu.RLock()
	entry, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ch := entry.Output()
	return ch, ch != nil
}

// Entry exposes the raw session entry for callers (tools, handlers) that
// need kitchen-timer bookkeeping alongside the engine.
func (r *Registry) Entry(sessionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	return entry, ok
}

// SendControlEvent forwards a typed control event through the session's
// output channel. Fails with ErrChannelNotRegistered if none is registered.
func (r *Registry) SendControlEvent(sessionID, action string, data interface{}) error {
	ch, ok := r.GetOutputChannel(sessionID)
	if !ok {
		return ErrChannelNotRegistered
	}
	msg, err := ws.NewNotification(ws.ActionControl, map[string]interface{}{
		"action": action,
		"data":   data,
	})
	if err != nil {
		return fmt.Errorf("building control event: %w", err)
	}
	return ch.Send(msg)
}

// Cleanup removes all entries for a session and stops its engine. Safe to
// call more than once.
func (r *Registry) Cleanup(sessionID string) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if entry.Engine != nil {
		entry.Engine.Stop()
	}
	r.logger.Debug("session cleaned up", zap.String("session_id", sessionID))
}

// RunIdleSweeper periodically cleans up sessions that have had no
// registered output channel activity and no running timer for longer than
// idleTimeout. It blocks until ctx is cancelled; run it in a goroutine.
func (r *Registry) RunIdleSweeper(ctx context.Context, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdle(idleTimeout)
		}
	}
}

func (r *Registry) sweepIdle(idleTimeout time.Duration) {
	r.mu.RLock()
	var expired []string
	now := time.Now()
	for id, entry := range r.sessions {
		entry.mu.Lock()
		idleFor := now.Sub(entry.lastActivity)
		hasOutput := entry.output != nil
		eng := entry.Engine
		entry.mu.Unlock()

		if hasOutput || idleFor < idleTimeout {
			continue
		}
		if eng != nil && len(eng.GetTimerManager().GetAllActiveTimers()) > 0 {
			continue
		}
		expired = append(expired, id)
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.logger.Info("reaping idle session", zap.String("session_id", id))
		r.Cleanup(id)
	}
}
