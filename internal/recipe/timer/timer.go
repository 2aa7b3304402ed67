// Package timer owns the independent countdown timers for one recipe
// engine. It has no knowledge of the DAG: the engine calls it to start and
// cancel timers keyed by either a step id or an opaque ad-hoc id, and
// consumes the events it emits to drive step transitions.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by the manager; callers use errors.Is.
var (
	ErrAlreadyRunning = errors.New("timer: already running")
	ErrNotFound       = errors.New("timer: not found")
	ErrDurationError  = errors.New("timer: invalid duration")
)

// EventKind enumerates the events the manager's emitter hook receives.
type EventKind string

const (
	EventTimerStarted    EventKind = "TIMER_STARTED"
	EventTimerDone       EventKind = "TIMER_DONE"
	EventTimerCancelled  EventKind = "TIMER_CANCELLED"
	EventTimerListUpdate EventKind = "TIMER_LIST_UPDATE"
	EventReminderTick    EventKind = "REMINDER_TICK"
)

// Event is emitted by the manager for the engine to translate further.
type Event struct {
	Kind   EventKind
	Timer  Timer
	Timers []Timer // populated for EventTimerListUpdate
}

// Emitter receives timer events. The manager calls it synchronously, either
// on a worker goroutine or from inside StartTimer/CancelTimer themselves.
type Emitter func(Event)

// Timer is a snapshot of one active timer's state.
type Timer struct {
	ID            string
	StepID        string // empty for ad-hoc kitchen timers
	Label         string
	DurationSecs  int
	StartedAt     time.Time
	remainingFunc func() int
}

// RemainingSecs returns the time left on the timer, floored at zero.
func (t Timer) RemainingSecs() int {
	if t.remainingFunc != nil {
		return t.remainingFunc()
	}
	left := t.DurationSecs - int(time.Since(t.StartedAt).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

// State is the legacy shape UI consumers ask for via GetTimerState.
type State struct {
	DurationSecs  int
	EndTS         time.Time
	RemainingSecs int
}

// entry pairs a timer's snapshot with the cancel func of its worker (and of
// the reminder loop the worker may run after expiry).
type entry struct {
	timer  Timer
	cancel context.CancelFunc
}

// Manager owns all timers for one engine.
type Manager struct {
	mu      sync.Mutex
	timers  map[string]*entry
	emit    Emitter
	nowFunc func() time.Time
}

// New creates a Manager. emit may be nil, in which case events are dropped
// (useful in tests that only assert on returned values).
func New(emit Emitter) *Manager {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Manager{
		timers:  make(map[string]*entry),
		emit:    emit,
		nowFunc: time.Now,
	}
}

func stepTimerID(stepID string) string {
	return fmt.Sprintf("timer_%s", stepID)
}

// StartTimer starts a new timer. It fails with ErrAlreadyRunning if a timer
// with the same id already exists. When the duration elapses the worker
// goroutine emits TIMER_DONE and then invokes onExpire. After that, if
// requiresConfirm is true and reminderSecs is positive, the timer stays
// registered and a reminder loop emits REMINDER_TICK every reminderSecs until
// it is cancelled; otherwise the timer is removed.
func (m *Manager) StartTimer(ctx context.Context, id, stepID, label string, durationSecs int, requiresConfirm bool, reminderSecs int, onExpire func()) (Timer, error) {
	m.mu.Lock()
	if _, exists := m.timers[id]; exists {
		m.mu.Unlock()
		return Timer{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	t := Timer{
		ID:           id,
		StepID:       stepID,
		Label:        label,
		DurationSecs: durationSecs,
		StartedAt:    m.nowFunc(),
	}
	m.timers[id] = &entry{timer: t, cancel: cancel}
	m.mu.Unlock()

	go m.runWorker(workerCtx, id, durationSecs, requiresConfirm, reminderSecs, onExpire)

	m.emit(Event{Kind: EventTimerStarted, Timer: t})
	m.emitListUpdate()
	return t, nil
}

// StartTimerForStep is a convenience for callers that already hold a
// duration/label derived from a step; DurationMissing-equivalent validation
// (type/duration presence) is the caller's (engine's) responsibility since
// the manager has no notion of step types.
func (m *Manager) StartTimerForStep(ctx context.Context, stepID, label string, durationSecs int, requiresConfirm bool, reminderSecs int, onExpire func()) (Timer, error) {
	if durationSecs <= 0 {
		return Timer{}, fmt.Errorf("%w: duration must be positive", ErrDurationError)
	}
	return m.StartTimer(ctx, stepTimerID(stepID), stepID, label, durationSecs, requiresConfirm, reminderSecs, onExpire)
}

func (m *Manager) runWorker(ctx context.Context, id string, durationSecs int, requiresConfirm bool, reminderSecs int, onExpire func()) {
	timer := time.NewTimer(time.Duration(durationSecs) * time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	m.mu.Lock()
	e, ok := m.timers[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	snapshot := e.timer
	m.mu.Unlock()

	m.emit(Event{Kind: EventTimerDone, Timer: snapshot})
	if onExpire != nil {
		onExpire()
	}

	if !requiresConfirm || reminderSecs <= 0 {
		m.removeQuiet(id)
		return
	}

	ticker := time.NewTicker(time.Duration(reminderSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.emit(Event{Kind: EventReminderTick, Timer: snapshot})
		}
	}
}

// removeQuiet deletes a timer's bookkeeping without emitting a cancellation
// event, used once a timer has already fired naturally.
func (m *Manager) removeQuiet(id string) {
	m.mu.Lock()
	delete(m.timers, id)
	m.mu.Unlock()
	m.emitListUpdate()
}

// CancelTimer stops a timer's worker (and any reminder loop) without firing
// its completion events. Returns false if no such timer exists, unless
// raiseIfNotFound is true, in which case it returns ErrNotFound.
func (m *Manager) CancelTimer(id string, emitEvent bool, raiseIfNotFound bool) (bool, error) {
	m.mu.Lock()
	e, ok := m.timers[id]
	if !ok {
		m.mu.Unlock()
		if raiseIfNotFound {
			return false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return false, nil
	}
	delete(m.timers, id)
	m.mu.Unlock()

	e.cancel()
	if emitEvent {
		m.emit(Event{Kind: EventTimerCancelled, Timer: e.timer})
	}
	m.emitListUpdate()
	return true, nil
}

// CancelTimerForStep cancels the timer bound to a step, keyed by the
// conventional stepTimerID.
func (m *Manager) CancelTimerForStep(stepID string, emitEvent bool, raiseIfNotFound bool) (bool, error) {
	return m.CancelTimer(stepTimerID(stepID), emitEvent, raiseIfNotFound)
}

// HasActiveTimerForStep reports whether a step currently owns a running timer.
func (m *Manager) HasActiveTimerForStep(stepID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[stepTimerID(stepID)]
	return ok
}

// GetTimerForStep returns the current timer snapshot for a step, if any.
func (m *Manager) GetTimerForStep(stepID string) (Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[stepTimerID(stepID)]
	if !ok {
		return Timer{}, false
	}
	return e.timer, true
}

// GetAllActiveTimers returns all running timers sorted by remaining time
// ascending.
func (m *Manager) GetAllActiveTimers() []Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Timer, 0, len(m.timers))
	for _, e := range m.timers {
		out = append(out, e.timer)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RemainingSecs() < out[j].RemainingSecs()
	})
	return out
}

// GetTimerState returns the legacy {duration_secs, end_ts, remaining_secs}
// shape some UI consumers expect, keyed by step id.
func (m *Manager) GetTimerState(stepID string) (State, bool) {
	t, ok := m.GetTimerForStep(stepID)
	if !ok {
		return State{}, false
	}
	return State{
		DurationSecs:  t.DurationSecs,
		EndTS:         t.StartedAt.Add(time.Duration(t.DurationSecs) * time.Second),
		RemainingSecs: t.RemainingSecs(),
	}, true
}

// SetTimerMetadata registers a timer's bookkeeping before its worker starts,
// so a recipe_state snapshot taken between registration and worker launch
// already carries timer info. The caller (engine) is responsible for the
// ordering contract in spec §4.2.
func (m *Manager) SetTimerMetadata(stepID string, durationSecs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := stepTimerID(stepID)
	if _, exists := m.timers[id]; exists {
		return
	}
	m.timers[id] = &entry{
		timer: Timer{
			ID:           id,
			StepID:       stepID,
			DurationSecs: durationSecs,
			StartedAt:    m.nowFunc(),
		},
		cancel: func() {},
	}
}

// CancelAll stops every timer and reminder loop without emitting any
// per-timer events, used on engine stop.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.timers))
	for _, e := range m.timers {
		entries = append(entries, e)
	}
	m.timers = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

func (m *Manager) emitListUpdate() {
	m.emit(Event{Kind: EventTimerListUpdate, Timers: m.GetAllActiveTimers()})
}

// NewAdHocID returns an opaque id for a kitchen timer not bound to a step.
func NewAdHocID() string {
	return uuid.NewString()
}
