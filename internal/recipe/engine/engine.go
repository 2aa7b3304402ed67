// Package engine implements the per-session recipe state machine: it owns
// the step status table and the timer manager, and funnels every DAG
// transition through a small set of operations that emit events in a
// documented order.
//
// The shape is grounded on a narrow struct holding collaborators behind
// small interfaces and returning one event stream per call, generalized
// from a linear step-chain to a DAG unlock algorithm (see engine invariants
// I1-I8 and the unlock algorithm below).
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/cooksession/cooksession/internal/common/constants"
	"github.com/cooksession/cooksession/internal/recipe/model"
	"github.com/cooksession/cooksession/internal/recipe/timer"
)

// TimerActiveError carries the remaining seconds on a refused confirm, so
// the tool layer can report it verbatim in the [TIMER_ACTIVE] response.
type TimerActiveError struct {
	StepID        string
	RemainingSecs int
}

func (e *TimerActiveError) Error() string {
	return fmt.Sprintf("timer active for step %s (%ds remaining)", e.StepID, e.RemainingSecs)
}

func (e *TimerActiveError) Unwrap() error { return ErrTimerActive }

// Engine drives one session's recipe. It is not safe for concurrent use
// from multiple goroutines simultaneously; callers (the session actor) must
// serialize calls, though timer workers internally route back through the
// engine's own mutex.
type Engine struct {
	recipe *model.Recipe
	timers *timer.Manager
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	emitMu     sync.Mutex
	started    bool
	running    bool
	completed  map[string]bool
	appliedOps map[string]bool
}

// New creates an Engine for one recipe. sink receives every event the
// engine emits, in emission order; it must not block for long, since timer
// completions are serialized through the same call path.
func New(recipe *model.Recipe, sink Sink) *Engine {
	if sink == nil {
		sink = func(Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		recipe:     recipe,
		sink:       sink,
		ctx:        ctx,
		cancel:     cancel,
		completed:  make(map[string]bool),
		appliedOps: make(map[string]bool),
	}
	e.timers = timer.New(e.timerEmitter)
	return e
}

func (e *Engine) emit(ev Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.sink(ev)
}

// timerEmitter translates timer-manager events into engine events. It does
// not take e.mu: the manager emits synchronously from inside engine calls
// that already hold it (StartTimerForStep, a forced ConfirmStepDone). emit
// keeps the sink calls one at a time, and the step transition a timer
// completion causes is serialized by onTimerExpire, which does take e.mu.
// Only recipe fields that never change after loading are read here.
func (e *Engine) timerEmitter(te timer.Event) {
	switch te.Kind {
	case timer.EventTimerStarted:
		e.emit(Event{Kind: KindTimerStarted, StepID: te.Timer.StepID, DurationSecs: te.Timer.DurationSecs})
	case timer.EventTimerCancelled:
		e.emit(Event{Kind: KindTimerCancelled, StepID: te.Timer.StepID})
	case timer.EventTimerListUpdate:
		e.emit(Event{Kind: KindTimerListUpdate, Timers: toSnapshots(te.Timers)})
	case timer.EventReminderTick:
		e.emit(Event{Kind: KindReminderTick, StepID: te.Timer.StepID})
	case timer.EventTimerDone:
		requiresConfirm := false
		if s, ok := e.recipe.Step(te.Timer.StepID); ok {
			requiresConfirm = s.RequiresConfirm
		}
		e.emit(Event{Kind: KindTimerDone, StepID: te.Timer.StepID, RequiresConfirm: requiresConfirm})
	}
}

func toSnapshots(ts []timer.Timer) []TimerSnapshot {
	out := make([]TimerSnapshot, 0, len(ts))
	for _, t := range ts {
		out = append(out, TimerSnapshot{
			ID:            t.ID,
			StepID:        t.StepID,
			Label:         t.Label,
			DurationSecs:  t.DurationSecs,
			RemainingSecs: t.RemainingSecs(),
		})
	}
	return out
}

// Start computes the initial frontier (every step with no dependencies),
// marks each READY, and applies the single-auto-start rule (I4) to the
// frontier itself. Idempotent: a second call is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	e.started = true
	e.running = true

	var frontier []*model.Step
	for _, s := range e.recipe.Steps {
		if len(s.DependsOn) == 0 {
			frontier = append(frontier, s)
		}
	}
	if len(frontier) == 0 {
		e.emit(Event{Kind: KindError, Message: "recipe has no steps without dependencies", Err: ErrNoInitialSteps})
		return ErrNoInitialSteps
	}

	for _, s := range frontier {
		s.Status = model.StatusReady
		e.emit(Event{Kind: KindStepReady, StepID: s.ID, Descr: s.Descr})
	}

	if len(frontier) == 1 && frontier[0].AutoStart {
		_ = e.startStepLocked(frontier[0].ID)
	}
	return nil
}

// StartStep transitions a READY step to ACTIVE.
func (e *Engine) StartStep(stepID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startStepLocked(stepID)
}

func (e *Engine) startStepLocked(stepID string) error {
	step, ok := e.recipe.Step(stepID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if step.Status != model.StatusReady {
		return fmt.Errorf("%w: %s is %s", ErrStepNotReady, stepID, step.Status)
	}

	step.Status = model.StatusActive

	for _, action := range step.OnEnter {
		if action.Say != "" {
			e.emit(Event{Kind: KindMessage, StepID: stepID, Message: action.Say})
		}
	}

	ev := Event{
		Kind:     KindStepStart,
		StepID:   stepID,
		Descr:    step.Descr,
		StepType: step.Type,
	}
	if step.Type == model.StepTypeTimer {
		ev.DurationSecs = step.DurationSecs()
		ev.DurationStr = step.Duration
	}
	e.emit(ev)
	return nil
}

// StartTimerForStep begins the countdown for an ACTIVE timer step. It never
// auto-starts the timer on StartStep (I5); this is the only path that
// starts a timer's worker.
func (e *Engine) StartTimerForStep(stepID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	step, ok := e.recipe.Step(stepID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if step.Status != model.StatusActive {
		return fmt.Errorf("%w: %s is %s", ErrStepNotActive, stepID, step.Status)
	}
	if step.Type != model.StepTypeTimer || step.DurationSecs() <= 0 {
		return fmt.Errorf("%w: %s", ErrDurationMissing, stepID)
	}
	if e.timers.HasActiveTimerForStep(stepID) {
		return fmt.Errorf("%w: %s", ErrTimerAlreadyRunning, stepID)
	}

	reminderSecs := step.Reminder.EverySeconds()
	requiresConfirm := step.RequiresConfirm
	if reminderSecs <= 0 && requiresConfirm {
		reminderSecs = int(constants.TimerReminderInterval.Seconds())
	}

	_, err := e.timers.StartTimerForStep(e.ctx, stepID, step.Descr, step.DurationSecs(), requiresConfirm, reminderSecs, func() {
		e.onTimerExpire(stepID, requiresConfirm)
	})
	if err != nil {
		return err
	}
	return nil
}

// onTimerExpire runs on the timer worker's goroutine after TIMER_DONE has
// already been emitted by the manager; it acquires the engine mutex to
// serialize the resulting transition with any other engine call.
func (e *Engine) onTimerExpire(stepID string, requiresConfirm bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	step, ok := e.recipe.Step(stepID)
	if !ok {
		return
	}

	if requiresConfirm {
		step.Status = model.StatusWaitingAck
		return
	}
	e.completeStepLocked(step)
}

// ApplyIdempotent runs fn at most once per operationID, so a caller that
// retries a request (a REST client timing out and resending, say) doesn't
// double-apply the same transition. An empty operationID disables the
// guard and always runs fn. Reports idempotent=true when fn was skipped
// because operationID was already applied.
func (e *Engine) ApplyIdempotent(operationID string, fn func() error) (idempotent bool, err error) {
	if operationID == "" {
		return false, fn()
	}

	e.mu.Lock()
	if e.appliedOps[operationID] {
		e.mu.Unlock()
		return true, nil
	}
	e.mu.Unlock()

	if err := fn(); err != nil {
		return false, err
	}

	e.mu.Lock()
	e.appliedOps[operationID] = true
	e.mu.Unlock()
	return false, nil
}

// ConfirmStepDone completes an ACTIVE or WAITING_ACK step. Completing an
// already-COMPLETED step is a no-op that emits nothing (round-trip
// property in spec §8).
func (e *Engine) ConfirmStepDone(stepID string, forceCancelTimer bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	step, ok := e.recipe.Step(stepID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if step.Status == model.StatusCompleted {
		return nil
	}
	if step.Status != model.StatusActive && step.Status != model.StatusWaitingAck {
		return fmt.Errorf("%w: %s is %s", ErrStepNotActive, stepID, step.Status)
	}

	if e.timers.HasActiveTimerForStep(stepID) {
		// A WAITING_ACK step's timer has already fired and only its reminder
		// loop is left, so it does not block the confirm.
		if !forceCancelTimer && step.Status != model.StatusWaitingAck {
			t, _ := e.timers.GetTimerForStep(stepID)
			return &TimerActiveError{StepID: stepID, RemainingSecs: t.RemainingSecs()}
		}
		// Cancel the timer or reminder loop, suppressing TIMER_CANCELLED since
		// the step is completing in the same call, not an independent cancellation.
		_, _ = e.timers.CancelTimerForStep(stepID, false, false)
	}

	e.completeStepLocked(step)
	return nil
}

// completeStepLocked performs the actual completion + unlock cascade. The
// caller must hold e.mu.
func (e *Engine) completeStepLocked(step *model.Step) {
	step.Status = model.StatusCompleted
	e.completed[step.ID] = true
	e.emit(Event{Kind: KindStepCompleted, StepID: step.ID, Descr: step.Descr})

	e.unlockSuccessorsLocked(step)

	if len(e.completed) == len(e.recipe.Steps) {
		e.running = false
		e.emit(Event{Kind: KindAllCompleted, RecipeTitle: e.recipe.Meta.Title})
	}
}

// unlockSuccessorsLocked implements the unlock algorithm: candidates are
// the completed step's Next list, filtered to PENDING steps whose predicate
// now holds, evaluated once in document order (I3). If exactly one
// candidate became READY and its auto_start is true, it is auto-started
// (I4); two or more newly-ready candidates suppress auto-start entirely.
func (e *Engine) unlockSuccessorsLocked(step *model.Step) {
	var newlyReady []*model.Step
	for _, nextID := range step.Next {
		cand, ok := e.recipe.Step(nextID)
		if !ok || cand.Status != model.StatusPending {
			continue
		}
		if cand.PredicateHolds(e.completed) {
			cand.Status = model.StatusReady
			e.emit(Event{Kind: KindStepReady, StepID: cand.ID, Descr: cand.Descr})
			newlyReady = append(newlyReady, cand)
		}
	}

	if len(newlyReady) == 1 && newlyReady[0].AutoStart {
		_ = e.startStepLocked(newlyReady[0].ID)
	}
}

// GetState returns a pure read of the current recipe/step state.
func (e *Engine) GetState() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	completed := make([]string, 0, len(e.completed))
	for id := range e.completed {
		completed = append(completed, id)
	}

	steps := make([]StepSnapshot, 0, len(e.recipe.Steps))
	for _, s := range e.recipe.Steps {
		ss := StepSnapshot{
			ID:        s.ID,
			Descr:     s.Descr,
			Status:    s.Status,
			Type:      s.Type,
			DependsOn: s.DependsOn,
			Next:      s.Next,
		}
		if st, ok := e.timers.GetTimerState(s.ID); ok {
			ss.Timer = &TimerInfo{
				DurationSecs:  st.DurationSecs,
				EndTS:         st.EndTS,
				RemainingSecs: st.RemainingSecs,
			}
		}
		steps = append(steps, ss)
	}

	return Snapshot{
		RecipeID:  e.recipe.Meta.ID,
		Title:     e.recipe.Meta.Title,
		Running:   e.running,
		Completed: completed,
		Steps:     steps,
	}
}

// GetActiveSteps returns steps currently ACTIVE or WAITING_ACK, in document order.
func (e *Engine) GetActiveSteps() []*model.Step {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*model.Step
	for _, s := range e.recipe.Steps {
		if s.Status == model.StatusActive || s.Status == model.StatusWaitingAck {
			out = append(out, s)
		}
	}
	return out
}

// Recipe exposes the underlying recipe for read-only tool operations
// (step matching, describing candidates in [BLOCKED] responses).
func (e *Engine) Recipe() *model.Recipe {
	return e.recipe
}

// GetTimerManager exposes the underlying timer manager for read-only tool
// operations (get_active_timers, ad-hoc kitchen timers) that don't need a
// step-DAG transition.
func (e *Engine) GetTimerManager() *timer.Manager {
	return e.timers
}

// Stop cancels every timer and reminder loop and marks the engine
// not-running. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.timers.CancelAll()
	e.cancel()
}
