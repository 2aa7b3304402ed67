package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/cooksession/cooksession/internal/recipe/model"
)

func collector() (Sink, func() []Event) {
	var mu sync.Mutex
	var events []Event
	return func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		}, func() []Event {
			mu.Lock()
			defer mu.Unlock()
			out := make([]Event, len(events))
			copy(out, events)
			return out
		}
}

func buildRecipe(t *testing.T, doc string) *model.Recipe {
	t.Helper()
	r, err := model.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return r
}

func TestS1AutoStartSingleInitialStep(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "prep", "descr": "Prep", "type": "immediate", "auto_start": true, "requires_confirm": true}
		]
	}`)
	sink, events := collector()
	e := New(r, sink)
	if err := e.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := events()
	if len(got) != 2 || got[0].Kind != KindStepReady || got[1].Kind != KindStepStart {
		t.Fatalf("expected STEP_READY then STEP_START, got %+v", got)
	}
	s, _ := r.Step("prep")
	if s.Status != model.StatusActive {
		t.Errorf("expected ACTIVE, got %s", s.Status)
	}
}

func TestS2ParallelUnlockSuppression(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "preheat", "descr": "Preheat", "type": "immediate", "auto_start": true, "next": ["roast", "prep_veg"]},
			{"id": "roast", "descr": "Roast", "type": "immediate", "auto_start": true, "depends_on": ["preheat"]},
			{"id": "prep_veg", "descr": "Prep veg", "type": "immediate", "auto_start": true, "depends_on": ["preheat"]}
		]
	}`)
	sink, events := collector()
	e := New(r, sink)
	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := e.ConfirmStepDone("preheat", false); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	got := events()
	var sawStepStartAfterPreheat bool
	seenCompleted := false
	for _, ev := range got {
		if ev.Kind == KindStepCompleted {
			seenCompleted = true
			continue
		}
		if seenCompleted && ev.Kind == KindStepStart {
			sawStepStartAfterPreheat = true
		}
	}
	if sawStepStartAfterPreheat {
		t.Error("expected no STEP_START after ambiguous unlock")
	}

	roast, _ := r.Step("roast")
	prepVeg, _ := r.Step("prep_veg")
	if roast.Status != model.StatusReady || prepVeg.Status != model.StatusReady {
		t.Errorf("expected both successors READY, got roast=%s prep_veg=%s", roast.Status, prepVeg.Status)
	}
}

func TestS3TimerDecoupling(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "roast", "descr": "Roast", "type": "timer", "duration": "PT50M", "requires_confirm": true, "auto_start": true}
		]
	}`)
	sink, events := collector()
	e := New(r, sink)
	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var sawTimerStarted bool
	for _, ev := range events() {
		if ev.Kind == KindTimerStarted {
			sawTimerStarted = true
		}
	}
	if sawTimerStarted {
		t.Error("expected no TIMER_STARTED from start_step alone")
	}

	snap := e.GetState()
	for _, s := range snap.Steps {
		if s.ID == "roast" && s.Timer != nil {
			t.Error("expected roast.timer to be nil before start_timer_for_step")
		}
	}

	if err := e.StartTimerForStep("roast"); err != nil {
		t.Fatalf("start timer failed: %v", err)
	}
	snap = e.GetState()
	for _, s := range snap.Steps {
		if s.ID == "roast" {
			if s.Timer == nil {
				t.Fatal("expected roast.timer to be populated after start_timer_for_step")
			}
			if s.Timer.RemainingSecs > 3000 || s.Timer.RemainingSecs < 2990 {
				t.Errorf("expected remaining ~3000s, got %d", s.Timer.RemainingSecs)
			}
		}
	}
	e.Stop()
}

func TestS5ConfirmBlockedByRunningTimer(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "roast", "descr": "Roast", "type": "timer", "duration": "PT50M", "auto_start": true}
		]
	}`)
	sink, _ := collector()
	e := New(r, sink)
	e.Start()
	if err := e.StartTimerForStep("roast"); err != nil {
		t.Fatalf("start timer failed: %v", err)
	}

	err := e.ConfirmStepDone("roast", false)
	if err == nil {
		t.Fatal("expected TimerActiveError")
	}
	var tae *TimerActiveError
	if !asTimerActiveError(err, &tae) {
		t.Fatalf("expected *TimerActiveError, got %v", err)
	}
	s, _ := r.Step("roast")
	if s.Status != model.StatusActive {
		t.Errorf("expected status unchanged, got %s", s.Status)
	}
	e.Stop()
}

func asTimerActiveError(err error, target **TimerActiveError) bool {
	if tae, ok := err.(*TimerActiveError); ok {
		*target = tae
		return true
	}
	return false
}

func TestS6AllCompletedTerminus(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Two Step"},
		"steps": [
			{"id": "a", "descr": "A", "type": "immediate", "auto_start": true, "next": ["b"]},
			{"id": "b", "descr": "B", "type": "immediate", "depends_on": ["a"]}
		]
	}`)
	sink, events := collector()
	e := New(r, sink)
	e.Start()
	if err := e.ConfirmStepDone("a", false); err != nil {
		t.Fatalf("confirm a failed: %v", err)
	}
	b, _ := r.Step("b")
	if b.Status != model.StatusActive {
		t.Fatalf("expected b auto-started, got %s", b.Status)
	}
	if err := e.ConfirmStepDone("b", false); err != nil {
		t.Fatalf("confirm b failed: %v", err)
	}

	got := events()
	last := got[len(got)-1]
	if last.Kind != KindAllCompleted {
		t.Fatalf("expected final event ALL_COMPLETED, got %v", last.Kind)
	}
	if last.RecipeTitle != "Two Step" {
		t.Errorf("expected recipe title in ALL_COMPLETED, got %q", last.RecipeTitle)
	}

	snap := e.GetState()
	if snap.Running {
		t.Error("expected running=false after all steps completed")
	}
}

func TestConfirmAlreadyCompletedIsNoop(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "a", "descr": "A", "type": "immediate", "auto_start": true}
		]
	}`)
	sink, events := collector()
	e := New(r, sink)
	e.Start()
	if err := e.ConfirmStepDone("a", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := len(events())
	if err := e.ConfirmStepDone("a", false); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
	if len(events()) != before {
		t.Error("expected no additional events from confirming an already-completed step")
	}
}

func TestCancelNonexistentTimerYieldsFalse(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [{"id": "a", "descr": "A", "type": "immediate"}]
	}`)
	sink, _ := collector()
	e := New(r, sink)
	ok, err := e.GetTimerManager().CancelTimer("nope", false, false)
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestTimerFireWithConfirmTransitionsToWaitingAck(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "roast", "descr": "Roast", "type": "timer", "duration": "PT1S", "requires_confirm": true, "auto_start": true}
		]
	}`)
	sink, events := collector()
	e := New(r, sink)
	e.Start()
	if err := e.StartTimerForStep("roast"); err != nil {
		t.Fatalf("start timer failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, _ := r.Step("roast")
		if s.Status == model.StatusWaitingAck {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	s, _ := r.Step("roast")
	if s.Status != model.StatusWaitingAck {
		t.Fatalf("expected WAITING_ACK after timer fires, got %s", s.Status)
	}

	var sawDone bool
	for _, ev := range events() {
		if ev.Kind == KindTimerDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("expected TIMER_DONE event")
	}

	if err := e.ConfirmStepDone("roast", false); err != nil {
		t.Fatalf("confirm after fire failed: %v", err)
	}
	e.Stop()
}

// TestStartTimerFallsBackToDefaultReminderCadence covers the case where a
// requires_confirm timer step doesn't configure its own reminder.every: the
// timer must still start successfully, with the engine falling back to a
// positive default cadence rather than disabling reminders outright.
func TestStartTimerFallsBackToDefaultReminderCadence(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "roast", "descr": "Roast", "type": "timer", "duration": "PT10M", "requires_confirm": true, "auto_start": true}
		]
	}`)
	sink, _ := collector()
	e := New(r, sink)
	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := e.StartTimerForStep("roast"); err != nil {
		t.Fatalf("start timer failed: %v", err)
	}
	defer e.Stop()

	if !e.GetTimerManager().HasActiveTimerForStep("roast") {
		t.Fatal("expected roast's timer to be active after start_timer_for_step")
	}
}

func TestApplyIdempotentSkipsRepeatedOperationID(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [{"id": "a", "descr": "A", "type": "immediate", "auto_start": true}]
	}`)
	sink, _ := collector()
	e := New(r, sink)
	e.Start()

	calls := 0
	run := func() (bool, error) {
		return e.ApplyIdempotent("op-1", func() error {
			calls++
			return e.ConfirmStepDone("a", false)
		})
	}

	idempotent, err := run()
	if err != nil || idempotent {
		t.Fatalf("expected first call to apply, got idempotent=%v err=%v", idempotent, err)
	}
	idempotent, err = run()
	if err != nil || !idempotent {
		t.Fatalf("expected repeated operation id to be a no-op, got idempotent=%v err=%v", idempotent, err)
	}
	if calls != 1 {
		t.Fatalf("expected fn to run exactly once, ran %d times", calls)
	}
}

func TestApplyIdempotentWithEmptyIDAlwaysRuns(t *testing.T) {
	r := buildRecipe(t, `{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [{"id": "a", "descr": "A", "type": "immediate", "auto_start": true}]
	}`)
	sink, _ := collector()
	e := New(r, sink)
	e.Start()

	if _, err := e.ApplyIdempotent("", func() error { return e.ConfirmStepDone("a", false) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "a" is already COMPLETED now, so a second bare call is still a
	// ConfirmStepDone no-op, not an ApplyIdempotent-suppressed call.
	idempotent, err := e.ApplyIdempotent("", func() error { return e.ConfirmStepDone("a", false) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idempotent {
		t.Fatal("expected empty operation id to never report idempotent")
	}
}
