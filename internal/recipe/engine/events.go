package engine

import (
	"time"

	"github.com/cooksession/cooksession/internal/recipe/model"
)

// Kind enumerates every event the engine can emit. The event handler
// (internal/recipe/eventhandler) translates these into UI frames and
// assistant nudges.
type Kind string

const (
	KindStepReady      Kind = "STEP_READY"
	KindStepStart      Kind = "STEP_START"
	KindStepCompleted  Kind = "STEP_COMPLETED"
	KindAllCompleted   Kind = "ALL_COMPLETED"
	KindMessage        Kind = "MESSAGE"
	KindError          Kind = "ERROR"
	KindTimerStarted   Kind = "TIMER_STARTED"
	KindTimerDone      Kind = "TIMER_DONE"
	KindTimerCancelled Kind = "TIMER_CANCELLED"
	KindTimerListUpdate Kind = "TIMER_LIST_UPDATE"
	KindReminderTick   Kind = "REMINDER_TICK"
)

// TimerInfo is the timer shape inside a step snapshot; a nil Timer means no
// timer is registered for the step. The engine leaves Event.Timer nil on the
// events it emits.
type TimerInfo struct {
	DurationSecs  int
	EndTS         time.Time
	RemainingSecs int
}

// Event is the single type the engine emits. Only the fields relevant to
// Kind are populated; the rest are zero values.
type Event struct {
	Kind Kind

	StepID          string
	Descr           string
	StepType        model.StepType
	DurationSecs    int
	DurationStr     string
	RequiresConfirm bool

	RecipeTitle string
	Message     string
	Err         error

	Timer     *TimerInfo
	Timers    []TimerSnapshot
}

// TimerSnapshot is the shape used in TIMER_LIST_UPDATE payloads.
type TimerSnapshot struct {
	ID            string
	StepID        string
	Label         string
	DurationSecs  int
	RemainingSecs int
}

// Sink receives events emitted by one engine, in emission order (I7).
type Sink func(Event)

// StepSnapshot is the per-step shape returned by GetState.
type StepSnapshot struct {
	ID        string
	Descr     string
	Status    model.StepStatus
	Type      model.StepType
	DependsOn []string
	Next      []string
	Timer     *TimerInfo
}

// Snapshot is the pure read returned by GetState.
type Snapshot struct {
	RecipeID    string
	Title       string
	Running     bool
	Completed   []string
	Steps       []StepSnapshot
}
