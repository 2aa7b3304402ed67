package engine

import "errors"

// Sentinel errors raised by engine operations. The tool layer and REST
// handlers use errors.Is against these to produce status-coded responses
// and HTTP codes respectively.
var (
	ErrStepNotFound        = errors.New("engine: step not found")
	ErrStepNotReady        = errors.New("engine: step not ready")
	ErrStepNotActive       = errors.New("engine: step not active")
	ErrStepAlreadyStarted  = errors.New("engine: already started")
	ErrNoInitialSteps      = errors.New("engine: recipe has no steps without dependencies")
	ErrTimerActive         = errors.New("engine: timer active, refuse without force_cancel_timer")
	ErrDurationMissing     = errors.New("engine: step is not a timer step or has no duration")
	ErrTimerAlreadyRunning = errors.New("engine: timer already running for step")
	ErrTimerNotFound       = errors.New("engine: no timer for step")
	ErrNotRunning          = errors.New("engine: not running")
)
