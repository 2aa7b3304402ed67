// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// StepWaitTimeout bounds a wait on a step's status change. No handler
	// references it: the REST routes respond as soon as they have acted.
	StepWaitTimeout = 20 * time.Second

	// SessionIdleTimeout is how long a session may go, counted from its last
	// activity (creation or output-channel registration), with no registered
	// output channel and no running timers before the idle sweeper removes it.
	SessionIdleTimeout = 30 * time.Minute

	// TimerReminderInterval is the default REMINDER_TICK cadence after a
	// requires_confirm timer step has fired, used when the step sets no
	// reminder.every of its own.
	TimerReminderInterval = 5 * time.Minute

	// TimerReminderLeadTime is a lead time before expiry for more frequent
	// reminders. Nothing references it: reminders run only after expiry,
	// at a single cadence.
	TimerReminderLeadTime = 2 * time.Minute

	// TimerReminderFinalInterval is a reminder cadence for the lead time
	// above. Nothing references it.
	TimerReminderFinalInterval = 30 * time.Second

	// ShutdownGracePeriod bounds how long the server waits for in-flight
	// sessions to drain on shutdown.
	ShutdownGracePeriod = 10 * time.Second
)
