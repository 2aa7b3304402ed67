package tools

import "fmt"

// Status codes every tool response begins with (spec.md §4.5). Exactly one
// appears at the start of every returned string; the LLM reads it as a
// control signal, so formatting here is load-bearing, not cosmetic.
const (
	codeDone         = "[DONE]"
	codeStarted      = "[STARTED]"
	codeTimerRunning = "[TIMER RUNNING]"
	codeTimerActive  = "[TIMER_ACTIVE]"
	codeBlocked      = "[BLOCKED]"
	codeWait         = "[WAIT]"
	codeInfo         = "[INFO]"
	codeError        = "[ERROR]"
)

func done(format string, args ...interface{}) string {
	return codeDone + " " + fmt.Sprintf(format, args...)
}

func started(format string, args ...interface{}) string {
	return codeStarted + " " + fmt.Sprintf(format, args...)
}

func timerRunning(format string, args ...interface{}) string {
	return codeTimerRunning + " " + fmt.Sprintf(format, args...)
}

func timerActive(format string, args ...interface{}) string {
	return codeTimerActive + " " + fmt.Sprintf(format, args...)
}

func info(format string, args ...interface{}) string {
	return codeInfo + " " + fmt.Sprintf(format, args...)
}

func errMsg(format string, args ...interface{}) string {
	return codeError + " " + fmt.Sprintf(format, args...)
}

// blocked renders the two required sections: what the system currently
// looks like, and what the assistant should do about it.
func blocked(current, action string) string {
	return fmt.Sprintf("%s\nCurrent: %s\nAction: %s", codeBlocked, current, action)
}
