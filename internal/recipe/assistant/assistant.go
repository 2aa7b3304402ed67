// Package assistant defines the narrow interface the core uses to nudge an
// out-of-scope LLM assistant, and a no-op stand-in for tests.
package assistant

import "context"

// Assistant queues a system-role message for the assistant's next turn.
// The core does not depend on how the implementation routes this to an LLM.
type Assistant interface {
	InjectSystemMessage(ctx context.Context, text string) error
}

// NoopAssistant discards every injected message; used in tests and any
// session that hasn't registered a real assistant handle yet.
type NoopAssistant struct{}

// InjectSystemMessage always succeeds and does nothing.
func (NoopAssistant) InjectSystemMessage(ctx context.Context, text string) error {
	return nil
}
