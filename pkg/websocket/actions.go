package websocket

// Action constants for WebSocket messages.
const (
	// Health
	ActionHealthCheck = "health.check"

	// Inbound: client -> server, over the per-session audio/event channel.
	ActionSessionStart     = "session.start"
	ActionSessionAudio     = "session.audio"
	ActionSessionStop      = "session.stop"
	ActionSessionInterrupt = "session.interrupt"

	// Outbound: server -> client, emitted by internal/recipe/eventhandler.
	ActionSessionInfo   = "session_info"
	ActionRecipeState   = "recipe_state"
	ActionRecipeMessage = "recipe_message"
	ActionRecipeError   = "recipe_error"
	ActionManagerSystem = "manager_system"
	ActionControl       = "control"
	ActionTimerList     = "timer_list"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeForbidden     = "FORBIDDEN"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
