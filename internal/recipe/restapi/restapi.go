// Package restapi exposes the small synchronous REST surface that sits
// alongside the session channel: confirming a step, starting its timer, or
// cancelling a timer outright, for UI callers that would rather make a
// request than round-trip an assistant tool call.
//
// Grounded on the teacher's gin handler idiom across internal/task/handler
// and internal/agent/handler (path params via c.Param, JSON body bind,
// typed JSON responses, internal/common/httpmw.RequestLogger middleware)
// narrowed to the three recipe-session actions spec.md §6.3 names.
package restapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/recipe/engine"
	"github.com/cooksession/cooksession/internal/recipe/model"
	"github.com/cooksession/cooksession/internal/recipe/session"
	"go.uber.org/zap"
)

// Handlers bundles the session registry the REST surface reads from.
type Handlers struct {
	sessions *session.Registry
	logger   *logger.Logger
}

// NewHandlers builds a Handlers bound to a session registry.
func NewHandlers(sessions *session.Registry, log *logger.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "recipe_restapi")),
	}
}

// idempotencyKey reads the optional retry-safety header a UI client sets
// when it might resend a request after a timeout.
func idempotencyKey(c *gin.Context) string {
	return c.GetHeader("Idempotency-Key")
}

// Register mounts the recipe REST routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.health)
	r.POST("/sessions/:session_id/steps/:step_id/confirm", h.confirmStep)
	r.POST("/sessions/:session_id/steps/:step_id/start-timer", h.startTimer)
	r.POST("/sessions/:session_id/timers/:timer_id/cancel", h.cancelTimer)
}

type stateResponse struct {
	State   engine.Snapshot `json:"state"`
	Message string          `json:"message"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": "1.0.0",
	})
}

// confirmStepRequest is the optional JSON body for the confirm route.
type confirmStepRequest struct {
	ForceCancelTimer bool `json:"force_cancel_timer"`
}

func (h *Handlers) confirmStep(c *gin.Context) {
	eng, ok := h.requireEngine(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	stepID := c.Param("step_id")

	var req confirmStepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body: " + err.Error()})
			return
		}
	}

	_, err := eng.ApplyIdempotent(idempotencyKey(c), func() error {
		if err := promoteIfReady(eng, stepID); err != nil {
			return err
		}
		return eng.ConfirmStepDone(stepID, req.ForceCancelTimer)
	})
	if err != nil {
		h.respondEngineError(c, err, sessionID, stepID, "confirm step")
		return
	}
	c.JSON(http.StatusOK, stateResponse{State: eng.GetState(), Message: "step " + stepID + " confirmed done"})
}

func (h *Handlers) startTimer(c *gin.Context) {
	eng, ok := h.requireEngine(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	stepID := c.Param("step_id")

	_, err := eng.ApplyIdempotent(idempotencyKey(c), func() error {
		if err := promoteIfReady(eng, stepID); err != nil {
			return err
		}
		return eng.StartTimerForStep(stepID)
	})
	if err != nil {
		h.respondEngineError(c, err, sessionID, stepID, "start timer")
		return
	}
	h.injectAssistantMessage(c, sessionID, fmt.Sprintf("The UI started the timer for step %s.", stepID))
	c.JSON(http.StatusOK, stateResponse{State: eng.GetState(), Message: "timer started for " + stepID})
}

func (h *Handlers) cancelTimer(c *gin.Context) {
	eng, ok := h.requireEngine(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")
	timerID := c.Param("timer_id")

	mgr := eng.GetTimerManager()
	if _, err := mgr.CancelTimer(timerID, true, true); err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Message: "no such timer: " + timerID})
		return
	}
	h.injectAssistantMessage(c, sessionID, fmt.Sprintf("The UI cancelled timer %s.", timerID))
	c.JSON(http.StatusOK, stateResponse{State: eng.GetState(), Message: "timer " + timerID + " cancelled"})
}

func (h *Handlers) requireEngine(c *gin.Context) (*engine.Engine, bool) {
	sessionID := c.Param("session_id")
	eng, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Message: "no recipe session: " + sessionID})
		return nil, false
	}
	return eng, true
}

// promoteIfReady auto-starts a READY step before a REST caller confirms it
// or starts its timer directly, rather than refusing with ErrStepNotActive:
// spec.md §4.7 has both routes transition a READY step to ACTIVE first. A
// step in any other status (or already ACTIVE) is left untouched.
func promoteIfReady(eng *engine.Engine, stepID string) error {
	step, ok := eng.Recipe().Step(stepID)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrStepNotFound, stepID)
	}
	if step.Status != model.StatusReady {
		return nil
	}
	return eng.StartStep(stepID)
}

// injectAssistantMessage nudges the session's assistant handle. The
// start-timer and cancel-timer routes call it after acting; confirm calls it
// only when refused for a running timer (respondEngineError), not on
// success. A session with no registered assistant gets
// session.Registry's NoopAssistant, so this is always safe to call.
func (h *Handlers) injectAssistantMessage(c *gin.Context, sessionID, text string) {
	asst := h.sessions.GetAssistant(sessionID)
	if err := asst.InjectSystemMessage(c.Request.Context(), text); err != nil {
		h.logger.Debug("failed to inject assistant system message", zap.Error(err), zap.String("session_id", sessionID))
	}
}

// respondEngineError maps an engine/model error to the status split
// spec.md §4.7/§6.3 calls for: unknown steps are 404, a still-running
// timer is a 409 carrying the [TIMER_ACTIVE] body the tool layer uses
// verbatim (and, for a confirm, a nudge to the assistant to ask the user
// about cancelling it), anything else is a 400 with the engine's message.
func (h *Handlers) respondEngineError(c *gin.Context, err error, sessionID, stepID, action string) {
	var timerErr *engine.TimerActiveError
	if errors.As(err, &timerErr) {
		if action == "confirm step" {
			h.injectAssistantMessage(c, sessionID, fmt.Sprintf(
				"The UI tried to confirm step %s, but its timer still has %ds remaining. Ask the user whether to cancel it.",
				timerErr.StepID, timerErr.RemainingSecs))
		}
		c.JSON(http.StatusConflict, errorResponse{
			Message: fmt.Sprintf("[TIMER_ACTIVE] step %s has %ds remaining on its timer", timerErr.StepID, timerErr.RemainingSecs),
		})
		return
	}
	if errors.Is(err, engine.ErrStepNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Message: err.Error()})
		return
	}
	h.logger.Debug("rest "+action+" rejected", zap.Error(err), zap.String("session_id", sessionID), zap.String("step_id", stepID))
	c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
}
