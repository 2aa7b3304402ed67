// Package tools registers the LLM-facing tool surface for cooksession: the
// MCP tools an assistant calls to list recipes, drive a session's recipe
// engine step by step, and manage timers. Every handler resolves its session
// id from context (see context.go) rather than a tool argument, looks up
// that session's engine in the registry, and renders one of the status-coded
// strings in status.go.
//
// Grounded on internal/mcpserver/tools.go's registration idiom
// (mcp.NewTool/mcp.WithDescription/mcp.WithString, server.ToolHandlerFunc,
// mcp.NewToolResultText/mcp.NewToolResultError) and its ask_user_question
// handler's create-then-wait shape, generalized here to an in-process engine
// call instead of an HTTP round trip.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/events/bus"
	"github.com/cooksession/cooksession/internal/recipe/catalog"
	"github.com/cooksession/cooksession/internal/recipe/engine"
	"github.com/cooksession/cooksession/internal/recipe/eventhandler"
	"github.com/cooksession/cooksession/internal/recipe/model"
	"github.com/cooksession/cooksession/internal/recipe/session"
	"github.com/cooksession/cooksession/internal/recipe/timer"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Deps bundles the collaborators every tool handler needs.
type Deps struct {
	Sessions *session.Registry
	Catalog  catalog.Catalog
	Logger   *logger.Logger
	// EventBus is optional; when set, recipe lifecycle events are mirrored
	// onto it for external subscribers. Nil disables publishing.
	EventBus bus.EventBus
}

// Register adds every recipe tool to s.
func Register(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("list_available_recipes",
			mcp.WithDescription("List the recipes available to cook. Call this before start_recipe to find a recipe_id."),
		),
		listAvailableRecipesHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("start_recipe",
			mcp.WithDescription("Load a recipe and begin a cooking session. Replaces any recipe already in progress for this session."),
			mcp.WithString("recipe_id", mcp.Required(), mcp.Description("The recipe id, from list_available_recipes")),
		),
		startRecipeHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("stop_recipe_session",
			mcp.WithDescription("Stop the current recipe session, cancelling all active timers."),
		),
		stopRecipeSessionHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("get_current_step",
			mcp.WithDescription("Describe the step (or steps) the user is currently working on."),
		),
		getCurrentStepHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("repeat_step",
			mcp.WithDescription("Repeat the description of the step the user is currently working on."),
		),
		getCurrentStepHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("get_recipe_state",
			mcp.WithDescription("Return the full status of every step in the current recipe."),
		),
		getRecipeStateHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("start_step",
			mcp.WithDescription("Mark a READY step as the one the user is now doing. Identify the step by id or by description."),
			mcp.WithString("step_id", mcp.Description("The step id, if known")),
			mcp.WithString("step_description", mcp.Description("A description of the step, if the id is not known")),
		),
		startStepHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("start_timer_for_step",
			mcp.WithDescription("Start the countdown for the active timer step. Call this only once the user has actually begun the step."),
			mcp.WithString("step_id", mcp.Description("The step id, if known")),
			mcp.WithString("step_description", mcp.Description("A description of the step, if the id is not known")),
		),
		startTimerForStepHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("confirm_step_done",
			mcp.WithDescription("Mark a step as finished. If a step has a running timer, pass force_cancel_timer=true to cancel it and finish anyway."),
			mcp.WithString("step_id", mcp.Description("The step id, if known")),
			mcp.WithString("step_description", mcp.Description("A description of the step, if the id is not known")),
			mcp.WithBoolean("force_cancel_timer", mcp.Description("Cancel any running timer for this step and complete it anyway")),
		),
		confirmStepDoneHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("get_active_timers",
			mcp.WithDescription("List every timer currently running, including step timers and ad-hoc kitchen timers, soonest first."),
		),
		getActiveTimersHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("start_kitchen_timer",
			mcp.WithDescription("Start an ad-hoc kitchen timer not tied to any recipe step."),
			mcp.WithNumber("seconds", mcp.Required(), mcp.Description("Duration in seconds, e.g. 300 for five minutes")),
			mcp.WithString("label", mcp.Description("Optional label for the timer")),
		),
		startKitchenTimerHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("pause_kitchen_timer",
			mcp.WithDescription("Pause the running ad-hoc kitchen timer, remembering its remaining time."),
		),
		pauseKitchenTimerHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("resume_kitchen_timer",
			mcp.WithDescription("Resume a previously paused ad-hoc kitchen timer."),
			mcp.WithNumber("seconds", mcp.Description("Override the remembered remaining duration, in seconds")),
		),
		resumeKitchenTimerHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_kitchen_timer",
			mcp.WithDescription("Cancel the ad-hoc kitchen timer and clear any paused state."),
			mcp.WithNumber("seconds", mcp.Description("Immediately restart the kitchen timer for this many seconds instead of just clearing it")),
		),
		resetKitchenTimerHandler(deps),
	)

	deps.Logger.Info("registered recipe tools", zap.Int("count", 14))
}

func result(text string) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(text), nil
}

// requireSessionEngine resolves the ambient session id and its live engine.
// The returned result is non-nil only when the caller should return early.
func requireSessionEngine(ctx context.Context, deps Deps) (string, *engine.Engine, *mcp.CallToolResult) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return "", nil, mcp.NewToolResultText(errMsg("no session established for this connection"))
	}
	eng, ok := deps.Sessions.Get(sessionID)
	if !ok {
		return sessionID, nil, mcp.NewToolResultText(info("no recipe in progress; call start_recipe first"))
	}
	return sessionID, eng, nil
}

func listAvailableRecipesHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recipes, err := deps.Catalog.List()
		if err != nil {
			return result(errMsg("failed to list recipes: %v", err))
		}
		if len(recipes) == 0 {
			return result(info("no recipes are available"))
		}
		b, _ := json.MarshalIndent(recipes, "", "  ")
		return result(info("available recipes:\n%s", string(b)))
	}
}

func startRecipeHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, ok := SessionIDFromContext(ctx)
		if !ok {
			return result(errMsg("no session established for this connection"))
		}
		recipeID, err := req.RequireString("recipe_id")
		if err != nil {
			return result(errMsg("recipe_id is required"))
		}

		recipe, payload, err := deps.Catalog.Load(recipeID)
		if err != nil {
			return result(errMsg("could not load recipe %q: %v", recipeID, err))
		}
		deps.Sessions.SetSessionRecipe(sessionID, recipeID, payload)

		output, _ := deps.Sessions.GetOutputChannel(sessionID)
		asst := deps.Sessions.GetAssistant(sessionID)
		handler := eventhandler.New(sessionID, output, asst, deps.Logger).WithEventBus(deps.EventBus)

		eng := deps.Sessions.Create(sessionID, recipe, handler.Handle)
		if err := eng.Start(); err != nil {
			return result(errMsg("failed to start %q: %v", recipe.Meta.Title, err))
		}

		active := eng.GetActiveSteps()
		if len(active) == 1 {
			return result(started("started %q. First step: %s", recipe.Meta.Title, active[0].Descr))
		}
		return result(started("started %q. Ready steps: %s", recipe.Meta.Title, describeSteps(eng.GetState())))
	}
}

func stopRecipeSessionHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, ok := SessionIDFromContext(ctx)
		if !ok {
			return result(errMsg("no session established for this connection"))
		}
		deps.Sessions.Cleanup(sessionID)
		return result(done("recipe session stopped"))
	}
}

func getCurrentStepHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}
		active := eng.GetActiveSteps()
		if len(active) == 0 {
			return result(info("no step is currently active"))
		}
		mgr := eng.GetTimerManager()
		var lines []string
		for _, s := range active {
			line := fmt.Sprintf("%s (%s): %s", s.ID, s.Status, s.Descr)
			if st, ok := mgr.GetTimerState(s.ID); ok {
				line += fmt.Sprintf(" [%ds remaining]", st.RemainingSecs)
			}
			lines = append(lines, line)
		}
		return result(info("%s", joinLines(lines)))
	}
}

func getRecipeStateHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}
		b, _ := json.MarshalIndent(eng.GetState(), "", "  ")
		return result(info("%s", string(b)))
	}
}

func stepArgs(req mcp.CallToolRequest) (stepID, stepDescription string) {
	args := req.GetArguments()
	if v, ok := args["step_id"].(string); ok {
		stepID = v
	}
	if v, ok := args["step_description"].(string); ok {
		stepDescription = v
	}
	return
}

func startStepHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}

		stepID, stepDescription := stepArgs(req)
		step, candidates := matchStep(eng.Recipe(), stepID, stepDescription, model.StatusReady)
		if step == nil {
			if len(candidates) > 0 {
				return result(blocked(
					fmt.Sprintf("multiple steps match: %s", candidateList(candidates)),
					"ask the user which step they mean, or call again with step_id",
				))
			}
			return result(errMsg("no step matched %q/%q", stepID, stepDescription))
		}

		if err := eng.StartStep(step.ID); err != nil {
			return result(blocked(fmt.Sprintf("%s is %s", step.ID, step.Status), err.Error()))
		}
		return result(started("started step %s: %s", step.ID, step.Descr))
	}
}

func startTimerForStepHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}

		stepID, stepDescription := stepArgs(req)
		step, candidates := matchStep(eng.Recipe(), stepID, stepDescription, model.StatusActive)
		if step == nil {
			if len(candidates) > 0 {
				return result(blocked(
					fmt.Sprintf("multiple steps match: %s", candidateList(candidates)),
					"ask the user which step they mean, or call again with step_id",
				))
			}
			return result(errMsg("no active step matched %q/%q", stepID, stepDescription))
		}

		if err := eng.StartTimerForStep(step.ID); err != nil {
			if errors.Is(err, timer.ErrAlreadyRunning) {
				return result(timerActive("a timer is already running for %s", step.ID))
			}
			return result(blocked(fmt.Sprintf("%s is %s", step.ID, step.Status), err.Error()))
		}
		return result(timerRunning("timer started for %s (%s)", step.ID, step.Duration))
	}
}

func confirmStepDoneHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}

		stepID, stepDescription := stepArgs(req)
		forceCancel := req.GetBool("force_cancel_timer", false)

		step, candidates := matchStep(eng.Recipe(), stepID, stepDescription, model.StatusActive, model.StatusWaitingAck)
		if step == nil {
			if len(candidates) > 0 {
				return result(blocked(
					fmt.Sprintf("multiple steps match: %s", candidateList(candidates)),
					"ask the user which step they mean, or call again with step_id",
				))
			}
			return result(errMsg("no active step matched %q/%q", stepID, stepDescription))
		}

		err := eng.ConfirmStepDone(step.ID, forceCancel)
		if err == nil {
			return result(done("step %s (%s) confirmed done", step.ID, step.Descr))
		}

		var timerErr *engine.TimerActiveError
		if errors.As(err, &timerErr) {
			return result(timerActive("%s has %ds left on its timer; ask the user to wait, or call again with force_cancel_timer=true",
				timerErr.StepID, timerErr.RemainingSecs))
		}
		return result(blocked(fmt.Sprintf("%s is %s", step.ID, step.Status), err.Error()))
	}
}

func getActiveTimersHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}
		timers := eng.GetTimerManager().GetAllActiveTimers()
		if len(timers) == 0 {
			return result(info("no timers are currently running"))
		}
		var lines []string
		for _, t := range timers {
			label := t.Label
			if label == "" {
				label = t.StepID
			}
			lines = append(lines, fmt.Sprintf("%s: %ds remaining", label, t.RemainingSecs()))
		}
		return result(info("%s", joinLines(lines)))
	}
}

func kitchenTimerID(sessionID string) string {
	return "kitchen_" + sessionID
}

func startKitchenTimerHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}
		secondsArg, err := req.RequireFloat("seconds")
		if err != nil {
			return result(errMsg("seconds is required"))
		}
		secs := int(secondsArg)
		if secs <= 0 {
			return result(errMsg("invalid seconds %v", secondsArg))
		}
		label := req.GetString("label", "kitchen timer")

		mgr := eng.GetTimerManager()
		id := kitchenTimerID(sessionID)
		if findTimer(mgr, id) != nil {
			return result(timerActive("a kitchen timer is already running"))
		}

		if _, err := mgr.StartTimer(ctx, id, "", label, secs, false, 0, nil); err != nil {
			return result(errMsg("failed to start kitchen timer: %v", err))
		}
		if entry, ok := deps.Sessions.Entry(sessionID); ok {
			entry.SetKitchenTimer(session.KitchenTimerState{Running: true, RemainingSecs: secs, LabelOrEmpty: label})
		}
		return result(timerRunning("kitchen timer %q started for %ds", label, secs))
	}
}

func pauseKitchenTimerHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}
		mgr := eng.GetTimerManager()
		id := kitchenTimerID(sessionID)
		t := findTimer(mgr, id)
		if t == nil {
			return result(info("no kitchen timer is currently running"))
		}
		remaining := t.RemainingSecs()
		if _, err := mgr.CancelTimer(id, true, false); err != nil {
			return result(errMsg("failed to pause kitchen timer: %v", err))
		}
		if entry, ok := deps.Sessions.Entry(sessionID); ok {
			entry.SetKitchenTimer(session.KitchenTimerState{Running: false, RemainingSecs: remaining, LabelOrEmpty: t.Label})
		}
		return result(done("kitchen timer paused with %ds remaining", remaining))
	}
}

func resumeKitchenTimerHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}
		mgr := eng.GetTimerManager()
		id := kitchenTimerID(sessionID)
		if findTimer(mgr, id) != nil {
			return result(timerActive("the kitchen timer is already running"))
		}

		entry, ok := deps.Sessions.Entry(sessionID)
		if !ok {
			return result(info("no paused kitchen timer to resume"))
		}
		state := entry.KitchenTimer()
		if state.Running || state.RemainingSecs <= 0 {
			return result(info("no paused kitchen timer to resume"))
		}

		remaining := state.RemainingSecs
		if override := req.GetFloat("seconds", 0); override > 0 {
			remaining = int(override)
		}

		if _, err := mgr.StartTimer(ctx, id, "", state.LabelOrEmpty, remaining, false, 0, nil); err != nil {
			return result(errMsg("failed to resume kitchen timer: %v", err))
		}
		entry.SetKitchenTimer(session.KitchenTimerState{Running: true, RemainingSecs: remaining, LabelOrEmpty: state.LabelOrEmpty})
		return result(timerRunning("kitchen timer resumed with %ds remaining", remaining))
	}
}

func resetKitchenTimerHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, eng, early := requireSessionEngine(ctx, deps)
		if early != nil {
			return early, nil
		}
		mgr := eng.GetTimerManager()
		id := kitchenTimerID(sessionID)
		_, _ = mgr.CancelTimer(id, true, false)

		if restart := req.GetFloat("seconds", 0); restart > 0 {
			secs := int(restart)
			if _, err := mgr.StartTimer(ctx, id, "", "kitchen timer", secs, false, 0, nil); err != nil {
				return result(errMsg("failed to restart kitchen timer: %v", err))
			}
			if entry, ok := deps.Sessions.Entry(sessionID); ok {
				entry.SetKitchenTimer(session.KitchenTimerState{Running: true, RemainingSecs: secs, LabelOrEmpty: "kitchen timer"})
			}
			return result(timerRunning("kitchen timer reset and restarted for %ds", secs))
		}

		if entry, ok := deps.Sessions.Entry(sessionID); ok {
			entry.SetKitchenTimer(session.KitchenTimerState{})
		}
		return result(done("kitchen timer reset"))
	}
}

func findTimer(mgr *timer.Manager, id string) *timer.Timer {
	for _, t := range mgr.GetAllActiveTimers() {
		if t.ID == id {
			t := t
			return &t
		}
	}
	return nil
}

func describeSteps(snap engine.Snapshot) string {
	var lines []string
	for _, s := range snap.Steps {
		if s.Status == model.StatusReady {
			lines = append(lines, fmt.Sprintf("%s (%s)", s.ID, s.Descr))
		}
	}
	return joinLines(lines)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
