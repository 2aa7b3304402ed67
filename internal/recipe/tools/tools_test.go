package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/cooksession/cooksession/internal/common/logger"
	"github.com/cooksession/cooksession/internal/recipe/catalog"
	"github.com/cooksession/cooksession/internal/recipe/model"
	"github.com/cooksession/cooksession/internal/recipe/session"
	"github.com/mark3labs/mcp-go/mcp"
)

func newReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("expected content in tool result")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatal("expected text content")
	}
	return tc.Text
}

type recipeCatalog struct {
	recipes map[string][]byte
}

func (c *recipeCatalog) List() ([]catalog.Summary, error) {
	var out []catalog.Summary
	for id := range c.recipes {
		out = append(out, catalog.Summary{ID: id})
	}
	return out, nil
}

func (c *recipeCatalog) Load(recipeID string) (*model.Recipe, []byte, error) {
	data, ok := c.recipes[recipeID]
	if !ok {
		return nil, nil, errNotFound(recipeID)
	}
	r, err := model.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return r, data, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return "recipe not found: " + string(e) }

func errNotFound(id string) error { return notFoundErr(id) }

func singleStepRecipe(id string) []byte {
	return []byte(`{
		"recipe": {"id": "` + id + `", "title": "Toast"},
		"steps": [{"id": "toast", "descr": "Toast the bread", "type": "immediate", "auto_start": true}]
	}`)
}

func timerStepRecipe(id string) []byte {
	return []byte(`{
		"recipe": {"id": "` + id + `", "title": "Roast"},
		"steps": [{
			"id": "roast", "descr": "Roast the chicken", "type": "timer",
			"duration": "PT1H", "requires_confirm": true, "auto_start": true
		}]
	}`)
}

func twoReadyStepsRecipe(id string) []byte {
	return []byte(`{
		"recipe": {"id": "` + id + `", "title": "Salad"},
		"steps": [
			{"id": "a", "descr": "Chop the lettuce", "type": "immediate"},
			{"id": "b", "descr": "Chop the tomato", "type": "immediate"}
		]
	}`)
}

func testDeps(recipes map[string][]byte) Deps {
	return Deps{
		Sessions: session.New(logger.Default()),
		Catalog:  &recipeCatalog{recipes: recipes},
		Logger:   logger.Default(),
	}
}

func TestStartRecipeThenGetCurrentStep(t *testing.T) {
	deps := testDeps(map[string][]byte{"toast": singleStepRecipe("toast")})
	ctx := WithSessionID(context.Background(), "s1")

	out := textOf(t, startRecipeHandler(deps)(ctx, newReq(map[string]interface{}{"recipe_id": "toast"})))
	if !strings.HasPrefix(out, codeStarted) {
		t.Fatalf("expected %s prefix, got %q", codeStarted, out)
	}

	out = textOf(t, getCurrentStepHandler(deps)(ctx, newReq(nil)))
	if !strings.Contains(out, "Toast the bread") {
		t.Fatalf("expected current step description, got %q", out)
	}
}

func TestGetCurrentStepWithoutSessionFails(t *testing.T) {
	deps := testDeps(nil)
	out := textOf(t, getCurrentStepHandler(deps)(context.Background(), newReq(nil)))
	if !strings.HasPrefix(out, codeError) {
		t.Fatalf("expected %s prefix, got %q", codeError, out)
	}
}

func TestGetCurrentStepWithoutRecipeIsInfo(t *testing.T) {
	deps := testDeps(nil)
	ctx := WithSessionID(context.Background(), "s1")
	out := textOf(t, getCurrentStepHandler(deps)(ctx, newReq(nil)))
	if !strings.HasPrefix(out, codeInfo) {
		t.Fatalf("expected %s prefix, got %q", codeInfo, out)
	}
}

func TestStartStepAmbiguousDescriptionBlocks(t *testing.T) {
	deps := testDeps(map[string][]byte{"salad": twoReadyStepsRecipe("salad")})
	ctx := WithSessionID(context.Background(), "s1")
	textOf(t, startRecipeHandler(deps)(ctx, newReq(map[string]interface{}{"recipe_id": "salad"})))

	out := textOf(t, startStepHandler(deps)(ctx, newReq(map[string]interface{}{"step_description": "chop"})))
	if !strings.HasPrefix(out, codeBlocked) {
		t.Fatalf("expected %s prefix for ambiguous match, got %q", codeBlocked, out)
	}
}

func TestConfirmStepDoneRequiresForceWhileTimerActive(t *testing.T) {
	deps := testDeps(map[string][]byte{"roast": timerStepRecipe("roast")})
	ctx := WithSessionID(context.Background(), "s1")
	textOf(t, startRecipeHandler(deps)(ctx, newReq(map[string]interface{}{"recipe_id": "roast"})))
	textOf(t, startTimerForStepHandler(deps)(ctx, newReq(map[string]interface{}{"step_id": "roast"})))

	out := textOf(t, confirmStepDoneHandler(deps)(ctx, newReq(map[string]interface{}{"step_id": "roast"})))
	if !strings.HasPrefix(out, codeTimerActive) {
		t.Fatalf("expected %s prefix while timer active, got %q", codeTimerActive, out)
	}

	out = textOf(t, confirmStepDoneHandler(deps)(ctx, newReq(map[string]interface{}{
		"step_id": "roast", "force_cancel_timer": true,
	})))
	if !strings.HasPrefix(out, codeDone) {
		t.Fatalf("expected %s prefix after forced confirm, got %q", codeDone, out)
	}
}

func TestKitchenTimerPauseResumeReset(t *testing.T) {
	deps := testDeps(map[string][]byte{"toast": singleStepRecipe("toast")})
	ctx := WithSessionID(context.Background(), "s1")

	// A kitchen timer borrows the session's engine's timer manager, so a
	// recipe session must be live first.
	textOf(t, startRecipeHandler(deps)(ctx, newReq(map[string]interface{}{"recipe_id": "toast"})))

	out := textOf(t, startKitchenTimerHandler(deps)(ctx, newReq(map[string]interface{}{"seconds": 600})))
	if !strings.HasPrefix(out, codeTimerRunning) {
		t.Fatalf("expected %s prefix, got %q", codeTimerRunning, out)
	}

	out = textOf(t, pauseKitchenTimerHandler(deps)(ctx, newReq(nil)))
	if !strings.HasPrefix(out, codeDone) {
		t.Fatalf("expected %s prefix on pause, got %q", codeDone, out)
	}

	out = textOf(t, resumeKitchenTimerHandler(deps)(ctx, newReq(nil)))
	if !strings.HasPrefix(out, codeTimerRunning) {
		t.Fatalf("expected %s prefix on resume, got %q", codeTimerRunning, out)
	}
	if !strings.Contains(out, "600") {
		t.Fatalf("expected resume to keep the paused remaining duration, got %q", out)
	}

	out = textOf(t, resetKitchenTimerHandler(deps)(ctx, newReq(nil)))
	if !strings.HasPrefix(out, codeDone) {
		t.Fatalf("expected %s prefix on reset, got %q", codeDone, out)
	}
}

func TestKitchenTimerResetWithSecondsRestarts(t *testing.T) {
	deps := testDeps(map[string][]byte{"toast": singleStepRecipe("toast")})
	ctx := WithSessionID(context.Background(), "s1")
	textOf(t, startRecipeHandler(deps)(ctx, newReq(map[string]interface{}{"recipe_id": "toast"})))
	textOf(t, startKitchenTimerHandler(deps)(ctx, newReq(map[string]interface{}{"seconds": 60})))

	out := textOf(t, resetKitchenTimerHandler(deps)(ctx, newReq(map[string]interface{}{"seconds": 120})))
	if !strings.HasPrefix(out, codeTimerRunning) {
		t.Fatalf("expected %s prefix when reset restarts with an override, got %q", codeTimerRunning, out)
	}
	if !strings.Contains(out, "120") {
		t.Fatalf("expected restarted timer to use the override duration, got %q", out)
	}
}
