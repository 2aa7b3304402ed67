package model

import "testing"

func TestDecodeRejectsUnknownDependency(t *testing.T) {
	doc := []byte(`{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "a", "descr": "A", "type": "immediate", "depends_on": ["missing"]}
		]
	}`)
	_, err := Decode(doc)
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestDecodeRejectsCycle(t *testing.T) {
	doc := []byte(`{
		"recipe": {"id": "r1", "title": "Test"},
		"steps": [
			{"id": "a", "descr": "A", "type": "immediate", "depends_on": ["b"]},
			{"id": "b", "descr": "B", "type": "immediate", "depends_on": ["a"]}
		]
	}`)
	_, err := Decode(doc)
	if err == nil {
		t.Fatal("expected error for cyclic graph")
	}
}

func TestDecodeValidRecipe(t *testing.T) {
	doc := []byte(`{
		"recipe": {"id": "r1", "title": "Test", "servings": 2},
		"steps": [
			{"id": "a", "descr": "Prep", "type": "immediate", "auto_start": true},
			{"id": "b", "descr": "Cook", "type": "timer", "duration": "PT10M", "depends_on": ["a"]}
		]
	}`)
	r, err := Decode(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(r.Steps))
	}
	a, ok := r.Step("a")
	if !ok || a.Status != StatusPending {
		t.Fatalf("expected step a pending by default, got %+v", a)
	}
	b, _ := r.Step("b")
	if b.DurationSecs() != 600 {
		t.Errorf("expected 600 seconds, got %d", b.DurationSecs())
	}
}

func TestPredicateHolds(t *testing.T) {
	s := &Step{DependsOn: []string{"x", "y"}, UnlockWhen: UnlockAll}
	if s.PredicateHolds(map[string]bool{"x": true}) {
		t.Error("all-predicate should not hold with one dependency satisfied")
	}
	if !s.PredicateHolds(map[string]bool{"x": true, "y": true}) {
		t.Error("all-predicate should hold when both satisfied")
	}

	any := &Step{DependsOn: []string{"x", "y"}, UnlockWhen: UnlockAny}
	if !any.PredicateHolds(map[string]bool{"x": true}) {
		t.Error("any-predicate should hold with one dependency satisfied")
	}
}
