// Package model defines the recipe document: an immutable recipe plus its
// steps, whose status mutates as the engine drives a session through them.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/cooksession/cooksession/internal/duration"
)

// StepType distinguishes steps that complete on user action from steps
// bound to a countdown timer.
type StepType string

const (
	StepTypeImmediate StepType = "immediate"
	StepTypeTimer     StepType = "timer"
)

// UnlockWhen is the predicate applied over a step's DependsOn set.
type UnlockWhen string

const (
	UnlockAll UnlockWhen = "all"
	UnlockAny UnlockWhen = "any"
)

// StepStatus is the finite state a step occupies.
type StepStatus string

const (
	StatusPending     StepStatus = "PENDING"
	StatusReady       StepStatus = "READY"
	StatusActive      StepStatus = "ACTIVE"
	StatusWaitingAck  StepStatus = "WAITING_ACK"
	StatusCompleted   StepStatus = "COMPLETED"
	StatusCancelled   StepStatus = "CANCELLED"
)

// OnEnterAction is a side-effect descriptor run when a step becomes ACTIVE.
// Only "say" is currently recognized; unknown keys are ignored.
type OnEnterAction struct {
	Say string `json:"say,omitempty"`
}

// Reminder configures the periodic nag emitted while a timer step awaits ack.
type Reminder struct {
	Every string `json:"every"`
}

// EverySeconds returns the reminder interval in seconds.
func (r *Reminder) EverySeconds() int {
	if r == nil {
		return 0
	}
	return duration.Parse(r.Every)
}

// Step holds the fields frozen at load time plus the one mutable field,
// Status, which the engine advances.
type Step struct {
	ID              string          `json:"id"`
	Descr           string          `json:"descr"`
	Type            StepType        `json:"type"`
	DependsOn       []string        `json:"depends_on,omitempty"`
	Next            []string        `json:"next,omitempty"`
	UnlockWhen      UnlockWhen      `json:"unlock_when,omitempty"`
	AutoStart       bool            `json:"auto_start,omitempty"`
	RequiresConfirm bool            `json:"requires_confirm,omitempty"`
	Duration        string          `json:"duration,omitempty"`
	Reminder        *Reminder       `json:"reminder,omitempty"`
	OnEnter         []OnEnterAction `json:"on_enter,omitempty"`

	Status StepStatus `json:"status"`
}

// DurationSecs returns the step's duration in seconds, or 0 if unset.
func (s *Step) DurationSecs() int {
	return duration.Parse(s.Duration)
}

// effectiveUnlockWhen defaults to "all" when unset, matching the
// predicate semantics spec'd for dependency evaluation.
func (s *Step) effectiveUnlockWhen() UnlockWhen {
	if s.UnlockWhen == UnlockAny {
		return UnlockAny
	}
	return UnlockAll
}

// PredicateHolds evaluates the step's dependency predicate against the set
// of currently-completed step ids.
func (s *Step) PredicateHolds(completed map[string]bool) bool {
	if len(s.DependsOn) == 0 {
		return true
	}
	if s.effectiveUnlockWhen() == UnlockAny {
		for _, dep := range s.DependsOn {
			if completed[dep] {
				return true
			}
		}
		return false
	}
	for _, dep := range s.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Ingredient is passed through to the UI unchanged; the core never inspects it.
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Note     string `json:"note,omitempty"`
}

// RecipeMeta holds the immutable scalar fields of a recipe.
type RecipeMeta struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Servings       int    `json:"servings,omitempty"`
	EstimatedTotal string `json:"estimated_total,omitempty"`
	Difficulty     string `json:"difficulty,omitempty"`
	Locale         string `json:"locale,omitempty"`
}

// Recipe is the document the engine drives a session through. Steps is kept
// both as an ordered slice (the document's insertion order, which governs
// unlock-candidate evaluation order) and an id-keyed map for O(1) lookup.
type Recipe struct {
	Meta  RecipeMeta
	Steps []*Step
	byID  map[string]*Step

	// Ingredients, Utensils and Notes are opaque to the core; kept as
	// raw JSON so the UI receives them unchanged.
	Ingredients json.RawMessage
	Utensils    json.RawMessage
	Notes       json.RawMessage
}

// Step looks up a step by id.
func (r *Recipe) Step(id string) (*Step, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// document mirrors the wire format in spec §6.1.
type document struct {
	Recipe      RecipeMeta      `json:"recipe"`
	Ingredients json.RawMessage `json:"ingredients,omitempty"`
	Utensils    json.RawMessage `json:"utensils,omitempty"`
	Steps       []*Step         `json:"steps"`
	Notes       json.RawMessage `json:"notes,omitempty"`
}

// LoadError enumerates the step ids responsible for a rejected document.
type LoadError struct {
	Reason   string
	StepIDs  []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.StepIDs)
}

// Decode parses a recipe document and validates it: every depends_on
// referent must exist (I1), and the depends_on/next graph must be acyclic
// (spec §9 "cyclic intent vs. acyclic enforcement").
func Decode(data []byte) (*Recipe, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding recipe document: %w", err)
	}

	r := &Recipe{
		Meta:        doc.Recipe,
		Steps:       doc.Steps,
		byID:        make(map[string]*Step, len(doc.Steps)),
		Ingredients: doc.Ingredients,
		Utensils:    doc.Utensils,
		Notes:       doc.Notes,
	}

	for _, s := range r.Steps {
		if s.Status == "" {
			s.Status = StatusPending
		}
		r.byID[s.ID] = s
	}

	var missing []string
	for _, s := range r.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := r.byID[dep]; !ok {
				missing = append(missing, fmt.Sprintf("%s->%s", s.ID, dep))
			}
		}
	}
	if len(missing) > 0 {
		return nil, &LoadError{Reason: "depends_on references unknown step", StepIDs: missing}
	}

	if cyc := findCycle(r); len(cyc) > 0 {
		return nil, &LoadError{Reason: "depends_on/next graph contains a cycle", StepIDs: cyc}
	}

	return r, nil
}

// findCycle runs a DFS over the dependency edges and returns the ids
// forming a cycle, or nil if the graph is acyclic. Both depends_on and next
// contribute edges: a step listed in X's next is treated as depending on X
// (next entries naming unknown steps are ignored).
func findCycle(r *Recipe) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.Steps))
	var path []string
	var cycle []string

	preds := make(map[string][]string, len(r.Steps))
	for _, s := range r.Steps {
		for _, n := range s.Next {
			if _, ok := r.byID[n]; ok {
				preds[n] = append(preds[n], s.ID)
			}
		}
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		step := r.byID[id]
		for _, dep := range append(append([]string{}, step.DependsOn...), preds[id]...) {
			switch color[dep] {
			case gray:
				cycle = append(cycle, append(append([]string{}, path...), dep)...)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, s := range r.Steps {
		if color[s.ID] == white {
			if visit(s.ID) {
				return cycle
			}
		}
	}
	return nil
}
