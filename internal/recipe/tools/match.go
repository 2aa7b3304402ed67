package tools

import (
	"strings"

	"github.com/cooksession/cooksession/internal/recipe/model"
)

// matchStep resolves a step_id/step_description pair to exactly one step,
// per spec.md §4.5's matching strategy: exact substring on descr
// (case-insensitive, either direction) first, then keyword-token overlap.
// If still ambiguous, candidates are narrowed to the requested status
// (wantStatuses); a single survivor is accepted, otherwise the caller
// should render a [BLOCKED] response listing the candidates.
func matchStep(r *model.Recipe, stepID, stepDescription string, wantStatuses ...model.StepStatus) (*model.Step, []*model.Step) {
	if stepID != "" {
		if s, ok := r.Step(stepID); ok {
			return s, nil
		}
		return nil, nil
	}
	if stepDescription == "" {
		return nil, nil
	}

	needle := strings.ToLower(strings.TrimSpace(stepDescription))

	var substringMatches []*model.Step
	for _, s := range r.Steps {
		hay := strings.ToLower(s.Descr)
		if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			substringMatches = append(substringMatches, s)
		}
	}
	if len(substringMatches) == 1 {
		return substringMatches[0], nil
	}

	candidates := substringMatches
	if len(candidates) == 0 {
		candidates = keywordMatches(r, needle)
	}

	if len(candidates) <= 1 {
		if len(candidates) == 1 {
			return candidates[0], nil
		}
		return nil, nil
	}

	if len(wantStatuses) > 0 {
		var narrowed []*model.Step
		for _, c := range candidates {
			for _, st := range wantStatuses {
				if c.Status == st {
					narrowed = append(narrowed, c)
					break
				}
			}
		}
		if len(narrowed) == 1 {
			return narrowed[0], nil
		}
		if len(narrowed) > 0 {
			candidates = narrowed
		}
	}

	return nil, candidates
}

func keywordMatches(r *model.Recipe, needle string) []*model.Step {
	tokens := strings.Fields(needle)
	if len(tokens) == 0 {
		return nil
	}
	var out []*model.Step
	for _, s := range r.Steps {
		hay := strings.ToLower(s.Descr)
		for _, tok := range tokens {
			if len(tok) < 3 {
				continue
			}
			if strings.Contains(hay, tok) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func candidateList(steps []*model.Step) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(s.ID)
		b.WriteString(" (")
		b.WriteString(s.Descr)
		b.WriteString(")")
	}
	return b.String()
}
