package replan

import (
	"fmt"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
)

// Action is the chosen remediation.
type Action string

const (
	ActionSimplifyPlan       Action = "simplify_plan"
	ActionReplaceFailedTools Action = "replace_failed_tools"
	ActionReorderSteps       Action = "reorder_steps"
	ActionAddValidationSteps Action = "add_validation_steps"
	ActionFullReplan         Action = "full_replan"
)

// StrategyPriority ranks remediation urgency.
type StrategyPriority string

const (
	PriorityHigh   StrategyPriority = "high"
	PriorityMedium StrategyPriority = "medium"
	PriorityLow    StrategyPriority = "low"
)

// Strategy is the replanner's remediation decision.
type Strategy struct {
	Action       Action               `json:"action"`
	Priority     StrategyPriority     `json:"priority"`
	Confidence   float64              `json:"confidence"`
	Suggestions  []string             `json:"suggestions,omitempty"`
	CleanupSteps []plan.ExecutionStep `json:"cleanup_steps,omitempty"`
}

// simplifyCap bounds a simplified plan's step count.
const simplifyCap = 5

// DetermineStrategy maps a failure analysis to a deterministic
// remediation action with a confidence score.
func DetermineStrategy(a FailureAnalysis) Strategy {
	var s Strategy
	confidence := 0.5

	switch a.PrimaryCause {
	case CauseResourceUnavailable:
		s.Action = ActionReplaceFailedTools
		s.Priority = PriorityHigh
		confidence += 0.1
		s.Suggestions = append(s.Suggestions, "replace unavailable tools with reasoning fallbacks")
	case CauseTimeout:
		s.Action = ActionSimplifyPlan
		s.Priority = PriorityMedium
		confidence += 0.2
		s.Suggestions = append(s.Suggestions, "reduce plan size and per-step scope")
	case CauseDependencyFailure:
		s.Action = ActionReorderSteps
		s.Priority = PriorityHigh
		confidence += 0.1
		s.Suggestions = append(s.Suggestions, "reorder steps so proven work runs first")
	case CauseValidationError:
		s.Action = ActionAddValidationSteps
		s.Priority = PriorityMedium
		confidence += 0.15
		s.Suggestions = append(s.Suggestions, "verify each tool output before proceeding")
	default:
		s.Action = ActionFullReplan
		s.Priority = PriorityLow
		confidence -= 0.2
		s.Suggestions = append(s.Suggestions, "regenerate the plan from scratch")
	}

	switch {
	case a.FailureRate < 0.3:
		confidence += 0.2
	case a.FailureRate > 0.7:
		confidence -= 0.2
	}
	s.Confidence = clamp01(confidence)

	if a.RequiresCleanup {
		s.CleanupSteps = cleanupSteps(a)
		s.Suggestions = append(s.Suggestions, "release leaked external resources before retrying")
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cleanupSteps generates explicit close/stop steps for the leaked
// resource families named in the analysis.
func cleanupSteps(a FailureAnalysis) []plan.ExecutionStep {
	leaked := make(map[string]bool, len(a.LeakedResources))
	for _, r := range a.LeakedResources {
		leaked[r] = true
	}

	var steps []plan.ExecutionStep
	for _, fam := range leakFamilies {
		if !leaked[fam.resource] {
			continue
		}
		s := plan.NewStep(
			fam.cleanup,
			fmt.Sprintf("release leaked %s", fam.resource),
			plan.StepToolCall,
		)
		s.Tool = &plan.ToolConfig{ToolName: fam.cleanup}
		steps = append(steps, s)
	}
	return steps
}

// Result is a replanning outcome. NewPlan is nil when the decision
// is not to replan or when the action defers to the planner.
type Result struct {
	ShouldReplan bool                `json:"should_replan"`
	Reason       string              `json:"reason"`
	Strategy     Strategy            `json:"strategy"`
	NewPlan      *plan.ExecutionPlan `json:"new_plan,omitempty"`
}

// ApplyStrategy performs the local (planner-free) transformation for
// the chosen action. FullReplan defers to ReplanWithPlanner.
func ApplyStrategy(p *plan.ExecutionPlan, res *exec.ExecutionResult, s Strategy) Result {
	failed := make(map[string]bool, len(res.Failed))
	for _, id := range res.Failed {
		failed[id] = true
	}

	var newPlan *plan.ExecutionPlan
	var reason string

	switch s.Action {
	case ActionSimplifyPlan:
		newPlan = simplifyPlan(p, failed)
		reason = "dropped failed steps and capped plan size"
	case ActionReplaceFailedTools:
		newPlan = replaceFailedTools(p, failed)
		reason = "replaced failed tool calls with reasoning fallbacks"
	case ActionReorderSteps:
		newPlan = reorderSteps(p, res)
		reason = "promoted proven steps and appended recovery analysis"
	case ActionAddValidationSteps:
		newPlan = addValidationSteps(p)
		reason = "inserted validation after each tool call"
	case ActionFullReplan:
		return Result{
			ShouldReplan: true,
			Reason:       "full replan requires the planner collaborator",
			Strategy:     s,
		}
	default:
		return Result{ShouldReplan: false, Reason: "no applicable strategy", Strategy: s}
	}

	if newPlan == nil || len(newPlan.Steps) == 0 {
		return Result{ShouldReplan: false, Reason: "transformation produced an empty plan", Strategy: s}
	}

	if len(s.CleanupSteps) > 0 {
		newPlan.Steps = append(cloneSteps(s.CleanupSteps), newPlan.Steps...)
	}

	return Result{ShouldReplan: true, Reason: reason, Strategy: s, NewPlan: newPlan}
}

// derivedPlan starts a new plan value from the original's identity.
func derivedPlan(p *plan.ExecutionPlan, steps []plan.ExecutionStep, deps map[string][]string) *plan.ExecutionPlan {
	np := plan.NewPlan(p.TaskID, p.Name+" (replanned)", p.Description, steps)
	if deps != nil {
		np.Dependencies = deps
	}
	for k, v := range p.Metadata {
		np.Metadata[k] = v
	}
	np.Metadata["replanned_from"] = p.PlanID
	return np
}

// simplifyPlan drops failed steps and caps the remainder.
func simplifyPlan(p *plan.ExecutionPlan, failed map[string]bool) *plan.ExecutionPlan {
	var kept []plan.ExecutionStep
	keptIDs := make(map[string]bool)
	for _, s := range p.Steps {
		if failed[s.StepID] {
			continue
		}
		if len(kept) == simplifyCap {
			break
		}
		kept = append(kept, s)
		keptIDs[s.StepID] = true
	}
	return derivedPlan(p, kept, filterDeps(p.Dependencies, keptIDs))
}

// replaceFailedTools converts failed ToolCall steps into reasoning
// fallbacks, preserving ids so the dependency map still applies.
func replaceFailedTools(p *plan.ExecutionPlan, failed map[string]bool) *plan.ExecutionPlan {
	steps := cloneSteps(p.Steps)
	for i := range steps {
		if failed[steps[i].StepID] && steps[i].Type == plan.StepToolCall {
			steps[i].Type = plan.StepAiReasoning
			steps[i].Description = fmt.Sprintf("reasoning fallback for unavailable tool step %q", steps[i].Name)
			steps[i].Tool = nil
			steps[i].Postconditions = nil
		}
	}
	all := make(map[string]bool, len(steps))
	for _, s := range steps {
		all[s.StepID] = true
	}
	return derivedPlan(p, steps, filterDeps(p.Dependencies, all))
}

// reorderSteps puts completed steps first, then the rest, and
// appends a recovery analysis step.
func reorderSteps(p *plan.ExecutionPlan, res *exec.ExecutionResult) *plan.ExecutionPlan {
	completed := make(map[string]bool, len(res.Completed))
	for _, id := range res.Completed {
		completed[id] = true
	}

	var head, tail []plan.ExecutionStep
	for _, s := range p.Steps {
		if completed[s.StepID] {
			head = append(head, s)
		} else {
			tail = append(tail, s)
		}
	}

	recovery := plan.NewStep(
		"recovery-analysis",
		"analyze the failed run and confirm the recovered ordering is sound",
		plan.StepAiReasoning,
	)
	steps := append(append(cloneSteps(head), cloneSteps(tail)...), recovery)

	all := make(map[string]bool, len(steps))
	for _, s := range steps {
		all[s.StepID] = true
	}
	return derivedPlan(p, steps, filterDeps(p.Dependencies, all))
}

// addValidationSteps inserts a reasoning validation after every
// ToolCall step, depending on it.
func addValidationSteps(p *plan.ExecutionPlan) *plan.ExecutionPlan {
	var steps []plan.ExecutionStep
	deps := make(map[string][]string, len(p.Dependencies))
	for k, v := range p.Dependencies {
		deps[k] = append([]string(nil), v...)
	}

	for _, s := range p.Steps {
		steps = append(steps, s)
		if s.Type != plan.StepToolCall {
			continue
		}
		v := plan.NewStep(
			"validate-"+s.Name,
			fmt.Sprintf("verify the output of step %q", s.Name),
			plan.StepAiReasoning,
		)
		v.Preconditions = []string{fmt.Sprintf("non_empty_output(%s)", s.Name)}
		deps[v.StepID] = []string{s.StepID}
		steps = append(steps, v)
	}
	return derivedPlan(p, cloneSteps(steps), deps)
}

// filterDeps keeps only edges between surviving steps.
func filterDeps(deps map[string][]string, kept map[string]bool) map[string][]string {
	out := make(map[string][]string)
	for id, list := range deps {
		if !kept[id] {
			continue
		}
		var filtered []string
		for _, dep := range list {
			if kept[dep] {
				filtered = append(filtered, dep)
			}
		}
		if len(filtered) > 0 {
			out[id] = filtered
		}
	}
	return out
}

func cloneSteps(steps []plan.ExecutionStep) []plan.ExecutionStep {
	out := make([]plan.ExecutionStep, len(steps))
	copy(out, steps)
	return out
}
