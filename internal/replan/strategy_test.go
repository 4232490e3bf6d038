package replan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
)

func TestDetermineStrategyTable(t *testing.T) {
	cases := []struct {
		cause    FailureCause
		action   Action
		priority StrategyPriority
	}{
		{CauseResourceUnavailable, ActionReplaceFailedTools, PriorityHigh},
		{CauseTimeout, ActionSimplifyPlan, PriorityMedium},
		{CauseDependencyFailure, ActionReorderSteps, PriorityHigh},
		{CauseValidationError, ActionAddValidationSteps, PriorityMedium},
		{CauseUnknown, ActionFullReplan, PriorityLow},
	}

	for _, tc := range cases {
		s := DetermineStrategy(FailureAnalysis{PrimaryCause: tc.cause, FailureRate: 0.5})
		assert.Equal(t, tc.action, s.Action, "cause %s", tc.cause)
		assert.Equal(t, tc.priority, s.Priority, "cause %s", tc.cause)
	}
}

func TestDetermineStrategyConfidence(t *testing.T) {
	// Timeout: 0.5 + 0.2, failure rate in the middle band.
	s := DetermineStrategy(FailureAnalysis{PrimaryCause: CauseTimeout, FailureRate: 0.5})
	assert.InDelta(t, 0.7, s.Confidence, 1e-9)

	// Low failure rate adds 0.2.
	s = DetermineStrategy(FailureAnalysis{PrimaryCause: CauseTimeout, FailureRate: 0.2})
	assert.InDelta(t, 0.9, s.Confidence, 1e-9)

	// High failure rate subtracts 0.2.
	s = DetermineStrategy(FailureAnalysis{PrimaryCause: CauseTimeout, FailureRate: 0.8})
	assert.InDelta(t, 0.5, s.Confidence, 1e-9)

	// Unknown at high failure rate clamps at the floor side.
	s = DetermineStrategy(FailureAnalysis{PrimaryCause: CauseUnknown, FailureRate: 0.9})
	assert.InDelta(t, 0.1, s.Confidence, 1e-9)

	// Clamp upper bound: validation error with low rate stays <= 1.
	s = DetermineStrategy(FailureAnalysis{PrimaryCause: CauseValidationError, FailureRate: 0.1})
	assert.LessOrEqual(t, s.Confidence, 1.0)
	assert.InDelta(t, 0.85, s.Confidence, 1e-9)
}

func TestDetermineStrategyCleanup(t *testing.T) {
	s := DetermineStrategy(FailureAnalysis{
		PrimaryCause:    CauseResourceUnavailable,
		FailureRate:     0.5,
		RequiresCleanup: true,
		LeakedResources: []string{"browser session"},
	})

	require.Len(t, s.CleanupSteps, 1)
	assert.Equal(t, "close_browser", s.CleanupSteps[0].Name)
	assert.Equal(t, plan.StepToolCall, s.CleanupSteps[0].Type)
}

func TestApplySimplifyPlan(t *testing.T) {
	p := planWithSteps("a", "b", "c", "d", "e", "f", "g")
	res := resultFor(p, []int{0}, []int{1}, []exec.ErrorKind{exec.KindTimeout})

	out := ApplyStrategy(p, res, Strategy{Action: ActionSimplifyPlan})
	require.True(t, out.ShouldReplan)
	require.NotNil(t, out.NewPlan)

	assert.NotEqual(t, p.PlanID, out.NewPlan.PlanID)
	assert.Len(t, out.NewPlan.Steps, 5)
	for _, s := range out.NewPlan.Steps {
		assert.NotEqual(t, "b", s.Name, "failed step must be dropped")
	}
	assert.Contains(t, out.NewPlan.Name, "(replanned)")
	assert.Equal(t, p.PlanID, out.NewPlan.Metadata["replanned_from"])
}

func TestApplyReplaceFailedTools(t *testing.T) {
	p := planWithSteps("a", "b")
	res := resultFor(p, []int{0}, []int{1}, []exec.ErrorKind{exec.KindTool})

	out := ApplyStrategy(p, res, Strategy{Action: ActionReplaceFailedTools})
	require.True(t, out.ShouldReplan)
	require.NotNil(t, out.NewPlan)
	require.Len(t, out.NewPlan.Steps, 2)

	replaced := out.NewPlan.Steps[1]
	assert.Equal(t, plan.StepAiReasoning, replaced.Type)
	assert.Nil(t, replaced.Tool)
	// Untouched step keeps its tool.
	assert.Equal(t, plan.StepToolCall, out.NewPlan.Steps[0].Type)
}

func TestApplyReorderSteps(t *testing.T) {
	p := planWithSteps("a", "b", "c")
	// b completed, a and c did not.
	res := resultFor(p, []int{1}, []int{0}, []exec.ErrorKind{exec.KindOther})

	out := ApplyStrategy(p, res, Strategy{Action: ActionReorderSteps})
	require.True(t, out.ShouldReplan)
	require.NotNil(t, out.NewPlan)
	require.Len(t, out.NewPlan.Steps, 4)

	assert.Equal(t, "b", out.NewPlan.Steps[0].Name)
	last := out.NewPlan.Steps[3]
	assert.Equal(t, "recovery-analysis", last.Name)
	assert.Equal(t, plan.StepAiReasoning, last.Type)
}

func TestApplyAddValidationSteps(t *testing.T) {
	p := planWithSteps("scan", "probe")
	res := resultFor(p, nil, []int{0}, []exec.ErrorKind{exec.KindConfiguration})

	out := ApplyStrategy(p, res, Strategy{Action: ActionAddValidationSteps})
	require.True(t, out.ShouldReplan)
	require.NotNil(t, out.NewPlan)
	require.Len(t, out.NewPlan.Steps, 4)

	assert.Equal(t, "validate-scan", out.NewPlan.Steps[1].Name)
	assert.Equal(t, []string{"non_empty_output(scan)"}, out.NewPlan.Steps[1].Preconditions)
	// Validation depends on its tool step.
	deps := out.NewPlan.Dependencies[out.NewPlan.Steps[1].StepID]
	assert.Equal(t, []string{out.NewPlan.Steps[0].StepID}, deps)
}

func TestApplyFullReplanDefersToPlanner(t *testing.T) {
	p := planWithSteps("a")
	res := resultFor(p, nil, []int{0}, []exec.ErrorKind{exec.KindOther})

	out := ApplyStrategy(p, res, Strategy{Action: ActionFullReplan})
	assert.True(t, out.ShouldReplan)
	assert.Nil(t, out.NewPlan)
}

func TestApplyStrategyPrependsCleanup(t *testing.T) {
	p := planWithSteps("open_browser", "a", "b")
	res := resultFor(p, []int{0}, []int{1}, []exec.ErrorKind{exec.KindTool})

	cleanup := plan.NewStep("close_browser", "release leaked browser session", plan.StepToolCall)
	cleanup.Tool = &plan.ToolConfig{ToolName: "close_browser"}

	out := ApplyStrategy(p, res, Strategy{
		Action:       ActionReplaceFailedTools,
		CleanupSteps: []plan.ExecutionStep{cleanup},
	})
	require.True(t, out.ShouldReplan)
	require.NotNil(t, out.NewPlan)
	assert.Equal(t, "close_browser", out.NewPlan.Steps[0].Name)
}

func TestApplySimplifyAllFailedIsRejected(t *testing.T) {
	p := planWithSteps("a")
	res := resultFor(p, nil, []int{0}, []exec.ErrorKind{exec.KindTimeout})

	out := ApplyStrategy(p, res, Strategy{Action: ActionSimplifyPlan})
	assert.False(t, out.ShouldReplan)
	assert.Nil(t, out.NewPlan)
}
