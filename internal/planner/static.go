package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/arlen/aegis/internal/plan"
)

// Static is a deterministic offline planner used when no model is
// configured. It produces an echo-and-summarize plan and serves as
// the reasoning fallback.
type Static struct{}

// CreatePlan builds a fixed three step plan for the task.
func (Static) CreatePlan(ctx context.Context, task *plan.Task) (*plan.ExecutionPlan, error) {
	if strings.TrimSpace(task.Description) == "" {
		return nil, fmt.Errorf("%w: task has no description", ErrPlanningFailed)
	}

	analyze := plan.NewStep("analyze-task", "break down the task and identify the goal", plan.StepAiReasoning)

	record := plan.NewStep("record-task", "record the task statement for the report", plan.StepToolCall)
	record.Tool = &plan.ToolConfig{
		ToolName: "echo",
		ToolArgs: map[string]any{"message": task.Description},
	}
	record.Postconditions = []string{fmt.Sprintf("non_empty_output(%s)", record.Name)}

	summarize := plan.NewStep("summarize-outcome", "summarize what was done and what remains", plan.StepAiReasoning)

	p := plan.NewPlan(task.TaskID, "static plan", "offline plan for: "+task.Description,
		[]plan.ExecutionStep{analyze, record, summarize})
	p.Dependencies[record.StepID] = []string{analyze.StepID}
	p.Dependencies[summarize.StepID] = []string{record.StepID}
	p.Metadata["rationale"] = "offline planner; no model configured"
	return p, nil
}

// Reason produces a deterministic conclusion for a reasoning step.
func (Static) Reason(ctx context.Context, step plan.ExecutionStep, outputs map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fmt.Sprintf("completed %s with %d prior outputs", step.Name, len(outputs)), nil
}
