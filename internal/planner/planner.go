// Package planner turns a natural-language task into a candidate
// execution plan. The Gemini implementation is the reference
// collaborator; Static is the offline fallback.
package planner

import (
	"context"
	"errors"

	"github.com/arlen/aegis/internal/plan"
)

// ErrPlanningFailed wraps planner collaborator failures.
var ErrPlanningFailed = errors.New("planning failed")

// Planner generates a plan for a task. Called again during
// replanning with failure context merged into the task parameters
// (failed_step_names, tools_allow).
type Planner interface {
	CreatePlan(ctx context.Context, task *plan.Task) (*plan.ExecutionPlan, error)
}
