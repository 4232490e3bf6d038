// Package agent hosts the session manager and the agents it
// dispatches tasks to. An agent owns the full lifecycle of a session:
// planning, execution and recovery.
package agent

import (
	"context"
	"strings"

	"github.com/arlen/aegis/internal/engine"
	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
)

// Info describes an agent to callers.
type Info struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Agent executes dispatched sessions.
type Agent interface {
	// Info describes the agent.
	Info() Info
	// CanHandle reports whether the agent accepts the task.
	CanHandle(task *plan.Task) bool
	// Execute runs the session to a terminal state. The context
	// carries cancellation from the manager.
	Execute(ctx context.Context, s *Session) error
	// Abort interrupts a running session. Aborting an unknown
	// session is a no-op.
	Abort(sessionID string)
}

// PlanExecute is the standard agent: it hands the task to the
// plan-and-execute engine and mirrors engine phases into session
// states.
type PlanExecute struct {
	info     Info
	engine   *engine.Engine
	executor *exec.Executor
}

// NewPlanExecute creates an agent over the given engine. The executor
// is the one the engine runs plans on; it serves aborts and progress.
func NewPlanExecute(info Info, eng *engine.Engine, ex *exec.Executor) *PlanExecute {
	return &PlanExecute{info: info, engine: eng, executor: ex}
}

// Info describes the agent.
func (a *PlanExecute) Info() Info { return a.info }

// Engine returns the execution engine behind the agent.
func (a *PlanExecute) Engine() *engine.Engine { return a.engine }

// CanHandle accepts any task when the agent declares no capabilities;
// otherwise the task description must mention one of them.
func (a *PlanExecute) CanHandle(task *plan.Task) bool {
	if len(a.info.Capabilities) == 0 {
		return true
	}
	desc := strings.ToLower(task.Description)
	for _, cap := range a.info.Capabilities {
		if strings.Contains(desc, strings.ToLower(cap)) {
			return true
		}
	}
	return false
}

// Execute runs the session through the engine. The returned error is
// the task failure, already recorded on the session.
func (a *PlanExecute) Execute(ctx context.Context, s *Session) error {
	observe := func(p engine.Phase) {
		switch p {
		case engine.PhasePlanning, engine.PhaseReplanning:
			s.Transition(StatePlanning)
		case engine.PhaseExecuting:
			s.Transition(StateExecuting)
		}
	}

	out, err := a.engine.Run(ctx, s.ID(), s.Task(), observe)
	if out != nil {
		s.SetOutcome(out.Plan, out.Result)
	}

	switch {
	case err != nil:
		s.SetError(err.Error())
		s.Transition(StateFailed)
		return err
	case out.Result.Status == exec.StatusCancelled:
		s.Transition(StateCancelled)
	default:
		s.Transition(StateCompleted)
	}
	return nil
}

// Abort interrupts the session's running plan.
func (a *PlanExecute) Abort(sessionID string) {
	a.executor.Cancel(sessionID)
}

// Progress exposes live execution progress for a session.
func (a *PlanExecute) Progress(sessionID string) (exec.Progress, bool) {
	return a.executor.GetProgress(sessionID)
}
