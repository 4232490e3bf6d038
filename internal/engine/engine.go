// Package engine drives the plan-and-execute loop: plan the task,
// run the plan, and recover from failed runs through the replanner
// until the task completes or the replanning budget is spent.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/logging"
	"github.com/arlen/aegis/internal/metrics"
	"github.com/arlen/aegis/internal/plan"
	"github.com/arlen/aegis/internal/planner"
	"github.com/arlen/aegis/internal/replan"
)

// Phase is a coarse position in the engine loop, reported to the
// observer so callers can track session state.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseReplanning Phase = "replanning"
)

// Observer receives phase transitions. May be nil.
type Observer func(Phase)

// Outcome is the terminal result of one engine run.
type Outcome struct {
	Plan    *plan.ExecutionPlan   `json:"plan"`
	Result  *exec.ExecutionResult `json:"result"`
	Replans int                   `json:"replans"`
}

// Stats aggregates engine runs.
type Stats struct {
	TotalRuns   int           `json:"total_runs"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Cancelled   int           `json:"cancelled"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Engine couples a planner, an executor and a replanner.
type Engine struct {
	planner   planner.Planner
	executor  *exec.Executor
	replanner *replan.Replanner
	log       *logging.Logger

	mu    sync.Mutex
	stats Stats
	total time.Duration
}

// New creates an engine.
func New(p planner.Planner, ex *exec.Executor, r *replan.Replanner) *Engine {
	return &Engine{
		planner:   p,
		executor:  ex,
		replanner: r,
		log:       logging.New("engine"),
	}
}

// Run plans and executes the task to a terminal outcome. A non-nil
// error means the task failed or could not be planned; a cancelled
// run returns a nil error with Result.Status set to cancelled.
func (e *Engine) Run(ctx context.Context, sessionID string, task *plan.Task, observe Observer) (*Outcome, error) {
	start := time.Now()
	notify := func(p Phase) {
		if observe != nil {
			observe(p)
		}
	}
	log := e.log.WithSession(sessionID).WithTask(task.TaskID)

	// The task deadline covers the whole run, replan rounds included.
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	notify(PhasePlanning)
	p, err := e.planner.CreatePlan(ctx, task)
	if err != nil {
		e.record(nil, time.Since(start))
		return nil, fmt.Errorf("planning: %w", err)
	}
	log.Info("plan_ready", map[string]interface{}{"plan": p.PlanID, "steps": len(p.Steps)})

	notify(PhaseExecuting)
	res := e.executor.ExecutePlan(ctx, sessionID, p, task)

	replans := 0
	for res.Status == exec.StatusFailed &&
		e.executor.ShouldReplan(p, res) &&
		replans < e.replanner.MaxAttempts() &&
		ctx.Err() == nil {

		notify(PhaseReplanning)
		next, ok := e.replanOnce(ctx, p, task, res)
		if !ok {
			break
		}

		replans++
		metrics.Global().RecordReplan()
		p = next
		log.Info("replanned", map[string]interface{}{"plan": p.PlanID, "round": replans})

		notify(PhaseExecuting)
		res = e.executor.ExecutePlan(ctx, sessionID, p, task)
	}

	out := &Outcome{Plan: p, Result: res, Replans: replans}
	e.record(res, time.Since(start))
	metrics.Global().RecordRun(time.Since(start).Milliseconds())

	if res.Status == exec.StatusFailed {
		return out, errors.New(exec.JoinMessages(res.Errors))
	}
	return out, nil
}

// replanOnce produces the next plan for a failed run, or reports that
// recovery is not possible.
func (e *Engine) replanOnce(ctx context.Context, p *plan.ExecutionPlan, task *plan.Task, res *exec.ExecutionResult) (*plan.ExecutionPlan, bool) {
	strategy := e.replanner.AnalyzeAndDetermineStrategy(p, res)

	if strategy.Action != replan.ActionFullReplan {
		if r := e.replanner.ApplyStrategy(p, res, strategy); r.ShouldReplan && r.NewPlan != nil {
			return r.NewPlan, true
		}
		// The local transform produced nothing usable; fall through
		// to the planner.
	}

	r, err := e.replanner.ReplanWithPlanner(ctx, p, task, res)
	if err != nil {
		e.log.Warn("replan_failed", map[string]interface{}{"plan": p.PlanID}, err)
		return nil, false
	}
	if !r.ShouldReplan || r.NewPlan == nil {
		e.log.Info("replan_declined", map[string]interface{}{"plan": p.PlanID, "reason": r.Reason})
		return nil, false
	}
	return r.NewPlan, true
}

// record folds one run into the aggregate stats.
func (e *Engine) record(res *exec.ExecutionResult, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalRuns++
	switch {
	case res == nil || res.Status == exec.StatusFailed:
		e.stats.Failed++
	case res.Status == exec.StatusCancelled:
		e.stats.Cancelled++
	default:
		e.stats.Succeeded++
	}
	e.total += d
	e.stats.AvgDuration = e.total / time.Duration(e.stats.TotalRuns)
}

// Stats returns a snapshot of the aggregate run statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
