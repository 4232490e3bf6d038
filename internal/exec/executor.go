package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/arlen/aegis/internal/logging"
	"github.com/arlen/aegis/internal/metrics"
	"github.com/arlen/aegis/internal/plan"
	"github.com/arlen/aegis/internal/tools"
)

// Reasoner is the collaborator behind AiReasoning, DataProcessing
// and Parallel steps. Implementations must honor ctx cancellation.
type Reasoner interface {
	Reason(ctx context.Context, step plan.ExecutionStep, outputs map[string]any) (any, error)
}

// Config tunes the executor.
type Config struct {
	// FailureRatio is the failed/total threshold above which a
	// failed run should be handed to the replanner.
	FailureRatio float64
	// DefaultStepTimeout applies to ToolCall steps without an
	// explicit tool timeout.
	DefaultStepTimeout time.Duration
}

// DefaultConfig returns the stock executor tuning.
func DefaultConfig() Config {
	return Config{
		FailureRatio:       0.3,
		DefaultStepTimeout: 5 * time.Minute,
	}
}

// Executor runs plans. One Executor serves many concurrent sessions;
// per-session state lives in an internal registry keyed by session id.
type Executor struct {
	tools    *tools.Registry
	reasoner Reasoner
	cfg      Config
	log      *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*execState
}

type execState struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	paused  bool
	resume  chan struct{}
	current string
	counts  Progress
}

// New creates an executor over the given tool registry and reasoner.
// The reasoner may be nil; reasoning steps then fail as configuration
// errors.
func New(registry *tools.Registry, reasoner Reasoner, cfg Config) *Executor {
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = DefaultConfig().FailureRatio
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = DefaultConfig().DefaultStepTimeout
	}
	return &Executor{
		tools:    registry,
		reasoner: reasoner,
		cfg:      cfg,
		log:      logging.New("executor"),
		sessions: make(map[string]*execState),
	}
}

// ExecutePlan runs the plan to a terminal result. The session id keys
// progress reporting and cancellation; cancellation races at every
// suspension point and always wins.
func (e *Executor) ExecutePlan(ctx context.Context, sessionID string, p *plan.ExecutionPlan, task *plan.Task) *ExecutionResult {
	start := time.Now()
	res := &ExecutionResult{
		PlanID:      p.PlanID,
		StepResults: make(map[string]StepResult, len(p.Steps)),
		Outputs:     make(map[string]any),
	}

	order, err := p.ExecutionOrder()
	if err != nil {
		res.Status = StatusFailed
		res.Errors = append(res.Errors, StepError{
			Kind:    KindConfiguration,
			Message: fmt.Sprintf("invalid plan: %v", err),
		})
		res.Duration = time.Since(start)
		res.Feedback = buildFeedback(p, res)
		return res
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// A caller-supplied deadline wins: the engine arms the task
	// deadline once per run so replan rounds share one budget.
	if _, has := ctx.Deadline(); !has && task != nil && task.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, task.Timeout)
		defer tcancel()
	}

	st := e.register(sessionID, cancel, len(order))
	defer e.unregister(sessionID)

	statuses := make(map[string]StepStatus, len(order))
	for _, id := range order {
		statuses[id] = StepPending
		step := p.StepByID(id)
		res.StepResults[id] = StepResult{StepID: id, Name: step.Name, Status: StepPending}
	}

	completedNames := make(map[string]bool)
	cancelled := false

	for _, id := range order {
		step := p.StepByID(id)
		log := e.log.WithSession(sessionID).WithStep(step.Name)

		if err := st.waitIfPaused(ctx); err != nil {
			cancelled = e.finishInterrupted(res, statuses, id, step, err)
			break
		}

		// Failed or skipped dependencies block the step.
		if blockedBy := e.blockingDep(p, statuses, id); blockedBy != "" {
			statuses[id] = StepSkipped
			res.Skipped = append(res.Skipped, id)
			sr := res.StepResults[id]
			sr.Status = StepSkipped
			sr.Error = fmt.Sprintf("dependency %s did not complete", blockedBy)
			res.StepResults[id] = sr
			log.Info("step_skipped", map[string]interface{}{"blocked_by": blockedBy})
			continue
		}

		// Conditional steps consult their preconditions.
		if step.Type == plan.StepConditional {
			if ok, cond := EvaluateAll(step.Preconditions, res.Outputs, completedNames); !ok {
				statuses[id] = StepSkipped
				res.Skipped = append(res.Skipped, id)
				sr := res.StepResults[id]
				sr.Status = StepSkipped
				sr.Error = fmt.Sprintf("precondition %q not met", cond)
				res.StepResults[id] = sr
				continue
			}
		}

		statuses[id] = StepRunning
		st.setCurrent(step.Name, countOf(statuses))
		stepStart := time.Now()

		output, attempts, stepErr := e.executeStep(ctx, *step, res.Outputs, completedNames)

		sr := res.StepResults[id]
		sr.StartedAt = stepStart.UTC().Format(time.RFC3339)
		sr.CompletedAt = time.Now().UTC().Format(time.RFC3339)
		sr.Duration = time.Since(stepStart)
		sr.Attempts = attempts

		switch {
		case stepErr == nil:
			statuses[id] = StepCompleted
			sr.Status = StepCompleted
			sr.Output = output
			res.Completed = append(res.Completed, id)
			res.Outputs[OutputKey(step.Name)] = output
			completedNames[step.Name] = true
			logging.StepEvent(sessionID, step.Name, string(StepCompleted), attempts, sr.Duration, nil)

		case errors.Is(stepErr, context.Canceled):
			statuses[id] = StepCancelled
			sr.Status = StepCancelled
			sr.Error = stepErr.Error()
			cancelled = true
			logging.StepEvent(sessionID, step.Name, string(StepCancelled), attempts, sr.Duration, stepErr)

		default:
			statuses[id] = StepFailed
			sr.Status = StepFailed
			sr.Error = stepErr.Error()
			res.Failed = append(res.Failed, id)
			res.Errors = append(res.Errors, StepError{
				StepID:   id,
				StepName: step.Name,
				Kind:     ClassifyError(stepErr),
				Message:  stepErr.Error(),
			})
			logging.StepEvent(sessionID, step.Name, string(StepFailed), attempts, sr.Duration, stepErr)
		}

		res.StepResults[id] = sr
		st.setCurrent("", countOf(statuses))
		metrics.Global().RecordStep(stepErr == nil, attempts, sr.Duration.Milliseconds())

		if cancelled {
			break
		}
		if errors.Is(stepErr, context.DeadlineExceeded) && ctx.Err() != nil {
			// The task deadline is gone; remaining steps cannot run.
			break
		}
	}

	switch {
	case cancelled:
		res.Status = StatusCancelled
	case len(res.Failed) > 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusCompleted
	}

	res.Duration = time.Since(start)
	res.Feedback = buildFeedback(p, res)
	e.log.WithSession(sessionID).TimedEvent("plan_executed", start, map[string]interface{}{
		"plan":      p.PlanID,
		"status":    string(res.Status),
		"completed": len(res.Completed),
		"failed":    len(res.Failed),
		"skipped":   len(res.Skipped),
	})
	return res
}

// finishInterrupted marks the would-be next step after a pause wait
// was interrupted by cancellation.
func (e *Executor) finishInterrupted(res *ExecutionResult, statuses map[string]StepStatus, id string, step *plan.ExecutionStep, err error) bool {
	statuses[id] = StepCancelled
	sr := res.StepResults[id]
	sr.Status = StepCancelled
	sr.Error = err.Error()
	res.StepResults[id] = sr
	return true
}

// blockingDep returns the first dependency that terminated without
// completing, or "".
func (e *Executor) blockingDep(p *plan.ExecutionPlan, statuses map[string]StepStatus, id string) string {
	for _, dep := range p.DependenciesOf(id) {
		switch statuses[dep] {
		case StepFailed, StepSkipped, StepCancelled:
			return dep
		}
	}
	return ""
}

// executeStep runs one step through its retry budget.
func (e *Executor) executeStep(ctx context.Context, step plan.ExecutionStep, outputs map[string]any, completed map[string]bool) (any, int, error) {
	maxAttempts := step.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := RetryDelay(step.Retry, attempt)
			select {
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			case <-time.After(delay):
			}
		}

		output, err := e.runOnce(ctx, step, outputs)
		if err == nil {
			if ok, cond := checkPostconditions(step, output, outputs, completed); !ok {
				err = PostconditionError(step.Name, cond)
			} else {
				return output, attempt, nil
			}
		}

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		lastErr = err
	}
	return nil, maxAttempts, lastErr
}

// checkPostconditions evaluates the step's postconditions with the
// fresh output visible.
func checkPostconditions(step plan.ExecutionStep, output any, outputs map[string]any, completed map[string]bool) (bool, string) {
	if len(step.Postconditions) == 0 {
		return true, ""
	}
	merged := make(map[string]any, len(outputs)+1)
	for k, v := range outputs {
		merged[k] = v
	}
	merged[OutputKey(step.Name)] = output
	done := make(map[string]bool, len(completed)+1)
	for k := range completed {
		done[k] = true
	}
	done[step.Name] = true
	return EvaluateAll(step.Postconditions, merged, done)
}

// runOnce dispatches a single attempt by step type.
func (e *Executor) runOnce(ctx context.Context, step plan.ExecutionStep, outputs map[string]any) (any, error) {
	switch step.Type {
	case plan.StepToolCall:
		if step.Tool == nil {
			return nil, fmt.Errorf("missing tool config for step %s", step.Name)
		}
		timeout := step.Tool.Timeout
		if timeout <= 0 {
			timeout = e.cfg.DefaultStepTimeout
		}
		return e.tools.Execute(ctx, step.Tool.ToolName, toolArgs(step), timeout)

	case plan.StepAiReasoning, plan.StepDataProcessing, plan.StepParallel:
		if e.reasoner == nil {
			return nil, fmt.Errorf("missing reasoner for step %s", step.Name)
		}
		return e.reasoner.Reason(ctx, step, outputs)

	case plan.StepConditional:
		// Preconditions already held; the step itself is a marker.
		return "condition satisfied", nil

	case plan.StepWait:
		return waitStep(ctx, step)

	case plan.StepManualConfirmation:
		if approve, _ := step.Parameters["auto_approve"].(bool); approve {
			return "confirmed", nil
		}
		return nil, fmt.Errorf("missing confirmation for step %s", step.Name)

	default:
		return nil, fmt.Errorf("unknown step type %q for step %s", step.Type, step.Name)
	}
}

// toolArgs merges the tool's configured args with the step's
// parameters; configured args win.
func toolArgs(step plan.ExecutionStep) map[string]any {
	args := make(map[string]any, len(step.Parameters)+len(step.Tool.ToolArgs))
	for k, v := range step.Parameters {
		args[k] = v
	}
	for k, v := range step.Tool.ToolArgs {
		args[k] = v
	}
	return args
}

func waitStep(ctx context.Context, step plan.ExecutionStep) (any, error) {
	d := step.EstimatedDuration
	if seconds, ok := step.Parameters["seconds"].(float64); ok && seconds > 0 {
		d = time.Duration(seconds * float64(time.Second))
	}
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
		return fmt.Sprintf("waited %s", d), nil
	}
}

// RetryDelay computes the back-off before the given attempt (2-based):
// delay * multiplier^(attempt-1) when a multiplier is configured,
// else the constant delay.
func RetryDelay(rc plan.RetryConfig, attempt int) time.Duration {
	if rc.Delay <= 0 {
		return 0
	}
	if rc.BackoffMultiplier > 0 {
		factor := math.Pow(rc.BackoffMultiplier, float64(attempt-1))
		return time.Duration(float64(rc.Delay) * factor)
	}
	return rc.Delay
}

// ShouldReplan reports whether a failed result warrants replanning:
// the failure ratio exceeds the configured threshold, or any failed
// step has exhausted its retry budget.
func (e *Executor) ShouldReplan(p *plan.ExecutionPlan, res *ExecutionResult) bool {
	if res.Status != StatusFailed {
		return false
	}
	if res.FailureRate() > e.cfg.FailureRatio {
		return true
	}
	for _, id := range res.Failed {
		step := p.StepByID(id)
		if step == nil {
			continue
		}
		max := step.Retry.MaxAttempts
		if max < 1 {
			max = 1
		}
		if res.StepResults[id].Attempts >= max {
			return true
		}
	}
	return false
}
