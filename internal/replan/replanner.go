package replan

import (
	"context"
	"fmt"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/logging"
	"github.com/arlen/aegis/internal/plan"
)

// Planner is the collaborator that generates candidate plans. It must
// tolerate repeated calls for the same task id with extra failure
// context merged into the task parameters.
type Planner interface {
	CreatePlan(ctx context.Context, task *plan.Task) (*plan.ExecutionPlan, error)
}

// Config tunes the replanner.
type Config struct {
	// MaxAttempts bounds replanning rounds per session.
	MaxAttempts int
	// SimilarityThreshold rejects candidate plans scoring above it
	// against the original.
	SimilarityThreshold float64
}

// DefaultConfig returns the stock replanner tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		SimilarityThreshold: 0.7,
	}
}

// maxCandidateSteps bounds an acceptable candidate plan.
const maxCandidateSteps = 20

// Replanner owns failure recovery: analyze, pick a strategy, apply
// it locally or through the planner collaborator.
type Replanner struct {
	planner Planner
	cfg     Config
	log     *logging.Logger
}

// New creates a replanner over the given planner collaborator.
func New(planner Planner, cfg Config) *Replanner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	return &Replanner{
		planner: planner,
		cfg:     cfg,
		log:     logging.New("replanner"),
	}
}

// MaxAttempts returns the configured replanning bound.
func (r *Replanner) MaxAttempts() int { return r.cfg.MaxAttempts }

// AnalyzeAndDetermineStrategy classifies the failure and selects the
// remediation action.
func (r *Replanner) AnalyzeAndDetermineStrategy(p *plan.ExecutionPlan, res *exec.ExecutionResult) Strategy {
	analysis := Analyze(p, res)
	strategy := DetermineStrategy(analysis)
	r.log.Info("strategy_selected", map[string]interface{}{
		"plan":         p.PlanID,
		"cause":        string(analysis.PrimaryCause),
		"action":       string(strategy.Action),
		"confidence":   strategy.Confidence,
		"failure_rate": analysis.FailureRate,
		"cleanup":      analysis.RequiresCleanup,
	})
	return strategy
}

// ApplyStrategy runs the local transformation for the strategy.
func (r *Replanner) ApplyStrategy(p *plan.ExecutionPlan, res *exec.ExecutionResult, s Strategy) Result {
	return ApplyStrategy(p, res, s)
}

// ReplanWithPlanner asks the planner for a fresh plan with failure
// context injected, then applies strict acceptance. The decision is
// deterministic for identical inputs.
func (r *Replanner) ReplanWithPlanner(ctx context.Context, p *plan.ExecutionPlan, task *plan.Task, res *exec.ExecutionResult) (Result, error) {
	analysis := Analyze(p, res)
	strategy := DetermineStrategy(analysis)

	replanTask := withFailureContext(task, p, analysis)
	candidate, err := r.planner.CreatePlan(ctx, replanTask)
	if err != nil {
		return Result{ShouldReplan: false, Reason: "planner error", Strategy: strategy},
			fmt.Errorf("replanning failed: %w", err)
	}

	if reason, ok := r.acceptCandidate(p, candidate); !ok {
		r.log.Warn("candidate_rejected", map[string]interface{}{
			"plan":      p.PlanID,
			"candidate": candidate.PlanID,
			"reason":    reason,
		}, nil)
		return Result{ShouldReplan: false, Reason: reason, Strategy: strategy}, nil
	}

	augmentPostconditions(candidate)
	if len(strategy.CleanupSteps) > 0 {
		candidate.Steps = append(cloneSteps(strategy.CleanupSteps), candidate.Steps...)
	}

	r.log.Info("candidate_accepted", map[string]interface{}{
		"plan":      p.PlanID,
		"candidate": candidate.PlanID,
		"steps":     len(candidate.Steps),
	})
	return Result{
		ShouldReplan: true,
		Reason:       "planner produced an acceptable plan",
		Strategy:     strategy,
		NewPlan:      candidate,
	}, nil
}

// withFailureContext copies the task and merges the failed step names
// and tool allow-list into its parameters.
func withFailureContext(task *plan.Task, p *plan.ExecutionPlan, a FailureAnalysis) *plan.Task {
	t := *task
	t.Parameters = make(map[string]any, len(task.Parameters)+2)
	for k, v := range task.Parameters {
		t.Parameters[k] = v
	}
	t.Parameters["failed_step_names"] = append([]string(nil), a.FailedSteps...)
	t.Parameters["tools_allow"] = allowedTools(p, a)
	return &t
}

// allowedTools lists the original plan's tools minus those of failed
// steps.
func allowedTools(p *plan.ExecutionPlan, a FailureAnalysis) []string {
	failed := make(map[string]bool, len(a.FailedSteps))
	for _, name := range a.FailedSteps {
		failed[name] = true
	}

	seen := make(map[string]bool)
	var allow []string
	for _, s := range p.Steps {
		if s.Type != plan.StepToolCall || s.Tool == nil || failed[s.Name] {
			continue
		}
		if !seen[s.Tool.ToolName] {
			seen[s.Tool.ToolName] = true
			allow = append(allow, s.Tool.ToolName)
		}
	}
	return allow
}

// acceptCandidate applies the strict acceptance rules. A high
// similarity score means the candidate repeats the failed plan.
func (r *Replanner) acceptCandidate(original, candidate *plan.ExecutionPlan) (string, bool) {
	n := len(candidate.Steps)
	if n == 0 {
		return "candidate has no steps", false
	}
	if n > maxCandidateSteps {
		return fmt.Sprintf("candidate has %d steps (max %d)", n, maxCandidateSteps), false
	}
	if candidate.Steps[n-1].Type != plan.StepAiReasoning {
		return "candidate does not end with a reasoning step", false
	}
	for _, s := range candidate.Steps {
		if s.Name == "" || s.Description == "" {
			return "candidate contains a step with empty name or description", false
		}
	}
	if err := candidate.Validate(); err != nil {
		return fmt.Sprintf("candidate is structurally invalid: %v", err), false
	}
	if sim := PlanSimilarity(original, candidate); sim > r.cfg.SimilarityThreshold {
		return fmt.Sprintf("candidate too similar to failed plan (%.2f > %.2f)", sim, r.cfg.SimilarityThreshold), false
	}
	return "", true
}

// augmentPostconditions appends non_empty_output postconditions to
// ToolCall steps that lack one.
func augmentPostconditions(p *plan.ExecutionPlan) {
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Type != plan.StepToolCall {
			continue
		}
		want := fmt.Sprintf("non_empty_output(%s)", s.Name)
		has := false
		for _, c := range s.Postconditions {
			if c == want {
				has = true
				break
			}
		}
		if !has {
			s.Postconditions = append(s.Postconditions, want)
		}
	}
}
