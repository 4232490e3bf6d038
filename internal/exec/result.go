package exec

import "time"

// StepStatus represents the state of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepRetrying  StepStatus = "retrying"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// Status represents the aggregate plan outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepResult records one step's outcome.
type StepResult struct {
	StepID      string        `json:"step_id"`
	Name        string        `json:"name"`
	Status      StepStatus    `json:"status"`
	StartedAt   string        `json:"started_at,omitempty"`
	CompletedAt string        `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
}

// Feedback is the condensed execution summary consumed by the
// replanner and surfaced to callers.
type Feedback struct {
	Summary         string   `json:"summary"`
	FailurePatterns []string `json:"failure_patterns,omitempty"`
	Bottlenecks     []string `json:"bottlenecks,omitempty"`
	SuccessFactors  []string `json:"success_factors,omitempty"`
}

// ExecutionResult aggregates a full plan run. Per-step output is
// never discarded, even when the overall run fails.
type ExecutionResult struct {
	PlanID      string                `json:"plan_id"`
	Status      Status                `json:"status"`
	Completed   []string              `json:"completed,omitempty"`
	Failed      []string              `json:"failed,omitempty"`
	Skipped     []string              `json:"skipped,omitempty"`
	StepResults map[string]StepResult `json:"step_results"`
	Errors      []StepError           `json:"errors,omitempty"`
	Duration    time.Duration         `json:"duration"`
	Outputs     map[string]any        `json:"outputs,omitempty"`
	Feedback    Feedback              `json:"feedback"`
}

// FailureRate returns failed / total steps, 0 for empty results.
func (r *ExecutionResult) FailureRate() float64 {
	total := len(r.StepResults)
	if total == 0 {
		return 0
	}
	return float64(len(r.Failed)) / float64(total)
}

// Progress is a point-in-time view of a running execution.
type Progress struct {
	SessionID   string  `json:"session_id"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Running     int     `json:"running"`
	Pending     int     `json:"pending"`
	CurrentStep string  `json:"current_step,omitempty"`
	Ratio       float64 `json:"ratio"`
}

func (p Progress) total() int {
	return p.Completed + p.Failed + p.Running + p.Pending
}
