// Package plan defines the task and execution-plan data model.
package plan

import (
	"time"

	"github.com/google/uuid"
)

// Priority represents task urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// StepType is the tagged variant of an execution step.
type StepType string

const (
	StepToolCall           StepType = "tool_call"
	StepAiReasoning        StepType = "ai_reasoning"
	StepDataProcessing     StepType = "data_processing"
	StepConditional        StepType = "conditional"
	StepParallel           StepType = "parallel"
	StepWait               StepType = "wait"
	StepManualConfirmation StepType = "manual_confirmation"
)

// Task is a caller-supplied unit of work. Immutable after creation.
type Task struct {
	TaskID      string         `json:"task_id"`
	Description string         `json:"description"`
	Target      string         `json:"target,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Priority    Priority       `json:"priority"`
	UserID      string         `json:"user_id,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// NewTask creates a task with a fresh id and normal priority.
func NewTask(description string) *Task {
	return &Task{
		TaskID:      uuid.NewString(),
		Description: description,
		Parameters:  map[string]any{},
		Priority:    PriorityNormal,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// ToolConfig describes the tool invocation for a ToolCall step.
type ToolConfig struct {
	ToolName    string            `json:"tool_name"`
	ToolVersion string            `json:"tool_version,omitempty"`
	ToolArgs    map[string]any    `json:"tool_args,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

// RetryConfig controls per-step retry behavior.
// A zero MaxAttempts means the step runs exactly once.
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	Delay             time.Duration `json:"delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier,omitempty"`
}

// ExecutionStep is one unit of a plan.
type ExecutionStep struct {
	StepID            string         `json:"step_id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Type              StepType       `json:"type"`
	Tool              *ToolConfig    `json:"tool,omitempty"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	EstimatedDuration time.Duration  `json:"estimated_duration,omitempty"`
	Retry             RetryConfig    `json:"retry"`
	Preconditions     []string       `json:"preconditions,omitempty"`
	Postconditions    []string       `json:"postconditions,omitempty"`
}

// NewStep creates a step with a fresh id.
func NewStep(name, description string, typ StepType) ExecutionStep {
	return ExecutionStep{
		StepID:      uuid.NewString(),
		Name:        name,
		Description: description,
		Type:        typ,
		Retry:       RetryConfig{MaxAttempts: 1},
	}
}

// ExecutionPlan is the dependency-annotated step list for one task
// attempt. Once handed to the executor it is treated as a value;
// replanning produces a new plan with a new id rather than mutating.
type ExecutionPlan struct {
	PlanID            string              `json:"plan_id"`
	TaskID            string              `json:"task_id"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	Steps             []ExecutionStep     `json:"steps"`
	Dependencies      map[string][]string `json:"dependencies,omitempty"`
	EstimatedDuration time.Duration       `json:"estimated_duration,omitempty"`
	CreatedAt         string              `json:"created_at"`
	Metadata          map[string]string   `json:"metadata,omitempty"`
}

// NewPlan creates a plan with a fresh id for the given task.
func NewPlan(taskID, name, description string, steps []ExecutionStep) *ExecutionPlan {
	return &ExecutionPlan{
		PlanID:       uuid.NewString(),
		TaskID:       taskID,
		Name:         name,
		Description:  description,
		Steps:        steps,
		Dependencies: map[string][]string{},
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		Metadata:     map[string]string{},
	}
}

// StepByID returns the step with the given id, or nil.
func (p *ExecutionPlan) StepByID(id string) *ExecutionStep {
	for i := range p.Steps {
		if p.Steps[i].StepID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// DependenciesOf returns the dependency step ids for a step id.
func (p *ExecutionPlan) DependenciesOf(id string) []string {
	if p.Dependencies == nil {
		return nil
	}
	return p.Dependencies[id]
}
