package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arlen/aegis/internal/plan"
)

// Wire format produced by the model. Dependencies reference step
// names; ids are assigned on decode.
type planWire struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Steps       []stepWire `json:"steps"`
	Rationale   string     `json:"rationale,omitempty"`
}

type stepWire struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Type           string         `json:"type"`
	Tool           string         `json:"tool,omitempty"`
	ToolArgs       map[string]any `json:"tool_args,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	MaxAttempts    int            `json:"max_attempts,omitempty"`
	DelaySeconds   float64        `json:"delay_seconds,omitempty"`
	Backoff        float64        `json:"backoff_multiplier,omitempty"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty"`
	Preconditions  []string       `json:"preconditions,omitempty"`
	Postconditions []string       `json:"postconditions,omitempty"`
}

var stepTypes = map[string]plan.StepType{
	"tool_call":           plan.StepToolCall,
	"ai_reasoning":        plan.StepAiReasoning,
	"data_processing":     plan.StepDataProcessing,
	"conditional":         plan.StepConditional,
	"parallel":            plan.StepParallel,
	"wait":                plan.StepWait,
	"manual_confirmation": plan.StepManualConfirmation,
}

// DecodePlan parses model output into a validated plan for the task.
// Markdown code fences around the JSON are tolerated.
func DecodePlan(taskID string, raw string) (*plan.ExecutionPlan, error) {
	var wire planWire
	if err := json.Unmarshal([]byte(stripFences(raw)), &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed plan JSON: %v", ErrPlanningFailed, err)
	}
	if len(wire.Steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", ErrPlanningFailed)
	}

	steps := make([]plan.ExecutionStep, 0, len(wire.Steps))
	idByName := make(map[string]string, len(wire.Steps))
	for _, sw := range wire.Steps {
		typ, ok := stepTypes[strings.ToLower(strings.TrimSpace(sw.Type))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown step type %q", ErrPlanningFailed, sw.Type)
		}

		s := plan.NewStep(sw.Name, sw.Description, typ)
		if typ == plan.StepToolCall {
			if sw.Tool == "" {
				return nil, fmt.Errorf("%w: tool_call step %q names no tool", ErrPlanningFailed, sw.Name)
			}
			s.Tool = &plan.ToolConfig{
				ToolName: sw.Tool,
				ToolArgs: sw.ToolArgs,
				Timeout:  time.Duration(sw.TimeoutSeconds * float64(time.Second)),
			}
		}
		if sw.MaxAttempts > 0 {
			s.Retry = plan.RetryConfig{
				MaxAttempts:       sw.MaxAttempts,
				Delay:             time.Duration(sw.DelaySeconds * float64(time.Second)),
				BackoffMultiplier: sw.Backoff,
			}
		}
		s.Preconditions = sw.Preconditions
		s.Postconditions = sw.Postconditions

		if _, dup := idByName[sw.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step name %q", ErrPlanningFailed, sw.Name)
		}
		idByName[sw.Name] = s.StepID
		steps = append(steps, s)
	}

	p := plan.NewPlan(taskID, wire.Name, wire.Description, steps)
	if wire.Rationale != "" {
		p.Metadata["rationale"] = wire.Rationale
	}
	for _, sw := range wire.Steps {
		if len(sw.DependsOn) == 0 {
			continue
		}
		deps := make([]string, 0, len(sw.DependsOn))
		for _, depName := range sw.DependsOn {
			depID, ok := idByName[depName]
			if !ok {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrPlanningFailed, sw.Name, depName)
			}
			deps = append(deps, depID)
		}
		p.Dependencies[idByName[sw.Name]] = deps
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}
	return p, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
