package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/arlen/aegis/internal/logging"
	"github.com/arlen/aegis/internal/plan"
)

// Gemini plans and reasons through the Gemini API. It satisfies both
// the Planner interface and the executor's Reasoner.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	log    *logging.Logger
}

// NewGemini creates a Gemini-backed planner.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
		log:    logging.New("planner"),
	}, nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// CreatePlan asks the model for a JSON plan and decodes it.
func (g *Gemini) CreatePlan(ctx context.Context, task *plan.Task) (*plan.ExecutionPlan, error) {
	prompt := buildPlanPrompt(task)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}
	raw := firstText(resp)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrPlanningFailed)
	}

	p, err := DecodePlan(task.TaskID, raw)
	if err != nil {
		return nil, err
	}
	g.log.WithTask(task.TaskID).Info("plan_created", map[string]interface{}{
		"plan":  p.PlanID,
		"steps": len(p.Steps),
	})
	return p, nil
}

// Reason answers a reasoning step with the accumulated outputs as
// context.
func (g *Gemini) Reason(ctx context.Context, step plan.ExecutionStep, outputs map[string]any) (any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing the step %q: %s\n", step.Name, step.Description)
	if len(outputs) > 0 {
		b.WriteString("Results so far:\n")
		for k, v := range outputs {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
	}
	b.WriteString("Respond with a concise conclusion for this step.")

	resp, err := g.model.GenerateContent(ctx, genai.Text(b.String()))
	if err != nil {
		return nil, fmt.Errorf("reasoning failed: %w", err)
	}
	text := firstText(resp)
	if text == "" {
		return nil, fmt.Errorf("reasoning failed: empty model response")
	}
	return text, nil
}

// buildPlanPrompt renders the task, including any replanning context,
// into the planning prompt.
func buildPlanPrompt(task *plan.Task) string {
	var b strings.Builder
	b.WriteString("Produce an execution plan as a single JSON object with fields ")
	b.WriteString(`"name", "description", "rationale" and "steps". Each step has `)
	b.WriteString(`"name", "description", "type" (tool_call|ai_reasoning|data_processing|conditional|parallel|wait|manual_confirmation), `)
	b.WriteString(`optional "tool", "tool_args", "depends_on" (step names), "max_attempts", "delay_seconds". `)
	b.WriteString("The final step must be an ai_reasoning summary. Respond with JSON only.\n\n")

	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	if task.Target != "" {
		fmt.Fprintf(&b, "Target: %s\n", task.Target)
	}

	if failed, ok := task.Parameters["failed_step_names"].([]string); ok && len(failed) > 0 {
		fmt.Fprintf(&b, "A previous plan failed at these steps: %s. Take a different approach.\n",
			strings.Join(failed, ", "))
	}
	if allow, ok := task.Parameters["tools_allow"].([]string); ok && len(allow) > 0 {
		fmt.Fprintf(&b, "Only these tools may be used: %s\n", strings.Join(allow, ", "))
	}
	return b.String()
}

// firstText extracts the first text part of a model response.
func firstText(resp *genai.GenerateContentResponse) string {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
