package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
	"github.com/arlen/aegis/internal/replan"
	"github.com/arlen/aegis/internal/tools"
)

type stubPlanner struct {
	plans []*plan.ExecutionPlan
	calls int
	err   error
}

func (s *stubPlanner) CreatePlan(ctx context.Context, task *plan.Task) (*plan.ExecutionPlan, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p := s.plans[0]
	if len(s.plans) > 1 {
		s.plans = s.plans[1:]
	}
	return p, nil
}

type echoReasoner struct{}

func (echoReasoner) Reason(ctx context.Context, step plan.ExecutionStep, outputs map[string]any) (any, error) {
	return "reasoned: " + step.Name, nil
}

type failingTool struct {
	name string
	msg  string
}

func (t failingTool) Name() string { return t.name }

func (t failingTool) Run(ctx context.Context, args map[string]any) (any, error) {
	return nil, errors.New(t.msg)
}

func testEngine(t *testing.T, p *stubPlanner) *Engine {
	t.Helper()
	reg := tools.DefaultRegistry()
	reg.Register(failingTool{name: "probe", msg: "connection refused"})
	reg.Register(failingTool{name: "boom", msg: "entropy cascade"})
	ex := exec.New(reg, echoReasoner{}, exec.DefaultConfig())
	rp := replan.New(p, replan.DefaultConfig())
	return New(p, ex, rp)
}

func toolStep(name, tool string, attempts int) plan.ExecutionStep {
	s := plan.NewStep(name, "run "+tool+" for "+name, plan.StepToolCall)
	s.Tool = &plan.ToolConfig{ToolName: tool, ToolArgs: map[string]any{"message": name}}
	s.Retry = plan.RetryConfig{MaxAttempts: attempts, Delay: time.Millisecond}
	return s
}

func chain(taskID string, steps ...plan.ExecutionStep) *plan.ExecutionPlan {
	p := plan.NewPlan(taskID, "test plan", "chained steps", steps)
	for i := 1; i < len(steps); i++ {
		p.Dependencies[steps[i].StepID] = []string{steps[i-1].StepID}
	}
	return p
}

func TestRunCompletes(t *testing.T) {
	summarize := plan.NewStep("summarize", "sum up", plan.StepAiReasoning)
	sp := &stubPlanner{plans: []*plan.ExecutionPlan{
		chain("task-1", toolStep("record", "echo", 1), summarize),
	}}
	e := testEngine(t, sp)

	var phases []Phase
	out, err := e.Run(context.Background(), "s1", plan.NewTask("do the thing"), func(p Phase) {
		phases = append(phases, p)
	})
	require.NoError(t, err)
	assert.Equal(t, exec.StatusCompleted, out.Result.Status)
	assert.Zero(t, out.Replans)
	assert.Equal(t, []Phase{PhasePlanning, PhaseExecuting}, phases)
	assert.Equal(t, 1, sp.calls)
}

func TestRunRecoversViaLocalReplan(t *testing.T) {
	// probe always refuses, so after its retries are spent the tool
	// gets replaced with a reasoning step and the rerun succeeds.
	a := toolStep("record", "echo", 1)
	b := toolStep("probe-host", "probe", 2)
	c := plan.NewStep("summarize", "sum up", plan.StepAiReasoning)
	sp := &stubPlanner{plans: []*plan.ExecutionPlan{chain("task-1", a, b, c)}}
	e := testEngine(t, sp)

	var phases []Phase
	out, err := e.Run(context.Background(), "s1", plan.NewTask("probe then report"), func(p Phase) {
		phases = append(phases, p)
	})
	require.NoError(t, err)
	assert.Equal(t, exec.StatusCompleted, out.Result.Status)
	assert.Equal(t, 1, out.Replans)
	assert.Contains(t, phases, PhaseReplanning)
	// Local recovery never consults the planner a second time.
	assert.Equal(t, 1, sp.calls)
}

func TestRunFailsWhenCandidateRejected(t *testing.T) {
	// An unclassifiable failure routes to a full replan; the planner
	// keeps returning the same plan, which the similarity gate
	// rejects, so the run ends failed.
	b := toolStep("break-things", "boom", 1)
	c := plan.NewStep("summarize", "sum up", plan.StepAiReasoning)
	failing := chain("task-1", b, c)
	sp := &stubPlanner{plans: []*plan.ExecutionPlan{failing}}
	e := testEngine(t, sp)

	out, err := e.Run(context.Background(), "s1", plan.NewTask("break things"), nil)
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, exec.StatusFailed, out.Result.Status)
	assert.Contains(t, err.Error(), "break-things")
	assert.Zero(t, out.Replans)
}

func TestRunTaskTimeoutSpansReplans(t *testing.T) {
	// The task deadline bounds the whole run. A failed round must not
	// re-arm it, so a plan that always outwaits the budget ends the
	// run after roughly one budget, not one per replan round.
	hangPlan := func() *plan.ExecutionPlan {
		w := plan.NewStep("wait-out", "wait for the listener", plan.StepToolCall)
		w.Tool = &plan.ToolConfig{ToolName: "wait", ToolArgs: map[string]any{"seconds": 30.0}}
		c := plan.NewStep("summarize", "sum up", plan.StepAiReasoning)
		return chain("task-1", w, c)
	}
	sp := &stubPlanner{plans: []*plan.ExecutionPlan{hangPlan(), hangPlan(), hangPlan(), hangPlan()}}
	e := testEngine(t, sp)

	task := plan.NewTask("wait for something that never comes")
	task.Timeout = 150 * time.Millisecond

	start := time.Now()
	out, err := e.Run(context.Background(), "s1", task, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, exec.StatusFailed, out.Result.Status)
	assert.Zero(t, out.Replans, "expired deadline must stop the replan loop")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRunPlannerError(t *testing.T) {
	sp := &stubPlanner{err: errors.New("model unavailable")}
	e := testEngine(t, sp)

	out, err := e.Run(context.Background(), "s1", plan.NewTask("anything"), nil)
	require.Error(t, err)
	assert.Nil(t, out)

	stats := e.Stats()
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.Failed)
}

func TestStatsAggregation(t *testing.T) {
	summarize := plan.NewStep("summarize", "sum up", plan.StepAiReasoning)
	sp := &stubPlanner{plans: []*plan.ExecutionPlan{
		chain("task-1", toolStep("record", "echo", 1), summarize),
	}}
	e := testEngine(t, sp)

	for i := 0; i < 3; i++ {
		// Plans carry per-run step state only in results, so reruns
		// of the same plan are safe here.
		_, err := e.Run(context.Background(), fmt.Sprintf("s%d", i), plan.NewTask("do it"), nil)
		require.NoError(t, err)
	}

	stats := e.Stats()
	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Zero(t, stats.Failed)
	assert.Greater(t, stats.AvgDuration, time.Duration(0))
}
