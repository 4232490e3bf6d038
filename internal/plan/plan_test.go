package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainPlan() *ExecutionPlan {
	a := NewStep("recon", "initial recon", StepToolCall)
	b := NewStep("scan", "port scan", StepToolCall)
	c := NewStep("summarize", "summarize findings", StepAiReasoning)

	p := NewPlan("task-1", "scan target", "three step chain", []ExecutionStep{a, b, c})
	p.Dependencies[b.StepID] = []string{a.StepID}
	p.Dependencies[c.StepID] = []string{b.StepID}
	return p
}

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("scan target X")

	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, PriorityNormal, task.Priority)
	assert.NotEmpty(t, task.CreatedAt)
}

func TestValidateChain(t *testing.T) {
	assert.NoError(t, chainPlan().Validate())
}

func TestValidateEmptyPlan(t *testing.T) {
	p := NewPlan("task-1", "empty", "no steps", nil)
	assert.ErrorIs(t, p.Validate(), ErrNoSteps)
}

func TestValidateEmptyStepName(t *testing.T) {
	s := NewStep("", "anonymous", StepWait)
	p := NewPlan("task-1", "bad", "unnamed step", []ExecutionStep{s})
	assert.ErrorIs(t, p.Validate(), ErrEmptyName)
}

func TestValidateDuplicateStepID(t *testing.T) {
	a := NewStep("a", "first", StepWait)
	b := a // same id
	b.Name = "b"
	p := NewPlan("task-1", "bad", "dup ids", []ExecutionStep{a, b})
	assert.ErrorIs(t, p.Validate(), ErrDuplicateStep)
}

func TestValidateUnknownDependency(t *testing.T) {
	a := NewStep("a", "first", StepWait)
	p := NewPlan("task-1", "bad", "missing dep", []ExecutionStep{a})
	p.Dependencies[a.StepID] = []string{"ghost"}
	assert.ErrorIs(t, p.Validate(), ErrUnknownDep)
}

func TestValidateCycle(t *testing.T) {
	a := NewStep("a", "first", StepWait)
	b := NewStep("b", "second", StepWait)
	p := NewPlan("task-1", "bad", "two-node cycle", []ExecutionStep{a, b})
	p.Dependencies[a.StepID] = []string{b.StepID}
	p.Dependencies[b.StepID] = []string{a.StepID}
	assert.ErrorIs(t, p.Validate(), ErrCycle)
}

func TestValidateSelfCycle(t *testing.T) {
	a := NewStep("a", "first", StepWait)
	p := NewPlan("task-1", "bad", "self loop", []ExecutionStep{a})
	p.Dependencies[a.StepID] = []string{a.StepID}
	assert.ErrorIs(t, p.Validate(), ErrCycle)
}

func TestExecutionOrderChain(t *testing.T) {
	p := chainPlan()
	order, err := p.ExecutionOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)

	assert.Equal(t, p.Steps[0].StepID, order[0])
	assert.Equal(t, p.Steps[1].StepID, order[1])
	assert.Equal(t, p.Steps[2].StepID, order[2])
}

func TestExecutionOrderDeterministicTies(t *testing.T) {
	a := NewStep("a", "independent", StepWait)
	b := NewStep("b", "independent", StepWait)
	c := NewStep("c", "independent", StepWait)
	p := NewPlan("task-1", "fanout", "no deps", []ExecutionStep{a, b, c})

	first, err := p.ExecutionOrder()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.ExecutionOrder()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Ties break by plan position
	assert.Equal(t, []string{a.StepID, b.StepID, c.StepID}, first)
}

func TestStepByID(t *testing.T) {
	p := chainPlan()
	s := p.StepByID(p.Steps[1].StepID)
	require.NotNil(t, s)
	assert.Equal(t, "scan", s.Name)

	assert.Nil(t, p.StepByID("nope"))
}
