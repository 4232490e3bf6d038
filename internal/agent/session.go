package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/logging"
	"github.com/arlen/aegis/internal/plan"
)

// State is a session's lifecycle position.
type State string

const (
	StateCreated   State = "created"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// legalTransitions encodes the session state machine. Executing may
// return to Planning when a failed run is replanned.
var legalTransitions = map[State][]State{
	StateCreated:   {StatePlanning, StateFailed, StateCancelled},
	StatePlanning:  {StateExecuting, StateFailed, StateCancelled},
	StateExecuting: {StatePlanning, StateCompleted, StateFailed, StateCancelled},
}

// Session tracks one dispatched task through its lifecycle. All
// mutation goes through its methods; reads take a Snapshot.
type Session struct {
	mu sync.RWMutex

	id        string
	task      *plan.Task
	agentName string
	state     State
	plan      *plan.ExecutionPlan
	result    *exec.ExecutionResult
	errMsg    string
	createdAt time.Time
	updatedAt time.Time
}

// NewSession creates a session in the Created state.
func NewSession(id string, task *plan.Task, agentName string) *Session {
	now := time.Now().UTC()
	s := &Session{
		id:        id,
		task:      task,
		agentName: agentName,
		state:     StateCreated,
		createdAt: now,
		updatedAt: now,
	}
	logging.SessionEvent(id, task.TaskID, string(StateCreated))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Task returns the dispatched task.
func (s *Session) Task() *plan.Task { return s.task }

// Transition moves the session to a new state, rejecting moves the
// state machine does not allow. Self-transitions are ignored.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == to {
		return nil
	}
	allowed := false
	for _, next := range legalTransitions[s.state] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal session transition %s -> %s", s.state, to)
	}

	s.state = to
	s.updatedAt = time.Now().UTC()
	logging.SessionEvent(s.id, s.task.TaskID, string(to))
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetOutcome records the plan and result of a finished run.
func (s *Session) SetOutcome(p *plan.ExecutionPlan, res *exec.ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
	s.result = res
	s.updatedAt = time.Now().UTC()
}

// SetError records the failure message.
func (s *Session) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
	s.updatedAt = time.Now().UTC()
}

// Snapshot is a read-only copy of a session for callers.
type Snapshot struct {
	SessionID string                `json:"session_id"`
	TaskID    string                `json:"task_id"`
	Task      string                `json:"task"`
	AgentName string                `json:"agent_name"`
	State     State                 `json:"state"`
	Error     string                `json:"error,omitempty"`
	Result    *exec.ExecutionResult `json:"result,omitempty"`
	Progress  *exec.Progress        `json:"progress,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Duration  time.Duration         `json:"duration"`
}

// Snapshot captures the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SessionID: s.id,
		TaskID:    s.task.TaskID,
		Task:      s.task.Description,
		AgentName: s.agentName,
		State:     s.state,
		Error:     s.errMsg,
		Result:    s.result,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Duration:  s.updatedAt.Sub(s.createdAt),
	}
	return snap
}
