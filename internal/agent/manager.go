package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/arlen/aegis/internal/engine"
	"github.com/arlen/aegis/internal/logging"
	"github.com/arlen/aegis/internal/metrics"
	"github.com/arlen/aegis/internal/plan"
	"github.com/arlen/aegis/internal/store"
)

// Statistics aggregates manager activity since start.
type Statistics struct {
	Dispatched  int           `json:"dispatched"`
	Active      int           `json:"active"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Cancelled   int           `json:"cancelled"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Manager owns agents and the sessions dispatched to them. Finished
// sessions stay queryable in a bounded registry, oldest evicted
// first.
type Manager struct {
	mu        sync.RWMutex
	agents    map[string]Agent
	order     []string
	active    map[string]*Session
	cancels   map[string]context.CancelFunc
	completed map[string]*Session
	history   []string
	histCap   int
	stats     Statistics

	repo store.Repository
	log  *logging.Logger
}

// NewManager creates a manager. The repository may be nil; persistence
// is best effort either way. completedCap bounds the finished-session
// registry.
func NewManager(repo store.Repository, completedCap int) *Manager {
	if completedCap <= 0 {
		completedCap = 100
	}
	return &Manager{
		agents:    make(map[string]Agent),
		active:    make(map[string]*Session),
		cancels:   make(map[string]context.CancelFunc),
		completed: make(map[string]*Session),
		histCap:   completedCap,
		repo:      repo,
		log:       logging.New("manager"),
	}
}

// RegisterAgent adds an agent. Names must be unique.
func (m *Manager) RegisterAgent(a Agent) error {
	name := a.Info().Name
	if name == "" {
		return fmt.Errorf("agent has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.agents[name]; dup {
		return fmt.Errorf("agent %q already registered", name)
	}
	m.agents[name] = a
	m.order = append(m.order, name)
	m.log.Info("agent_registered", map[string]interface{}{"agent": name})
	return nil
}

// selectAgent picks the named agent, or the first registered agent
// that accepts the task.
func (m *Manager) selectAgent(task *plan.Task, agentName string) (Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if agentName != "" {
		a, ok := m.agents[agentName]
		if !ok {
			return nil, fmt.Errorf("unknown agent %q", agentName)
		}
		return a, nil
	}
	for _, name := range m.order {
		if a := m.agents[name]; a.CanHandle(task) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no agent can handle the task")
}

// DispatchTask starts a session for the task and returns its id
// immediately; the session runs in the background. An empty agentName
// lets the manager pick.
func (m *Manager) DispatchTask(task *plan.Task, agentName string) (string, error) {
	a, err := m.selectAgent(task, agentName)
	if err != nil {
		return "", err
	}

	sessionID := ulid.Make().String()
	s := NewSession(sessionID, task, a.Info().Name)

	// The run context is detached from the dispatcher: the session
	// outlives the dispatch call and ends through CancelTask.
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.active[sessionID] = s
	m.cancels[sessionID] = cancel
	m.stats.Dispatched++
	m.mu.Unlock()

	metrics.Global().RecordDispatch()
	m.persistSession(s)

	logging.SafeGo("manager", func() {
		defer cancel()
		a.Execute(ctx, s)
		m.finalize(s)
	})
	return sessionID, nil
}

// finalize moves a finished session into the bounded completed
// registry and folds it into the statistics.
func (m *Manager) finalize(s *Session) {
	snap := s.Snapshot()

	m.mu.Lock()
	delete(m.active, s.ID())
	delete(m.cancels, s.ID())

	m.completed[s.ID()] = s
	m.history = append(m.history, s.ID())
	for len(m.history) > m.histCap {
		evicted := m.history[0]
		m.history = m.history[1:]
		delete(m.completed, evicted)
	}

	switch snap.State {
	case StateCompleted:
		m.stats.Completed++
	case StateCancelled:
		m.stats.Cancelled++
	default:
		m.stats.Failed++
	}
	n := m.stats.Completed + m.stats.Failed + m.stats.Cancelled
	m.stats.AvgDuration = (m.stats.AvgDuration*time.Duration(n-1) + snap.Duration) / time.Duration(n)
	m.mu.Unlock()

	metrics.Global().RecordSession(string(snap.State))
	m.persistSession(s)
	m.persistOutcome(s)
}

// CancelTask aborts a running session. Cancelling an unknown or
// finished session is not an error.
func (m *Manager) CancelTask(sessionID string) error {
	m.mu.Lock()
	s := m.active[sessionID]
	cancel := m.cancels[sessionID]
	delete(m.cancels, sessionID)
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	// Mark first so the agent's terminal transition loses the race.
	s.Transition(StateCancelled)
	if cancel != nil {
		cancel()
	}

	// Abort is best effort across every agent; only the owner
	// recognizes the session, the rest treat it as a no-op.
	m.mu.RLock()
	agents := make([]Agent, 0, len(m.order))
	for _, name := range m.order {
		agents = append(agents, m.agents[name])
	}
	m.mu.RUnlock()
	for _, a := range agents {
		a.Abort(sessionID)
	}
	return nil
}

// GetSessionStatus returns a snapshot for an active or finished
// session, falling back to the repository for evicted ones.
func (m *Manager) GetSessionStatus(sessionID string) (Snapshot, error) {
	m.mu.RLock()
	s := m.active[sessionID]
	if s == nil {
		s = m.completed[sessionID]
	}
	var agent Agent
	if s != nil {
		agent = m.agents[s.Snapshot().AgentName]
	}
	m.mu.RUnlock()

	if s != nil {
		snap := s.Snapshot()
		if pe, ok := agent.(*PlanExecute); ok && !snap.State.Terminal() {
			if prog, live := pe.Progress(sessionID); live {
				snap.Progress = &prog
			}
		}
		return snap, nil
	}

	if m.repo != nil {
		rec, err := m.repo.GetSession(context.Background(), sessionID)
		if err == nil {
			return Snapshot{
				SessionID: rec.SessionID,
				TaskID:    rec.TaskID,
				AgentName: rec.AgentName,
				State:     State(rec.State),
				Error:     rec.Error,
				CreatedAt: rec.CreatedAt,
				UpdatedAt: rec.UpdatedAt,
				Duration:  rec.UpdatedAt.Sub(rec.CreatedAt),
			}, nil
		}
	}
	return Snapshot{}, store.NewNotFoundError("session", sessionID)
}

// ListSessions returns snapshots of all active and retained finished
// sessions, active first.
func (m *Manager) ListSessions() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.active)+len(m.history))
	for _, s := range m.active {
		out = append(out, s.Snapshot())
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if s, ok := m.completed[m.history[i]]; ok {
			out = append(out, s.Snapshot())
		}
	}
	return out
}

// ListAgents describes all registered agents in registration order.
func (m *Manager) ListAgents() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.agents[name].Info())
	}
	return out
}

// EngineInfo describes an execution engine reachable through the
// registered agents.
type EngineInfo struct {
	Agents []string     `json:"agents"`
	Stats  engine.Stats `json:"stats"`
}

// ListEngines returns the distinct engines behind the registered
// agents, each with the agents that share it. Agents without an
// engine (custom Agent implementations) are not listed.
func (m *Manager) ListEngines() []EngineInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := make(map[*engine.Engine]int)
	var out []EngineInfo
	for _, name := range m.order {
		pe, ok := m.agents[name].(*PlanExecute)
		if !ok {
			continue
		}
		eng := pe.Engine()
		i, seen := idx[eng]
		if !seen {
			i = len(out)
			idx[eng] = i
			out = append(out, EngineInfo{Stats: eng.Stats()})
		}
		out[i].Agents = append(out[i].Agents, name)
	}
	return out
}

// GetStatistics returns a snapshot of the aggregate statistics.
func (m *Manager) GetStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.Active = len(m.active)
	return stats
}

// persistSession writes the session row, best effort.
func (m *Manager) persistSession(s *Session) {
	if m.repo == nil {
		return
	}
	snap := s.Snapshot()
	rec := store.SessionRecord{
		SessionID: snap.SessionID,
		TaskID:    snap.TaskID,
		AgentName: snap.AgentName,
		State:     string(snap.State),
		Error:     snap.Error,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	if err := m.repo.SaveSession(context.Background(), rec); err != nil {
		m.log.Warn("persist_session_failed", map[string]interface{}{"session": snap.SessionID}, err)
	}
}

// persistOutcome writes the final plan and step results, best effort.
func (m *Manager) persistOutcome(s *Session) {
	if m.repo == nil {
		return
	}
	snap := s.Snapshot()

	s.mu.RLock()
	p := s.plan
	s.mu.RUnlock()
	if p != nil {
		if err := m.repo.SavePlan(context.Background(), p); err != nil {
			m.log.Warn("persist_plan_failed", map[string]interface{}{"session": snap.SessionID}, err)
		}
	}
	if snap.Result == nil {
		return
	}
	// One bad row must not drop the rest of the results.
	for _, sr := range snap.Result.StepResults {
		if err := m.repo.SaveStepResult(context.Background(), snap.SessionID, sr); err != nil {
			m.log.Warn("persist_step_failed", map[string]interface{}{"session": snap.SessionID, "step": sr.Name}, err)
		}
	}
}
