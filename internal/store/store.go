// Package store persists plans, sessions and step results. The core
// treats persistence as best effort: a write failure is logged by the
// caller, never fatal to a running session.
package store

import (
	"context"
	"time"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
)

// Store is the minimal interface all stores must implement.
type Store interface {
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// Repository is the persistence surface used by the session manager.
type Repository interface {
	Store
	SavePlan(ctx context.Context, p *plan.ExecutionPlan) error
	SaveSession(ctx context.Context, rec SessionRecord) error
	SaveStepResult(ctx context.Context, sessionID string, r exec.StepResult) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListSessions(ctx context.Context, filter Filter) ([]SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error
	GetExecutionStatistics(ctx context.Context) (Statistics, error)
}

// SessionRecord is the stored shape of a session.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id"`
	AgentName string    `json:"agent_name"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Statistics aggregates stored execution history.
type Statistics struct {
	TotalSessions  int     `json:"total_sessions"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Cancelled      int     `json:"cancelled"`
	TotalSteps     int     `json:"total_steps"`
	FailedSteps    int     `json:"failed_steps"`
	AvgStepSeconds float64 `json:"avg_step_seconds"`
}

// Filter defines query parameters for listing entities.
type Filter struct {
	Limit     int            // Maximum results (0 = no limit)
	Offset    int            // Skip first N results
	OrderDesc bool           // Sort descending if true
	Where     map[string]any // Field conditions
}

// DefaultFilter returns a filter with sensible defaults.
func DefaultFilter() Filter {
	return Filter{
		Limit:     100,
		Offset:    0,
		OrderDesc: true,
	}
}

// WithLimit returns a copy of the filter with a new limit.
func (f Filter) WithLimit(n int) Filter {
	f.Limit = n
	return f
}

// WithOffset returns a copy of the filter with a new offset.
func (f Filter) WithOffset(n int) Filter {
	f.Offset = n
	return f
}

// WithWhere returns a copy of the filter with an added condition.
func (f Filter) WithWhere(field string, value any) Filter {
	if f.Where == nil {
		f.Where = make(map[string]any)
	}
	f.Where[field] = value
	return f
}

// Record is a generic query result row.
type Record map[string]any

// GetString extracts a string value from a record.
func (r Record) GetString(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// GetInt extracts an int value from a record.
func (r Record) GetInt(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetFloat extracts a float64 value from a record.
func (r Record) GetFloat(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
