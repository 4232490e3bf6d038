package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
)

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	plan_id     TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	steps_json  TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	state      TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS step_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	step_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	output_json TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_step_results_session ON step_results(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
`

// SQLite is the Repository implementation backed by a local SQLite
// database file.
type SQLite struct {
	db *sql.DB
}

var _ Repository = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and
// ensures the schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: schema: %v", ErrConnection, err)
	}
	return &SQLite{db: db}, nil
}

// Ping verifies the connection is alive.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SavePlan stores or replaces a plan. Steps are stored as JSON since
// plans are read back whole, never queried per step.
func (s *SQLite) SavePlan(ctx context.Context, p *plan.ExecutionPlan) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO plans (plan_id, task_id, name, description, steps_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.PlanID, p.TaskID, p.Name, p.Description, string(steps), p.CreatedAt)
	return err
}

// SaveSession inserts or updates a session row.
func (s *SQLite) SaveSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, task_id, agent_name, state, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET state = excluded.state,
			error = excluded.error, updated_at = excluded.updated_at`,
		rec.SessionID, rec.TaskID, rec.AgentName, rec.State, rec.Error,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

// SaveStepResult appends one step outcome for a session.
func (s *SQLite) SaveStepResult(ctx context.Context, sessionID string, r exec.StepResult) error {
	var output string
	if r.Output != nil {
		if b, err := json.Marshal(r.Output); err == nil {
			output = string(b)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_results (session_id, step_id, name, status, attempts, duration_ms, error, output_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, r.StepID, r.Name, string(r.Status), r.Attempts,
		r.Duration.Milliseconds(), r.Error, output, time.Now().UTC())
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLite) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, task_id, agent_name, state, error, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, sessionID)

	var rec SessionRecord
	err := row.Scan(&rec.SessionID, &rec.TaskID, &rec.AgentName, &rec.State,
		&rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("session", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns sessions matching the filter, newest first by
// default. Only the "state" condition is supported.
func (s *SQLite) ListSessions(ctx context.Context, filter Filter) ([]SessionRecord, error) {
	var b strings.Builder
	b.WriteString(`SELECT session_id, task_id, agent_name, state, error, created_at, updated_at FROM sessions`)
	args := make([]any, 0, 4)

	if state, ok := filter.Where["state"]; ok {
		b.WriteString(" WHERE state = ?")
		args = append(args, state)
	}
	b.WriteString(" ORDER BY created_at")
	if filter.OrderDesc {
		b.WriteString(" DESC")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.TaskID, &rec.AgentName, &rec.State,
			&rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its recorded step results.
func (s *SQLite) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFoundError("session", sessionID)
	}
	return tx.Commit()
}

// GetExecutionStatistics aggregates stored history across all
// sessions.
func (s *SQLite) GetExecutionStatistics(ctx context.Context) (Statistics, error) {
	var stats Statistics

	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN state = 'cancelled' THEN 1 ELSE 0 END), 0)
		FROM sessions`)
	if err := row.Scan(&stats.TotalSessions, &stats.Completed, &stats.Failed, &stats.Cancelled); err != nil {
		return Statistics{}, err
	}

	row = s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(duration_ms), 0)
		FROM step_results`)
	var avgMs float64
	if err := row.Scan(&stats.TotalSteps, &stats.FailedSteps, &avgMs); err != nil {
		return Statistics{}, err
	}
	stats.AvgStepSeconds = avgMs / 1000

	return stats, nil
}
