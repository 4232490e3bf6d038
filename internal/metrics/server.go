// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds runtime counters for the orchestration core.
type Metrics struct {
	// Session lifecycle
	SessionsDispatched atomic.Int64
	SessionsCompleted  atomic.Int64
	SessionsFailed     atomic.Int64
	SessionsCancelled  atomic.Int64

	// Step execution
	StepsExecuted atomic.Int64
	StepFailures  atomic.Int64
	StepRetries   atomic.Int64

	// Recovery
	Replans atomic.Int64

	// Timing (last operation duration in ms)
	LastStepDurationMs atomic.Int64
	LastRunDurationMs  atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = &Metrics{
			startTime: time.Now(),
		}
	})
	return global
}

// RecordSession records a finished session by terminal state.
func (m *Metrics) RecordSession(state string) {
	switch state {
	case "completed":
		m.SessionsCompleted.Add(1)
	case "cancelled":
		m.SessionsCancelled.Add(1)
	default:
		m.SessionsFailed.Add(1)
	}
}

// RecordDispatch records a session dispatch.
func (m *Metrics) RecordDispatch() {
	m.SessionsDispatched.Add(1)
}

// RecordStep records one step execution.
func (m *Metrics) RecordStep(success bool, attempts int, durationMs int64) {
	m.StepsExecuted.Add(1)
	if !success {
		m.StepFailures.Add(1)
	}
	if attempts > 1 {
		m.StepRetries.Add(int64(attempts - 1))
	}
	m.LastStepDurationMs.Store(durationMs)
}

// RecordReplan records a replanning round.
func (m *Metrics) RecordReplan() {
	m.Replans.Add(1)
}

// RecordRun records a full engine run duration.
func (m *Metrics) RecordRun(durationMs int64) {
	m.LastRunDurationMs.Store(durationMs)
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		uptime := time.Since(m.startTime).Seconds()

		fmt.Fprintf(w, "# HELP aegis_uptime_seconds Time since aegis started\n")
		fmt.Fprintf(w, "# TYPE aegis_uptime_seconds gauge\n")
		fmt.Fprintf(w, "aegis_uptime_seconds %.2f\n\n", uptime)

		fmt.Fprintf(w, "# HELP aegis_sessions_dispatched_total Total sessions dispatched\n")
		fmt.Fprintf(w, "# TYPE aegis_sessions_dispatched_total counter\n")
		fmt.Fprintf(w, "aegis_sessions_dispatched_total %d\n\n", m.SessionsDispatched.Load())

		fmt.Fprintf(w, "# HELP aegis_sessions_completed_total Total sessions finished successfully\n")
		fmt.Fprintf(w, "# TYPE aegis_sessions_completed_total counter\n")
		fmt.Fprintf(w, "aegis_sessions_completed_total %d\n\n", m.SessionsCompleted.Load())

		fmt.Fprintf(w, "# HELP aegis_sessions_failed_total Total sessions finished failed\n")
		fmt.Fprintf(w, "# TYPE aegis_sessions_failed_total counter\n")
		fmt.Fprintf(w, "aegis_sessions_failed_total %d\n\n", m.SessionsFailed.Load())

		fmt.Fprintf(w, "# HELP aegis_sessions_cancelled_total Total sessions cancelled\n")
		fmt.Fprintf(w, "# TYPE aegis_sessions_cancelled_total counter\n")
		fmt.Fprintf(w, "aegis_sessions_cancelled_total %d\n\n", m.SessionsCancelled.Load())

		fmt.Fprintf(w, "# HELP aegis_steps_executed_total Total plan steps executed\n")
		fmt.Fprintf(w, "# TYPE aegis_steps_executed_total counter\n")
		fmt.Fprintf(w, "aegis_steps_executed_total %d\n\n", m.StepsExecuted.Load())

		fmt.Fprintf(w, "# HELP aegis_step_failures_total Total step failures\n")
		fmt.Fprintf(w, "# TYPE aegis_step_failures_total counter\n")
		fmt.Fprintf(w, "aegis_step_failures_total %d\n\n", m.StepFailures.Load())

		fmt.Fprintf(w, "# HELP aegis_step_retries_total Total step retry attempts\n")
		fmt.Fprintf(w, "# TYPE aegis_step_retries_total counter\n")
		fmt.Fprintf(w, "aegis_step_retries_total %d\n\n", m.StepRetries.Load())

		fmt.Fprintf(w, "# HELP aegis_replans_total Total replanning rounds\n")
		fmt.Fprintf(w, "# TYPE aegis_replans_total counter\n")
		fmt.Fprintf(w, "aegis_replans_total %d\n\n", m.Replans.Load())

		fmt.Fprintf(w, "# HELP aegis_last_step_duration_ms Last step duration\n")
		fmt.Fprintf(w, "# TYPE aegis_last_step_duration_ms gauge\n")
		fmt.Fprintf(w, "aegis_last_step_duration_ms %d\n\n", m.LastStepDurationMs.Load())

		fmt.Fprintf(w, "# HELP aegis_last_run_duration_ms Last full run duration\n")
		fmt.Fprintf(w, "# TYPE aegis_last_run_duration_ms gauge\n")
		fmt.Fprintf(w, "aegis_last_run_duration_ms %d\n", m.LastRunDurationMs.Load())
	}
}

// Server wraps the metrics HTTP server
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server on the given port
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", Global().Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Start starts the metrics server in background
func (s *Server) Start() error {
	go s.srv.ListenAndServe()
	return nil
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
