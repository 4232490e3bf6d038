package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsGlobal(t *testing.T) {
	m1 := Global()
	m2 := Global()

	if m1 != m2 {
		t.Error("Global() should return same instance")
	}
}

func TestRecordSession(t *testing.T) {
	m := &Metrics{startTime: time.Now()}

	m.RecordSession("completed")
	m.RecordSession("completed")
	m.RecordSession("cancelled")
	m.RecordSession("failed")
	m.RecordSession("something-else")

	if m.SessionsCompleted.Load() != 2 {
		t.Errorf("expected 2 completed, got %d", m.SessionsCompleted.Load())
	}
	if m.SessionsCancelled.Load() != 1 {
		t.Errorf("expected 1 cancelled, got %d", m.SessionsCancelled.Load())
	}
	if m.SessionsFailed.Load() != 2 {
		t.Errorf("expected 2 failed, got %d", m.SessionsFailed.Load())
	}
}

func TestRecordStep(t *testing.T) {
	m := &Metrics{startTime: time.Now()}

	m.RecordStep(true, 1, 100)
	if m.StepsExecuted.Load() != 1 {
		t.Errorf("expected 1 step, got %d", m.StepsExecuted.Load())
	}
	if m.StepFailures.Load() != 0 {
		t.Errorf("expected 0 failures, got %d", m.StepFailures.Load())
	}
	if m.LastStepDurationMs.Load() != 100 {
		t.Errorf("expected duration 100, got %d", m.LastStepDurationMs.Load())
	}

	m.RecordStep(false, 3, 50)
	if m.StepsExecuted.Load() != 2 {
		t.Errorf("expected 2 steps, got %d", m.StepsExecuted.Load())
	}
	if m.StepFailures.Load() != 1 {
		t.Errorf("expected 1 failure, got %d", m.StepFailures.Load())
	}
	if m.StepRetries.Load() != 2 {
		t.Errorf("expected 2 retries, got %d", m.StepRetries.Load())
	}
}

func TestRecordReplanAndRun(t *testing.T) {
	m := &Metrics{startTime: time.Now()}

	m.RecordReplan()
	m.RecordReplan()
	if m.Replans.Load() != 2 {
		t.Errorf("expected 2 replans, got %d", m.Replans.Load())
	}

	m.RecordRun(1234)
	if m.LastRunDurationMs.Load() != 1234 {
		t.Errorf("expected run duration 1234, got %d", m.LastRunDurationMs.Load())
	}
}

func TestMetricsHandler(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	m.RecordDispatch()
	m.RecordSession("completed")
	m.RecordSession("failed")
	m.RecordStep(true, 1, 150)
	m.RecordStep(false, 2, 50)
	m.RecordReplan()

	handler := m.Handler()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	resp := rec.Result()
	body, _ := io.ReadAll(resp.Body)
	output := string(body)

	// Check content type
	if resp.Header.Get("Content-Type") != "text/plain; version=0.0.4" {
		t.Errorf("wrong content type: %s", resp.Header.Get("Content-Type"))
	}

	// Check metrics are present
	expectedMetrics := []string{
		"aegis_uptime_seconds",
		"aegis_sessions_dispatched_total 1",
		"aegis_sessions_completed_total 1",
		"aegis_sessions_failed_total 1",
		"aegis_sessions_cancelled_total 0",
		"aegis_steps_executed_total 2",
		"aegis_step_failures_total 1",
		"aegis_step_retries_total 1",
		"aegis_replans_total 1",
		"aegis_last_step_duration_ms 50",
	}

	for _, expected := range expectedMetrics {
		if !strings.Contains(output, expected) {
			t.Errorf("missing metric: %s\nOutput:\n%s", expected, output)
		}
	}
}

func TestMetricsHandlerPrometheusFormat(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	handler := m.Handler()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	output := string(body)

	// Check Prometheus format (# HELP, # TYPE lines)
	if !strings.Contains(output, "# HELP aegis_uptime_seconds") {
		t.Error("missing HELP comment for uptime")
	}
	if !strings.Contains(output, "# TYPE aegis_uptime_seconds gauge") {
		t.Error("missing TYPE comment for uptime")
	}
	if !strings.Contains(output, "# TYPE aegis_sessions_dispatched_total counter") {
		t.Error("missing TYPE comment for dispatched counter")
	}
}

func TestNewServer(t *testing.T) {
	srv := NewServer(9999)
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.srv.Addr != ":9999" {
		t.Errorf("expected addr ':9999', got '%s'", srv.srv.Addr)
	}
}

func TestHealthEndpoint(t *testing.T) {
	// Create a test server with the same mux as NewServer
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected 'ok', got '%s'", rec.Body.String())
	}
}

func TestConcurrentMetricsRecording(t *testing.T) {
	m := &Metrics{startTime: time.Now()}

	done := make(chan bool)

	// Spawn multiple goroutines recording metrics
	for i := 0; i < 100; i++ {
		go func() {
			m.RecordDispatch()
			m.RecordStep(true, 1, 100)
			m.RecordSession("completed")
			m.RecordReplan()
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 100; i++ {
		<-done
	}

	// All should have been recorded
	if m.SessionsDispatched.Load() != 100 {
		t.Errorf("expected 100 dispatches, got %d", m.SessionsDispatched.Load())
	}
	if m.StepsExecuted.Load() != 100 {
		t.Errorf("expected 100 steps, got %d", m.StepsExecuted.Load())
	}
	if m.SessionsCompleted.Load() != 100 {
		t.Errorf("expected 100 completed, got %d", m.SessionsCompleted.Load())
	}
	if m.Replans.Load() != 100 {
		t.Errorf("expected 100 replans, got %d", m.Replans.Load())
	}
}
