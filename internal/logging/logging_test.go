package logging

import (
	"encoding/json"
	"testing"
	"time"
)

func TestLoggerCreation(t *testing.T) {
	logger := New("executor")

	if logger.component != "executor" {
		t.Errorf("expected component 'executor', got '%s'", logger.component)
	}
	if logger.session != "" {
		t.Errorf("expected empty session, got '%s'", logger.session)
	}
}

func TestLoggerWithSession(t *testing.T) {
	logger := New("executor").WithSession("sess-1")

	if logger.session != "sess-1" {
		t.Errorf("expected session 'sess-1', got '%s'", logger.session)
	}
}

func TestLoggerWithTask(t *testing.T) {
	logger := New("manager").WithTask("task-9")

	if logger.task != "task-9" {
		t.Errorf("expected task 'task-9', got '%s'", logger.task)
	}
}

func TestLoggerWithStep(t *testing.T) {
	logger := New("executor").WithSession("sess-1").WithStep("scan-target")

	if logger.step != "scan-target" {
		t.Errorf("expected step 'scan-target', got '%s'", logger.step)
	}
	// Parent context is preserved
	if logger.session != "sess-1" {
		t.Errorf("expected session 'sess-1', got '%s'", logger.session)
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := New("manager")
	_ = parent.WithSession("child-session")

	if parent.session != "" {
		t.Errorf("WithSession mutated parent logger: %q", parent.session)
	}
}

func TestEventSerialization(t *testing.T) {
	event := Event{
		Timestamp: "2024-01-01T00:00:00Z",
		Level:     LevelInfo,
		Component: "executor",
		Event:     "step",
		Session:   "sess-1",
		Step:      "fetch-page",
		Duration:  100,
		Extra: map[string]interface{}{
			"status": "completed",
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if parsed["level"] != "info" {
		t.Errorf("expected level 'info', got '%v'", parsed["level"])
	}
	if parsed["component"] != "executor" {
		t.Errorf("expected component 'executor', got '%v'", parsed["component"])
	}
	if parsed["session"] != "sess-1" {
		t.Errorf("expected session 'sess-1', got '%v'", parsed["session"])
	}
	if parsed["duration_ms"] != float64(100) {
		t.Errorf("expected duration 100, got '%v'", parsed["duration_ms"])
	}
}

func TestEventOmitsEmptyFields(t *testing.T) {
	event := Event{
		Timestamp: "2024-01-01T00:00:00Z",
		Level:     LevelInfo,
		Component: "manager",
		Event:     "dispatch",
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	for _, key := range []string{"session", "task", "step", "duration_ms", "error", "extra"} {
		if _, ok := parsed[key]; ok {
			t.Errorf("expected %q to be omitted when empty", key)
		}
	}
}

func TestTimedEventDoesNotPanic(t *testing.T) {
	logger := New("executor").WithSession("sess-1")
	start := time.Now().Add(-50 * time.Millisecond)
	logger.TimedEvent("plan_executed", start, map[string]interface{}{"steps": 3})
}

func TestStepEventDoesNotPanic(t *testing.T) {
	StepEvent("sess-1", "scan-target", "failed", 2, 10*time.Millisecond, nil)
}
