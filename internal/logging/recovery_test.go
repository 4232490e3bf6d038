package logging

import (
	"errors"
	"strings"
	"testing"
)

func TestRecoveryHandlerWrap(t *testing.T) {
	handler := NewRecoveryHandler("engine")

	executed := false
	handler.Wrap(func() {
		executed = true
	})

	if !executed {
		t.Error("function was not executed")
	}
}

func TestRecoveryHandlerWrapPanic(t *testing.T) {
	handler := NewRecoveryHandler("engine")

	var capturedErr interface{}
	var capturedStack string

	handler.OnPanic = func(err interface{}, stack string) {
		capturedErr = err
		capturedStack = stack
	}

	handler.Wrap(func() {
		panic("step blew up")
	})

	if capturedErr != "step blew up" {
		t.Errorf("expected 'step blew up', got %v", capturedErr)
	}
	if !strings.Contains(capturedStack, "TestRecoveryHandlerWrapPanic") {
		t.Error("stack trace should contain the panicking function")
	}
}

func TestRecoveryHandlerWrapError(t *testing.T) {
	handler := NewRecoveryHandler("engine")

	if err := handler.WrapError(func() error { return nil }); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	want := errors.New("tool unavailable")
	if err := handler.WrapError(func() error { return want }); err != want {
		t.Errorf("expected propagated error, got %v", err)
	}

	err := handler.WrapError(func() error { panic("boom") })
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if !strings.Contains(err.Error(), "panic in engine") {
		t.Errorf("unexpected panic error message: %v", err)
	}
}

func TestSafeGoRecovers(t *testing.T) {
	done := make(chan struct{})
	SafeGo("engine", func() {
		defer close(done)
		panic("goroutine panic")
	})
	<-done
}

func TestMust(t *testing.T) {
	if got := Must(42, nil); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("Must should panic on error")
		}
	}()
	Must(0, errors.New("bad"))
}
