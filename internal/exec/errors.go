// Package exec runs execution plans: dependency-ordered step
// sequencing with retries, timeouts, pause/resume, and cooperative
// cancellation.
package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a step failure for the replanner.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindTool          ErrorKind = "tool"
	KindConfiguration ErrorKind = "configuration"
	KindOther         ErrorKind = "other"
)

// StepError is a classified step failure.
type StepError struct {
	StepID   string    `json:"step_id"`
	StepName string    `json:"step_name"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (%s): %s", e.StepName, e.Kind, e.Message)
}

// ClassifyError maps a raw error to an ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case strings.Contains(err.Error(), "unknown tool"),
		strings.Contains(err.Error(), "missing"),
		strings.Contains(err.Error(), "invalid argument"):
		return KindConfiguration
	case strings.Contains(err.Error(), "tool"),
		strings.Contains(err.Error(), "connection"),
		strings.Contains(err.Error(), "refused"),
		strings.Contains(err.Error(), "unavailable"):
		return KindTool
	default:
		return KindOther
	}
}

// JoinMessages renders all step errors as one human-readable string.
func JoinMessages(errs []StepError) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
