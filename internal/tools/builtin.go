package tools

import (
	"context"
	"fmt"
	"time"
)

// EchoTool returns its "message" argument. Useful for plan smoke
// tests and as a template for real runners.
type EchoTool struct{}

func (EchoTool) Name() string { return "echo" }

func (EchoTool) Run(ctx context.Context, args map[string]any) (any, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		return nil, fmt.Errorf("echo: missing message argument")
	}
	return msg, nil
}

// WaitTool sleeps for "seconds" (float) unless cancelled first.
type WaitTool struct{}

func (WaitTool) Name() string { return "wait" }

func (WaitTool) Run(ctx context.Context, args map[string]any) (any, error) {
	seconds, _ := args["seconds"].(float64)
	if seconds <= 0 {
		seconds = 1
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return fmt.Sprintf("waited %.2fs", seconds), nil
	}
}

// DefaultRegistry returns a registry with the builtin runners.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(EchoTool{})
	r.Register(WaitTool{})
	return r
}
