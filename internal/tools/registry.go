// Package tools provides the tool-execution capability consumed by
// the executor: named runners behind a thread-safe registry.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Runner executes one named tool. Implementations must honor ctx
// cancellation; the executor treats every call as potentially slow.
type Runner interface {
	// Name returns the unique tool name.
	Name() string
	// Run executes the tool with the given arguments.
	Run(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds the available tool runners.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Runner)}
}

// Register adds a runner. Later registrations replace earlier ones
// with the same name.
func (r *Registry) Register(tool Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns the runner for a name.
func (r *Registry) Get(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool by name with an optional timeout. A zero
// timeout inherits the caller's context deadline.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) (any, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := tool.Run(ctx, args)
		done <- outcome{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.value, out.err
	}
}
