package tools

import (
	"bytes"
	"context"
	"fmt"
	osexec "os/exec"
	"strings"
)

// CommandRunner abstracts external command execution so tools can be
// tested without spawning processes.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in a specific directory.
	RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// OSRunner implements CommandRunner using os/exec.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run executes a command and returns combined output.
func (r *OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return cmd.CombinedOutput()
}

// RunInDir executes a command in a specific directory.
func (r *OSRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return cmd.CombinedOutput()
}

// CommandTool exposes one external binary as a plan tool. Arguments
// come from the step's "args" parameter, either a []string or a
// space-separated string.
type CommandTool struct {
	name   string
	binary string
	runner CommandRunner
}

// NewCommandTool creates a tool named name that invokes binary. A nil
// runner defaults to the OS runner.
func NewCommandTool(name, binary string, runner CommandRunner) *CommandTool {
	if runner == nil {
		runner = NewOSRunner()
	}
	return &CommandTool{name: name, binary: binary, runner: runner}
}

func (t *CommandTool) Name() string { return t.name }

// Run invokes the binary and returns its combined output as a string.
// A non-zero exit is an error carrying the output for diagnosis.
func (t *CommandTool) Run(ctx context.Context, args map[string]any) (any, error) {
	argv, err := commandArgs(args)
	if err != nil {
		return nil, err
	}

	out, err := t.runner.Run(ctx, t.binary, argv...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tool %s: %w: %s", t.name, err, bytes.TrimSpace(out))
	}
	return string(bytes.TrimSpace(out)), nil
}

// commandArgs extracts the argv from tool args.
func commandArgs(args map[string]any) ([]string, error) {
	raw, ok := args["args"]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		argv := make([]string, len(v))
		for i, a := range v {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("invalid argument at position %d: %v", i, a)
			}
			argv[i] = s
		}
		return argv, nil
	case string:
		return strings.Fields(v), nil
	default:
		return nil, fmt.Errorf("invalid argument type %T for args", raw)
	}
}

// MockRunner implements CommandRunner for testing.
type MockRunner struct {
	// Calls records all command invocations
	Calls []MockCall

	// Responses maps command name to response
	Responses map[string]MockResponse
}

// MockCall records a single command invocation.
type MockCall struct {
	Name string
	Args []string
	Dir  string
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Output []byte
	Err    error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{Responses: make(map[string]MockResponse)}
}

// AddResponse sets the response for a command.
func (m *MockRunner) AddResponse(name string, resp MockResponse) {
	m.Responses[name] = resp
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args})
	resp := m.Responses[name]
	return resp.Output, resp.Err
}

func (m *MockRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args, Dir: dir})
	resp := m.Responses[name]
	return resp.Output, resp.Err
}
