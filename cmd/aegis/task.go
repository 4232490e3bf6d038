// Package main task execution commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arlen/aegis/internal/agent"
	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/plan"
	"github.com/arlen/aegis/internal/render"
	strutil "github.com/arlen/aegis/internal/strings"
)

func runCmd() *cobra.Command {
	var (
		agentName string
		target    string
		priority  string
		timeout   int
		params    []string
	)
	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Plan and execute a task",
		Long: `Plan a task, execute it and report the outcome.

The session runs until it completes, fails or is cancelled. Ctrl-C
cancels the running session instead of killing the process.

Examples:
  aegis run "scan the common ports on example.com" --target example.com
  aegis run "summarize yesterday's findings" --agent general
  aegis run "resolve dns records" --param domain=example.com --timeout 120`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			task := plan.NewTask(args[0])
			task.Target = target
			if priority != "" {
				task.Priority = plan.Priority(priority)
			}
			if timeout > 0 {
				task.Timeout = time.Duration(timeout) * time.Second
			}
			for _, kv := range params {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					fatalErrorf("invalid --param %q, want key=value", kv)
				}
				task.Parameters[k] = v
			}

			id, err := manager.DispatchTask(task, agentName)
			if err != nil {
				fatalError(err)
			}

			out := render.Stdout()
			out.Println("SESSION %s", id)
			out.Item("Task: %s", strutil.Truncate(task.Description, 70))

			// Ctrl-C cancels the session; a second one kills the process.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "\nCancelling session...")
				_ = manager.CancelTask(id)
				<-sigCh
				os.Exit(1)
			}()

			snap := waitForSession(id, out)
			out.Line()
			printSession(out, snap)
			if snap.State == agent.StateFailed {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "Dispatch to a specific agent")
	cmd.Flags().StringVarP(&target, "target", "T", "", "Target host, path or resource")
	cmd.Flags().StringVar(&priority, "priority", "", "Task priority (low|normal|high|critical)")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "Task timeout in seconds")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Task parameter as key=value (repeatable)")
	return cmd
}

// waitForSession polls the manager until the session reaches a
// terminal state, echoing step transitions as they happen.
func waitForSession(id string, out *render.Writer) agent.Snapshot {
	var lastStep string
	for {
		snap, err := manager.GetSessionStatus(id)
		if err == nil {
			if snap.Progress != nil && snap.Progress.CurrentStep != "" && snap.Progress.CurrentStep != lastStep {
				lastStep = snap.Progress.CurrentStep
				out.Item("%s %s", render.StatusIcon("running"), lastStep)
			}
			if snap.State.Terminal() {
				return snap
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func printSession(out *render.Writer, snap agent.Snapshot) {
	out.Println("%s %s (%s, agent %s)",
		stateIcon(string(snap.State)), strings.ToUpper(string(snap.State)),
		snap.Duration.Round(time.Millisecond), snap.AgentName)
	if snap.Error != "" {
		out.Item("Error: %s", snap.Error)
	}
	if snap.Progress != nil && !snap.State.Terminal() {
		out.Item("Progress: %d done, %d failed, %d running, %d pending",
			snap.Progress.Completed, snap.Progress.Failed,
			snap.Progress.Running, snap.Progress.Pending)
	}

	res := snap.Result
	if res == nil {
		return
	}

	out.Section("steps")
	for _, sr := range orderedResults(res) {
		out.Item("%s %s (%s, attempts %d)",
			stateIcon(string(sr.Status)), sr.Name,
			sr.Duration.Round(time.Millisecond), sr.Attempts)
		if sr.Error != "" {
			out.Nested("%s", strutil.Truncate(sr.Error, 90))
		} else if s, ok := sr.Output.(string); ok && s != "" {
			out.Nested("%s", strutil.Truncate(s, 90))
		}
	}

	if res.Feedback.Summary != "" {
		out.Section("feedback")
		out.Item("%s", res.Feedback.Summary)
		for _, p := range res.Feedback.FailurePatterns {
			out.SubItem("pattern: %s", p)
		}
		for _, b := range res.Feedback.Bottlenecks {
			out.SubItem("bottleneck: %s", b)
		}
	}
}

// orderedResults sorts step results by start time, unstarted last.
func orderedResults(res *exec.ExecutionResult) []exec.StepResult {
	out := make([]exec.StepResult, 0, len(res.StepResults))
	for _, sr := range res.StepResults {
		out = append(out, sr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			if out[i].StartedAt == "" {
				return false
			}
			if out[j].StartedAt == "" {
				return true
			}
			return out[i].StartedAt < out[j].StartedAt
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func stateIcon(status string) string {
	icon := render.StatusIcon(status)
	switch status {
	case "completed":
		return color.GreenString(icon)
	case "failed":
		return color.RedString(icon)
	case "cancelled", "skipped":
		return color.YellowString(icon)
	default:
		return icon
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session_id>",
		Short: "Cancel a running session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			snap, err := manager.GetSessionStatus(args[0])
			if err != nil {
				fatalError(err)
			}
			if snap.State.Terminal() {
				fatalErrorf("session %s already %s", args[0], snap.State)
			}
			if err := manager.CancelTask(args[0]); err != nil {
				fatalError(err)
			}
			fmt.Printf("%s session %s cancelled\n", color.YellowString("⊘"), args[0])
		},
	}
}

func planCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "plan <description>",
		Short: "Preview the plan for a task without executing it",
		Long: `Generate and print the execution plan for a task description.

Nothing is executed. Useful to inspect what the planner would do.

Examples:
  aegis plan "enumerate subdomains of example.com"`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			task := plan.NewTask(args[0])
			task.Target = target

			p, err := taskPlanner.CreatePlan(ctx, task)
			if err != nil {
				fatalError(err)
			}
			if err := p.Validate(); err != nil {
				fatalError(err)
			}

			out := render.Stdout()
			out.Println("PLAN %s", p.PlanID)
			out.Item("Name: %s", p.Name)
			out.Item("Description: %s", strutil.Truncate(p.Description, 70))
			if r := p.Metadata["rationale"]; r != "" {
				out.Item("Rationale: %s", strutil.Truncate(r, 70))
			}

			byID := make(map[string]string, len(p.Steps))
			for _, s := range p.Steps {
				byID[s.StepID] = s.Name
			}

			out.Section("steps")
			for i, s := range p.Steps {
				out.Item("%d. %s [%s]", i+1, s.Name, s.Type)
				out.SubItem("%s", strutil.Truncate(s.Description, 80))
				if s.Tool != nil {
					out.SubItem("tool: %s %s", s.Tool.ToolName, strutil.TruncateMap(s.Tool.ToolArgs, 60))
				}
				if deps := p.DependenciesOf(s.StepID); len(deps) > 0 {
					names := make([]string, 0, len(deps))
					for _, d := range deps {
						names = append(names, byID[d])
					}
					out.SubItem("after: %s", strings.Join(names, ", "))
				}
			}
		},
	}
	cmd.Flags().StringVarP(&target, "target", "T", "", "Target host, path or resource")
	return cmd
}
