// Package main session inspection commands.
package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlen/aegis/internal/render"
	"github.com/arlen/aegis/internal/store"
	strutil "github.com/arlen/aegis/internal/strings"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session_id>",
		Short: "Show a session's state and results",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			snap, err := manager.GetSessionStatus(args[0])
			if err != nil {
				fatalError(err)
			}

			out := render.Stdout()
			out.Println("SESSION %s", snap.SessionID)
			out.Item("Task: %s", strutil.Truncate(snap.Task, 70))
			out.Item("Created: %s", snap.CreatedAt.Format(time.RFC3339))
			out.Line()
			printSession(out, snap)
		},
	}
}

func sessionsCmd() *cobra.Command {
	var (
		limit  int
		offset int
		state  string
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Long: `List sessions from the repository, newest first.

Examples:
  aegis sessions
  aegis sessions --state failed -n 10`,
		Run: func(cmd *cobra.Command, args []string) {
			if repo == nil {
				fatalErrorf("no repository at %s", cfg.DBPath)
			}

			f := store.DefaultFilter().WithLimit(limit).WithOffset(offset)
			if state != "" {
				f = f.WithWhere("state", state)
			}

			recs, err := repo.ListSessions(context.Background(), f)
			if err != nil {
				fatalError(err)
			}
			if len(recs) == 0 {
				render.Stdout().Empty("No sessions found")
				return
			}

			out := render.Stdout()
			out.Println("SESSIONS: %d", len(recs))
			for _, rec := range recs {
				out.Item("%s %s  %-10s %-8s %s",
					stateIcon(rec.State), rec.SessionID, rec.State, rec.AgentName,
					rec.CreatedAt.Format("2006-01-02 15:04:05"))
				if rec.Error != "" {
					out.Nested("%s", strutil.Truncate(rec.Error, 80))
				}
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Max sessions to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip first N sessions")
	cmd.Flags().StringVarP(&state, "state", "s", "", "Filter by state (completed|failed|cancelled)")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show stored execution statistics",
		Run: func(cmd *cobra.Command, args []string) {
			if repo == nil {
				fatalErrorf("no repository at %s", cfg.DBPath)
			}

			stats, err := repo.GetExecutionStatistics(context.Background())
			if err != nil {
				fatalError(err)
			}

			out := render.Stdout()
			out.Println("EXECUTION STATISTICS")
			out.Section("sessions")
			out.Item("Total:     %d", stats.TotalSessions)
			out.Item("Completed: %d", stats.Completed)
			out.Item("Failed:    %d", stats.Failed)
			out.Item("Cancelled: %d", stats.Cancelled)
			out.Section("steps")
			out.Item("Total:  %d", stats.TotalSteps)
			out.Item("Failed: %d", stats.FailedSteps)
			if stats.AvgStepSeconds > 0 {
				out.Item("Avg duration: %.2fs", stats.AvgStepSeconds)
			}
		},
	}
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Run: func(cmd *cobra.Command, args []string) {
			out := render.Stdout()
			infos := manager.ListAgents()
			out.Println("AGENTS: %d", len(infos))
			for _, info := range infos {
				out.Item("%s", info.Name)
				out.SubItem("%s", info.Description)
				if len(info.Capabilities) > 0 {
					out.SubItem("capabilities: %v", info.Capabilities)
				}
			}
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available plan tools",
		Run: func(cmd *cobra.Command, args []string) {
			out := render.Stdout()
			names := registry.Names()
			out.Println("TOOLS: %d", len(names))
			for _, name := range names {
				out.Item("%s", name)
			}
		},
	}
}
