// Package main is the aegis command line interface.
package main

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arlen/aegis/internal/agent"
	"github.com/arlen/aegis/internal/config"
	"github.com/arlen/aegis/internal/engine"
	"github.com/arlen/aegis/internal/exec"
	"github.com/arlen/aegis/internal/planner"
	"github.com/arlen/aegis/internal/replan"
	"github.com/arlen/aegis/internal/store"
	"github.com/arlen/aegis/internal/tools"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

// Shared runtime state, wired in PersistentPreRun.
var (
	cfg          *config.AegisEnv
	repo         store.Repository
	registry     *tools.Registry
	executor     *exec.Executor
	taskPlanner  planner.Planner
	taskEngine   *engine.Engine
	manager      *agent.Manager
	closePlanner func() error
)

// commandBinaries are external tools exposed to plans when present
// on PATH. Each becomes a tool named after its binary.
var commandBinaries = []string{"nmap", "dig", "whois", "curl"}

func main() {
	rootCmd := &cobra.Command{
		Use:   "aegis",
		Short: "Aegis - autonomous task orchestration engine",
		Long: `Aegis plans, executes and repairs multi-step tasks.

A task description is decomposed into an execution plan, the plan is
run concurrently with per-step retries and timeouts, and failed runs
are replanned using a strategy picked from the dominant failure cause.

Use 'aegis run' to execute a task end to end.
Use 'aegis doctor' to check the local setup.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initRuntime()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeRuntime()
		},
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	for _, c := range []*cobra.Command{runCmd(), planCmd(), cancelCmd()} {
		c.GroupID = "tasks"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{statusCmd(), sessionsCmd(), statsCmd(), agentsCmd(), toolsCmd()} {
		c.GroupID = "inspect"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{serveCmd(), doctorCmd(), versionCmd()} {
		c.GroupID = "system"
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initRuntime builds the planner, executor, replanner and manager.
// The repository is best effort: commands still work without it,
// they just lose history.
func initRuntime() {
	cfg = config.Env()

	if err := config.EnsureDir(config.Home()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot create %s: %v\n", config.Home(), err)
	} else if r, err := store.OpenSQLite(cfg.DBPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: repository unavailable: %v\n", err)
	} else {
		repo = r
	}

	registry = tools.DefaultRegistry()
	runner := tools.NewOSRunner()
	for _, bin := range commandBinaries {
		if _, err := osexec.LookPath(bin); err == nil {
			registry.Register(tools.NewCommandTool(bin, bin, runner))
		}
	}

	var reasoner exec.Reasoner
	if cfg.GeminiKey != "" {
		g, err := planner.NewGemini(context.Background(), cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: model planner unavailable, falling back to offline planner: %v\n", err)
		} else {
			taskPlanner = g
			reasoner = g
			closePlanner = g.Close
		}
	}
	if taskPlanner == nil {
		s := planner.Static{}
		taskPlanner = s
		reasoner = s
	}

	executor = exec.New(registry, reasoner, exec.Config{
		FailureRatio:       cfg.FailureRatio,
		DefaultStepTimeout: cfg.DefaultStepTimeout,
	})
	replanner := replan.New(taskPlanner, replan.Config{
		MaxAttempts:         cfg.MaxReplanAttempts,
		SimilarityThreshold: cfg.ReplanThreshold,
	})
	taskEngine = engine.New(taskPlanner, executor, replanner)

	manager = agent.NewManager(repo, cfg.CompletedCap)

	// Capability agents first: selection walks registration order and
	// the general agent accepts everything.
	recon := agent.NewPlanExecute(agent.Info{
		Name:         "recon",
		Description:  "network reconnaissance agent",
		Capabilities: []string{"scan", "port", "dns", "whois", "recon"},
	}, taskEngine, executor)
	general := agent.NewPlanExecute(agent.Info{
		Name:        "general",
		Description: "plan-and-execute agent for arbitrary tasks",
	}, taskEngine, executor)
	for _, a := range []agent.Agent{recon, general} {
		if err := manager.RegisterAgent(a); err != nil {
			fatalError(err)
		}
	}
}

func closeRuntime() {
	if closePlanner != nil {
		_ = closePlanner()
	}
	if repo != nil {
		_ = repo.Close()
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aegis %s (%s)\n", version, commit)
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup",
		Long:  "Verify the home directory, repository, planner and external tools.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			fmt.Println("AEGIS DOCTOR")
			fmt.Println()

			check("home directory", config.EnsureDir(config.Home()) == nil, config.Home())

			if repo == nil {
				check("repository", false, cfg.DBPath)
			} else {
				check("repository", repo.Ping(ctx) == nil, cfg.DBPath)
			}

			if cfg.GeminiKey != "" {
				check("planner", closePlanner != nil, cfg.GeminiModel)
			} else {
				fmt.Printf("  %s planner (offline, set GEMINI_API_KEY for model planning)\n",
					color.YellowString("•"))
			}

			for _, bin := range commandBinaries {
				path, err := osexec.LookPath(bin)
				check("tool "+bin, err == nil, path)
			}
		},
	}
}

func check(name string, ok bool, detail string) {
	if ok {
		fmt.Printf("  %s %s (%s)\n", color.GreenString("✓"), name, detail)
		return
	}
	fmt.Printf("  %s %s\n", color.RedString("✗"), name)
}

func fatalError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func fatalErrorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
