package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/config"
	"github.com/aristath/hive/internal/executor"
	"github.com/aristath/hive/internal/history"
	"github.com/aristath/hive/internal/system"
	"github.com/aristath/hive/internal/task"
	"github.com/aristath/hive/internal/tui"
	"github.com/aristath/hive/internal/workload"
)

var (
	runHeadless   bool
	runConfigPath string
	runDBPath     string
	runTickMS     int
)

var runCmd = &cobra.Command{
	Use:   "run [workload.yaml]",
	Short: "Run a workload",
	Long: `Run a workload: register its agents, submit its tasks, and follow
the run in the dashboard (default) or as log lines (--headless).

The command returns once every submitted task reaches a terminal
state, the dashboard is quit, or a signal arrives. Without a workload
file it runs the built-in three-agent research demo.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkload,
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run without the dashboard, logging events to stderr")
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Project config file (default .hive/config.json)")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "Archive terminal tasks to this SQLite file")
	runCmd.Flags().IntVar(&runTickMS, "tick", 0, "Assignment pass interval in milliseconds")
}

func runWorkload(cmd *cobra.Command, args []string) error {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := workload.Default()
	if len(args) == 1 {
		var err error
		w, err = workload.ParseFile(args[0])
		if err != nil {
			return err
		}
	}

	cfg, globalPath, projectPath, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}

	// Precedence: flags over workload overrides over config files.
	w.System.Apply(cfg)
	if runTickMS > 0 {
		cfg.Timing.TickIntervalMS = runTickMS
	}
	if runDBPath != "" {
		cfg.History.Enabled = true
		cfg.History.Path = runDBPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var opts []system.Option
	if cfg.History.Enabled {
		store, err := history.NewSQLiteStore(ctx, cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer store.Close()
		opts = append(opts, system.WithHistory(store))
	}

	sys := system.New(*cfg, opts...)

	agents, err := buildAgents(w, retryPolicy(cfg.Retry))
	if err != nil {
		return err
	}

	if runHeadless {
		return runHeadlessMode(ctx, sys, cfg, agents, w)
	}
	return runDashboard(ctx, stop, sys, cfg, agents, w, globalPath, projectPath)
}

// loadConfig resolves the config file paths and loads the merged
// configuration. A --config path replaces the project-level file.
func loadConfig(projectOverride string) (*config.Config, string, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", "", fmt.Errorf("getting home directory: %w", err)
	}
	globalPath := filepath.Join(homeDir, ".hive", "config.json")
	projectPath := filepath.Join(".hive", "config.json")
	if projectOverride != "" {
		projectPath = projectOverride
	}

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, "", "", err
	}
	return cfg, globalPath, projectPath, nil
}

// retryPolicy maps the retry section of the configuration onto the
// agents' execution retry policy.
func retryPolicy(rc config.RetryConfig) agent.RetryPolicy {
	p := agent.DefaultRetryPolicy()
	p.MaxRetries = uint64(rc.MaxRetries)
	p.InitialInterval = time.Duration(rc.InitialIntervalMS) * time.Millisecond
	p.MaxInterval = time.Duration(rc.MaxIntervalMS) * time.Millisecond
	p.Multiplier = rc.Multiplier
	return p
}

// buildAgents constructs one agent per workload entry, each with its
// declared execution backend.
func buildAgents(w *workload.Workload, retry agent.RetryPolicy) ([]*agent.Agent, error) {
	agents := make([]*agent.Agent, 0, len(w.Agents))
	for _, spec := range w.Agents {
		exec, err := executor.New(executor.Config{
			Kind:       spec.Executor.Type,
			Seed:       spec.Executor.Seed,
			MinDelayMS: spec.Executor.MinDelayMS,
			MaxDelayMS: spec.Executor.MaxDelayMS,
			FailRate:   spec.Executor.FailRate,
			Outputs:    spec.Executor.Outputs,
			Command:    spec.Executor.Command,
			Args:       spec.Executor.Args,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", spec.Name, err)
		}
		agents = append(agents, agent.New(spec.Name, spec.Capabilities, spec.MaxConcurrent, exec,
			agent.WithRetryPolicy(retry)))
	}
	return agents, nil
}

// startAndSubmit registers the agents, starts the system, and submits
// every task with depends_on names resolved to the ids generated at
// submission. Returns the submitted ids in workload order.
func startAndSubmit(ctx context.Context, sys *system.System, agents []*agent.Agent, w *workload.Workload) ([]string, error) {
	for _, a := range agents {
		if err := sys.RegisterAgent(a); err != nil {
			return nil, fmt.Errorf("registering agent %q: %w", a.Name(), err)
		}
	}
	if err := sys.Start(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(w.Tasks))
	byName := make(map[string]string, len(w.Tasks))
	for _, ts := range w.Tasks {
		prio, err := task.ParsePriority(ts.Priority)
		if err != nil {
			return ids, fmt.Errorf("task %q: %w", ts.Name, err)
		}

		opts := []task.Option{task.WithPriority(prio)}
		if len(ts.Requires) > 0 {
			opts = append(opts, task.WithCapabilities(ts.Requires...))
		}
		if len(ts.DependsOn) > 0 {
			depIDs := make([]string, 0, len(ts.DependsOn))
			for _, dep := range ts.DependsOn {
				id, ok := byName[dep]
				if !ok {
					return ids, fmt.Errorf("task %q depends on %q, which was not submitted", ts.Name, dep)
				}
				depIDs = append(depIDs, id)
			}
			opts = append(opts, task.WithDependencies(depIDs...))
		}
		if ts.DeadlineMS > 0 {
			opts = append(opts, task.WithDeadline(time.Now().Add(time.Duration(ts.DeadlineMS)*time.Millisecond)))
		}

		id, err := sys.Submit(ts.Description, opts...)
		if err != nil {
			return ids, fmt.Errorf("submitting task %q: %w", ts.Name, err)
		}
		byName[ts.Name] = id
		ids = append(ids, id)
	}
	return ids, nil
}

// stopSystem shuts the system down with headroom beyond the drain
// grace, so a slow drain is reported rather than cut off mid-teardown.
func stopSystem(sys *system.System, cfg *config.Config) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Timing.StopGrace()+5*time.Second)
	defer cancel()
	return sys.Stop(stopCtx)
}

// runDashboard drives the run under the TUI. The model is constructed
// before Start so its event subscription sees the whole lifecycle.
func runDashboard(ctx context.Context, stop context.CancelFunc, sys *system.System, cfg *config.Config,
	agents []*agent.Agent, w *workload.Workload, globalPath, projectPath string) error {

	model := tui.New(sys, cfg, globalPath, projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := startAndSubmit(ctx, sys, agents, w); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	select {
	case err := <-errChan:
		// Normal exit: user quit the dashboard
		if stopErr := stopSystem(sys, cfg); err == nil {
			err = stopErr
		}
		return err

	case <-ctx.Done():
		// Signal received. Restore default signal handling so a second
		// Ctrl+C forces exit.
		stop()
		log.Println("Shutdown signal received, cleaning up...")

		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case err := <-errChan:
			if err != nil {
				log.Printf("dashboard exit error: %v", err)
			}
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}

		return stopSystem(sys, cfg)
	}
}
