// Package executor provides the execution backends agents run tasks
// through: an in-process simulator for demos and tests, and a
// subprocess runner for delegating to external commands.
package executor

import (
	"fmt"
	"time"

	"github.com/aristath/hive/internal/agent"
)

// Config selects and parameterizes an executor implementation.
type Config struct {
	Kind string // "simulated" or "command"

	// Simulated executor knobs.
	Seed       int64
	MinDelayMS int
	MaxDelayMS int
	FailRate   float64
	Outputs    []string

	// Command executor knobs.
	Command string
	Args    []string
}

// New creates an executor based on the provided configuration.
func New(cfg Config) (agent.Executor, error) {
	switch cfg.Kind {
	case "", "simulated":
		sim := NewSimulated(
			cfg.Seed,
			time.Duration(cfg.MinDelayMS)*time.Millisecond,
			time.Duration(cfg.MaxDelayMS)*time.Millisecond,
			cfg.FailRate,
		)
		if len(cfg.Outputs) > 0 {
			sim.Scripted(cfg.Outputs...)
		}
		return sim, nil
	case "command":
		if cfg.Command == "" {
			return nil, fmt.Errorf("command executor requires a command")
		}
		return NewCommand(cfg.Command, cfg.Args...), nil
	default:
		return nil, fmt.Errorf("unknown executor kind: %s", cfg.Kind)
	}
}
