// Package workload loads declarative agent rosters and task batches
// from YAML, for seeding a coordination run from a file instead of
// code.
package workload

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/hive/internal/config"
	"github.com/aristath/hive/internal/task"
)

// SystemSpec overrides parts of the runtime configuration for one run.
// Zero values leave the configured value in place.
type SystemSpec struct {
	TickIntervalMS int `yaml:"tick_interval_ms"`
	ResultWaitMS   int `yaml:"result_wait_ms"`
	StopGraceMS    int `yaml:"stop_grace_ms"`
}

// Apply copies the non-zero overrides onto the configuration.
func (s SystemSpec) Apply(cfg *config.Config) {
	if s.TickIntervalMS > 0 {
		cfg.Timing.TickIntervalMS = s.TickIntervalMS
	}
	if s.ResultWaitMS > 0 {
		cfg.Timing.ResultWaitMS = s.ResultWaitMS
	}
	if s.StopGraceMS > 0 {
		cfg.Timing.StopGraceMS = s.StopGraceMS
	}
}

// ExecutorSpec selects an agent's execution backend. The zero value is
// a simulated executor with default settings.
type ExecutorSpec struct {
	Type       string   `yaml:"type"` // "simulated" (default) or "command"
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	Seed       int64    `yaml:"seed"`
	MinDelayMS int      `yaml:"min_delay_ms"`
	MaxDelayMS int      `yaml:"max_delay_ms"`
	FailRate   float64  `yaml:"fail_rate"`
	Outputs    []string `yaml:"outputs"` // scripted results, cycled per execution
}

func (e ExecutorSpec) validate() error {
	switch e.Type {
	case "", "simulated":
		if e.Command != "" {
			return fmt.Errorf("executor command set but type is simulated")
		}
	case "command":
		if e.Command == "" {
			return fmt.Errorf("command executor requires a command")
		}
		if len(e.Outputs) > 0 {
			return fmt.Errorf("executor outputs set but type is command")
		}
	default:
		return fmt.Errorf("unknown executor type %q", e.Type)
	}
	if e.MinDelayMS < 0 || e.MaxDelayMS < 0 {
		return fmt.Errorf("executor delays must not be negative")
	}
	if e.FailRate < 0 || e.FailRate > 1 {
		return fmt.Errorf("executor fail_rate must be between 0 and 1, got %g", e.FailRate)
	}
	return nil
}

// AgentSpec declares one agent to register.
type AgentSpec struct {
	Name          string       `yaml:"name"`
	Capabilities  []string     `yaml:"capabilities"`
	MaxConcurrent int          `yaml:"max_concurrent"`
	Executor      ExecutorSpec `yaml:"executor"`
}

// TaskSpec declares one task to submit. DependsOn refers to the names
// of tasks defined earlier in the same file; ids are generated at
// submission time.
type TaskSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Priority    string   `yaml:"priority"`
	Requires    []string `yaml:"requires"`
	DependsOn   []string `yaml:"depends_on"`
	DeadlineMS  int      `yaml:"deadline_ms"` // relative to submission, 0 means none
}

// Workload is a declarative run definition.
type Workload struct {
	System SystemSpec  `yaml:"system"`
	Agents []AgentSpec `yaml:"agents"`
	Tasks  []TaskSpec  `yaml:"tasks"`
}

// Parse decodes a workload definition. Unknown fields are errors.
func Parse(data []byte) (*Workload, error) {
	var w Workload

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&w); err != nil {
		return nil, fmt.Errorf("parsing workload: %w", err)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// ParseFile decodes a workload definition from a file.
func ParseFile(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks internal consistency: unique names, parseable
// priorities, and dependencies that refer to tasks defined earlier in
// the file. Definition order is submission order, so forward or
// unknown references would be rejected at submission anyway; catching
// them here gives file/line context instead of a runtime error.
func (w *Workload) Validate() error {
	if w.System.TickIntervalMS < 0 || w.System.ResultWaitMS < 0 || w.System.StopGraceMS < 0 {
		return fmt.Errorf("system overrides must not be negative")
	}

	agentNames := make(map[string]bool, len(w.Agents))
	for i, a := range w.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if agentNames[a.Name] {
			return fmt.Errorf("agent %q defined twice", a.Name)
		}
		agentNames[a.Name] = true
		if a.MaxConcurrent < 0 {
			return fmt.Errorf("agent %q: max_concurrent must not be negative", a.Name)
		}
		if err := a.Executor.validate(); err != nil {
			return fmt.Errorf("agent %q: %w", a.Name, err)
		}
	}

	taskNames := make(map[string]bool, len(w.Tasks))
	for i, t := range w.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d: name is required", i)
		}
		if taskNames[t.Name] {
			return fmt.Errorf("task %q defined twice", t.Name)
		}
		if t.Description == "" {
			return fmt.Errorf("task %q: description is required", t.Name)
		}
		if _, err := task.ParsePriority(t.Priority); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
		if t.DeadlineMS < 0 {
			return fmt.Errorf("task %q: deadline_ms must not be negative", t.Name)
		}
		for _, dep := range t.DependsOn {
			if dep == t.Name {
				return fmt.Errorf("task %q depends on itself", t.Name)
			}
			if !taskNames[dep] {
				return fmt.Errorf("task %q depends on %q, which is not defined earlier in the file", t.Name, dep)
			}
		}
		taskNames[t.Name] = true
	}

	return nil
}

// Default returns the built-in demonstration workload: a three-agent
// research pipeline with a fan-in on the final report.
func Default() *Workload {
	return &Workload{
		Agents: []AgentSpec{
			{
				Name:          "researcher",
				Capabilities:  []string{"research", "web_search"},
				MaxConcurrent: 2,
				Executor:      ExecutorSpec{MinDelayMS: 400, MaxDelayMS: 1500},
			},
			{
				Name:          "analyst",
				Capabilities:  []string{"analysis", "statistics"},
				MaxConcurrent: 2,
				Executor:      ExecutorSpec{MinDelayMS: 600, MaxDelayMS: 2000},
			},
			{
				Name:          "writer",
				Capabilities:  []string{"writing", "summarization"},
				MaxConcurrent: 1,
				Executor:      ExecutorSpec{MinDelayMS: 800, MaxDelayMS: 2500},
			},
		},
		Tasks: []TaskSpec{
			{
				Name:        "gather",
				Description: "Gather background sources on the topic",
				Priority:    "high",
				Requires:    []string{"research"},
			},
			{
				Name:        "verify",
				Description: "Cross-check key claims in the gathered sources",
				Priority:    "medium",
				Requires:    []string{"research"},
				DependsOn:   []string{"gather"},
			},
			{
				Name:        "analyze",
				Description: "Extract trends and statistics from the sources",
				Priority:    "high",
				Requires:    []string{"analysis"},
				DependsOn:   []string{"gather"},
			},
			{
				Name:        "draft",
				Description: "Draft a report from the verified analysis",
				Priority:    "medium",
				Requires:    []string{"writing"},
				DependsOn:   []string{"analyze", "verify"},
			},
			{
				Name:        "summarize",
				Description: "Write an executive summary of the report",
				Priority:    "critical",
				Requires:    []string{"writing", "summarization"},
				DependsOn:   []string{"draft"},
			},
		},
	}
}
