package workload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/hive/internal/config"
)

func TestParseValidWorkload(t *testing.T) {
	data := []byte(`
agents:
  - name: researcher
    capabilities: [research]
    max_concurrent: 2
  - name: writer
    capabilities: [writing, summarization]
    max_concurrent: 1

tasks:
  - name: gather
    description: Gather sources
    priority: high
    requires: [research]
  - name: report
    description: Write the report
    requires: [writing]
    depends_on: [gather]
    deadline_ms: 60000
`)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(w.Agents) != 2 || len(w.Tasks) != 2 {
		t.Fatalf("parsed %d agents / %d tasks, want 2/2", len(w.Agents), len(w.Tasks))
	}
	if w.Agents[0].Name != "researcher" || w.Agents[0].MaxConcurrent != 2 {
		t.Errorf("agent[0] = %+v", w.Agents[0])
	}
	if w.Tasks[1].DependsOn[0] != "gather" || w.Tasks[1].DeadlineMS != 60000 {
		t.Errorf("task[1] = %+v", w.Tasks[1])
	}
}

func TestParseSystemAndExecutorBlocks(t *testing.T) {
	data := []byte(`
system:
  tick_interval_ms: 50
  result_wait_ms: 5000

agents:
  - name: sim
    capabilities: [a]
    executor:
      min_delay_ms: 10
      max_delay_ms: 20
      fail_rate: 0.25
      outputs: [first draft, second draft]
  - name: shell
    capabilities: [b]
    executor:
      type: command
      command: ./run.sh
      args: [--fast]
`)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if w.System.TickIntervalMS != 50 || w.System.ResultWaitMS != 5000 {
		t.Errorf("system = %+v", w.System)
	}
	if w.Agents[0].Executor.FailRate != 0.25 {
		t.Errorf("sim executor = %+v", w.Agents[0].Executor)
	}
	if len(w.Agents[0].Executor.Outputs) != 2 || w.Agents[0].Executor.Outputs[1] != "second draft" {
		t.Errorf("sim outputs = %v", w.Agents[0].Executor.Outputs)
	}
	if w.Agents[1].Executor.Command != "./run.sh" || w.Agents[1].Executor.Args[0] != "--fast" {
		t.Errorf("shell executor = %+v", w.Agents[1].Executor)
	}

	cfg := config.DefaultConfig()
	w.System.Apply(cfg)
	if cfg.Timing.TickIntervalMS != 50 {
		t.Errorf("tick override not applied, got %d", cfg.Timing.TickIntervalMS)
	}
	if cfg.Timing.ResultWaitMS != 5000 {
		t.Errorf("result wait override not applied, got %d", cfg.Timing.ResultWaitMS)
	}
	// StopGraceMS was zero in the file, so the default must survive.
	if cfg.Timing.StopGraceMS != config.DefaultConfig().Timing.StopGraceMS {
		t.Errorf("stop grace changed to %d without an override", cfg.Timing.StopGraceMS)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	data := []byte(`
agents:
  - name: researcher
    skills: [research]
`)

	if _, err := Parse(data); err == nil {
		t.Fatal("Parse accepted an unknown field")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "duplicate agent name",
			yaml: `
agents:
  - name: a
  - name: a
`,
			wantErr: "defined twice",
		},
		{
			name: "duplicate task name",
			yaml: `
tasks:
  - name: t
    description: one
  - name: t
    description: two
`,
			wantErr: "defined twice",
		},
		{
			name: "missing description",
			yaml: `
tasks:
  - name: t
`,
			wantErr: "description is required",
		},
		{
			name: "bad priority",
			yaml: `
tasks:
  - name: t
    description: x
    priority: urgent-ish
`,
			wantErr: "priority",
		},
		{
			name: "forward dependency reference",
			yaml: `
tasks:
  - name: first
    description: x
    depends_on: [second]
  - name: second
    description: y
`,
			wantErr: "not defined earlier",
		},
		{
			name: "self dependency",
			yaml: `
tasks:
  - name: t
    description: x
    depends_on: [t]
`,
			wantErr: "depends on itself",
		},
		{
			name: "negative deadline",
			yaml: `
tasks:
  - name: t
    description: x
    deadline_ms: -1
`,
			wantErr: "deadline_ms",
		},
		{
			name: "command executor without command",
			yaml: `
agents:
  - name: a
    executor:
      type: command
`,
			wantErr: "requires a command",
		},
		{
			name: "unknown executor type",
			yaml: `
agents:
  - name: a
    executor:
      type: quantum
`,
			wantErr: "unknown executor type",
		},
		{
			name: "outputs on a command executor",
			yaml: `
agents:
  - name: a
    executor:
      type: command
      command: ./run.sh
      outputs: [canned]
`,
			wantErr: "outputs set",
		},
		{
			name: "fail rate out of range",
			yaml: `
agents:
  - name: a
    executor:
      fail_rate: 1.5
`,
			wantErr: "fail_rate",
		},
		{
			name: "negative system override",
			yaml: `
system:
  tick_interval_ms: -5
`,
			wantErr: "system overrides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	content := `
agents:
  - name: solo
    capabilities: [x]
tasks:
  - name: only
    description: the only task
    requires: [x]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing workload file: %v", err)
	}

	w, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(w.Agents) != 1 || len(w.Tasks) != 1 {
		t.Errorf("parsed %d agents / %d tasks", len(w.Agents), len(w.Tasks))
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ParseFile on a missing file succeeded")
	}
}

func TestDefaultWorkloadIsValid(t *testing.T) {
	w := Default()
	if err := w.Validate(); err != nil {
		t.Fatalf("default workload invalid: %v", err)
	}
	if len(w.Agents) != 3 {
		t.Errorf("default agents = %d, want 3", len(w.Agents))
	}
	if len(w.Tasks) != 5 {
		t.Errorf("default tasks = %d, want 5", len(w.Tasks))
	}

	// Every required capability must be covered by some agent, or the
	// demo would starve.
	covered := make(map[string]bool)
	for _, a := range w.Agents {
		for _, c := range a.Capabilities {
			covered[c] = true
		}
	}
	for _, tk := range w.Tasks {
		for _, req := range tk.Requires {
			if !covered[req] {
				t.Errorf("task %q requires %q, no agent provides it", tk.Name, req)
			}
		}
	}
}
