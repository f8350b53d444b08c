package task

import (
	"strings"
	"testing"
	"time"
)

// TestNewDefaults verifies a fresh task starts pending with sane defaults.
func TestNewDefaults(t *testing.T) {
	created := New("summarize the findings")

	if created.ID == "" {
		t.Error("expected a generated id")
	}
	if created.Status != StatusPending {
		t.Errorf("expected pending, got %s", created.Status)
	}
	if created.Priority != PriorityMedium {
		t.Errorf("expected medium priority, got %s", created.Priority)
	}
	if !created.Deadline.IsZero() {
		t.Error("expected no deadline by default")
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	other := New("another task")
	if other.ID == created.ID {
		t.Error("expected distinct ids for distinct tasks")
	}
}

// TestNewOptions verifies the functional options apply.
func TestNewOptions(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	created := New("analyze data",
		WithPriority(PriorityCritical),
		WithCapabilities("analysis", "statistics"),
		WithDependencies("dep-1", "dep-2"),
		WithDeadline(deadline),
	)

	if created.Priority != PriorityCritical {
		t.Errorf("expected critical, got %s", created.Priority)
	}
	if len(created.Requires) != 2 || created.Requires[0] != "analysis" {
		t.Errorf("unexpected capabilities: %v", created.Requires)
	}
	if len(created.DependsOn) != 2 || created.DependsOn[1] != "dep-2" {
		t.Errorf("unexpected dependencies: %v", created.DependsOn)
	}
	if !created.Deadline.Equal(deadline) {
		t.Errorf("expected deadline %v, got %v", deadline, created.Deadline)
	}
}

// TestParsePriority validates name-to-priority conversion.
func TestParsePriority(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Priority
		wantErr bool
	}{
		{name: "low", input: "low", want: PriorityLow},
		{name: "medium", input: "medium", want: PriorityMedium},
		{name: "high uppercase", input: "HIGH", want: PriorityHigh},
		{name: "critical padded", input: " critical ", want: PriorityCritical},
		{name: "empty defaults to medium", input: "", want: PriorityMedium},
		{name: "unknown", input: "urgent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePriority(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestStatusTerminal verifies which states end the lifecycle.
func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusAssigned, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusExpired, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s: Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

// TestCloneIndependence verifies a clone shares no mutable state.
func TestCloneIndependence(t *testing.T) {
	orig := New("original", WithCapabilities("x"), WithDependencies("d1"))
	clone := orig.Clone()

	clone.Requires[0] = "changed"
	clone.DependsOn[0] = "changed"
	clone.Status = StatusRunning

	if orig.Requires[0] != "x" {
		t.Error("clone mutation leaked into original capabilities")
	}
	if orig.DependsOn[0] != "d1" {
		t.Error("clone mutation leaked into original dependencies")
	}
	if orig.Status != StatusPending {
		t.Error("clone mutation leaked into original status")
	}
}

// TestMarshalJSONNames verifies snapshots render enum names, not numbers.
func TestMarshalJSONNames(t *testing.T) {
	created := New("write report", WithPriority(PriorityHigh))
	created.Status = StatusCompleted
	created.Result = "done"

	data, err := created.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	s := string(data)
	for _, want := range []string{`"priority":"high"`, `"status":"completed"`, `"result":"done"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}
