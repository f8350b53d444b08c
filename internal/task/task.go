package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks for assignment. Higher values are assigned first;
// within a tier, earlier submissions win.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a name like "high" into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Status represents the lifecycle state of a task.
type Status int

const (
	StatusPending Status = iota
	StatusAssigned
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusExpired
	StatusCancelled
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAssigned:
		return "assigned"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of work submitted to the coordination core. Identity is
// immutable; lifecycle state transitions only through the scheduler
// registry. Result is set exactly when Status is StatusCompleted,
// FailureReason exactly when Status is StatusFailed.
type Task struct {
	ID            string
	Description   string
	Requires      []string // capability tags an agent must cover
	Priority      Priority
	DependsOn     []string  // ids of tasks that must complete first
	Deadline      time.Time // zero means no deadline
	Status        Status
	AssignedTo    string
	Result        string
	FailureReason string
	CreatedAt     time.Time
	StartedAt     time.Time // set when the task starts running
	FinishedAt    time.Time // set on the terminal transition
	Seq           uint64    // submission sequence, stamped by the registry
}

// Option configures a task under construction.
type Option func(*Task)

// WithPriority sets the task priority.
func WithPriority(p Priority) Option {
	return func(t *Task) { t.Priority = p }
}

// WithCapabilities sets the capability tags the task requires.
func WithCapabilities(tags ...string) Option {
	return func(t *Task) { t.Requires = append([]string(nil), tags...) }
}

// WithDependencies sets the ids of tasks that must complete first.
func WithDependencies(ids ...string) Option {
	return func(t *Task) { t.DependsOn = append([]string(nil), ids...) }
}

// WithDeadline sets the absolute deadline after which the task expires
// if it has not started running.
func WithDeadline(at time.Time) Option {
	return func(t *Task) { t.Deadline = at }
}

// New creates a pending task with a fresh id and the given description.
func New(description string, opts ...Option) *Task {
	t := &Task{
		ID:          uuid.New().String(),
		Description: description,
		Priority:    PriorityMedium,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Clone returns a deep copy safe to hand to readers.
func (t *Task) Clone() *Task {
	c := *t
	c.Requires = append([]string(nil), t.Requires...)
	c.DependsOn = append([]string(nil), t.DependsOn...)
	return &c
}

// MarshalJSON renders status and priority as their string names so
// snapshots read well in logs and archives.
func (t *Task) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID            string    `json:"id"`
		Description   string    `json:"description"`
		Requires      []string  `json:"requires,omitempty"`
		Priority      string    `json:"priority"`
		DependsOn     []string  `json:"depends_on,omitempty"`
		Deadline      time.Time `json:"deadline,omitzero"`
		Status        string    `json:"status"`
		AssignedTo    string    `json:"assigned_to,omitempty"`
		Result        string    `json:"result,omitempty"`
		FailureReason string    `json:"failure_reason,omitempty"`
		CreatedAt     time.Time `json:"created_at"`
		StartedAt     time.Time `json:"started_at,omitzero"`
		FinishedAt    time.Time `json:"finished_at,omitzero"`
	}
	return json.Marshal(alias{
		ID:            t.ID,
		Description:   t.Description,
		Requires:      t.Requires,
		Priority:      t.Priority.String(),
		DependsOn:     t.DependsOn,
		Deadline:      t.Deadline,
		Status:        t.Status.String(),
		AssignedTo:    t.AssignedTo,
		Result:        t.Result,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		StartedAt:     t.StartedAt,
		FinishedAt:    t.FinishedAt,
	})
}
