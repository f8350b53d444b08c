package agent

import (
	"time"

	"github.com/aristath/hive/internal/task"
)

// Assignment is the payload of a task_assignment message sent by the
// scheduler to an agent's mailbox. The task is a snapshot; the registry
// remains the source of truth for lifecycle state.
type Assignment struct {
	Task task.Task
}

// Result is the payload of a task_result message an agent sends to the
// coordinator when execution succeeds.
type Result struct {
	TaskID      string
	AgentName   string
	Output      string
	CompletedAt time.Time
}

// Failure is the payload of a task_failure message an agent sends to the
// coordinator when execution fails or is cancelled mid-flight.
type Failure struct {
	TaskID    string
	AgentName string
	Reason    string
	Cancelled bool
	FailedAt  time.Time
}
