package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Subject() string
}

// Topic constants
const (
	TopicTask   = "task"
	TopicAgent  = "agent"
	TopicSystem = "system"
)

// Event type constants
const (
	EventTypeTaskSubmitted   = "task.submitted"
	EventTypeTaskAssigned    = "task.assigned"
	EventTypeTaskCompleted   = "task.completed"
	EventTypeTaskFailed      = "task.failed"
	EventTypeTaskExpired     = "task.expired"
	EventTypeTaskCancelled   = "task.cancelled"
	EventTypeAgentRegistered = "agent.registered"
	EventTypeSystemStarted   = "system.started"
	EventTypeSystemStopped   = "system.stopped"
	EventTypeStarvation      = "system.starvation"
)

// Cancellation causes carried by TaskCancelledEvent.
const (
	CauseDependency = "dependency_terminal"
	CauseShutdown   = "system_stop"
	CauseRequested  = "requested"
)

// TaskSubmittedEvent is published when a task enters the registry.
type TaskSubmittedEvent struct {
	ID          string
	Description string
	Priority    string
	Timestamp   time.Time
}

func (e TaskSubmittedEvent) EventType() string { return EventTypeTaskSubmitted }
func (e TaskSubmittedEvent) Subject() string   { return e.ID }

// TaskAssignedEvent is published when an assignment pass hands a task
// to an agent.
type TaskAssignedEvent struct {
	ID        string
	Agent     string
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) Subject() string   { return e.ID }

// TaskCompletedEvent is published when an agent reports success.
type TaskCompletedEvent struct {
	ID        string
	Agent     string
	Result    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Subject() string   { return e.ID }

// TaskFailedEvent is published when an agent reports an execution
// failure.
type TaskFailedEvent struct {
	ID        string
	Agent     string
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Subject() string   { return e.ID }

// TaskExpiredEvent is published when a deadline passes before the task
// could run.
type TaskExpiredEvent struct {
	ID        string
	Deadline  time.Time
	Timestamp time.Time
}

func (e TaskExpiredEvent) EventType() string { return EventTypeTaskExpired }
func (e TaskExpiredEvent) Subject() string   { return e.ID }

// TaskCancelledEvent is published for explicit cancellations, shutdown
// sweeps, and dependency cascades.
type TaskCancelledEvent struct {
	ID        string
	Cause     string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) Subject() string   { return e.ID }

// AgentRegisteredEvent is published when an agent joins the roster.
type AgentRegisteredEvent struct {
	Name          string
	Capabilities  []string
	MaxConcurrent int
	Timestamp     time.Time
}

func (e AgentRegisteredEvent) EventType() string { return EventTypeAgentRegistered }
func (e AgentRegisteredEvent) Subject() string   { return e.Name }

// SystemStartedEvent is published once the coordinator loop is live.
type SystemStartedEvent struct {
	Agents    int
	Timestamp time.Time
}

func (e SystemStartedEvent) EventType() string { return EventTypeSystemStarted }
func (e SystemStartedEvent) Subject() string   { return "system" }

// SystemStoppedEvent is published after shutdown completes.
type SystemStoppedEvent struct {
	Cancelled int
	Timestamp time.Time
}

func (e SystemStoppedEvent) EventType() string { return EventTypeSystemStopped }
func (e SystemStoppedEvent) Subject() string   { return "system" }

// StarvationEvent is published when an assignment pass finds pending
// tasks no registered agent can ever cover.
type StarvationEvent struct {
	TaskIDs   []string
	Timestamp time.Time
}

func (e StarvationEvent) EventType() string { return EventTypeStarvation }
func (e StarvationEvent) Subject() string   { return "system" }
