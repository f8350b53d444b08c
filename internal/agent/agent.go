// Package agent implements the worker abstraction of the coordination
// core: a named capability set with a concurrency limit, driven by bus
// messages. The scheduler reserves a slot synchronously via Assign and
// notifies the agent over the bus; the agent executes through its
// Executor collaborator and reports exactly one result or failure per
// assignment back to the coordinator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/hive/internal/bus"
	"github.com/aristath/hive/internal/task"
)

// Status represents an agent's lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusBusy
	StatusStopped
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Metrics tracks an agent's execution history.
type Metrics struct {
	TasksCompleted int
	TasksFailed    int
	TotalExecTime  time.Duration
	LastActivity   time.Time
}

// Snapshot is a read-only view of an agent for status reporting.
type Snapshot struct {
	Name          string
	Capabilities  []string
	MaxConcurrent int
	Load          int
	Status        Status
	Metrics       Metrics
}

// Agent holds a capability set, a concurrency limit, current load, and
// status. Identity and capabilities are immutable after construction;
// everything else is guarded by one mutex. Agents start stopped and are
// opened by the orchestrator.
type Agent struct {
	name     string
	caps     map[string]struct{}
	capsList []string
	max      int
	executor Executor
	retry    RetryPolicy
	breaker  *gobreaker.CircuitBreaker

	mu       sync.Mutex
	load     int
	status   Status
	reserved map[string]struct{} // task ids with a held slot
	metrics  Metrics
	inflight sync.WaitGroup
}

// Option configures an agent under construction.
type Option func(*Agent)

// WithRetryPolicy overrides the default no-retry execution policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *Agent) { a.retry = p }
}

// New creates a stopped agent. maxConcurrent values below one are
// raised to one.
func New(name string, capabilities []string, maxConcurrent int, exec Executor, opts ...Option) *Agent {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	caps := make(map[string]struct{}, len(capabilities))
	for _, tag := range capabilities {
		caps[tag] = struct{}{}
	}
	capsList := make([]string, 0, len(caps))
	for tag := range caps {
		capsList = append(capsList, tag)
	}
	sort.Strings(capsList)

	a := &Agent{
		name:     name,
		caps:     caps,
		capsList: capsList,
		max:      maxConcurrent,
		executor: exec,
		retry:    DefaultRetryPolicy(),
		breaker:  newBreaker(name),
		status:   StatusStopped,
		reserved: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's immutable name.
func (a *Agent) Name() string { return a.name }

// HasCapability reports whether the agent advertises the tag.
func (a *Agent) HasCapability(tag string) bool {
	_, ok := a.caps[tag]
	return ok
}

// CanAccept reports whether the agent could take a task requiring the
// given tags right now: not stopped, a spare slot, and every tag held.
func (a *Agent) CanAccept(requires []string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canAcceptLocked(requires)
}

func (a *Agent) canAcceptLocked(requires []string) bool {
	if a.status == StatusStopped || a.load >= a.max {
		return false
	}
	for _, tag := range requires {
		if _, ok := a.caps[tag]; !ok {
			return false
		}
	}
	return true
}

// Covers reports whether the capability set alone would satisfy the
// tags, ignoring load and status. Used to distinguish starvation (no
// capable agent exists) from transient saturation.
func (a *Agent) Covers(requires []string) bool {
	for _, tag := range requires {
		if _, ok := a.caps[tag]; !ok {
			return false
		}
	}
	return true
}

// Assign reserves a concurrency slot for the task. It succeeds only if
// the agent is open, has spare capacity, and covers the task's
// capability requirements; on success the agent is busy until the
// matching execution finishes or the reservation is released.
func (a *Agent) Assign(t *task.Task) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.canAcceptLocked(t.Requires) {
		return false
	}
	if _, dup := a.reserved[t.ID]; dup {
		return false
	}

	a.reserved[t.ID] = struct{}{}
	a.load++
	a.status = StatusBusy
	return true
}

// Release drops a reservation that will never execute, freeing the
// slot. Used when an assigned task expires before its assignment
// message is handled. Unknown ids are a no-op.
func (a *Agent) Release(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.reserved[taskID]; !ok {
		return
	}
	delete(a.reserved, taskID)
	a.load--
	a.refreshStatusLocked()
}

// Start opens a stopped agent for assignment.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != StatusStopped {
		return
	}
	if a.load > 0 {
		a.status = StatusBusy
	} else {
		a.status = StatusIdle
	}
}

// Stop closes the agent to new assignments. In-flight executions keep
// running; use Drain to wait for them.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusStopped
}

// Drain blocks until in-flight executions finish or ctx expires.
func (a *Agent) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("agent %q drain: %w", a.name, ctx.Err())
	}
}

// Snapshot returns a read-only view of the agent.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Snapshot{
		Name:          a.name,
		Capabilities:  append([]string(nil), a.capsList...),
		MaxConcurrent: a.max,
		Load:          a.load,
		Status:        a.status,
		Metrics:       a.metrics,
	}
}

// Run consumes the agent's mailbox until it closes or ctx is cancelled.
// Assignment messages trigger execution; all other traffic only touches
// the activity clock. After cancellation the loop keeps draining so
// every reserved assignment still gets its failure report.
func (a *Agent) Run(ctx context.Context, mailbox <-chan bus.Message, b *bus.MessageBus, reportTo string) {
	for {
		select {
		case <-ctx.Done():
			a.Stop()
			for msg := range mailbox {
				a.handle(ctx, msg, b, reportTo)
			}
			return
		case msg, ok := <-mailbox:
			if !ok {
				return
			}
			a.handle(ctx, msg, b, reportTo)
		}
	}
}

// handle dispatches one mailbox message.
func (a *Agent) handle(ctx context.Context, msg bus.Message, b *bus.MessageBus, reportTo string) {
	a.touch()

	if msg.Type != bus.TypeAssignment {
		return
	}
	assignment, ok := msg.Payload.(Assignment)
	if !ok {
		return
	}
	t := assignment.Task

	a.mu.Lock()
	if _, held := a.reserved[t.ID]; !held {
		// Reservation was released before the message arrived.
		a.mu.Unlock()
		return
	}
	if a.status == StatusStopped && ctx.Err() != nil {
		delete(a.reserved, t.ID)
		a.load--
		a.refreshStatusLocked()
		a.mu.Unlock()
		b.Send(bus.NewMessage(a.name, reportTo, bus.TypeFailure, Failure{
			TaskID:    t.ID,
			AgentName: a.name,
			Reason:    "agent stopped before execution",
			Cancelled: true,
			FailedAt:  time.Now(),
		}))
		return
	}
	a.inflight.Add(1)
	a.mu.Unlock()

	go a.execute(ctx, t, b, reportTo)
}

// execute runs one task through the executor with retry and breaker
// protection, then reports the outcome to the coordinator.
func (a *Agent) execute(ctx context.Context, t task.Task, b *bus.MessageBus, reportTo string) {
	defer a.inflight.Done()

	start := time.Now()
	var output string
	err := fmt.Errorf("agent %q has no executor", a.name)
	if a.executor != nil {
		output, err = executeWithRetry(ctx, a.executor, t, a.breaker, a.retry)
	}
	elapsed := time.Since(start)

	a.mu.Lock()
	delete(a.reserved, t.ID)
	a.load--
	a.metrics.TotalExecTime += elapsed
	a.metrics.LastActivity = time.Now()
	if err != nil {
		a.metrics.TasksFailed++
	} else {
		a.metrics.TasksCompleted++
	}
	a.refreshStatusLocked()
	a.mu.Unlock()

	if err != nil {
		cancelled := ctx.Err() != nil ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		reason := err.Error()
		if cancelled {
			reason = fmt.Sprintf("cancelled: %v", err)
		}
		b.Send(bus.NewMessage(a.name, reportTo, bus.TypeFailure, Failure{
			TaskID:    t.ID,
			AgentName: a.name,
			Reason:    reason,
			Cancelled: cancelled,
			FailedAt:  time.Now(),
		}))
		return
	}

	b.Send(bus.NewMessage(a.name, reportTo, bus.TypeResult, Result{
		TaskID:      t.ID,
		AgentName:   a.name,
		Output:      output,
		CompletedAt: time.Now(),
	}))
}

// refreshStatusLocked recomputes busy/idle from load. Stopped is sticky
// until Start. Caller holds a.mu.
func (a *Agent) refreshStatusLocked() {
	if a.status == StatusStopped {
		return
	}
	if a.load > 0 {
		a.status = StatusBusy
	} else {
		a.status = StatusIdle
	}
}

// touch records mailbox activity.
func (a *Agent) touch() {
	a.mu.Lock()
	a.metrics.LastActivity = time.Now()
	a.mu.Unlock()
}
