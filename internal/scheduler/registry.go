// Package scheduler owns the task registry and the assignment pass: the
// single source of truth for task lifecycle state, the ready-set
// computation, deadline expiry, dependency cascade, and the matching of
// ready tasks to eligible agents.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/task"
)

// Sentinel errors for submission and lookup failures.
var (
	ErrUnknownTask       = errors.New("unknown task")
	ErrDuplicateTask     = errors.New("task already submitted")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateAgent    = errors.New("agent already registered")
	ErrTerminalState     = errors.New("task already terminal")
)

// Registry is the single mutual-exclusion scope around task state and
// the agent roster. All lifecycle transitions go through it; readers
// only ever see cloned snapshots.
type Registry struct {
	mu         sync.RWMutex
	tasks      map[string]*task.Task
	dependents map[string][]string // task id -> ids that depend on it
	agents     []*agent.Agent      // registration order
	agentIdx   map[string]int
	waiters    map[string][]chan task.Task
	seq        uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:      make(map[string]*task.Task),
		dependents: make(map[string][]string),
		agentIdx:   make(map[string]int),
		waiters:    make(map[string][]chan task.Task),
	}
}

// AddTask validates and inserts a task as pending, taking ownership of
// the value. Rejected outright: empty or duplicate ids, self
// dependencies, dependency ids not yet in the registry, and any
// dependency closure that would form a cycle. A rejected task never
// enters the registry.
func (r *Registry) AddTask(t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t == nil || t.ID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if _, exists := r.tasks[t.ID]; exists {
		return fmt.Errorf("task %q: %w", t.ID, ErrDuplicateTask)
	}
	for _, depID := range t.DependsOn {
		if depID == t.ID {
			return fmt.Errorf("task %q cannot depend on itself", t.ID)
		}
		if _, exists := r.tasks[depID]; !exists {
			return fmt.Errorf("task %q: dependency %q: %w", t.ID, depID, ErrUnknownDependency)
		}
	}
	if err := r.validateClosureLocked(t); err != nil {
		return err
	}

	r.seq++
	t.Seq = r.seq
	t.Status = task.StatusPending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	r.tasks[t.ID] = t
	for _, depID := range t.DependsOn {
		r.dependents[depID] = append(r.dependents[depID], t.ID)
	}
	return nil
}

// validateClosureLocked runs a topological sort over the registry plus
// the candidate task. Unknown-dependency rejection already makes cycles
// unreachable, so this keeps the invariant explicit rather than
// emergent. Caller holds r.mu.
func (r *Registry) validateClosureLocked(candidate *task.Task) error {
	var edges []toposort.Edge
	addEdges := func(id string, deps []string) {
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			return
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	for id, existing := range r.tasks {
		addEdges(id, existing.DependsOn)
	}
	addEdges(candidate.ID, candidate.DependsOn)

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("task %q: dependency closure contains cycle: %w", candidate.ID, err)
	}
	return nil
}

// AddAgent appends an agent to the roster. Registration order is the
// final assignment tie-break, so the roster is append-only.
func (r *Registry) AddAgent(a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if name == "" {
		return fmt.Errorf("agent name must not be empty")
	}
	if _, exists := r.agentIdx[name]; exists {
		return fmt.Errorf("agent %q: %w", name, ErrDuplicateAgent)
	}
	r.agentIdx[name] = len(r.agents)
	r.agents = append(r.agents, a)
	return nil
}

// Agents returns the roster in registration order.
func (r *Registry) Agents() []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*agent.Agent(nil), r.agents...)
}

// Agent returns the named agent.
func (r *Registry) Agent(name string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.agentIdx[name]
	if !ok {
		return nil, false
	}
	return r.agents[idx], true
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (*task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tasks[id]
	if !exists {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns snapshots of every task.
func (r *Registry) Tasks() []*task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// Counts returns the number of tasks per lifecycle state.
func (r *Registry) Counts() map[task.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[task.Status]int)
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts
}

// ReadySet returns snapshots of every ready task: pending, all
// dependencies completed, deadline (if any) not yet passed. Ordered by
// descending priority, then submission time, then submission sequence,
// which makes assignment deterministic.
func (r *Registry) ReadySet(now time.Time) []*task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ready []*task.Task
	for _, t := range r.tasks {
		if t.Status != task.StatusPending {
			continue
		}
		if !t.Deadline.IsZero() && !t.Deadline.After(now) {
			continue
		}
		satisfied := true
		for _, depID := range t.DependsOn {
			dep, exists := r.tasks[depID]
			if !exists || dep.Status != task.StatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t.Clone())
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	return ready
}

// Starved returns the ids of pending tasks no registered agent could
// ever cover, regardless of load. A liveness condition for monitoring,
// not an error.
func (r *Registry) Starved() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var starved []string
	for _, t := range r.tasks {
		if t.Status != task.StatusPending {
			continue
		}
		covered := false
		for _, a := range r.agents {
			if a.Covers(t.Requires) {
				covered = true
				break
			}
		}
		if !covered {
			starved = append(starved, t.ID)
		}
	}
	sort.Strings(starved)
	return starved
}

// MarkAssigned transitions a pending task to assigned.
func (r *Registry) MarkAssigned(id, agentName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	if t.Status != task.StatusPending {
		return fmt.Errorf("task %q is %s, not pending", id, t.Status)
	}
	t.Status = task.StatusAssigned
	t.AssignedTo = agentName
	return nil
}

// RevertAssignment returns an assigned task to pending after an agent
// declined the reservation.
func (r *Registry) RevertAssignment(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	if t.Status != task.StatusAssigned {
		return fmt.Errorf("task %q is %s, not assigned", id, t.Status)
	}
	t.Status = task.StatusPending
	t.AssignedTo = ""
	return nil
}

// MarkRunning transitions an assigned task to running.
func (r *Registry) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	if t.Status != task.StatusAssigned {
		return fmt.Errorf("task %q is %s, not assigned", id, t.Status)
	}
	t.Status = task.StatusRunning
	t.StartedAt = time.Now()
	return nil
}

// MarkCompleted records a successful result for a running task and
// fulfils its waiters. Reports for tasks already terminal return
// ErrTerminalState so late deliveries can be dropped quietly.
func (r *Registry) MarkCompleted(id, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %q: %w", id, ErrTerminalState)
	}
	if t.Status != task.StatusRunning {
		return fmt.Errorf("task %q is %s, not running", id, t.Status)
	}
	t.Status = task.StatusCompleted
	t.Result = result
	t.FinishedAt = time.Now()
	r.fulfilWaitersLocked(t)
	return nil
}

// MarkFailed records an execution failure for a running task, fulfils
// its waiters, and cancels every transitive dependent. The returned
// slice holds the cascaded ids.
func (r *Registry) MarkFailed(id, reason string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("task %q: %w", id, ErrTerminalState)
	}
	if t.Status != task.StatusRunning {
		return nil, fmt.Errorf("task %q is %s, not running", id, t.Status)
	}
	t.Status = task.StatusFailed
	t.FailureReason = reason
	t.FinishedAt = time.Now()
	r.fulfilWaitersLocked(t)
	return r.cancelDependentsLocked(id), nil
}

// MarkExpired transitions a pending or assigned task past its deadline
// to expired, freeing any reserved agent slot, and cancels dependents.
func (r *Registry) MarkExpired(id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("task %q: %w", id, ErrTerminalState)
	}
	if t.Status != task.StatusPending && t.Status != task.StatusAssigned {
		return nil, fmt.Errorf("task %q is %s, not pending or assigned", id, t.Status)
	}
	r.expireLocked(t)
	return r.cancelDependentsLocked(id), nil
}

// ExpireOverdue expires every pending or assigned task whose deadline
// has passed. Returns the expired ids and the ids cancelled downstream.
func (r *Registry) ExpireOverdue(now time.Time) (expired, cascaded []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tasks {
		if t.Status != task.StatusPending && t.Status != task.StatusAssigned {
			continue
		}
		if t.Deadline.IsZero() || t.Deadline.After(now) {
			continue
		}
		r.expireLocked(t)
		expired = append(expired, t.ID)
		cascaded = append(cascaded, r.cancelDependentsLocked(t.ID)...)
	}
	sort.Strings(expired)
	return expired, cascaded
}

// expireLocked performs the expiry transition. Caller holds r.mu and
// has verified the task is pending or assigned.
func (r *Registry) expireLocked(t *task.Task) {
	r.releaseSlotLocked(t)
	t.Status = task.StatusExpired
	t.FinishedAt = time.Now()
	r.fulfilWaitersLocked(t)
}

// MarkCancelled cancels a non-terminal task and its transitive
// dependents, freeing any reserved agent slot.
func (r *Registry) MarkCancelled(id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("task %q: %w", id, ErrTerminalState)
	}
	r.cancelLocked(t)
	return r.cancelDependentsLocked(id), nil
}

// CancelWhere cancels every task currently in one of the given states,
// plus their dependents. Returns all newly cancelled ids. Used during
// shutdown: first for pending and assigned work, then for whatever is
// still running after the drain grace.
func (r *Registry) CancelWhere(states ...task.Status) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	match := make(map[task.Status]bool, len(states))
	for _, s := range states {
		match[s] = true
	}

	var cancelled []string
	for _, t := range r.tasks {
		if !match[t.Status] || t.Status.Terminal() {
			continue
		}
		r.cancelLocked(t)
		cancelled = append(cancelled, t.ID)
		cancelled = append(cancelled, r.cancelDependentsLocked(t.ID)...)
	}
	sort.Strings(cancelled)
	return cancelled
}

// cancelLocked performs the cancellation transition. Caller holds r.mu
// and has verified the task is not terminal.
func (r *Registry) cancelLocked(t *task.Task) {
	r.releaseSlotLocked(t)
	t.Status = task.StatusCancelled
	t.FinishedAt = time.Now()
	r.fulfilWaitersLocked(t)
}

// cancelDependentsLocked cancels every non-terminal transitive
// dependent of id. Caller holds r.mu.
func (r *Registry) cancelDependentsLocked(id string) []string {
	var cancelled []string
	queue := append([]string(nil), r.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		t, exists := r.tasks[next]
		if !exists || t.Status.Terminal() {
			continue
		}
		r.cancelLocked(t)
		cancelled = append(cancelled, next)
		queue = append(queue, r.dependents[next]...)
	}
	sort.Strings(cancelled)
	return cancelled
}

// releaseSlotLocked frees the agent reservation held by an assigned
// task. Caller holds r.mu.
func (r *Registry) releaseSlotLocked(t *task.Task) {
	if t.Status != task.StatusAssigned || t.AssignedTo == "" {
		return
	}
	if idx, ok := r.agentIdx[t.AssignedTo]; ok {
		r.agents[idx].Release(t.ID)
	}
}

// Waiter returns a channel that yields the task's terminal snapshot
// exactly once. For a task already terminal the snapshot is buffered
// immediately. Abandoned waiters hold only a one-slot buffer, so a
// caller that times out leaks nothing that outlives the task.
func (r *Registry) Waiter(id string) (<-chan task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}

	ch := make(chan task.Task, 1)
	if t.Status.Terminal() {
		ch <- *t.Clone()
		return ch, nil
	}
	r.waiters[id] = append(r.waiters[id], ch)
	return ch, nil
}

// fulfilWaitersLocked delivers the terminal snapshot to every waiter of
// the task. Caller holds r.mu.
func (r *Registry) fulfilWaitersLocked(t *task.Task) {
	for _, ch := range r.waiters[t.ID] {
		ch <- *t.Clone()
	}
	delete(r.waiters, t.ID)
}
