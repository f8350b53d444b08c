// Package system composes the coordination core: registry, scheduler,
// message bus, agents, events, metrics, and the optional history
// archive behind one explicitly constructed instance with a Start/Stop
// lifecycle. All assignment passes run on the coordinator goroutine;
// every other operation is safe to call concurrently.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/bus"
	"github.com/aristath/hive/internal/config"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/history"
	"github.com/aristath/hive/internal/metrics"
	"github.com/aristath/hive/internal/scheduler"
	"github.com/aristath/hive/internal/task"
)

// CoordinatorName is the bus address of the coordinator inbox. Agents
// report results and failures to it.
const CoordinatorName = "coordinator"

var (
	// ErrAlreadyRunning is returned by Start on a running system.
	ErrAlreadyRunning = errors.New("system already running")

	// ErrStopped is returned by operations on a stopped system. A
	// stopped system cannot be restarted.
	ErrStopped = errors.New("system stopped")

	// ErrWaitTimeout is returned by GetTaskResult when the task did not
	// reach a terminal state in time. The task itself is unaffected.
	ErrWaitTimeout = errors.New("timed out waiting for task result")
)

// agentLoop pairs an agent with its bus mailbox until the mailbox loop
// is started.
type agentLoop struct {
	a       *agent.Agent
	mailbox <-chan bus.Message
}

// System is the orchestrator. Construct with New, add agents and tasks,
// then Start. Zero value is not usable.
type System struct {
	cfg     config.Config
	bus     *bus.MessageBus
	reg     *scheduler.Registry
	sched   *scheduler.Scheduler
	events  *events.Bus
	metrics *metrics.Collector
	store   history.Store // nil disables archiving

	inbox <-chan bus.Message
	kick  chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	runCtx  context.Context // execution context for agent loops, set by Start
	cancel  context.CancelFunc
	done    chan struct{} // closed when the coordinator goroutine exits
	pending []agentLoop   // agents registered before Start
	loops   sync.WaitGroup

	// starved is the last starvation set published, read and written
	// only by pass, which runs on the coordinator goroutine (and on the
	// Stop path strictly after that goroutine has exited).
	starved []string
}

// Option configures a System under construction.
type Option func(*System)

// WithHistory attaches an archive store for terminal task snapshots.
// The caller retains ownership of the store and closes it after Stop.
func WithHistory(store history.Store) Option {
	return func(s *System) { s.store = store }
}

// New creates a stopped system from the given configuration.
func New(cfg config.Config, opts ...Option) *System {
	s := &System{
		cfg:     cfg,
		bus:     bus.New(cfg.Bus.HistoryLimit),
		reg:     scheduler.NewRegistry(),
		events:  events.NewBus(),
		metrics: metrics.NewCollector(),
		kick:    make(chan struct{}, 1),
	}
	s.sched = scheduler.New(s.reg, s.bus, CoordinatorName)

	// The bus is freshly created, so registering the coordinator inbox
	// cannot fail.
	inbox, _ := s.bus.Register(CoordinatorName, cfg.Bus.MailboxSize)
	s.inbox = inbox

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events exposes the observability bus for subscribers such as the
// dashboard or the headless event log.
func (s *System) Events() *events.Bus { return s.events }

// History returns the attached archive store, or nil.
func (s *System) History() history.Store { return s.store }

// RegisterAgent adds an agent to the roster and gives it a bus mailbox.
// Allowed before or after Start; duplicate names are rejected.
func (s *System) RegisterAgent(a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	mailbox, err := s.bus.Register(a.Name(), s.cfg.Bus.MailboxSize)
	if err != nil {
		if errors.Is(err, bus.ErrDuplicateRecipient) {
			return fmt.Errorf("agent %q: %w", a.Name(), scheduler.ErrDuplicateAgent)
		}
		return fmt.Errorf("register agent %q: %w", a.Name(), err)
	}
	if err := s.reg.AddAgent(a); err != nil {
		s.bus.Unregister(a.Name())
		return err
	}

	if s.running {
		s.startLoopLocked(a, mailbox)
	} else {
		s.pending = append(s.pending, agentLoop{a: a, mailbox: mailbox})
	}

	snap := a.Snapshot()
	s.events.Publish(events.TopicAgent, events.AgentRegisteredEvent{
		Name:          snap.Name,
		Capabilities:  snap.Capabilities,
		MaxConcurrent: snap.MaxConcurrent,
		Timestamp:     time.Now(),
	})
	return nil
}

// startLoopLocked launches an agent's mailbox loop and opens it for
// assignment. Caller holds s.mu and the system is running.
func (s *System) startLoopLocked(a *agent.Agent, mailbox <-chan bus.Message) {
	ctx := s.runCtx
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		a.Run(ctx, mailbox, s.bus, CoordinatorName)
	}()
	a.Start()
}

// Submit builds a task from the description and options and enqueues
// it. See SubmitTask.
func (s *System) Submit(description string, opts ...task.Option) (string, error) {
	return s.SubmitTask(task.New(description, opts...))
}

// SubmitTask validates the task and inserts it as pending, then nudges
// the coordinator. The id is returned immediately; assignment happens
// asynchronously on the next pass.
func (s *System) SubmitTask(t *task.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return "", ErrStopped
	}
	if err := s.reg.AddTask(t); err != nil {
		return "", err
	}

	s.metrics.TaskSubmitted()
	s.events.Publish(events.TopicTask, events.TaskSubmittedEvent{
		ID:          t.ID,
		Description: t.Description,
		Priority:    t.Priority.String(),
		Timestamp:   time.Now(),
	})
	s.kickPass()
	return t.ID, nil
}

// Cancel cancels a non-terminal task. Dependents are cancelled in the
// same sweep. An in-flight execution is not interrupted; its eventual
// report is dropped because the task is already terminal.
func (s *System) Cancel(id string) error {
	cascaded, err := s.reg.MarkCancelled(id)
	if err != nil {
		return err
	}

	now := time.Now()
	s.metrics.TasksCancelled(1 + len(cascaded))
	s.publishCancelled(id, events.CauseRequested, now)
	s.archiveByID(id)
	for _, dep := range cascaded {
		s.publishCancelled(dep, events.CauseDependency, now)
		s.archiveByID(dep)
	}
	s.kickPass()
	return nil
}

// GetTaskResult blocks until the task reaches a terminal state, the
// timeout elapses, or ctx is cancelled. A non-positive timeout falls
// back to the configured default. The wait never holds the registry
// lock, and a timeout leaves the task untouched; callers may wait
// again.
func (s *System) GetTaskResult(ctx context.Context, id string, timeout time.Duration) (*task.Task, error) {
	ch, err := s.reg.Waiter(id)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.cfg.Timing.ResultWait()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t := <-ch:
		return &t, nil
	case <-timer.C:
		return nil, fmt.Errorf("task %s: %w", id, ErrWaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Broadcast fans a payload out to every agent registered at send time.
func (s *System) Broadcast(payload any) {
	s.bus.Send(bus.NewMessage(CoordinatorName, bus.Everyone, bus.TypeBroadcast, payload))
}

// SystemStatus is a read-only aggregate of the whole system.
type SystemStatus struct {
	Running    bool
	TaskCounts map[task.Status]int
	Agents     []agent.Snapshot
	Starved    []string // pending task ids no registered agent can cover
	Bus        bus.Stats
	Metrics    metrics.Snapshot
}

// Status snapshots the system without mutating anything.
func (s *System) Status() SystemStatus {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	roster := s.reg.Agents()
	snaps := make([]agent.Snapshot, 0, len(roster))
	for _, a := range roster {
		snaps = append(snaps, a.Snapshot())
	}

	return SystemStatus{
		Running:    running,
		TaskCounts: s.reg.Counts(),
		Agents:     snaps,
		Starved:    s.reg.Starved(),
		Bus:        s.bus.Stats(),
		Metrics:    s.metrics.Snapshot(),
	}
}

// Task returns a snapshot of one task.
func (s *System) Task(id string) (*task.Task, bool) {
	return s.reg.Get(id)
}

// Tasks returns snapshots of every task in the registry.
func (s *System) Tasks() []*task.Task {
	return s.reg.Tasks()
}

// kickPass nudges the coordinator without blocking. A pass is already
// queued when the channel is full.
func (s *System) kickPass() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *System) publishCancelled(id, cause string, at time.Time) {
	s.events.Publish(events.TopicTask, events.TaskCancelledEvent{
		ID:        id,
		Cause:     cause,
		Timestamp: at,
	})
}
