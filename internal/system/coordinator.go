package system

import (
	"context"
	"log"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/bus"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/history"
	"github.com/aristath/hive/internal/task"
)

// Start opens every registered agent and launches the coordinator
// goroutine, which owns all assignment passes. The system runs until
// Stop is called or ctx is cancelled; cancellation alone does not tear
// the system down, so callers should still Stop.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.runCtx = runCtx
	s.cancel = cancel
	s.done = make(chan struct{})

	for _, p := range s.pending {
		s.startLoopLocked(p.a, p.mailbox)
	}
	s.pending = nil
	agents := len(s.reg.Agents())
	s.mu.Unlock()

	s.events.Publish(events.TopicSystem, events.SystemStartedEvent{
		Agents:    agents,
		Timestamp: time.Now(),
	})

	go s.coordinate(runCtx)
	return nil
}

// Stop shuts the system down: it halts the tick, cancels every task
// that has not started running, signals agents to abort, waits out the
// grace period for in-flight executions to acknowledge, force-cancels
// whatever is still running, and closes the bus. Idempotent; a stopped
// system cannot be restarted. The returned error reports only a drain
// that outlived the grace period, never an aborted teardown.
func (s *System) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	cancel, done := s.cancel, s.done
	s.pending = nil
	s.mu.Unlock()

	before := s.reg.Counts()[task.StatusCancelled]

	if wasRunning {
		// Halt the tick and propagate cancellation into every agent
		// loop and in-flight execution.
		cancel()
		<-done
	}

	// No pass can run past this point, so the sweep is final: anything
	// not yet running will never be handed out.
	now := time.Now()
	swept := s.reg.CancelWhere(task.StatusPending, task.StatusAssigned)
	s.metrics.TasksCancelled(len(swept))
	for _, id := range swept {
		s.publishCancelled(id, events.CauseShutdown, now)
	}

	for _, a := range s.reg.Agents() {
		a.Stop()
	}

	var drainErr error
	if wasRunning {
		graceCtx, graceCancel := context.WithTimeout(ctx, s.cfg.Timing.StopGrace())
		defer graceCancel()

		g := new(errgroup.Group)
		for _, a := range s.reg.Agents() {
			g.Go(func() error { return a.Drain(graceCtx) })
		}
		drainErr = g.Wait()

		// Apply the acknowledgments that arrived while no coordinator
		// was reading the inbox.
		s.drainInbox()
	}

	// Whatever is still running never acknowledged the cancellation.
	now = time.Now()
	forced := s.reg.CancelWhere(task.StatusRunning)
	s.metrics.TasksCancelled(len(forced))
	for _, id := range forced {
		s.publishCancelled(id, events.CauseShutdown, now)
	}

	s.bus.Close()
	s.loops.Wait()

	s.archiveAll()

	cancelled := s.reg.Counts()[task.StatusCancelled] - before
	s.events.Publish(events.TopicSystem, events.SystemStoppedEvent{
		Cancelled: cancelled,
		Timestamp: time.Now(),
	})
	s.events.Close()

	return drainErr
}

// coordinate is the coordinator goroutine: the single place assignment
// passes run. It applies agent reports from the inbox, reacts to
// submission kicks, and ticks at the configured interval so deadlines
// are checked even when nothing else happens.
func (s *System) coordinate(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Timing.TickInterval())
	defer ticker.Stop()

	s.pass(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			if s.dispatch(msg) {
				// A terminal transition may have unblocked dependents
				// or freed a slot.
				s.pass(time.Now())
			}
		case <-s.kick:
			s.pass(time.Now())
		case <-ticker.C:
			s.pass(time.Now())
		}
	}
}

// dispatch applies one agent report to the registry and reports whether
// it changed task state. Reports for tasks that already reached a
// terminal state are dropped: the first terminal transition wins.
func (s *System) dispatch(msg bus.Message) bool {
	switch msg.Type {
	case bus.TypeResult:
		if res, ok := msg.Payload.(agent.Result); ok {
			return s.handleResult(res)
		}
	case bus.TypeFailure:
		if f, ok := msg.Payload.(agent.Failure); ok {
			return s.handleFailure(f)
		}
	}
	return false
}

func (s *System) handleResult(res agent.Result) bool {
	if err := s.reg.MarkCompleted(res.TaskID, res.Output); err != nil {
		return false
	}
	snap, ok := s.reg.Get(res.TaskID)
	if !ok {
		return true
	}

	execTime := snap.FinishedAt.Sub(snap.StartedAt)
	s.metrics.TaskCompleted(execTime)
	s.events.Publish(events.TopicTask, events.TaskCompletedEvent{
		ID:        res.TaskID,
		Agent:     res.AgentName,
		Result:    res.Output,
		Duration:  execTime,
		Timestamp: snap.FinishedAt,
	})
	s.archive(snap)
	return true
}

func (s *System) handleFailure(f agent.Failure) bool {
	if f.Cancelled {
		cascaded, err := s.reg.MarkCancelled(f.TaskID)
		if err != nil {
			return false
		}
		now := time.Now()
		s.metrics.TasksCancelled(1 + len(cascaded))
		s.publishCancelled(f.TaskID, events.CauseShutdown, now)
		s.archiveByID(f.TaskID)
		for _, id := range cascaded {
			s.publishCancelled(id, events.CauseDependency, now)
			s.archiveByID(id)
		}
		return true
	}

	cascaded, err := s.reg.MarkFailed(f.TaskID, f.Reason)
	if err != nil {
		return false
	}
	snap, ok := s.reg.Get(f.TaskID)
	if !ok {
		return true
	}

	execTime := snap.FinishedAt.Sub(snap.StartedAt)
	s.metrics.TaskFailed(execTime)
	s.events.Publish(events.TopicTask, events.TaskFailedEvent{
		ID:        f.TaskID,
		Agent:     f.AgentName,
		Reason:    f.Reason,
		Duration:  execTime,
		Timestamp: snap.FinishedAt,
	})
	s.archive(snap)

	now := time.Now()
	s.metrics.TasksCancelled(len(cascaded))
	for _, id := range cascaded {
		s.publishCancelled(id, events.CauseDependency, now)
		s.archiveByID(id)
	}
	return true
}

// pass runs one assignment pass and fans its outcome into metrics,
// events, and the archive.
func (s *System) pass(now time.Time) {
	res := s.sched.Pass(now)

	for _, p := range res.Assigned {
		snap, ok := s.reg.Get(p.TaskID)
		if !ok {
			continue
		}
		s.metrics.TaskStarted(snap.StartedAt.Sub(snap.CreatedAt))
		s.events.Publish(events.TopicTask, events.TaskAssignedEvent{
			ID:        p.TaskID,
			Agent:     p.Agent,
			Timestamp: snap.StartedAt,
		})
	}

	for _, id := range res.Expired {
		s.metrics.TaskExpired()
		snap, ok := s.reg.Get(id)
		if !ok {
			continue
		}
		s.events.Publish(events.TopicTask, events.TaskExpiredEvent{
			ID:        id,
			Deadline:  snap.Deadline,
			Timestamp: snap.FinishedAt,
		})
		s.archive(snap)
	}

	if len(res.Cascaded) > 0 {
		at := time.Now()
		s.metrics.TasksCancelled(len(res.Cascaded))
		for _, id := range res.Cascaded {
			s.publishCancelled(id, events.CauseDependency, at)
			s.archiveByID(id)
		}
	}

	if len(res.Starved) > 0 {
		s.metrics.PassStarved()
	}
	if !slices.Equal(res.Starved, s.starved) && len(res.Starved) > 0 {
		s.events.Publish(events.TopicSystem, events.StarvationEvent{
			TaskIDs:   res.Starved,
			Timestamp: time.Now(),
		})
	}
	s.starved = res.Starved
}

// drainInbox applies reports that arrived while no coordinator loop was
// reading. Only called from Stop, strictly after the coordinator
// goroutine has exited.
func (s *System) drainInbox() {
	for {
		select {
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			s.dispatch(msg)
		default:
			return
		}
	}
}

// archive writes one terminal snapshot to the history store, if any.
func (s *System) archive(t *task.Task) {
	if s.store == nil || t == nil {
		return
	}
	if err := s.store.ArchiveTask(context.Background(), history.FromTask(t)); err != nil {
		log.Printf("WARNING: failed to archive task %q: %v", t.ID, err)
	}
}

func (s *System) archiveByID(id string) {
	if s.store == nil {
		return
	}
	if snap, ok := s.reg.Get(id); ok {
		s.archive(snap)
	}
}

// archiveAll sweeps every terminal task into the archive. Runs at stop
// so force-cancelled tasks and anything that slipped past a per-event
// archive still lands on disk; the upsert makes repeats harmless.
func (s *System) archiveAll() {
	if s.store == nil {
		return
	}
	for _, t := range s.reg.Tasks() {
		if t.Status.Terminal() {
			s.archive(t)
		}
	}
}
