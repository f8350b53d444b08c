package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/config"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/system"
	"github.com/aristath/hive/internal/task"
	"github.com/aristath/hive/internal/workload"
)

// runHeadlessMode drives the run without the dashboard: every event
// becomes a log line, a status line lands every few seconds, and the
// command returns once all submitted tasks are terminal or a signal
// arrives. Failed, expired, and cancelled tasks turn into a non-zero
// exit.
func runHeadlessMode(ctx context.Context, sys *system.System, cfg *config.Config,
	agents []*agent.Agent, w *workload.Workload) error {

	// Subscribe before registering so the log covers the whole run.
	sub := sys.Events().SubscribeAll(1024)

	ids, err := startAndSubmit(ctx, sys, agents, w)
	if err != nil {
		return err
	}
	log.Printf("running %d tasks across %d agents", len(ids), len(agents))

	pumpsDone := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		// Ends when Stop closes the event bus.
		for ev := range sub {
			logEvent(ev)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pumpsDone:
				return nil
			case <-ticker.C:
				logStatus(sys.Status())
			}
		}
	})

	interrupted := awaitTasks(ctx, sys, ids)
	stopErr := stopSystem(sys, cfg)
	close(pumpsDone)
	if err := g.Wait(); err != nil {
		return err
	}

	st := sys.Status()
	logStatus(st)
	if stopErr != nil {
		return stopErr
	}
	if interrupted {
		return nil
	}

	bad := st.TaskCounts[task.StatusFailed] + st.TaskCounts[task.StatusExpired] + st.TaskCounts[task.StatusCancelled]
	if bad > 0 {
		return errors.New(pluralize(bad, "task") + " did not complete")
	}
	return nil
}

// awaitTasks blocks until every id is terminal. Reports whether the
// wait was interrupted by the signal context.
func awaitTasks(ctx context.Context, sys *system.System, ids []string) bool {
	for _, id := range ids {
		_, err := sys.GetTaskResult(ctx, id, 0)
		switch {
		case err == nil:
			// Terminal; the event pump already reported it.
		case errors.Is(err, context.Canceled):
			log.Println("Shutdown signal received, cleaning up...")
			return true
		case errors.Is(err, system.ErrWaitTimeout):
			// The task may still finish; keep waiting on the rest and
			// let the final status line tell the truth.
			log.Printf("WARNING: %v", err)
		default:
			log.Printf("WARNING: waiting on task %s: %v", short(id), err)
		}
	}
	return false
}

func logEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskSubmittedEvent:
		log.Printf("submitted %s [%s] %s", short(e.ID), e.Priority, e.Description)
	case events.TaskAssignedEvent:
		log.Printf("assigned  %s -> %s", short(e.ID), e.Agent)
	case events.TaskCompletedEvent:
		log.Printf("completed %s by %s in %s: %s", short(e.ID), e.Agent, e.Duration.Round(time.Millisecond), e.Result)
	case events.TaskFailedEvent:
		log.Printf("failed    %s by %s after %s: %s", short(e.ID), e.Agent, e.Duration.Round(time.Millisecond), e.Reason)
	case events.TaskExpiredEvent:
		log.Printf("expired   %s (deadline %s)", short(e.ID), e.Deadline.Format("15:04:05"))
	case events.TaskCancelledEvent:
		log.Printf("cancelled %s (%s)", short(e.ID), e.Cause)
	case events.AgentRegisteredEvent:
		log.Printf("agent %q registered, capabilities %v, %d slots", e.Name, e.Capabilities, e.MaxConcurrent)
	case events.StarvationEvent:
		log.Printf("WARNING: no registered agent can cover %s: %v", pluralize(len(e.TaskIDs), "task"), shortAll(e.TaskIDs))
	case events.SystemStartedEvent:
		log.Printf("system started with %d agents", e.Agents)
	case events.SystemStoppedEvent:
		log.Printf("system stopped, %d tasks cancelled on shutdown", e.Cancelled)
	}
}

func logStatus(st system.SystemStatus) {
	log.Printf("status: pending=%d assigned=%d running=%d completed=%d failed=%d expired=%d cancelled=%d",
		st.TaskCounts[task.StatusPending],
		st.TaskCounts[task.StatusAssigned],
		st.TaskCounts[task.StatusRunning],
		st.TaskCounts[task.StatusCompleted],
		st.TaskCounts[task.StatusFailed],
		st.TaskCounts[task.StatusExpired],
		st.TaskCounts[task.StatusCancelled])
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, short(id))
	}
	return out
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
