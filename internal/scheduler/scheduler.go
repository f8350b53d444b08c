package scheduler

import (
	"time"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/bus"
	"github.com/aristath/hive/internal/task"
)

// Placement records one task handed to one agent during a pass.
type Placement struct {
	TaskID string
	Agent  string
}

// PassResult summarizes one assignment pass.
type PassResult struct {
	Assigned []Placement
	Expired  []string // tasks past their deadline this pass
	Cascaded []string // dependents cancelled by those expiries
	Starved  []string // pending tasks no registered agent covers
}

// Scheduler matches ready tasks to eligible agents and dispatches the
// accepted ones over the bus.
type Scheduler struct {
	registry *Registry
	bus      *bus.MessageBus
	sender   string
}

// New creates a scheduler that dispatches assignments from the given
// sender name.
func New(reg *Registry, b *bus.MessageBus, sender string) *Scheduler {
	return &Scheduler{registry: reg, bus: b, sender: sender}
}

// Registry exposes the underlying registry.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Pass runs one assignment pass: expire overdue tasks, compute the
// ready set, and hand each ready task to the best eligible agent. A
// task moves pending -> assigned -> running only once its agent has
// accepted the reservation; if no agent is eligible it stays pending
// for the next pass. Re-running a pass with no state change assigns
// nothing further.
func (s *Scheduler) Pass(now time.Time) PassResult {
	var res PassResult
	res.Expired, res.Cascaded = s.registry.ExpireOverdue(now)

	for _, t := range s.registry.ReadySet(now) {
		picked := s.pickAgent(t)
		if picked == nil {
			continue
		}
		if err := s.registry.MarkAssigned(t.ID, picked.Name()); err != nil {
			continue
		}
		if !picked.Assign(t) {
			// The agent's state moved between the eligibility check
			// and the reservation. Back out and retry next pass.
			s.registry.RevertAssignment(t.ID)
			continue
		}
		if err := s.registry.MarkRunning(t.ID); err != nil {
			continue
		}

		snap, ok := s.registry.Get(t.ID)
		if !ok {
			continue
		}
		res.Assigned = append(res.Assigned, Placement{TaskID: t.ID, Agent: picked.Name()})
		s.bus.Send(bus.NewMessage(s.sender, picked.Name(), bus.TypeAssignment, agent.Assignment{Task: *snap}))
	}

	res.Starved = s.registry.Starved()
	return res
}

// pickAgent selects the eligible agent with the most spare capacity,
// breaking ties by registration order.
func (s *Scheduler) pickAgent(t *task.Task) *agent.Agent {
	var best *agent.Agent
	bestSpare := -1
	for _, a := range s.registry.Agents() {
		if !a.CanAccept(t.Requires) {
			continue
		}
		snap := a.Snapshot()
		if spare := snap.MaxConcurrent - snap.Load; spare > bestSpare {
			best, bestSpare = a, spare
		}
	}
	return best
}
