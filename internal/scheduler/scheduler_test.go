package scheduler

import (
	"testing"
	"time"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/bus"
	"github.com/aristath/hive/internal/task"
)

func newPassFixture(t *testing.T) (*Registry, *bus.MessageBus, *Scheduler) {
	t.Helper()
	reg := NewRegistry()
	b := bus.New(bus.DefaultHistoryLimit)
	t.Cleanup(b.Close)
	return reg, b, New(reg, b, "coordinator")
}

func TestPassAssignsReadyTaskAndDispatches(t *testing.T) {
	reg, b, sched := newPassFixture(t)

	a := newTestAgent(t, "worker", []string{"research"}, 1)
	mailbox, err := b.Register(a.Name(), 4)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.AddAgent(a); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	tk := task.New("find sources", task.WithCapabilities("research"))
	if err := reg.AddTask(tk); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 1 {
		t.Fatalf("assigned = %v, want one placement", res.Assigned)
	}
	if res.Assigned[0].TaskID != tk.ID || res.Assigned[0].Agent != "worker" {
		t.Errorf("placement = %+v", res.Assigned[0])
	}

	got, _ := reg.Get(tk.ID)
	if got.Status != task.StatusRunning || got.AssignedTo != "worker" {
		t.Errorf("task = %s assigned to %q, want running on worker", got.Status, got.AssignedTo)
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt not stamped")
	}
	if a.Snapshot().Load != 1 {
		t.Errorf("agent load = %d, want 1", a.Snapshot().Load)
	}

	select {
	case msg := <-mailbox:
		if msg.Type != bus.TypeAssignment {
			t.Errorf("message type = %s, want %s", msg.Type, bus.TypeAssignment)
		}
		assignment, ok := msg.Payload.(agent.Assignment)
		if !ok {
			t.Fatalf("payload type = %T", msg.Payload)
		}
		if assignment.Task.ID != tk.ID || assignment.Task.Status != task.StatusRunning {
			t.Errorf("dispatched snapshot = %s/%s", assignment.Task.ID, assignment.Task.Status)
		}
	default:
		t.Fatal("no assignment message dispatched")
	}
}

func TestPassPrefersHigherPriorityForLastSlot(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	if err := reg.AddAgent(newTestAgent(t, "solo", []string{"x"}, 1)); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	low := task.New("routine", task.WithCapabilities("x"), task.WithPriority(task.PriorityLow))
	high := task.New("urgent", task.WithCapabilities("x"), task.WithPriority(task.PriorityHigh))
	for _, tk := range []*task.Task{low, high} {
		if err := reg.AddTask(tk); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 1 || res.Assigned[0].TaskID != high.ID {
		t.Fatalf("assigned = %v, want only the high-priority task", res.Assigned)
	}

	got, _ := reg.Get(low.ID)
	if got.Status != task.StatusPending {
		t.Errorf("low-priority task = %s, want still pending", got.Status)
	}
}

func TestPassFIFOWithinPriorityTier(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	if err := reg.AddAgent(newTestAgent(t, "solo", []string{"x"}, 1)); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	base := time.Now()
	first := task.New("submitted first", task.WithCapabilities("x"))
	first.CreatedAt = base
	second := task.New("submitted second", task.WithCapabilities("x"))
	second.CreatedAt = base.Add(time.Millisecond)
	for _, tk := range []*task.Task{first, second} {
		if err := reg.AddTask(tk); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	res := sched.Pass(base.Add(time.Second))
	if len(res.Assigned) != 1 || res.Assigned[0].TaskID != first.ID {
		t.Fatalf("assigned = %v, want the earlier submission", res.Assigned)
	}
}

func TestPassCapacityScenario(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	a1 := newTestAgent(t, "a1", []string{"x"}, 1)
	if err := reg.AddAgent(a1); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	t1 := task.New("t1", task.WithCapabilities("x"), task.WithPriority(task.PriorityMedium))
	if err := reg.AddTask(t1); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 1 || res.Assigned[0].TaskID != t1.ID {
		t.Fatalf("first pass assigned = %v, want t1 running immediately", res.Assigned)
	}

	t2 := task.New("t2", task.WithCapabilities("x"), task.WithPriority(task.PriorityHigh))
	if err := reg.AddTask(t2); err != nil {
		t.Fatalf("AddTask t2: %v", err)
	}
	t3 := task.New("t3", task.WithCapabilities("x"), task.WithPriority(task.PriorityHigh))
	if err := reg.AddTask(t3); err != nil {
		t.Fatalf("AddTask t3: %v", err)
	}

	res = sched.Pass(time.Now())
	if len(res.Assigned) != 0 {
		t.Fatalf("pass with saturated agent assigned = %v", res.Assigned)
	}
	got, _ := reg.Get(t2.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("t2 = %s while agent busy, want pending", got.Status)
	}

	// t1 finishes and frees the slot.
	if err := reg.MarkCompleted(t1.ID, "done"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	a1.Release(t1.ID)

	res = sched.Pass(time.Now())
	if len(res.Assigned) != 1 || res.Assigned[0].TaskID != t2.ID {
		t.Fatalf("assigned after slot freed = %v, want t2 before t3", res.Assigned)
	}
}

func TestPassPrefersMostSpareCapacity(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	busy := newTestAgent(t, "busy", []string{"x"}, 3)
	spare := newTestAgent(t, "spare", []string{"x"}, 3)
	for _, a := range []*agent.Agent{busy, spare} {
		if err := reg.AddAgent(a); err != nil {
			t.Fatalf("AddAgent: %v", err)
		}
	}

	filler := task.New("filler", task.WithCapabilities("x"))
	if err := reg.AddTask(filler); err != nil {
		t.Fatalf("AddTask filler: %v", err)
	}
	if err := reg.MarkAssigned(filler.ID, busy.Name()); err != nil {
		t.Fatalf("MarkAssigned: %v", err)
	}
	if !busy.Assign(filler) {
		t.Fatal("busy agent rejected filler")
	}
	if err := reg.MarkRunning(filler.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	tk := task.New("balanced", task.WithCapabilities("x"))
	if err := reg.AddTask(tk); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 1 || res.Assigned[0].Agent != "spare" {
		t.Fatalf("assigned = %v, want the agent with more spare capacity", res.Assigned)
	}
}

func TestPassTieBreaksByRegistrationOrder(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	for _, name := range []string{"first", "second"} {
		if err := reg.AddAgent(newTestAgent(t, name, []string{"x"}, 2)); err != nil {
			t.Fatalf("AddAgent %s: %v", name, err)
		}
	}

	tk := task.New("tied", task.WithCapabilities("x"))
	if err := reg.AddTask(tk); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 1 || res.Assigned[0].Agent != "first" {
		t.Fatalf("assigned = %v, want earliest-registered agent on tie", res.Assigned)
	}
}

func TestPassIsIdempotent(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	if err := reg.AddAgent(newTestAgent(t, "worker", []string{"x"}, 2)); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	tk := task.New("once", task.WithCapabilities("x"))
	if err := reg.AddTask(tk); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	now := time.Now()
	first := sched.Pass(now)
	if len(first.Assigned) != 1 {
		t.Fatalf("first pass assigned = %v", first.Assigned)
	}

	for i := 0; i < 3; i++ {
		again := sched.Pass(now.Add(time.Duration(i) * time.Second))
		if len(again.Assigned) != 0 || len(again.Expired) != 0 {
			t.Fatalf("repeat pass %d changed state: %+v", i, again)
		}
	}
}

func TestPassExpiresOverdueBeforeAssigning(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	if err := reg.AddAgent(newTestAgent(t, "worker", []string{"x"}, 1)); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	now := time.Now()
	overdue := task.New("missed", task.WithCapabilities("x"), task.WithDeadline(now.Add(-time.Minute)))
	if err := reg.AddTask(overdue); err != nil {
		t.Fatalf("AddTask overdue: %v", err)
	}
	downstream := task.New("after missed", task.WithCapabilities("x"), task.WithDependencies(overdue.ID))
	if err := reg.AddTask(downstream); err != nil {
		t.Fatalf("AddTask downstream: %v", err)
	}
	fresh := task.New("on time", task.WithCapabilities("x"))
	if err := reg.AddTask(fresh); err != nil {
		t.Fatalf("AddTask fresh: %v", err)
	}

	res := sched.Pass(now)
	if len(res.Expired) != 1 || res.Expired[0] != overdue.ID {
		t.Fatalf("expired = %v, want [%s]", res.Expired, overdue.ID)
	}
	if len(res.Cascaded) != 1 || res.Cascaded[0] != downstream.ID {
		t.Fatalf("cascaded = %v, want [%s]", res.Cascaded, downstream.ID)
	}
	if len(res.Assigned) != 1 || res.Assigned[0].TaskID != fresh.ID {
		t.Fatalf("assigned = %v, want only the live task", res.Assigned)
	}
}

func TestPassHonorsConcurrencyLimit(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	a := newTestAgent(t, "worker", []string{"x"}, 2)
	if err := reg.AddAgent(a); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	for i := 0; i < 3; i++ {
		tk := task.New("load", task.WithCapabilities("x"))
		if err := reg.AddTask(tk); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 2 {
		t.Fatalf("assigned = %v, want exactly the concurrency limit", res.Assigned)
	}
	if load := a.Snapshot().Load; load != 2 {
		t.Errorf("agent load = %d, want 2", load)
	}

	counts := reg.Counts()
	if counts[task.StatusRunning] != 2 || counts[task.StatusPending] != 1 {
		t.Errorf("counts = %v, want 2 running / 1 pending", counts)
	}
}

func TestPassReportsStarvation(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	if err := reg.AddAgent(newTestAgent(t, "writer", []string{"writing"}, 1)); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	orphan := task.New("render video", task.WithCapabilities("rendering"))
	if err := reg.AddTask(orphan); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 0 {
		t.Fatalf("assigned = %v, want none", res.Assigned)
	}
	if len(res.Starved) != 1 || res.Starved[0] != orphan.ID {
		t.Errorf("starved = %v, want [%s]", res.Starved, orphan.ID)
	}

	got, _ := reg.Get(orphan.ID)
	if got.Status != task.StatusPending {
		t.Errorf("starved task = %s, must remain pending", got.Status)
	}
}

func TestFailedDependencyNeverRuns(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	if err := reg.AddAgent(newTestAgent(t, "worker", []string{"x"}, 2)); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	t1 := task.New("flaky", task.WithCapabilities("x"))
	if err := reg.AddTask(t1); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	t2 := task.New("dependent", task.WithCapabilities("x"), task.WithDependencies(t1.ID))
	if err := reg.AddTask(t2); err != nil {
		t.Fatalf("AddTask t2: %v", err)
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 1 || res.Assigned[0].TaskID != t1.ID {
		t.Fatalf("assigned = %v, want only t1", res.Assigned)
	}

	if _, err := reg.MarkFailed(t1.ID, "exploded"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	res = sched.Pass(time.Now())
	if len(res.Assigned) != 0 {
		t.Fatalf("pass after failure assigned = %v", res.Assigned)
	}
	got, _ := reg.Get(t2.ID)
	if got.Status != task.StatusCancelled {
		t.Errorf("dependent = %s, want cancelled", got.Status)
	}
	if !got.StartedAt.IsZero() {
		t.Error("dependent has a start time, must never have run")
	}
}

func TestPassSkipsStoppedAgents(t *testing.T) {
	reg, _, sched := newPassFixture(t)

	a := newTestAgent(t, "worker", []string{"x"}, 1)
	a.Stop()
	if err := reg.AddAgent(a); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	tk := task.New("waits", task.WithCapabilities("x"))
	if err := reg.AddTask(tk); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	res := sched.Pass(time.Now())
	if len(res.Assigned) != 0 {
		t.Fatalf("assigned to stopped agent: %v", res.Assigned)
	}

	a.Start()
	res = sched.Pass(time.Now())
	if len(res.Assigned) != 1 {
		t.Fatalf("assigned after restart = %v", res.Assigned)
	}
}
