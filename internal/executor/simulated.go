package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aristath/hive/internal/task"
)

// Simulated executes tasks in-process with pseudo-random latency and
// failures. A fixed seed makes a run reproducible.
type Simulated struct {
	mu       sync.Mutex
	rng      *rand.Rand
	minDelay time.Duration
	maxDelay time.Duration
	failRate float64
	outputs  []string
	next     int
}

// NewSimulated creates a simulator. Delays are clamped to sane values:
// a negative minimum becomes zero and the maximum is raised to the
// minimum. failRate is the probability in [0, 1] that an execution
// fails.
func NewSimulated(seed int64, minDelay, maxDelay time.Duration, failRate float64) *Simulated {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if failRate < 0 {
		failRate = 0
	}
	if failRate > 1 {
		failRate = 1
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Simulated{
		rng:      rand.New(rand.NewSource(seed)),
		minDelay: minDelay,
		maxDelay: maxDelay,
		failRate: failRate,
	}
}

// Scripted replaces the default output with a fixed sequence of
// results, one per successful execution, cycling once exhausted.
func (s *Simulated) Scripted(outputs ...string) *Simulated {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = outputs
	s.next = 0
	return s
}

// Execute sleeps for a randomized duration, then succeeds or fails
// according to the configured failure rate. Cancellation interrupts
// the sleep.
func (s *Simulated) Execute(ctx context.Context, t task.Task) (string, error) {
	delay, failed := s.roll()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if failed {
		return "", fmt.Errorf("simulated failure executing %q", t.Description)
	}
	if out, ok := s.takeScripted(); ok {
		return out, nil
	}
	return fmt.Sprintf("completed: %s", t.Description), nil
}

// roll draws the delay and failure outcome for one execution. The rng
// is not safe for concurrent use, so draws are serialized.
func (s *Simulated) roll() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.minDelay
	if spread := s.maxDelay - s.minDelay; spread > 0 {
		delay += time.Duration(s.rng.Int63n(int64(spread)))
	}
	return delay, s.rng.Float64() < s.failRate
}

// takeScripted consumes the next scripted output, if any were set.
func (s *Simulated) takeScripted() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.outputs) == 0 {
		return "", false
	}
	out := s.outputs[s.next%len(s.outputs)]
	s.next++
	return out, true
}
