// Package metrics aggregates scheduling and execution statistics for
// the status surface: lifecycle counters plus latency distributions
// for queue wait and execution time.
package metrics

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1us to one hour, three significant
// figures.
const (
	histMin     = 1
	histMax     = int64(time.Hour / time.Microsecond)
	histSigFigs = 3
)

// Collector records task lifecycle outcomes and latencies.
type Collector struct {
	mu        sync.Mutex
	startTime time.Time

	submitted     int64
	completed     int64
	failed        int64
	expired       int64
	cancelled     int64
	starvedPasses int64

	queueWait *hdrhistogram.Histogram
	execTime  *hdrhistogram.Histogram
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		queueWait: hdrhistogram.New(histMin, histMax, histSigFigs),
		execTime:  hdrhistogram.New(histMin, histMax, histSigFigs),
	}
}

// TaskSubmitted counts an accepted submission.
func (c *Collector) TaskSubmitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted++
}

// TaskStarted records the time a task spent queued before running.
func (c *Collector) TaskStarted(queueWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(c.queueWait, queueWait)
}

// TaskCompleted counts a success and records its execution time.
func (c *Collector) TaskCompleted(execTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	c.record(c.execTime, execTime)
}

// TaskFailed counts an execution failure and records its execution
// time.
func (c *Collector) TaskFailed(execTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	c.record(c.execTime, execTime)
}

// TaskExpired counts a deadline expiry.
func (c *Collector) TaskExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired++
}

// TasksCancelled counts n cancellations.
func (c *Collector) TasksCancelled(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled += int64(n)
}

// PassStarved counts an assignment pass that left uncoverable tasks
// pending.
func (c *Collector) PassStarved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starvedPasses++
}

// record clamps d into the histogram's trackable range. Caller holds
// c.mu.
func (c *Collector) record(h *hdrhistogram.Histogram, d time.Duration) {
	us := d.Microseconds()
	if us < histMin {
		us = histMin
	}
	if us > histMax {
		us = histMax
	}
	_ = h.RecordValue(us)
}

// DurationStats summarizes one latency distribution.
type DurationStats struct {
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Snapshot is a point-in-time aggregate of everything recorded.
type Snapshot struct {
	Uptime        time.Duration
	Submitted     int64
	Completed     int64
	Failed        int64
	Expired       int64
	Cancelled     int64
	StarvedPasses int64
	QueueWait     DurationStats
	Execution     DurationStats
}

// Snapshot aggregates the current counters and distributions.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Uptime:        time.Since(c.startTime),
		Submitted:     c.submitted,
		Completed:     c.completed,
		Failed:        c.failed,
		Expired:       c.expired,
		Cancelled:     c.cancelled,
		StarvedPasses: c.starvedPasses,
		QueueWait:     stats(c.queueWait),
		Execution:     stats(c.execTime),
	}
}

func stats(h *hdrhistogram.Histogram) DurationStats {
	if h.TotalCount() == 0 {
		return DurationStats{}
	}
	return DurationStats{
		Count: h.TotalCount(),
		Mean:  time.Duration(h.Mean()) * time.Microsecond,
		P50:   time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P95:   time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:   time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Max:   time.Duration(h.Max()) * time.Microsecond,
	}
}
