package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/hive/internal/task"
)

// RetryPolicy configures the bounded retry an agent applies around each
// execution attempt. MaxRetries counts retries after the first attempt;
// zero means a single attempt. A task fails only once the whole budget
// is exhausted, so retries never change lifecycle semantics.
type RetryPolicy struct {
	MaxRetries          uint64
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy returns the default policy: no retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          0,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// newBreaker builds the per-agent circuit breaker guarding executor
// calls: trips after 5 consecutive failures, stays open for 30s, and
// does not count caller cancellation as an executor failure.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("agent %q breaker: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
}

// executeWithRetry runs one task through the executor with exponential
// backoff retry and circuit breaker protection.
func executeWithRetry(ctx context.Context, exec Executor, t task.Task, cb *gobreaker.CircuitBreaker, policy RetryPolicy) (string, error) {
	var output string

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return exec.Execute(ctx, t)
		})
		if err != nil {
			// Open circuit: retrying immediately cannot help.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		output = result.(string)
		return nil
	}

	policyBackoff := backoff.NewExponentialBackOff()
	policyBackoff.InitialInterval = policy.InitialInterval
	policyBackoff.MaxInterval = policy.MaxInterval
	policyBackoff.MaxElapsedTime = 0
	policyBackoff.Multiplier = policy.Multiplier
	policyBackoff.RandomizationFactor = policy.RandomizationFactor

	bounded := backoff.WithMaxRetries(policyBackoff, policy.MaxRetries)
	err := backoff.Retry(operation, backoff.WithContext(bounded, ctx))
	return output, err
}
