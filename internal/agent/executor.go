package agent

import (
	"context"

	"github.com/aristath/hive/internal/task"
)

// Executor performs the actual work of a task. Implementations are
// domain collaborators; the coordination core treats execution as an
// opaque, possibly long-running operation and never inspects it.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (string, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t task.Task) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, t task.Task) (string, error) {
	return f(ctx, t)
}
