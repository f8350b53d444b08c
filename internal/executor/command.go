package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/aristath/hive/internal/task"
)

// Command executes each task by running an external command. The task
// description is written to the command's stdin and trimmed stdout
// becomes the task result. A non-zero exit is an execution failure.
type Command struct {
	name string
	args []string
}

// NewCommand creates a command executor.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// Execute runs the command for one task.
func (c *Command) Execute(ctx context.Context, t task.Task) (string, error) {
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	// Own process group, so cancellation can take down the whole
	// subprocess tree instead of orphaning children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = strings.NewReader(t.Description + "\n")
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, _, err := run(cmd)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

// run starts the command and drains stdout and stderr concurrently
// before waiting, so output larger than the pipe buffer cannot
// deadlock the subprocess.
func run(cmd *exec.Cmd) (stdout, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()

	// Both pipes must be drained before Wait closes them.
	wg.Wait()
	waitErr := cmd.Wait()

	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	if waitErr != nil {
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, string(stderr))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}
	return stdout, stderr, nil
}
