package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
)

const (
	defaultMaxOutput = 1 << 20
	defaultWaitDelay = 5 * time.Second
)

// Runner spawns processes directly, without a shell, and captures stdout and
// stderr into one buffer.
type Runner struct {
	maxOutput int
	waitDelay time.Duration
}

// RunnerOption is a functional option for configuring Runner
type RunnerOption func(*Runner)

// WithMaxOutput bounds the captured output; older bytes are dropped first.
func WithMaxOutput(n int) RunnerOption {
	return func(r *Runner) {
		r.maxOutput = n
	}
}

// WithWaitDelay sets how long to wait for output pipes after the process is
// killed.
func WithWaitDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.waitDelay = d
	}
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		maxOutput: defaultMaxOutput,
		waitDelay: defaultWaitDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until the process exits or ctx ends. A process that exits on
// its own returns its exit status and a nil error, whatever the status. When
// ctx ends first the process is killed and ctx's error is returned.
func (r *Runner) Run(ctx context.Context, inv domain.Invocation) (int, string, error) {
	if err := inv.Validate(); err != nil {
		return -1, "", err
	}

	out := newTailBuffer(r.maxOutput)
	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = r.waitDelay

	status, err := exitStatus(inv.Program, cmd.Run(), ctx.Err())
	return status, out.String(), err
}

// exitStatus maps the result of cmd.Run to an exit status. A clean exit wins
// over a context that ended after the process was already done.
func exitStatus(program string, runErr, ctxErr error) (int, error) {
	if runErr == nil {
		return 0, nil
	}
	if ctxErr != nil {
		return -1, fmt.Errorf("process terminated: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("start %s: %w", program, runErr)
}

var _ port.ProcessRunner = (*Runner)(nil)
