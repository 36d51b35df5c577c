// Package agent runs the local agent CLI as a bounded-time subprocess.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrNotFound is returned when the agent binary cannot be resolved
var ErrNotFound = errors.New("agent binary not found")

// Config describes how to launch the agent
type Config struct {
	// Bin is the executable name or path, resolved through PATH
	Bin string

	// Args precede the prompt, which is always the last argument
	Args []string

	// Dir is the working directory, empty for the current one
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the parent environment
	Env []string

	// KillGrace is how long a timed-out process group gets between SIGTERM
	// and SIGKILL
	KillGrace time.Duration
}

// Result is what one run observed
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int // -1 if the process did not exit normally
	PID      int
	TimedOut bool
	Elapsed  time.Duration
	Err      error // launch error, non-zero exit, or context error
}

// Runner starts one process per Run call; it holds no per-run state and is
// safe for concurrent use.
type Runner struct {
	cfg Config
}

// NewRunner creates a new runner
func NewRunner(cfg Config) *Runner {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	return &Runner{cfg: cfg}
}

// Run starts the agent with prompt as its final argument and waits for it
// up to deadline. On deadline or ctx cancellation the whole process group is
// terminated before Run returns.
func (r *Runner) Run(ctx context.Context, prompt string, deadline time.Duration) Result {
	path, err := exec.LookPath(r.cfg.Bin)
	if err != nil {
		return Result{ExitCode: -1, Err: fmt.Errorf("%w: %s: %w", ErrNotFound, r.cfg.Bin, err)}
	}

	args := make([]string, 0, len(r.cfg.Args)+1)
	args = append(args, r.cfg.Args...)
	args = append(args, prompt)

	cmd := exec.Command(path, args...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Bounds Wait if a descendant escaped the group and still holds the pipes.
	cmd.WaitDelay = r.cfg.KillGrace
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Elapsed: time.Since(start), Err: fmt.Errorf("failed to start %s: %w", r.cfg.Bin, err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	res := Result{PID: cmd.Process.Pid}
	select {
	case err := <-done:
		res.Err = err
	case <-timer.C:
		r.terminate(cmd, done)
		res.TimedOut = true
	case <-ctx.Done():
		r.terminate(cmd, done)
		res.Err = ctx.Err()
	}

	res.Elapsed = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode = -1
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	return res
}

// terminate stops the process group, escalating after the grace period,
// and waits for Wait to return.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) {
	_ = signalProcessGroup(cmd, false)
	select {
	case <-done:
		// The leader is gone; make sure no descendant outlives it.
		_ = signalProcessGroup(cmd, true)
		return
	case <-time.After(r.cfg.KillGrace):
	}
	_ = signalProcessGroup(cmd, true)
	<-done
}
