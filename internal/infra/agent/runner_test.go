//go:build !windows

package agent

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shRunner runs script with sh -c; the prompt becomes $0.
func shRunner(script string) *Runner {
	return NewRunner(Config{
		Bin:       "sh",
		Args:      []string{"-c", script},
		KillGrace: 500 * time.Millisecond,
	})
}

func processAlive(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	// A zombie still answers signal 0.
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return !os.IsNotExist(err)
	}
	fields := strings.Fields(string(stat))
	return len(fields) < 3 || fields[2] != "Z"
}

func TestRun_PassesPromptAsLastArgument(t *testing.T) {
	res := shRunner(`printf '%s' "$0"`).Run(context.Background(), "what's up? $HOME", 5*time.Second)

	require.NoError(t, res.Err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "what's up? $HOME", res.Stdout)
}

func TestRun_NonZeroExit(t *testing.T) {
	res := shRunner(`echo oops >&2; exit 1`).Run(context.Background(), "hi", 5*time.Second)

	require.Error(t, res.Err)
	var exitErr *exec.ExitError
	assert.ErrorAs(t, res.Err, &exitErr)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	deadline := 300 * time.Millisecond

	start := time.Now()
	res := shRunner(`sleep 30 & echo $! > "$0"; wait`).Run(context.Background(), pidFile, deadline)
	elapsed := time.Since(start)

	assert.True(t, res.TimedOut)
	assert.Less(t, elapsed, deadline+3*time.Second)
	assert.Equal(t, -1, res.ExitCode)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	childPID, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !processAlive(childPID) }, 2*time.Second, 20*time.Millisecond,
		"background child %d outlived the timeout", childPID)
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := shRunner(`sleep 30`).Run(ctx, "x", 10*time.Second)

	assert.False(t, res.TimedOut)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRun_BinaryNotFound(t *testing.T) {
	r := NewRunner(Config{Bin: "c3poh-no-such-binary-xyz"})

	res := r.Run(context.Background(), "hi", time.Second)

	assert.True(t, errors.Is(res.Err, ErrNotFound))
	assert.Equal(t, -1, res.ExitCode)
}
