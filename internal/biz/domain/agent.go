package domain

import (
	"errors"
	"fmt"
	"time"
)

// AgentOutcome tags the result of an agent invocation
type AgentOutcome int

const (
	AgentSuccess AgentOutcome = iota
	AgentTimedOut
	AgentFailed
)

func (o AgentOutcome) String() string {
	switch o {
	case AgentSuccess:
		return "success"
	case AgentTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

var (
	ErrAgentTimeout = errors.New("agent timed out")
	ErrAgentFailure = errors.New("agent failed")
	// ErrAgentNotFound is the launch failure for a missing agent binary.
	ErrAgentNotFound = errors.New("agent binary not found")
)

// AgentResult is the outcome of one agent invocation
type AgentResult struct {
	Outcome  AgentOutcome
	Output   string // trimmed stdout on success
	Stderr   string
	ExitCode int // -1 when the process never ran or was killed
	Elapsed  time.Duration
	Err      error // cause for TimedOut and Failed
}

// Succeeded returns a success result
func Succeeded(output string, elapsed time.Duration) AgentResult {
	return AgentResult{Outcome: AgentSuccess, Output: output, Elapsed: elapsed}
}

// TimedOut returns a timeout result
func TimedOut(deadline, elapsed time.Duration) AgentResult {
	return AgentResult{
		Outcome:  AgentTimedOut,
		ExitCode: -1,
		Elapsed:  elapsed,
		Err:      fmt.Errorf("%w after %s", ErrAgentTimeout, deadline),
	}
}

// Failed returns a failure result wrapping cause
func Failed(cause error, exitCode int, stderr string, elapsed time.Duration) AgentResult {
	return AgentResult{
		Outcome:  AgentFailed,
		ExitCode: exitCode,
		Stderr:   stderr,
		Elapsed:  elapsed,
		Err:      fmt.Errorf("%w: %w", ErrAgentFailure, cause),
	}
}
