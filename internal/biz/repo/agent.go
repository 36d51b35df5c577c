package repo

import (
	"context"
	"time"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
)

// AgentRepo runs the local agent
type AgentRepo interface {
	// Invoke runs the agent with text as its prompt under deadline.
	// Failures are reported in the result, never as a panic.
	Invoke(ctx context.Context, text string, deadline time.Duration) domain.AgentResult
}
