package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/infra/agent"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// agentRepo implements the agent repository on a subprocess runner
type agentRepo struct {
	runner *agent.Runner
	log    zerolog.Logger
}

// NewAgentRepo creates a new agent repository
func NewAgentRepo(runner *agent.Runner) repo.AgentRepo {
	return &agentRepo{runner: runner, log: logger.Component(logger.CompAgent)}
}

// Invoke runs the agent and maps the run onto a tagged result
func (r *agentRepo) Invoke(ctx context.Context, text string, deadline time.Duration) domain.AgentResult {
	r.log.Debug().Int("prompt_len", len(text)).Dur("deadline", deadline).Msg("launching agent")
	res := r.runner.Run(ctx, text, deadline)
	stderr := strings.TrimSpace(res.Stderr)

	switch {
	case res.TimedOut:
		r.log.Warn().Int("pid", res.PID).Dur("deadline", deadline).Msg("agent deadline passed, process group killed")
		return domain.TimedOut(deadline, res.Elapsed)

	case errors.Is(res.Err, agent.ErrNotFound):
		r.log.Error().Err(res.Err).Msg("agent binary not found")
		return domain.Failed(fmt.Errorf("%w: %w", domain.ErrAgentNotFound, res.Err), -1, "", res.Elapsed)

	case ctx.Err() != nil:
		r.log.Warn().Int("pid", res.PID).Err(res.Err).Msg("agent canceled, process group killed")
		return domain.Failed(res.Err, res.ExitCode, stderr, res.Elapsed)

	case res.Err != nil:
		r.log.Debug().Int("pid", res.PID).Int("exit_code", res.ExitCode).Dur("elapsed", res.Elapsed).Msg("agent exited with error")
		return domain.Failed(res.Err, res.ExitCode, stderr, res.Elapsed)
	}

	output := strings.TrimSpace(res.Stdout)
	if output == "" && stderr != "" {
		return domain.Failed(errors.New("empty output"), res.ExitCode, stderr, res.Elapsed)
	}
	return domain.Succeeded(output, res.Elapsed)
}
