package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/usecase"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// MessageHandler accepts messages that passed the ingestion filters
type MessageHandler interface {
	Dispatch(ctx context.Context, msg *domain.Message) error
}

// PollState is a state of the ingestion loop
type PollState int

const (
	StatePolling PollState = iota
	StateBackoff
	StateDispatching
)

func (s PollState) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateDispatching:
		return "dispatching"
	}
	return "unknown"
}

// PollerConfig configures the ingestion loop
type PollerConfig struct {
	PollTimeout    time.Duration
	RequireMention bool
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

// Poller long-polls the provider and dispatches each new message once.
// The update cursor is owned by the Run goroutine.
type Poller struct {
	chat    repo.ChatRepo
	handler MessageHandler
	bot     repo.BotIdentity
	cfg     PollerConfig
	log     zerolog.Logger

	cursor int64
	state  PollState
	batch  []domain.Update
	policy *backoff.ExponentialBackOff
	wait   time.Duration // pause before the next poll while in StateBackoff

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a new poller. cursor is the last update ID already
// processed, 0 to let the provider decide.
func NewPoller(chat repo.ChatRepo, handler MessageHandler, bot repo.BotIdentity, cfg PollerConfig, cursor int64) *Poller {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 20 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = time.Minute
	}
	return &Poller{
		chat:    chat,
		handler: handler,
		bot:     bot,
		cfg:     cfg,
		log:     logger.Component(logger.CompPoller),
		cursor:  cursor,
		state:   StatePolling,
		policy:  newBackOff(cfg.MinBackoff, cfg.MaxBackoff),
		sleep:   sleepContext,
	}
}

// Cursor returns the highest processed update ID
func (p *Poller) Cursor() int64 {
	return p.cursor
}

// Run drives the state machine until ctx is done. Poll failures never end it.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Int64("cursor", p.cursor).Dur("poll_timeout", p.cfg.PollTimeout).Msg("polling started")
	for {
		if ctx.Err() != nil {
			p.log.Info().Int64("cursor", p.cursor).Msg("polling stopped")
			return nil
		}
		p.step(ctx)
	}
}

// step performs one state transition
func (p *Poller) step(ctx context.Context) {
	switch p.state {
	case StatePolling:
		updates, err := p.chat.GetUpdates(ctx, p.cursor+1, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.wait = p.nextBackoff(err)
			p.log.Warn().Err(err).Dur("wait", p.wait).Msg("poll failed")
			p.state = StateBackoff
			return
		}
		p.policy.Reset()
		p.wait = 0
		p.batch = updates
		p.state = StateDispatching

	case StateBackoff:
		_ = p.sleep(ctx, p.wait)
		p.state = StatePolling

	case StateDispatching:
		p.processBatch(ctx, p.batch)
		p.batch = nil
		p.state = StatePolling
	}
}

// nextBackoff returns the pause after a failed poll. A provider-requested
// wait takes precedence over the exponential policy.
func (p *Poller) nextBackoff(err error) time.Duration {
	if ra := domain.RetryAfterOf(err); ra > 0 {
		return ra
	}
	d := p.policy.NextBackOff()
	if d == backoff.Stop {
		// the loop never gives up; hold at the ceiling
		return p.cfg.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// processBatch dispatches updates newer than the cursor in ascending order
// and returns how many messages were dispatched.
func (p *Poller) processBatch(ctx context.Context, updates []domain.Update) int {
	sort.SliceStable(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })

	dispatched := 0
	for _, u := range updates {
		if u.ID <= p.cursor {
			p.log.Debug().Int64("update_id", u.ID).Int64("cursor", p.cursor).Msg("skipping seen update")
			continue
		}
		if p.cursor > 0 && u.ID > p.cursor+1 {
			p.log.Warn().Int64("cursor", p.cursor).Int64("update_id", u.ID).Int64("missing", u.ID-p.cursor-1).Msg("update gap")
		}
		p.cursor = u.ID

		if !p.accept(u.Message) {
			continue
		}
		if err := p.handler.Dispatch(ctx, u.Message); err != nil {
			if errors.Is(err, ErrDispatcherClosed) || ctx.Err() != nil {
				p.log.Warn().Int64("update_id", u.ID).Msg("shutting down, message not dispatched")
			} else {
				p.log.Error().Err(err).Int64("update_id", u.ID).Msg("dispatch failed")
			}
			continue
		}
		dispatched++
	}
	return dispatched
}

// accept applies the ingestion filters: text messages from humans, and in
// groups only those addressed to the bot when mentions are required.
func (p *Poller) accept(msg *domain.Message) bool {
	if msg == nil || msg.Text == "" || msg.SenderID == 0 || msg.ChatID == 0 {
		return false
	}
	if msg.SenderBot {
		return false
	}
	if msg.IsGroup() && p.cfg.RequireMention && !usecase.IsAddressed(msg, p.bot) {
		return false
	}
	return true
}
