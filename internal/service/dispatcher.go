package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/usecase"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// Reply texts
const (
	DenyNoticeText = "🚫 You're not authorized to use this bot.\nContact the owner to be added to the allowlist."
	NoOutputText   = "(no output)"
	NotFoundText   = "❌ claude CLI not found.\nInstall Claude Code: https://claude.ai/code"
)

// maxStderrEcho bounds the stderr excerpt in a failure reply, in runes
const maxStderrEcho = 500

// ErrDispatcherClosed is returned by Dispatch after Close
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Outbound delivers text to a chat
type Outbound interface {
	Send(ctx context.Context, chatID domain.ChatID, text string) error
	Typing(ctx context.Context, chatID domain.ChatID)
}

// DispatcherConfig configures the message pipeline
type DispatcherConfig struct {
	DenyNotice      bool
	TypingIndicator bool
	AgentTimeout    time.Duration
	MaxConcurrent   int  // concurrent agent invocations
	QueueSize       int  // buffered messages per sender
	EchoStderr      bool // include truncated agent stderr in failure replies
}

// Dispatcher runs each accepted message through
// authorize -> command or agent -> send.
//
// Messages from one sender are handled in arrival order by a worker owned
// by that sender; different senders proceed concurrently, bounded by the
// agent semaphore. Close cancels the drain context: queued messages that
// have not started are skipped, running agent calls finish.
type Dispatcher struct {
	access   *usecase.AccessUsecase
	commands *usecase.CommandUsecase
	agent    repo.AgentRepo
	out      Outbound
	msgLog   repo.MessageLogRepo
	cfg      DispatcherConfig
	sem      *semaphore.Weighted
	log      zerolog.Logger

	mu      sync.Mutex
	bot     repo.BotIdentity
	workers map[domain.UserID]chan *domain.Message
	pending map[string]*domain.PendingRequest
	closed  bool
	wg      sync.WaitGroup

	drain       context.Context
	cancelDrain context.CancelFunc
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	access *usecase.AccessUsecase,
	commands *usecase.CommandUsecase,
	agent repo.AgentRepo,
	out Outbound,
	msgLog repo.MessageLogRepo,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 300 * time.Second
	}
	drain, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		access:      access,
		commands:    commands,
		agent:       agent,
		out:         out,
		msgLog:      msgLog,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:         logger.Component(logger.CompDispatch),
		workers:     make(map[domain.UserID]chan *domain.Message),
		pending:     make(map[string]*domain.PendingRequest),
		drain:       drain,
		cancelDrain: cancel,
	}
}

// SetBot sets the bot identity used for command targets and mention stripping
func (d *Dispatcher) SetBot(bot repo.BotIdentity) {
	d.mu.Lock()
	d.bot = bot
	d.mu.Unlock()
}

func (d *Dispatcher) botIdentity() repo.BotIdentity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bot
}

// Dispatch queues msg on its sender's worker. It waits while that sender's
// queue is full, until ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.Message) error {
	for {
		queued, err := d.tryEnqueue(msg)
		if err != nil || queued {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(queueRetryInterval):
		}
	}
}

const queueRetryInterval = 50 * time.Millisecond

// tryEnqueue hands msg to its sender's worker without blocking. Sends and
// the worker's idle check both happen under mu, so a queued message always
// has a live worker.
func (d *Dispatcher) tryEnqueue(msg *domain.Message) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrDispatcherClosed
	}
	queue, ok := d.workers[msg.SenderID]
	if !ok {
		queue = make(chan *domain.Message, d.cfg.QueueSize)
		d.workers[msg.SenderID] = queue
		d.wg.Add(1)
		go d.runWorker(msg.SenderID, queue)
	}
	select {
	case queue <- msg:
		return true, nil
	default:
		return false, nil
	}
}

// runWorker drains one sender's queue and exits once it is idle
func (d *Dispatcher) runWorker(sender domain.UserID, queue chan *domain.Message) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		select {
		case msg := <-queue:
			d.mu.Unlock()
			d.handleSafely(msg)
		default:
			delete(d.workers, sender)
			d.mu.Unlock()
			return
		}
	}
}

func (d *Dispatcher) handleSafely(msg *domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Int64("user_id", int64(msg.SenderID)).
				Msg("message handler panicked")
		}
	}()
	if d.draining() {
		d.log.Info().
			Int64("user_id", int64(msg.SenderID)).
			Int64("chat_id", int64(msg.ChatID)).
			Msg("shutting down, queued message skipped")
		return
	}
	// Replies and running agent calls are not tied to the drain context, so
	// started work completes within its own deadlines.
	d.handle(context.Background(), msg)
}

// Close stops accepting messages, skips queued ones and waits for the
// messages already being handled
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cancelDrain()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) draining() bool {
	return d.drain.Err() != nil
}

// Pending returns a snapshot of in-flight agent requests, oldest first
func (d *Dispatcher) Pending() []domain.PendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.PendingRequest, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (d *Dispatcher) handle(ctx context.Context, msg *domain.Message) {
	if msg.Text == "" {
		return
	}
	bot := d.botIdentity()
	cmd := usecase.ClassifyCommand(msg, bot.Username)
	log := d.log.With().Int64("user_id", int64(msg.SenderID)).Int64("chat_id", int64(msg.ChatID)).Logger()

	// /whoami is answered before authorization so a new user can learn the
	// ID to put in allow_from.
	if cmd.Kind == usecase.CommandWhoAmI && d.access.Policy() != domain.PolicyDisabled {
		d.reply(ctx, log, msg, usecase.WhoAmI(msg.SenderID))
		return
	}

	decision, err := d.access.Authorize(ctx, msg.SenderID)
	if err != nil {
		log.Error().Err(err).Msg("authorization failed, denying")
	}
	if !decision.Allowed() {
		d.deny(ctx, log, msg, decision)
		return
	}

	if cmd.Kind != usecase.CommandNone {
		text, err := d.commands.Handle(ctx, msg, cmd)
		if err != nil {
			log.Error().Err(err).Int("command", int(cmd.Kind)).Msg("command failed")
			text = "❌ Command failed. Check the bridge logs."
		}
		d.reply(ctx, log, msg, text)
		return
	}

	text := msg.Text
	if msg.IsGroup() {
		text = usecase.StripMention(text, bot.Username)
	}
	if text == "" {
		return
	}

	d.msgLog.LogMessage(msg.SenderID, msg.ChatID, text, repo.DirectionIn)
	if d.cfg.TypingIndicator {
		d.out.Typing(ctx, msg.ChatID)
	}

	result, started := d.invoke(ctx, msg, text)
	if !started {
		log.Info().Msg("shutting down, agent not started")
		return
	}
	d.reply(ctx, log, msg, d.render(log, result))
}

func (d *Dispatcher) deny(ctx context.Context, log zerolog.Logger, msg *domain.Message, decision domain.Decision) {
	if decision != domain.DenyAndRecord {
		log.Debug().Msg("message dropped")
		return
	}
	log.Info().Err(domain.ErrAuthDenied).Str("username", msg.Username).Msg("sender denied")
	d.msgLog.LogBlocked(msg.SenderID, msg.ChatID)
	if !d.cfg.DenyNotice || msg.IsGroup() {
		return
	}
	if err := d.out.Send(ctx, msg.ChatID, DenyNoticeText); err != nil {
		log.Warn().Err(err).Msg("deny notice not delivered")
	}
}

// invoke runs the agent once a slot is free. It reports false without
// running anything if shutdown began while the message waited for a slot.
func (d *Dispatcher) invoke(ctx context.Context, msg *domain.Message, text string) (domain.AgentResult, bool) {
	req := domain.NewPendingRequest(msg.SenderID, msg.ChatID, text)

	if err := d.sem.Acquire(d.drain, 1); err != nil {
		return domain.AgentResult{}, false
	}
	defer d.sem.Release(1)
	if d.draining() {
		return domain.AgentResult{}, false
	}

	d.mu.Lock()
	d.pending[req.ID] = req
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, req.ID)
		d.mu.Unlock()
	}()

	d.log.Debug().Str("request_id", req.ID).Int64("user_id", int64(req.SenderID)).Msg("invoking agent")
	result := d.agent.Invoke(ctx, text, d.cfg.AgentTimeout)
	d.log.Info().
		Str("request_id", req.ID).
		Str("outcome", result.Outcome.String()).
		Int("exit_code", result.ExitCode).
		Dur("elapsed", req.Elapsed()).
		Msg("agent finished")
	return result, true
}

// render turns an agent result into reply text
func (d *Dispatcher) render(log zerolog.Logger, result domain.AgentResult) string {
	switch result.Outcome {
	case domain.AgentSuccess:
		if result.Output == "" {
			return NoOutputText
		}
		return result.Output
	case domain.AgentTimedOut:
		log.Warn().Err(result.Err).Msg("agent timed out")
		return fmt.Sprintf("⏱️ Claude timed out after %s.", d.cfg.AgentTimeout)
	}

	log.Error().Err(result.Err).Int("exit_code", result.ExitCode).Str("stderr", result.Stderr).Msg("agent failed")
	if errors.Is(result.Err, domain.ErrAgentNotFound) {
		return NotFoundText
	}
	if result.Stderr != "" && d.cfg.EchoStderr {
		return "❌ Claude error: " + truncateText(result.Stderr, maxStderrEcho)
	}
	if result.ExitCode > 0 {
		return fmt.Sprintf("❌ Claude exited with status %d.", result.ExitCode)
	}
	return "❌ Error invoking Claude."
}

func (d *Dispatcher) reply(ctx context.Context, log zerolog.Logger, msg *domain.Message, text string) {
	d.msgLog.LogMessage(msg.SenderID, msg.ChatID, text, repo.DirectionOut)
	if err := d.out.Send(ctx, msg.ChatID, text); err != nil {
		log.Error().Err(err).Msg("reply not delivered")
	}
}

// truncateText cuts s to at most n runes, marking the cut
func truncateText(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
