package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/api"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/usecase"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/conf"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/data"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/service"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

const notifyShutdownTimeout = 5 * time.Second

// BridgeServer owns the runtime: the poller and the notify listener share
// one sender and one access controller.
type BridgeServer struct {
	cfg        *conf.Config
	repos      *data.Repositories
	access     *usecase.AccessUsecase
	sender     *service.Sender
	dispatcher *service.Dispatcher
	notify     *api.Server // nil when disabled
	log        zerolog.Logger
}

// NewBridgeServer wires the components from cfg and repos
func NewBridgeServer(cfg *conf.Config, repos *data.Repositories) (*BridgeServer, error) {
	accessCfg, err := cfg.ToAccessConfig()
	if err != nil {
		return nil, err
	}
	if cfg.NotifyEnabled && !cfg.NotifyAllowRemote && !conf.IsLoopbackHost(cfg.NotifyHost) {
		return nil, &conf.ConfigError{Field: "notify_host", Message: "refusing to bind a non-loopback address without notify_allow_remote"}
	}

	access := usecase.NewAccessUsecase(repos.Access, accessCfg)
	commands := usecase.NewCommandUsecase(access)

	senderCfg := service.DefaultSenderConfig()
	senderCfg.MaxMessageLength = cfg.MaxMessageLength
	senderCfg.Retries = cfg.SendRetries
	sender := service.NewSender(repos.Chat, senderCfg)

	dispatcher := service.NewDispatcher(access, commands, repos.Agent, sender, repos.MsgLog, service.DispatcherConfig{
		DenyNotice:      cfg.DenyNotice,
		TypingIndicator: cfg.TypingIndicator,
		AgentTimeout:    cfg.AgentTimeout(),
		MaxConcurrent:   cfg.MaxConcurrent,
		EchoStderr:      cfg.ClaudeEchoStderr,
	})

	s := &BridgeServer{
		cfg:        cfg,
		repos:      repos,
		access:     access,
		sender:     sender,
		dispatcher: dispatcher,
		log:        logger.Component(logger.CompBridge),
	}
	if cfg.NotifyEnabled {
		notifier := service.NewNotifier(sender, access, domain.ChatID(cfg.NotifyChatID))
		s.notify = api.NewServer(notifier, cfg.NotifyAddr())
	}
	return s, nil
}

// Run verifies the token, then serves until ctx is done. In-flight agent
// calls finish before Run returns.
func (s *BridgeServer) Run(ctx context.Context) error {
	me, err := s.repos.Chat.Me(ctx)
	if err != nil {
		return fmt.Errorf("telegram auth failed (check TELEGRAM_BOT_TOKEN): %w", err)
	}
	s.dispatcher.SetBot(*me)

	s.log.Info().
		Str("bot", "@"+me.Username).
		Str("name", me.FirstName).
		Str("dm_policy", string(s.access.Policy())).
		Interface("allow_from", s.cfg.AllowFrom).
		Msg("connected")

	poller := service.NewPoller(s.repos.Chat, s.dispatcher, *me, service.PollerConfig{
		PollTimeout:    s.cfg.PollTimeout(),
		RequireMention: s.cfg.RequireMention,
	}, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	if s.notify != nil {
		g.Go(func() error {
			if err := s.notify.Start(); err != nil {
				return fmt.Errorf("notify listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), notifyShutdownTimeout)
			defer cancel()
			return s.notify.Stop(shutdownCtx)
		})
	}

	err = g.Wait()

	pending := s.dispatcher.Pending()
	if len(pending) > 0 {
		s.log.Info().Int("pending", len(pending)).Msg("waiting for in-flight agent calls")
	}
	s.dispatcher.Close()
	s.log.Info().Msg("stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
