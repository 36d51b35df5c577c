package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/conf"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/data"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/infra/agent"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/infra/telegram"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/server"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// NewStartCmd creates the start command
func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the bot (Telegram polling and notify listener)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return RunStart(ctx, cliCtx.Config)
		},
	}
}

// RunStart validates cfg and runs the bridge until ctx is done
func RunStart(ctx context.Context, cfg *conf.Config) error {
	log := logger.Component(logger.CompBridge)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tg, err := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, cfg.PollTimeout())
	if err != nil {
		return err
	}
	runner := agent.NewRunner(agent.Config{
		Bin:  cfg.ClaudeBin,
		Args: cfg.ClaudeArgs,
		Dir:  cfg.ClaudeWorkdir,
	})

	msgLogPath := ""
	if cfg.LogMessages {
		msgLogPath = cfg.LogFile
	}
	repos, err := data.NewRepositories(tg, runner, cfg.StateFile, msgLogPath)
	if err != nil {
		return err
	}
	defer repos.Close()

	srv, err := server.NewBridgeServer(cfg, repos)
	if err != nil {
		return err
	}

	log.Info().
		Str("state_file", cfg.StateFile).
		Bool("notify", cfg.NotifyEnabled).
		Str("notify_addr", cfg.NotifyAddr()).
		Msg("starting c3poh")
	return srv.Run(ctx)
}
