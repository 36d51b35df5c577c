package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/conf"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/data"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/infra/telegram"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/service"
)

// TestMessage is sent by "c3poh test --send-to"
const TestMessage = "👋 C3Poh test message. If you received this, it's working!"

// NewTestCmd creates the test command
func NewTestCmd() *cobra.Command {
	var sendTo int64

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test the Telegram connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			return RunTest(cmd.Context(), cmd.OutOrStdout(), cliCtx.Config, sendTo)
		},
	}

	cmd.Flags().Int64Var(&sendTo, "send-to", 0, "send a test message to this Telegram user ID")

	return cmd
}

// RunTest verifies the token and optionally sends a test message
func RunTest(ctx context.Context, out io.Writer, cfg *conf.Config, sendTo int64) error {
	if cfg.TelegramBotToken == "" {
		return &conf.ConfigError{Field: "TELEGRAM_BOT_TOKEN", Message: "is not set; set it via env var or .env"}
	}

	tg, err := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, cfg.PollTimeout())
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	chat := data.NewTelegramRepo(tg)
	me, err := chat.Me(ctx)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Connected as @%s (%s)\n", me.Username, me.FirstName)

	if sendTo == 0 {
		return nil
	}
	senderCfg := service.DefaultSenderConfig()
	senderCfg.MaxMessageLength = cfg.MaxMessageLength
	senderCfg.Retries = cfg.SendRetries
	sender := service.NewSender(chat, senderCfg)
	if err := sender.Send(ctx, domain.ChatID(sendTo), TestMessage); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Test message sent to %d\n", sendTo)
	return nil
}
