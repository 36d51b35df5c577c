package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/conf"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/data"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration (token redacted) and access state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			return RunStatus(cmd.Context(), cmd.OutOrStdout(), cliCtx.Config)
		},
	}
}

// RunStatus prints the effective configuration, validation results, the
// paired owner and the block-list.
func RunStatus(ctx context.Context, out io.Writer, cfg *conf.Config) error {
	allow := "(none)"
	if len(cfg.AllowFrom) > 0 {
		allow = strings.Join(cfg.AllowFrom, ", ")
	}
	token := "NO - set TELEGRAM_BOT_TOKEN"
	if cfg.TelegramBotToken != "" {
		token = "yes"
	}

	fmt.Fprintf(out, "DM policy:       %s\n", cfg.DMPolicy)
	fmt.Fprintf(out, "Allow from:      %s\n", allow)
	fmt.Fprintf(out, "Require mention: %t\n", cfg.RequireMention)
	if cfg.NotifyEnabled {
		fmt.Fprintf(out, "Notify:          http://%s/notify\n", cfg.NotifyAddr())
	} else {
		fmt.Fprintln(out, "Notify:          disabled")
	}
	fmt.Fprintf(out, "Claude:          %s %s (timeout %s)\n", cfg.ClaudeBin, strings.Join(cfg.ClaudeArgs, " "), cfg.AgentTimeout())
	fmt.Fprintf(out, "State file:      %s\n", cfg.StateFile)
	fmt.Fprintf(out, "Token set:       %s\n", token)

	warnings, err := cfg.Validate()
	if len(warnings) > 0 || err != nil {
		fmt.Fprintln(out)
	}
	for _, w := range warnings {
		fmt.Fprintf(out, "  ⚠️  %s\n", w)
	}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(out, "  ❌ %s\n", line)
		}
	}

	// Access state is only shown when it exists; status never creates it.
	if _, statErr := os.Stat(cfg.StateFile); statErr != nil {
		return nil
	}
	accessRepo, err := data.NewAccessRepo(cfg.StateFile)
	if err != nil {
		return err
	}
	defer accessRepo.Close()

	fmt.Fprintln(out)
	owner, err := accessRepo.GetOwner(ctx)
	if err != nil {
		return err
	}
	if owner != nil {
		fmt.Fprintf(out, "Paired owner:    %d (since %s)\n", owner.UserID, owner.PairedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Paired owner:    (none)")
	}

	blocked, err := accessRepo.ListBlocked(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Blocked users:   %d\n", len(blocked))
	for _, b := range blocked {
		line := fmt.Sprintf("  %d blocked %s", b.UserID, b.CreatedAt.Format(time.RFC3339))
		if b.Reason != "" {
			line += ": " + b.Reason
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
