package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/conf"
)

// InitOptions are the init command options
type InitOptions struct {
	Force bool
}

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-time setup",
		Long:  "Prompt for the bot token, DM policy and your user ID, then write the config file (the token is never saved).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			return RunInit(cmd.InOrStdin(), cmd.OutOrStdout(), cliCtx.ConfigPath, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing config file")

	return cmd
}

// RunInit runs the interactive setup
func RunInit(in io.Reader, out io.Writer, configPath string, opts *InitOptions) error {
	if configPath == "" {
		var err error
		if configPath, err = conf.DefaultConfigPath(); err != nil {
			return err
		}
	}
	configPath, err := conf.ExpandPath(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "C3Poh setup")
	fmt.Fprintln(out, "You need a Telegram bot token. Open Telegram, message @BotFather, send /newbot and copy the token.")
	fmt.Fprintln(out)

	token, err := readSecret(in, reader, out, "Telegram bot token: ")
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("token is required")
	}

	fmt.Fprintln(out, "\nDM policy (who can message the bot):")
	fmt.Fprintln(out, "  allowlist  - only listed user IDs (recommended)")
	fmt.Fprintln(out, "  pairing    - first person to message the bot becomes owner")
	fmt.Fprintln(out, "  open       - anyone (dangerous)")
	answer, err := prompt(reader, out, "DM policy [allowlist]: ")
	if err != nil {
		return err
	}
	policy := domain.PolicyAllowlist
	if answer != "" {
		if p, perr := domain.ParsePolicy(strings.ToLower(answer)); perr == nil && p != domain.PolicyDisabled {
			policy = p
		} else {
			fmt.Fprintf(out, "Unknown policy %q, using 'allowlist'.\n", answer)
		}
	}

	cfg := conf.Default()
	cfg.DMPolicy = string(policy)

	if policy == domain.PolicyAllowlist {
		fmt.Fprintln(out, "\nYour numeric Telegram user ID (message @userinfobot, or send /whoami to the bot later):")
		uid, err := prompt(reader, out, "Your Telegram user ID: ")
		if err != nil {
			return err
		}
		if uid != "" {
			cfg.AllowFrom = []string{uid}
		} else {
			fmt.Fprintln(out, "No user ID provided. Add it later to allow_from.")
		}
	}

	saved, err := cfg.Save(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s (token NOT saved to disk)\n", saved)
	fmt.Fprintln(out, "Start the bot with:")
	fmt.Fprintln(out, "  export TELEGRAM_BOT_TOKEN='<your token>'")
	fmt.Fprintln(out, "  c3poh start")
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo when in is a terminal
func readSecret(in io.Reader, reader *bufio.Reader, out io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return prompt(reader, out, label)
}
