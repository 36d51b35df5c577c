// Package cli implements the c3poh command line.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/conf"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// GlobalFlags are flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

type contextKey struct{}

// CLIContext carries the loaded configuration to subcommands
type CLIContext struct {
	Config     *conf.Config
	ConfigPath string
}

// GetCLIContext returns the context set by the root pre-run hook
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	if c, ok := cmd.Context().Value(contextKey{}).(*CLIContext); ok {
		return c
	}
	return nil
}

func mustCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	c := GetCLIContext(cmd)
	if c == nil {
		return nil, errors.New("configuration not loaded")
	}
	return c, nil
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	flags := &GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "c3poh",
		Short: "C3Poh - Telegram bridge for Claude Code",
		Long: `C3Poh forwards Telegram messages from authorized users to the local
claude CLI and sends the replies back. It also relays local alerts posted to
its notify endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			cfg, err := loadConfig(cmd, flags.ConfigPath)
			if err != nil {
				return err
			}

			level := cfg.LogLevel
			if flags.Verbose {
				level = "debug"
			}
			if err := logger.Init(logger.LogConfig{
				Level:  level,
				Format: cfg.LogFormat,
				File:   cfg.AppLogFile,
			}); err != nil {
				return err
			}

			logger.Debug().
				Str("config", flags.ConfigPath).
				Str("dm_policy", cfg.DMPolicy).
				Msg("configuration loaded")

			cliCtx := &CLIContext{Config: cfg, ConfigPath: flags.ConfigPath}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewStartCmd())
	rootCmd.AddCommand(NewTestCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewBlockCmd())
	rootCmd.AddCommand(NewUnblockCmd())

	return rootCmd
}

// loadConfig loads the configuration for cmd. init creates the file named
// by --config, so it starts from the defaults instead of requiring it.
func loadConfig(cmd *cobra.Command, path string) (*conf.Config, error) {
	if cmd.Name() == "init" {
		return conf.Default(), nil
	}
	return conf.Load(path)
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
