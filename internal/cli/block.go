package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/usecase"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/conf"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/data"
)

// NewBlockCmd creates the block command
func NewBlockCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "block USER_ID",
		Short: "Add a user to the block-list",
		Long:  "Block a Telegram user ID. A running bridge sees the change on the next message.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			return RunBlock(cmd.Context(), cmd.OutOrStdout(), cliCtx.Config, args[0], reason)
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded with the block")

	return cmd
}

// NewUnblockCmd creates the unblock command
func NewUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock USER_ID",
		Short: "Remove a user from the block-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			return RunUnblock(cmd.Context(), cmd.OutOrStdout(), cliCtx.Config, args[0])
		},
	}
}

// RunBlock blocks rawID in the state file named by cfg
func RunBlock(ctx context.Context, out io.Writer, cfg *conf.Config, rawID, reason string) error {
	id, err := parseUserID(rawID)
	if err != nil {
		return err
	}
	return withAccess(cfg, func(access *usecase.AccessUsecase) error {
		// Offline edits are attributed to user 0, the local operator.
		if err := access.RecordBlock(ctx, id, 0, strings.TrimSpace(reason)); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Blocked %d\n", id)
		return nil
	})
}

// RunUnblock unblocks rawID in the state file named by cfg
func RunUnblock(ctx context.Context, out io.Writer, cfg *conf.Config, rawID string) error {
	id, err := parseUserID(rawID)
	if err != nil {
		return err
	}
	return withAccess(cfg, func(access *usecase.AccessUsecase) error {
		removed, err := access.RecordUnblock(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(out, "User %d is not blocked\n", id)
			return nil
		}
		fmt.Fprintf(out, "✓ Unblocked %d\n", id)
		return nil
	})
}

func withAccess(cfg *conf.Config, fn func(*usecase.AccessUsecase) error) error {
	accessRepo, err := data.NewAccessRepo(cfg.StateFile)
	if err != nil {
		return err
	}
	defer accessRepo.Close()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	return fn(usecase.NewAccessUsecase(accessRepo, usecase.AccessConfig{Policy: policy}))
}

func parseUserID(raw string) (domain.UserID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user ID %q", raw)
	}
	return domain.UserID(id), nil
}
