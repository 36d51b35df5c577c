package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
)

// CommandKind identifies a bridge command
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandStart
	CommandHelp
	CommandWhoAmI
	CommandBlock
	CommandUnblock
)

var commandNames = map[string]CommandKind{
	"start":   CommandStart,
	"help":    CommandHelp,
	"whoami":  CommandWhoAmI,
	"block":   CommandBlock,
	"unblock": CommandUnblock,
}

// Command is a classified bridge command
type Command struct {
	Kind CommandKind
	Args string
}

// HelpText lists the bridge commands
const HelpText = `Send any message and it is forwarded to Claude.

Commands:
/start - begin (pairs you as owner under the pairing policy)
/whoami - show your numeric user ID
/block <id> - block a user (admins only)
/unblock <id> - unblock a user (admins only)
/help - this message`

// ClassifyCommand classifies msg. Commands addressed to another bot and
// unknown commands are not bridge commands: the latter go to the agent as text.
func ClassifyCommand(msg *domain.Message, botUsername string) Command {
	name, target, ok := msg.Command()
	if !ok {
		return Command{Kind: CommandNone}
	}
	if target != "" && !strings.EqualFold(target, botUsername) {
		return Command{Kind: CommandNone}
	}
	kind, known := commandNames[name]
	if !known {
		return Command{Kind: CommandNone}
	}
	return Command{Kind: kind, Args: msg.CommandArgs()}
}

// CommandUsecase answers bridge commands without invoking the agent
type CommandUsecase struct {
	access *AccessUsecase
}

// NewCommandUsecase creates a new command usecase
func NewCommandUsecase(access *AccessUsecase) *CommandUsecase {
	return &CommandUsecase{access: access}
}

// WhoAmI renders the identity reply
func WhoAmI(sender domain.UserID) string {
	return fmt.Sprintf("Your user ID is %d.\nAdd it to allow_from to authorize yourself.", sender)
}

// Handle executes cmd for an already authorized sender and returns the reply
func (uc *CommandUsecase) Handle(ctx context.Context, msg *domain.Message, cmd Command) (string, error) {
	switch cmd.Kind {
	case CommandStart:
		if uc.access.Policy() == domain.PolicyPairing {
			owner, err := uc.access.Owner(ctx)
			if err != nil {
				return "", err
			}
			if owner != nil && owner.UserID == msg.SenderID {
				return "🤝 Paired. You are the owner of this bot.\nSend any message to talk to Claude.", nil
			}
		}
		return "👋 C3Poh is online. Send a message and it will be forwarded to Claude.", nil

	case CommandHelp:
		return HelpText, nil

	case CommandWhoAmI:
		return WhoAmI(msg.SenderID), nil

	case CommandBlock, CommandUnblock:
		return uc.handleBlock(ctx, msg.SenderID, cmd)
	}
	return "", fmt.Errorf("unsupported command kind %d", cmd.Kind)
}

func (uc *CommandUsecase) handleBlock(ctx context.Context, sender domain.UserID, cmd Command) (string, error) {
	admin, err := uc.access.IsAdmin(ctx, sender)
	if err != nil {
		return "", err
	}
	if !admin {
		return "🚫 Only the owner or allow-listed users can manage the block-list.", nil
	}

	fields := strings.Fields(cmd.Args)
	if len(fields) == 0 {
		return "Usage: /block <user_id> or /unblock <user_id>", nil
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return fmt.Sprintf("Invalid user ID %q.", fields[0]), nil
	}
	target := domain.UserID(id)

	if cmd.Kind == CommandUnblock {
		removed, err := uc.access.RecordUnblock(ctx, target)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("User %d is not blocked.", target), nil
		}
		return fmt.Sprintf("✓ Unblocked %d.", target), nil
	}

	reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd.Args), fields[0]))
	if err := uc.access.RecordBlock(ctx, target, sender, reason); err != nil {
		if errors.Is(err, ErrSelfBlock) {
			return "You cannot block yourself.", nil
		}
		return "", err
	}
	return fmt.Sprintf("✓ Blocked %d.", target), nil
}
