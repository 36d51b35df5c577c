package repo

import (
	"context"
	"time"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
)

// BotIdentity describes the bot account behind the token
type BotIdentity struct {
	ID        domain.UserID
	Username  string
	FirstName string
}

// ChatRepo is the chat provider API
type ChatRepo interface {
	// Me returns the bot identity (verifies the token)
	Me(ctx context.Context) (*BotIdentity, error)

	// GetUpdates long-polls for updates with ID >= offset
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]domain.Update, error)

	// SendText sends one message; callers keep text within provider limits
	SendText(ctx context.Context, chatID domain.ChatID, text string) error

	// SendTyping shows a typing indicator
	SendTyping(ctx context.Context, chatID domain.ChatID) error
}
