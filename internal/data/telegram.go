package data

import (
	"context"
	"errors"
	"net"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/infra/telegram"
)

// telegramRepo implements the chat repository on the Telegram Bot API
type telegramRepo struct {
	client *telegram.Client
}

// NewTelegramRepo creates a new Telegram repository
func NewTelegramRepo(client *telegram.Client) repo.ChatRepo {
	return &telegramRepo{client: client}
}

// Me returns the bot identity
func (r *telegramRepo) Me(ctx context.Context) (*repo.BotIdentity, error) {
	u, err := r.client.GetMe(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	return &repo.BotIdentity{ID: domain.UserID(u.ID), Username: u.UserName, FirstName: u.FirstName}, nil
}

// GetUpdates long-polls for updates
func (r *telegramRepo) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]domain.Update, error) {
	raw, err := r.client.GetUpdates(ctx, offset, timeout)
	if err != nil {
		return nil, classifyError(err)
	}
	updates := make([]domain.Update, 0, len(raw))
	for _, u := range raw {
		updates = append(updates, convertUpdate(u))
	}
	return updates, nil
}

// SendText sends a text message
func (r *telegramRepo) SendText(ctx context.Context, chatID domain.ChatID, text string) error {
	return classifyError(r.client.SendMessage(ctx, int64(chatID), text))
}

// SendTyping shows the typing indicator
func (r *telegramRepo) SendTyping(ctx context.Context, chatID domain.ChatID) error {
	return classifyError(r.client.SendChatAction(ctx, int64(chatID), tgbotapi.ChatTyping))
}

func convertUpdate(u tgbotapi.Update) domain.Update {
	update := domain.Update{ID: int64(u.UpdateID)}
	m := u.Message
	if m == nil || m.Chat == nil {
		return update
	}

	msg := &domain.Message{
		ID:       m.MessageID,
		ChatID:   domain.ChatID(m.Chat.ID),
		ChatType: domain.ChatType(m.Chat.Type),
		Text:     m.Text,
		Date:     time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		msg.SenderID = domain.UserID(m.From.ID)
		msg.Username = m.From.UserName
		msg.SenderBot = m.From.IsBot
	}
	for _, e := range m.Entities {
		entity := domain.Entity{Type: e.Type, Offset: e.Offset, Length: e.Length}
		if e.User != nil {
			entity.UserID = domain.UserID(e.User.ID)
		}
		msg.Entities = append(msg.Entities, entity)
	}
	if m.ReplyToMessage != nil && m.ReplyToMessage.From != nil {
		msg.ReplyToSender = domain.UserID(m.ReplyToMessage.From.ID)
	}
	update.Message = msg
	return update
}

// classifyError maps Bot API failures onto transient and permanent classes
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.DeliveryError{Transient: false, Err: err}
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &domain.DeliveryError{
				Transient:  true,
				RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
				Err:        err,
			}
		case apiErr.Code >= 500:
			return &domain.DeliveryError{Transient: true, Err: err}
		default:
			// 400 bad chat id, 401 bad token, 403 blocked by the user, 404
			return &domain.DeliveryError{Transient: false, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.DeliveryError{Transient: true, Err: err}
	}

	// Undecodable responses (proxy error pages) are worth another try.
	return &domain.DeliveryError{Transient: true, Err: err}
}
