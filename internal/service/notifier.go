package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/usecase"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// ErrNoRecipients is returned when no chat is configured to receive alerts
var ErrNoRecipients = errors.New("no notify recipients: set notify_chat_id, pair an owner or fill allow_from")

// Notifier forwards local alerts through the outbound path. It never
// invokes the agent.
type Notifier struct {
	out    Outbound
	access *usecase.AccessUsecase
	chatID domain.ChatID
	log    zerolog.Logger
}

// NewNotifier creates a new notifier. A zero chatID sends to the paired
// owner, or to every allow-list member when there is no owner.
func NewNotifier(out Outbound, access *usecase.AccessUsecase, chatID domain.ChatID) *Notifier {
	return &Notifier{
		out:    out,
		access: access,
		chatID: chatID,
		log:    logger.Component(logger.CompNotify),
	}
}

// Recipients resolves the chats that receive alerts
func (n *Notifier) Recipients(ctx context.Context) ([]domain.ChatID, error) {
	if n.chatID != 0 {
		return []domain.ChatID{n.chatID}, nil
	}

	owner, err := n.access.Owner(ctx)
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	if owner != nil {
		// A private chat's ID is the user's ID.
		return []domain.ChatID{domain.ChatID(owner.UserID)}, nil
	}

	ids := n.access.AllowFrom()
	slices.Sort(ids)
	chats := make([]domain.ChatID, len(ids))
	for i, id := range ids {
		chats[i] = domain.ChatID(id)
	}
	return chats, nil
}

// Notify validates p and sends it once to each recipient
func (n *Notifier) Notify(ctx context.Context, p domain.NotifyPayload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	recipients, err := n.Recipients(ctx)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	text := p.Format()
	var errs []error
	for _, chatID := range recipients {
		if err := n.out.Send(ctx, chatID, text); err != nil {
			n.log.Error().Err(err).Int64("chat_id", int64(chatID)).Msg("alert not delivered")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	n.log.Info().
		Str("source", p.Source).
		Int("recipients", len(recipients)).
		Int("failed", len(errs)).
		Msg("alert forwarded")
	return errors.Join(errs...)
}
