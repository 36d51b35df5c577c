package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client is the Telegram Bot API client
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient creates a client and verifies the token with getMe.
// endpoint may be empty for the public API; it uses the tgbotapi
// "<base>/bot%s/%s" format otherwise.
func NewClient(token, endpoint string, pollTimeout time.Duration) (*Client, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	// The HTTP timeout must outlast the server-side long-poll wait.
	httpClient := &http.Client{Timeout: pollTimeout + 15*time.Second}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram auth failed: %w", err)
	}
	return &Client{bot: bot}, nil
}

// Self returns the bot user learned at construction
func (c *Client) Self() tgbotapi.User {
	return c.bot.Self
}

// GetMe calls getMe
func (c *Client) GetMe(ctx context.Context) (tgbotapi.User, error) {
	if err := ctx.Err(); err != nil {
		return tgbotapi.User{}, err
	}
	return c.bot.GetMe()
}

type updatesResult struct {
	updates []tgbotapi.Update
	err     error
}

// GetUpdates long-polls getUpdates. The library call is not cancellable, so
// cancellation abandons it; unconfirmed updates are redelivered on the next
// call with the same offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(int(offset))
	cfg.Timeout = int(timeout / time.Second)
	cfg.AllowedUpdates = []string{"message"}

	ch := make(chan updatesResult, 1)
	go func() {
		updates, err := c.bot.GetUpdates(cfg)
		ch <- updatesResult{updates: updates, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.updates, r.err
	}
}

// SendMessage sends a plain text message
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendChatAction sends a chat action such as typing
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.NewChatAction(chatID, action))
	return err
}
