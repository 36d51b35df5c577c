package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// SenderConfig tunes outbound delivery
type SenderConfig struct {
	MaxMessageLength int           // chunk size in UTF-16 code units, as Telegram counts
	Retries          int           // extra attempts after the first on transient failure
	BaseBackoff      time.Duration // first retry wait, doubled per attempt
	MaxBackoff       time.Duration
	RatePerSecond    float64 // sustained sends per second, 0 for unlimited
	Burst            int
}

// DefaultSenderConfig returns the delivery defaults
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		MaxMessageLength: 4000,
		Retries:          3,
		BaseBackoff:      time.Second,
		MaxBackoff:       30 * time.Second,
		RatePerSecond:    20,
		Burst:            5,
	}
}

// Sender is the single outbound path shared by replies and notifications.
// It splits long text, paces sends, and retries transient failures.
type Sender struct {
	chat    repo.ChatRepo
	cfg     SenderConfig
	limiter *rate.Limiter
	log     zerolog.Logger

	// onRetry runs before each wait between attempts
	onRetry func(chatID domain.ChatID, err error, wait time.Duration)
}

// NewSender creates a new sender
func NewSender(chat repo.ChatRepo, cfg SenderConfig) *Sender {
	def := DefaultSenderConfig()
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = def.MaxMessageLength
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = def.MaxBackoff
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	s := &Sender{
		chat:    chat,
		cfg:     cfg,
		limiter: limiter,
		log:     logger.Component(logger.CompSender),
	}
	s.onRetry = s.logRetry
	return s
}

// Send delivers text to chatID. Chunks go out in order; a chunk is retried
// only until its delivery is confirmed, so no chunk is sent twice.
func (s *Sender) Send(ctx context.Context, chatID domain.ChatID, text string) error {
	chunks := SplitMessage(text, s.cfg.MaxMessageLength)
	for i, chunk := range chunks {
		if err := s.sendChunk(ctx, chatID, chunk); err != nil {
			if len(chunks) > 1 {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			return err
		}
	}
	return nil
}

// Typing shows the typing indicator. Failures are only logged.
func (s *Sender) Typing(ctx context.Context, chatID domain.ChatID) {
	if err := s.chat.SendTyping(ctx, chatID); err != nil {
		s.log.Debug().Err(err).Int64("chat_id", int64(chatID)).Msg("typing indicator failed")
	}
}

func (s *Sender) sendChunk(ctx context.Context, chatID domain.ChatID, text string) error {
	// lastErr is the provider's last answer; the retry loop only sees the
	// markers derived from it.
	var lastErr error
	send := func() (struct{}, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := s.chat.SendText(ctx, chatID, text)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if ra := domain.RetryAfterOf(err); ra > 0 {
			return struct{}{}, &backoff.RetryAfterError{Duration: ra}
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, send,
		backoff.WithBackOff(newBackOff(s.cfg.BaseBackoff, s.cfg.MaxBackoff)),
		backoff.WithMaxTries(uint(s.cfg.Retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			s.onRetry(chatID, lastErr, wait)
		}),
	)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return &domain.DeliveryError{Err: ctx.Err()}
	case lastErr == nil:
		return &domain.DeliveryError{Err: err}
	case !domain.IsTransient(lastErr):
		s.log.Error().Err(lastErr).Int64("chat_id", int64(chatID)).Msg("permanent send failure")
		return lastErr
	}

	s.log.Error().Err(lastErr).Int64("chat_id", int64(chatID)).Int("attempts", s.cfg.Retries+1).Msg("send retries exhausted")
	if errors.Is(lastErr, domain.ErrTransientDelivery) {
		return lastErr
	}
	return &domain.DeliveryError{Transient: true, Err: lastErr}
}

func (s *Sender) logRetry(chatID domain.ChatID, err error, wait time.Duration) {
	s.log.Warn().Err(err).
		Int64("chat_id", int64(chatID)).
		Dur("wait", wait).
		Msg("transient send failure, retrying")
}

// newBackOff returns an unjittered policy that starts at initial and doubles
// up to ceiling.
func newBackOff(initial, ceiling time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// SplitMessage splits text into chunks of at most limit UTF-16 code units,
// the unit Telegram measures message length in. A rune is never split, so
// surrogate pairs stay together. Empty text yields a single empty chunk.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		return []string{text}
	}
	var (
		chunks []string
		buf    strings.Builder
		units  int
	)
	for _, r := range text {
		w := runeUnits(r)
		if units > 0 && units+w > limit {
			chunks = append(chunks, buf.String())
			buf.Reset()
			units = 0
		}
		buf.WriteRune(r)
		units += w
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		n += runeUnits(r)
	}
	return n
}

// runeUnits is the UTF-16 length of r; invalid runes are sent as U+FFFD.
func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}
