package data

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// messageLogRepo writes one JSON line per message event. Only the text
// length is recorded, never the text.
type messageLogRepo struct {
	log zerolog.Logger
}

// NewMessageLogRepo opens a rotated JSONL message log at path
func NewMessageLogRepo(path string) (repo.MessageLogRepo, io.Closer, error) {
	w, err := logger.NewRotatingWriter(path)
	if err != nil {
		return nil, nil, err
	}
	return newMessageLog(w), w, nil
}

// NewDiscardMessageLogRepo returns a message log that records nothing
func NewDiscardMessageLogRepo() repo.MessageLogRepo {
	return newMessageLog(io.Discard)
}

func newMessageLog(w io.Writer) *messageLogRepo {
	return &messageLogRepo{log: zerolog.New(w)}
}

// LogMessage records an inbound or outbound message
func (r *messageLogRepo) LogMessage(userID domain.UserID, chatID domain.ChatID, text string, dir repo.Direction) {
	r.log.Log().
		Str("ts", time.Now().UTC().Format(time.RFC3339Nano)).
		Str("event", "message").
		Str("direction", string(dir)).
		Int64("user_id", int64(userID)).
		Int64("chat_id", int64(chatID)).
		Int("text_length", len([]rune(text))).
		Send()
}

// LogBlocked records a denied sender
func (r *messageLogRepo) LogBlocked(userID domain.UserID, chatID domain.ChatID) {
	r.log.Log().
		Str("ts", time.Now().UTC().Format(time.RFC3339Nano)).
		Str("event", "blocked").
		Int64("user_id", int64(userID)).
		Int64("chat_id", int64(chatID)).
		Send()
}
