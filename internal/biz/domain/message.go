package domain

import (
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// ChatType represents the chat type
type ChatType string

const (
	ChatTypePrivate    ChatType = "private"
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypeChannel    ChatType = "channel"
)

// IsGroup reports whether the chat is a multi-user group
func (t ChatType) IsGroup() bool {
	return t == ChatTypeGroup || t == ChatTypeSupergroup
}

// Entity is a formatting span inside message text. Offsets are in UTF-16 code units.
type Entity struct {
	Type   string
	Offset int
	Length int
	UserID UserID // set for text_mention
}

// Message is an inbound chat message
type Message struct {
	ID        int
	ChatID    ChatID
	ChatType  ChatType
	SenderID  UserID
	Username  string
	SenderBot bool
	Text      string
	Entities  []Entity
	// ReplyToSender is the author of the message this one replies to, 0 if none.
	ReplyToSender UserID
	Date          time.Time
}

// IsGroup checks if the message arrived in a group chat
func (m *Message) IsGroup() bool {
	return m.ChatType.IsGroup()
}

// EntityText returns the text covered by e
func (m *Message) EntityText(e Entity) string {
	units := utf16.Encode([]rune(m.Text))
	start, end := e.Offset, e.Offset+e.Length
	if start < 0 || start > len(units) {
		return ""
	}
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[start:end]))
}

// Command returns the command name without slash and bot suffix, and the
// bot suffix itself, when the message starts with a bot_command entity.
func (m *Message) Command() (name, target string, ok bool) {
	if len(m.Entities) == 0 || m.Entities[0].Type != "bot_command" || m.Entities[0].Offset != 0 {
		return "", "", false
	}
	raw := strings.TrimPrefix(m.EntityText(m.Entities[0]), "/")
	name, target, _ = strings.Cut(raw, "@")
	return strings.ToLower(name), target, name != ""
}

// CommandArgs returns the text following the leading command
func (m *Message) CommandArgs() string {
	if _, _, ok := m.Command(); !ok {
		return ""
	}
	units := utf16.Encode([]rune(m.Text))
	end := m.Entities[0].Length
	if end > len(units) {
		return ""
	}
	return strings.TrimSpace(string(utf16.Decode(units[end:])))
}

// Update is one item returned by the provider's get-updates call
type Update struct {
	ID      int64
	Message *Message // nil for update kinds the bridge ignores
}

// PendingRequest tracks one in-flight agent invocation
type PendingRequest struct {
	ID        string
	SenderID  UserID
	ChatID    ChatID
	Text      string
	StartedAt time.Time
}

// NewPendingRequest creates a pending request stamped with the current time
func NewPendingRequest(sender UserID, chat ChatID, text string) *PendingRequest {
	return &PendingRequest{
		ID:        uuid.NewString(),
		SenderID:  sender,
		ChatID:    chat,
		Text:      text,
		StartedAt: time.Now(),
	}
}

// Elapsed returns the time since the request started
func (p *PendingRequest) Elapsed() time.Duration {
	return time.Since(p.StartedAt)
}
