package usecase

import (
	"strings"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
)

// IsAddressed reports whether a group message is directed at the bot: an
// @mention of its username, a text_mention of its user, a /command@bot, or
// a reply to one of its messages.
func IsAddressed(msg *domain.Message, bot repo.BotIdentity) bool {
	if bot.ID != 0 && msg.ReplyToSender == bot.ID {
		return true
	}
	for _, e := range msg.Entities {
		switch e.Type {
		case "mention":
			name := strings.TrimPrefix(msg.EntityText(e), "@")
			if bot.Username != "" && strings.EqualFold(name, bot.Username) {
				return true
			}
		case "text_mention":
			if bot.ID != 0 && e.UserID == bot.ID {
				return true
			}
		case "bot_command":
			_, target, _ := strings.Cut(msg.EntityText(e), "@")
			if bot.Username != "" && strings.EqualFold(target, bot.Username) {
				return true
			}
		}
	}
	return false
}

// StripMention removes every @username mention of the bot from text
func StripMention(text, username string) string {
	if username == "" {
		return strings.TrimSpace(text)
	}
	mention := "@" + username
	var b strings.Builder
	rest := text
	for {
		i := indexFold(rest, mention)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		rest = rest[i+len(mention):]
	}
	return strings.TrimSpace(b.String())
}

// indexFold is a case-insensitive strings.Index for an ASCII substr
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}
