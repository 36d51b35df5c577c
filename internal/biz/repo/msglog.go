package repo

import "github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"

// Direction of a logged message
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// MessageLogRepo records message metadata (never content)
type MessageLogRepo interface {
	LogMessage(userID domain.UserID, chatID domain.ChatID, text string, dir Direction)
	LogBlocked(userID domain.UserID, chatID domain.ChatID)
}
