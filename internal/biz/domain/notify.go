package domain

import (
	"errors"
	"strings"
)

// ErrEmptyNotification is returned for a payload without text
var ErrEmptyNotification = errors.New("no message content found")

// NotifyPayload is a local alert to forward to the chat
type NotifyPayload struct {
	Text   string
	Source string
}

// Validate checks the payload shape
func (p NotifyPayload) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return ErrEmptyNotification
	}
	return nil
}

// Format renders the outbound alert text
func (p NotifyPayload) Format() string {
	text := strings.TrimSpace(p.Text)
	if p.Source == "" {
		return text
	}
	return "[" + p.Source + "] " + text
}

// HeartbeatResult is the result block of a TinMan heartbeat payload
type HeartbeatResult struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Output    string `json:"output"`
	Error     string `json:"error"`
}

// FormatHeartbeat renders a heartbeat as alert text. The source label is
// already part of the rendered header, so the returned payload has none.
func FormatHeartbeat(h HeartbeatResult) NotifyPayload {
	icon := "?"
	switch h.Status {
	case "ok":
		icon = "✓"
	case "alert":
		icon = "⚠️"
	case "error":
		icon = "❌"
	}
	lines := []string{"[TinMan] " + icon + " Heartbeat — " + h.Timestamp}
	if h.Output != "" {
		lines = append(lines, h.Output)
	}
	if h.Error != "" {
		lines = append(lines, "Error: "+h.Error)
	}
	return NotifyPayload{Text: strings.Join(lines, "\n")}
}
