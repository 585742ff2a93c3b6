package domain

import "time"

// ChatMessage is one line in a chat room.
type ChatMessage struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	User      User   `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	IsSystem  bool   `json:"isSystem,omitempty"`
}

// ClockLabel formats t the way chat and transcript timestamps are displayed.
func ClockLabel(t time.Time) string {
	return t.Format("15:04")
}
