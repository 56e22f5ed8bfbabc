package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one role-tagged entry of a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatLog is one persisted turn: the user message and the assistant
// response, stored together as an ordered list. Logs are immutable once
// written. A zero SessionID marks a log unattached to any session.
type ChatLog struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	SessionID int64         `json:"session_id,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
}
