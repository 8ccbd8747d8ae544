package entity

import "time"

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn of a chat transcript.
type Message struct {
	ID        string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}
