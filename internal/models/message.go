package models

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a generation request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationTurn is a question or a reply in a session's history.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Completion struct {
	Text     string
	Model    string
	Attempts int
}
