package models

import "time"

// SessionSnapshot is the persisted form of a session: enough to resume
// asking follow-up questions about the same summary.
type SessionSnapshot struct {
	ID        string             `json:"id"`
	State     string             `json:"state"`
	Summary   *Summary           `json:"summary,omitempty"`
	History   []ConversationTurn `json:"history"`
	Policy    *PolicyDecision    `json:"policy,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}
