package chat

import "time"

// Role 标识一轮对话的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
)

// ConversationTurn records one exchange. Turns are immutable once appended.
type ConversationTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsUser reports whether the turn was spoken by the trainee.
func (t ConversationTurn) IsUser() bool {
	return t.Role == RoleUser
}
