package chat

import "time"

// PatientConversationState 保存单个会话的对话记录与病人情绪状态。
type PatientConversationState struct {
	SessionID string             `json:"sessionId"`
	PersonaID string             `json:"personaId"`
	Turns     []ConversationTurn `json:"turns"`
	Emotion   EmotionalState     `json:"emotionalState"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Recent returns up to limit trailing turns, oldest first.
func (s PatientConversationState) Recent(limit int) []ConversationTurn {
	return RecentTurns(s.Turns, limit)
}

// RecentTurns returns the trailing window of turns without copying the backing array.
func RecentTurns(turns []ConversationTurn, limit int) []ConversationTurn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}
