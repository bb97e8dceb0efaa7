package turn

import (
	"github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
)

const (
	MinAudioBytes = 1 << 10
	MaxAudioBytes = 25 << 20
)

// TextTurnRequest is one typed trainee message.
type TextTurnRequest struct {
	SessionID      string
	StreamingToken string
	Message        string
	// OnEvent 可选，用于流式推送阶段进度。
	OnEvent func(Event)
}

// VoiceTurnRequest is one recorded trainee message.
type VoiceTurnRequest struct {
	SessionID      string
	StreamingToken string
	Audio          []byte
	FileName       string
	OnEvent        func(Event)
}

// Result is the outcome of one conversation turn. When the avatar could not
// speak, the text and sources are still returned.
type Result struct {
	SessionID        string                      `json:"sessionId"`
	PersonaID        string                      `json:"personaId"`
	UserTranscript   string                      `json:"userTranscript"`
	FinalText        string                      `json:"finalText"`
	AvatarTranscript string                      `json:"avatarTranscript"`
	Sources          []knowledge.SourceReference `json:"sources"`
	IsFallback       bool                        `json:"isFallback"`
	EmotionalState   *chat.EmotionalState        `json:"emotionalState,omitempty"`
	AvatarDelivered  bool                        `json:"avatarDelivered"`
	AvatarError      string                      `json:"avatarError,omitempty"`
}

// SessionInfo is returned when a simulator session opens.
type SessionInfo struct {
	Session        *avatar.StreamingSession `json:"session"`
	Persona        persona.Persona          `json:"persona"`
	StartOutcome   avatar.Outcome           `json:"startOutcome"`
	EmotionalState chat.EmotionalState      `json:"emotionalState"`
}

// EventStage names a pipeline step reported through OnEvent.
type EventStage string

const (
	StageTranscript EventStage = "transcript"
	StageAnswer     EventStage = "answer"
	StageAvatar     EventStage = "avatar"
)

// Event reports progress inside a turn.
type Event struct {
	Stage   EventStage                  `json:"stage"`
	Text    string                      `json:"text,omitempty"`
	Sources []knowledge.SourceReference `json:"sources,omitempty"`
	Error   string                      `json:"error,omitempty"`
}
