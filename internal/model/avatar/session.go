package avatar

import "time"

// StreamingSession 表示一次远端数字人流式会话。
//
// StreamingToken 是创建会话时签发的令牌，之后针对该会话的 start/task/stop
// 调用都必须复用它，重新签发的令牌会被服务端拒绝。
type StreamingSession struct {
	SessionID      string    `json:"sessionId"`
	URL            string    `json:"url"`
	AccessToken    string    `json:"accessToken"`
	StreamingToken string    `json:"streamingToken"`
	AvatarID       string    `json:"avatarId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TaskType selects how the avatar treats the submitted text.
type TaskType string

const (
	// TaskTalk lets the avatar speak as itself.
	TaskTalk TaskType = "talk"
	// TaskRepeat makes the avatar say the text verbatim.
	TaskRepeat TaskType = "repeat"
)

// Role 决定数字人驱动方式。
type Role string

const (
	RoleInstructor Role = "instructor"
	RolePatient    Role = "patient"
)

// TaskType maps the avatar role to the speech task it must use. Patient
// avatars must never layer their own conversational model on top of the
// generated reply.
func (r Role) TaskType() TaskType {
	if r == RolePatient {
		return TaskRepeat
	}
	return TaskTalk
}
