package persona

import "github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"

const (
	InstructorID = "trauma-instructor"
	PatientID    = "patient-mike"
)

// Persona captures a simulator character exposed to the frontend.
type Persona struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Title       string      `json:"title"`
	Tone        string      `json:"tone"`
	PromptHint  string      `json:"promptHint"`
	OpeningLine string      `json:"openingLine"`
	Role        avatar.Role `json:"role"`
	AvatarID    string      `json:"avatarId,omitempty"`
	VoiceID     string      `json:"voiceId,omitempty"`
	Description string      `json:"description,omitempty"` // 详细角色描述
	Background  string      `json:"background,omitempty"`  // 角色背景
	Traits      []string    `json:"traits,omitempty"`      // 性格特征
}

// IsPatient reports whether the persona drives the simulated patient pipeline.
func (p Persona) IsPatient() bool {
	return p.Role == avatar.RolePatient
}

// Seed provides the two built-in simulator characters. Avatar and voice ids
// are filled from configuration by WithAvatars.
func Seed() []Persona {
	return []Persona{
		{
			ID:          InstructorID,
			Name:        "Dr. Morgan",
			Title:       "Trauma surgeon and ATLS instructor",
			Tone:        "calm, precise, encouraging",
			PromptHint:  "Teach like a bedside mentor: short spoken sentences, name the priority first, then the why.",
			OpeningLine: "Welcome to the trauma bay. Ask me anything about the primary survey, shock, or airway management.",
			Role:        avatar.RoleInstructor,
			Description: "An experienced attending who runs trauma simulation drills for residents.",
			Background:  "Fifteen years in a level one trauma center, lead instructor for the regional ATLS course.",
			Traits:      []string{"patient", "methodical", "direct", "supportive"},
		},
		{
			ID:          PatientID,
			Name:        "Mike",
			Title:       "Emergency department patient",
			Tone:        "worried, impatient, human",
			PromptHint:  "Stay in character as a patient in pain who has been waiting a long time. Never give medical advice.",
			OpeningLine: "Finally. I've been sitting here forever and my chest still hurts.",
			Role:        avatar.RolePatient,
			Description: "A 45-year-old man with chest pain who has been waiting in the emergency department.",
			Background:  "Construction foreman, smoker, came in after chest tightness started at work this morning.",
			Traits:      []string{"anxious", "blunt", "easily frustrated", "responds to empathy"},
		},
	}
}

// WithAvatars binds provider avatar and voice ids to the personas by role.
func WithAvatars(items []Persona, ids map[avatar.Role]AvatarBinding) []Persona {
	out := make([]Persona, len(items))
	for i, item := range items {
		if binding, ok := ids[item.Role]; ok {
			if binding.AvatarID != "" {
				item.AvatarID = binding.AvatarID
			}
			if binding.VoiceID != "" {
				item.VoiceID = binding.VoiceID
			}
		}
		out[i] = item
	}
	return out
}

// AvatarBinding pairs a provider avatar with its voice.
type AvatarBinding struct {
	AvatarID string
	VoiceID  string
}
