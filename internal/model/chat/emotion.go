package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EmotionalState is the simulated patient's escalation level, ordered from
// Calm to Angry.
type EmotionalState int

const (
	Calm EmotionalState = iota
	Neutral
	Anxious
	Confused
	Agitated
	Angry
)

var emotionalStateNames = [...]string{"calm", "neutral", "anxious", "confused", "agitated", "angry"}

// Clamp forces the state into [Calm, Angry].
func (s EmotionalState) Clamp() EmotionalState {
	if s < Calm {
		return Calm
	}
	if s > Angry {
		return Angry
	}
	return s
}

// Valid reports whether s is one of the six levels.
func (s EmotionalState) Valid() bool {
	return s >= Calm && s <= Angry
}

func (s EmotionalState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("EmotionalState(%d)", int(s))
	}
	return emotionalStateNames[s]
}

// ParseEmotionalState 解析情绪名称，大小写不敏感。
func ParseEmotionalState(raw string) (EmotionalState, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for i, name := range emotionalStateNames {
		if name == normalized {
			return EmotionalState(i), true
		}
	}
	return Neutral, false
}

// MarshalJSON renders the state by name.
func (s EmotionalState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Clamp().String())
}

// UnmarshalJSON accepts the state name.
func (s *EmotionalState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := ParseEmotionalState(raw)
	if !ok {
		return fmt.Errorf("unknown emotional state %q", raw)
	}
	*s = parsed
	return nil
}
