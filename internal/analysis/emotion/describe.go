package emotion

import "github.com/zhouzirui/trauma-sim/backend/internal/model/chat"

var stateDescriptions = map[chat.EmotionalState]string{
	chat.Calm:     "You feel calm and reassured. You are cooperative and speak in a relaxed way.",
	chat.Neutral:  "You are uncomfortable but composed. You answer questions plainly.",
	chat.Anxious:  "You are anxious and worried about what is wrong with you. You ask what is going on and need reassurance.",
	chat.Confused: "You are confused and overwhelmed. You lose track of questions and ask for things to be explained simply.",
	chat.Agitated: "You are agitated and irritable. Your answers are short and you complain about the wait and the pain.",
	chat.Angry:    "You are angry. You raise your voice, interrupt, and demand to see someone in charge.",
}

// Describe returns the natural-language description of a state used in prompts.
func Describe(state chat.EmotionalState) string {
	return stateDescriptions[state.Clamp()]
}
