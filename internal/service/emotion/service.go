package emotion

import (
	"fmt"
	"strings"

	analysis "github.com/zhouzirui/trauma-sim/backend/internal/analysis/emotion"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
)

// DefaultHistoryLimit 是写入提示词的最近对话轮数。
const DefaultHistoryLimit = 6

// Guidance 是情绪状态机给病人回复生成器的提示，只用于提示词，不修改状态。
type Guidance struct {
	State             chat.EmotionalState
	StateDescription  string
	EscalationHints   []string
	DeEscalationHints []string
	Signals           analysis.Signals
}

// Guide inspects the trainee's message against the current state and history
// before the patient replies.
func Guide(state chat.EmotionalState, userMessage string, history []chat.ConversationTurn) Guidance {
	signals := analysis.Detect(userMessage, "", history)
	g := Guidance{
		State:            state.Clamp(),
		StateDescription: analysis.Describe(state),
		Signals:          signals,
	}

	if len(signals.Escalation) > 0 {
		g.EscalationHints = append(g.EscalationHints, fmt.Sprintf(
			"The trainee just said things like %s. To you that sounds dismissive, as if your pain does not matter. Let more frustration show in this reply.",
			quoteList(signals.Escalation)))
	}
	if signals.RepeatedQuestion {
		g.EscalationHints = append(g.EscalationHints,
			"The trainee is asking you something they already asked. Point that out with some irritation before answering.")
	}
	if len(signals.DeEscalation) > 0 {
		g.DeEscalationHints = append(g.DeEscalationHints, fmt.Sprintf(
			"The trainee is showing care with words like %s. If it feels genuine, soften a little and let them know it helps.",
			quoteList(signals.DeEscalation)))
	}
	if state.Clamp() >= chat.Agitated && len(signals.DeEscalation) == 0 {
		g.EscalationHints = append(g.EscalationHints,
			"Nobody has acknowledged how long you have been waiting. Stay short and guarded until someone does.")
	}
	return g
}

// Advance applies the state machine after the patient has replied.
func Advance(state chat.EmotionalState, userMessage, patientReply string, history []chat.ConversationTurn) chat.EmotionalState {
	return analysis.Advance(state, userMessage, patientReply, history)
}

// FormatHistory renders the last limit turns as a labeled transcript.
func FormatHistory(turns []chat.ConversationTurn, limit int) string {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	recent := chat.RecentTurns(turns, limit)

	var lines []string
	for _, turn := range recent {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		label := "Trainee"
		if !turn.IsUser() {
			label = "You"
		}
		lines = append(lines, label+": "+content)
	}
	if len(lines) == 0 {
		return "(this is the start of the conversation)"
	}
	return strings.Join(lines, "\n")
}

func quoteList(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, ", ")
}
