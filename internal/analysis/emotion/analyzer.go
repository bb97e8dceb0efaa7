package emotion

import (
	"strings"

	"github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
)

const (
	repeatWindow    = 3  // 最近几轮用户消息参与重复问题检测
	repeatPrefixLen = 20 // 比较的前缀长度
	repeatMinLen    = 10 // 短于等于该长度的消息不参与检测
)

// EscalationTriggers in the trainee's message push the patient up one level.
var EscalationTriggers = []string{
	"wait",
	"be patient",
	"patience",
	"calm down",
	"relax",
	"already asked",
	"asked you",
	"ask again",
	"repeat",
	"one more time",
}

// DeEscalationFactors are acknowledgement and empathy phrases.
var DeEscalationFactors = []string{
	"understand",
	"sorry",
	"apologize",
	"help",
	"explain",
	"listen",
	"validate",
	"appreciate",
}

// AgitationMarkers in the patient's own reply signal distress.
var AgitationMarkers = []string{
	"angry",
	"frustrated",
	"waiting",
	"hours",
	"nobody",
	"helping",
}

// CalmingMarkers in the patient's own reply signal relief.
var CalmingMarkers = []string{
	"thank",
	"appreciate",
	"understand",
	"better",
	"relief",
}

// Signals 记录一次判定中命中的各类信号。
type Signals struct {
	Escalation       []string
	DeEscalation     []string
	Agitation        []string
	Calming          []string
	RepeatedQuestion bool
}

// Escalates reports whether any aggravating signal fired.
func (s Signals) Escalates() bool {
	return len(s.Escalation) > 0 || s.RepeatedQuestion || len(s.Agitation) > 0
}

// DeEscalates reports whether the retreat condition holds: empathy from the
// trainee, calming words from the patient and nothing aggravating.
func (s Signals) DeEscalates() bool {
	return len(s.DeEscalation) > 0 && !s.Escalates() && len(s.Calming) > 0
}

// Detect scans both sides of the exchange. history holds the turns before the
// current user message.
func Detect(userText, patientReply string, history []chat.ConversationTurn) Signals {
	return Signals{
		Escalation:       matchKeywords(userText, EscalationTriggers),
		DeEscalation:     matchKeywords(userText, DeEscalationFactors),
		Agitation:        matchKeywords(patientReply, AgitationMarkers),
		Calming:          matchKeywords(patientReply, CalmingMarkers),
		RepeatedQuestion: IsRepeatedQuestion(userText, history),
	}
}

// Advance computes the patient's next emotional state. It is a pure function
// of its inputs. Escalation is applied first; de-escalation is then evaluated
// against the possibly escalated state.
func Advance(current chat.EmotionalState, userText, patientReply string, history []chat.ConversationTurn) chat.EmotionalState {
	return Apply(current, Detect(userText, patientReply, history))
}

// Apply runs the transition rule on already detected signals.
func Apply(current chat.EmotionalState, signals Signals) chat.EmotionalState {
	next := current.Clamp()

	if signals.Escalates() {
		switch {
		case next < chat.Agitated:
			next++
		case next < chat.Angry:
			next = chat.Angry
		}
	}

	if signals.DeEscalates() && next > chat.Calm {
		next--
	}

	return next.Clamp()
}

// IsRepeatedQuestion compares the leading characters of the message against
// the last few user turns, case-insensitively and in either direction.
func IsRepeatedQuestion(userText string, history []chat.ConversationTurn) bool {
	current := normalize(userText)
	if runeLen(current) <= repeatMinLen {
		return false
	}
	currentPrefix := prefix(current, repeatPrefixLen)

	checked := 0
	for i := len(history) - 1; i >= 0 && checked < repeatWindow; i-- {
		turn := history[i]
		if !turn.IsUser() {
			continue
		}
		checked++

		previous := normalize(turn.Content)
		if runeLen(previous) <= repeatMinLen {
			continue
		}
		previousPrefix := prefix(previous, repeatPrefixLen)
		if strings.Contains(currentPrefix, previousPrefix) || strings.Contains(previousPrefix, currentPrefix) {
			return true
		}
	}
	return false
}

func matchKeywords(text string, keywords []string) []string {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	var hits []string
	for _, word := range keywords {
		if strings.Contains(normalized, word) {
			hits = append(hits, word)
		}
	}
	return hits
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func prefix(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func runeLen(text string) int {
	return len([]rune(text))
}
