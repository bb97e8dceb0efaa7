package ai

import (
	"strings"

	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
	emotionservice "github.com/zhouzirui/trauma-sim/backend/internal/service/emotion"
)

// patientSystemTemplate 使用 FString 占位符，正文里不能出现字面花括号。
const patientSystemTemplate = `{identity}

How you feel right now:
{state_description}

Recent conversation with the trainee:
{history}

Escalation guidance:
{escalation_hints}

De-escalation guidance:
{de_escalation_hints}

Rules:
- Stay in character as the patient at all times. You are not a clinician and never give medical advice.
- Answer the trainee's latest message in one to three short spoken sentences.
- Match the emotional state described above. Do not jump to a different mood on your own.
- Never mention that you are an AI, a simulation or a language model.`

// PatientPromptParams binds the variables of the patient prompt.
type PatientPromptParams struct {
	Identity          string
	StateDescription  string
	History           string
	EscalationHints   []string
	DeEscalationHints []string
	Query             string
}

// Variables renders the params into the chain input.
func (p PatientPromptParams) Variables() map[string]any {
	return map[string]any{
		"identity":            p.Identity,
		"state_description":   p.StateDescription,
		"history":             p.History,
		"escalation_hints":    joinHints(p.EscalationHints),
		"de_escalation_hints": joinHints(p.DeEscalationHints),
		"query":               p.Query,
	}
}

// BuildPatientPrompt collects the prompt parameters for one patient reply.
func BuildPatientPrompt(p persona.Persona, guidance emotionservice.Guidance, history string, userMessage string) PatientPromptParams {
	return PatientPromptParams{
		Identity:          patientIdentity(p),
		StateDescription:  guidance.StateDescription,
		History:           history,
		EscalationHints:   guidance.EscalationHints,
		DeEscalationHints: guidance.DeEscalationHints,
		Query:             strings.TrimSpace(userMessage),
	}
}

func patientIdentity(p persona.Persona) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "Mike"
	}

	var b strings.Builder
	b.WriteString("You are a patient named ")
	b.WriteString(name)
	b.WriteString(" in a hospital emergency department, talking to a medical trainee.")
	if desc := strings.TrimSpace(p.Description); desc != "" {
		b.WriteString("\n")
		b.WriteString(desc)
	}
	if bg := strings.TrimSpace(p.Background); bg != "" {
		b.WriteString("\nBackground: ")
		b.WriteString(bg)
	}
	if len(p.Traits) > 0 {
		b.WriteString("\nPersonality: ")
		b.WriteString(strings.Join(p.Traits, ", "))
	}
	if hint := strings.TrimSpace(p.PromptHint); hint != "" {
		b.WriteString("\n")
		b.WriteString(hint)
	}
	return b.String()
}

func joinHints(hints []string) string {
	if len(hints) == 0 {
		return "- none"
	}
	return "- " + strings.Join(hints, "\n- ")
}
