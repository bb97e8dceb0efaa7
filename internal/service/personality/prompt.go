package personality

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
)

// RewritePrompt 是一次改写请求的结构化参数。
type RewritePrompt struct {
	Persona  persona.Persona
	Question string
	Content  string
}

// System renders the persona instructions.
func (p RewritePrompt) System() string {
	traits := "calm, precise"
	if len(p.Persona.Traits) > 0 {
		traits = strings.Join(p.Persona.Traits, ", ")
	}

	return fmt.Sprintf(`You are %s, %s.

Character:
- Background: %s
- Tone: %s
- Traits: %s
- Teaching style: %s

Rewrite the reference answer you are given so it sounds like you speaking to a trainee at the bedside.
Rules:
- Keep every medical fact, number, drug, dose and step exactly as given. Do not add new clinical claims.
- Keep acronyms such as ABCDE, ATLS or GCS unchanged.
- Use short spoken sentences. No markdown, no headings, no bullet symbols.
- Do not mention sources, documents or references.
- Reply with the rewritten answer only.`,
		p.Persona.Name,
		strings.ToLower(p.Persona.Title),
		p.Persona.Background,
		p.Persona.Tone,
		traits,
		p.Persona.PromptHint,
	)
}

// User renders the question and the factual content to restyle.
func (p RewritePrompt) User() string {
	return fmt.Sprintf("Trainee question:\n%s\n\nReference answer:\n%s", p.Question, p.Content)
}

// truncateTail keeps the last limit runes, marking the cut with an ellipsis.
func truncateTail(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return "..." + string(runes[len(runes)-limit:])
}
