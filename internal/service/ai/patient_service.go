package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
	emotionservice "github.com/zhouzirui/trauma-sim/backend/internal/service/emotion"
)

const (
	DefaultTemperature = 0.9
	DefaultMaxTokens   = 150
	DefaultTimeout     = 30 * time.Second
	historyLimit       = 6
)

// degradedReplies 在模型不可用时按轮次轮换使用，保证病人始终有话说。
var degradedReplies = []string{
	"I'm having trouble responding right now.",
	"Sorry... it's hard to think with this pain. Can you say that again?",
	"I... I don't know. Everything hurts. Just give me a second.",
	"Can you just tell me what's going on? I can't focus.",
}

// GeneratorConfig 病人回复生成配置。
type GeneratorConfig struct {
	Persona     persona.Persona
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// PatientGenerator produces the simulated patient's in-character replies.
type PatientGenerator struct {
	chain       compose.Runnable[map[string]any, *schema.Message]
	persona     persona.Persona
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewPatientGenerator compiles the prompt and chat model into a chain.
func NewPatientGenerator(ctx context.Context, chatModel model.BaseChatModel, cfg GeneratorConfig) (*PatientGenerator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(patientSystemTemplate),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile patient chain: %w", err)
	}

	g := &PatientGenerator{
		chain:       runnable,
		persona:     cfg.Persona,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
	if g.temperature <= 0 {
		g.temperature = DefaultTemperature
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	return g, nil
}

// Reply generates the patient's answer to userMessage. history holds the
// turns before userMessage. It never fails: model errors yield a fixed
// in-character line.
func (g *PatientGenerator) Reply(ctx context.Context, userMessage string, history []chat.ConversationTurn, state chat.EmotionalState) string {
	guidance := emotionservice.Guide(state, userMessage, history)
	params := BuildPatientPrompt(g.persona, guidance, emotionservice.FormatHistory(history, historyLimit), userMessage)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	msg, err := g.chain.Invoke(ctx, params.Variables(), compose.WithChatModelOption(
		model.WithTemperature(g.temperature),
		model.WithMaxTokens(g.maxTokens),
	))
	if err != nil {
		log.Printf("[ai] patient reply failed state=%s, using degraded line: %v", state, err)
		return DegradedReply(len(history))
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		log.Printf("[ai] patient reply empty state=%s, using degraded line", state)
		return DegradedReply(len(history))
	}

	reply := strings.TrimSpace(msg.Content)
	log.Printf("[ai] patient replied state=%s chars=%d in %s", state, len(reply), time.Since(started).Round(time.Millisecond))
	return reply
}

// DegradedReply picks the fixed fallback line for turn n.
func DegradedReply(n int) string {
	if n < 0 {
		n = -n
	}
	return degradedReplies[n%len(degradedReplies)]
}
