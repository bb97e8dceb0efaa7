package main

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/trauma-sim/backend/internal/config"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
)

func TestNewInstructorWithoutKnowledgeIsUnavailable(t *testing.T) {
	personas := persona.NewMemoryStore(persona.Seed())
	if got := newInstructor(config.KnowledgeConfig{}, config.PersonalityConfig{}, personas); got != nil {
		t.Fatalf("expected no instructor without RAG_BASE_URL, got %+v", got)
	}

	// 未配置讲师时，对话轮次返回不可用错误而不是兜底回复
	sessions := chat.NewService()
	if _, err := sessions.CreateSession(context.Background(), "sess-1", persona.InstructorID); err != nil {
		t.Fatalf("create session: %v", err)
	}
	svc := turn.NewService(turn.Dependencies{Sessions: sessions, Personas: personas})
	_, err := svc.ProcessTextTurn(context.Background(), turn.TextTurnRequest{SessionID: "sess-1", StreamingToken: "tok", Message: "airway?"})
	if !errors.Is(err, turn.ErrInstructorUnavailable) {
		t.Fatalf("expected ErrInstructorUnavailable, got %v", err)
	}
}

func TestNewInstructorWithKnowledge(t *testing.T) {
	personas := persona.NewMemoryStore(persona.Seed())
	got := newInstructor(config.KnowledgeConfig{BaseURL: "http://rag.local", TopK: 3}, config.PersonalityConfig{}, personas)
	if got == nil {
		t.Fatal("expected instructor when RAG_BASE_URL is set")
	}
}
