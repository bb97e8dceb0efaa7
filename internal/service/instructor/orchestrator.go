package instructor

import (
	"context"
	"fmt"
	"log"

	model "github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
)

// KnowledgeClient answers questions from the reference library.
type KnowledgeClient interface {
	Ask(ctx context.Context, question string) model.LLMResponse
}

// Rewriter restyles a factual answer. It returns the answer unchanged on failure.
type Rewriter interface {
	Rewrite(ctx context.Context, answer, question string) string
}

// Orchestrator composes the knowledge lookup and the persona rewrite into
// one in-character answer.
type Orchestrator struct {
	knowledge KnowledgeClient
	rewriter  Rewriter
}

// NewOrchestrator wires the collaborators. rewriter may be nil, in which
// case answers are returned as the knowledge client produced them.
func NewOrchestrator(knowledge KnowledgeClient, rewriter Rewriter) *Orchestrator {
	return &Orchestrator{knowledge: knowledge, rewriter: rewriter}
}

// Respond 返回带人设风格的回答，任何异常都降级为兜底回复。
func (o *Orchestrator) Respond(ctx context.Context, question string) model.LLMResponse {
	if o == nil || o.knowledge == nil {
		return model.Fallback()
	}

	resp, err := o.compose(ctx, question)
	if err == nil {
		return resp
	}

	log.Printf("[instructor] compose failed, retrying knowledge only: %v", err)
	resp, err = o.askOnly(ctx, question)
	if err != nil {
		log.Printf("[instructor] last-resort knowledge call failed: %v", err)
		return model.Fallback()
	}
	return resp
}

func (o *Orchestrator) compose(ctx context.Context, question string) (resp model.LLMResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	answer := o.knowledge.Ask(ctx, question)
	if answer.IsFallback {
		return answer, nil
	}
	if o.rewriter == nil {
		return answer, nil
	}

	rewritten := o.rewriter.Rewrite(ctx, answer.Text, question)
	return model.LLMResponse{
		Text:    rewritten,
		Sources: answer.Sources,
	}, nil
}

func (o *Orchestrator) askOnly(ctx context.Context, question string) (resp model.LLMResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.knowledge.Ask(ctx, question), nil
}
