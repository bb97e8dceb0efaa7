package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/trauma-sim/backend/internal/handler/apierr"
	chatmodel "github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
	"github.com/zhouzirui/trauma-sim/backend/pkg/utils"
)

// Responder 是讲师问答编排器的最小接口。
type Responder interface {
	Respond(ctx context.Context, question string) knowledge.LLMResponse
}

// SessionReader reads conversation state for inspection.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (chatmodel.PatientConversationState, error)
}

// Handler 聊天与会话查询的HTTP处理器
type Handler struct {
	instructor Responder
	sessions   SessionReader
}

// New 创建聊天处理器，instructor 可以为 nil（未配置知识库时）。
func New(instructor Responder, sessions SessionReader) *Handler {
	return &Handler{
		instructor: instructor,
		sessions:   sessions,
	}
}

// RegisterRoutes 注册聊天相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleAsk)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
}

// handleAsk 直接向讲师提问，不经过数字人。返回文本包含参考文献尾注。
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if h.instructor == nil {
		apierr.Respond(w, "chat", turn.ErrInstructorUnavailable)
		return
	}

	var payload struct {
		Question string `json:"question"`
		Message  string `json:"message"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	question := strings.TrimSpace(payload.Question)
	if question == "" {
		question = strings.TrimSpace(payload.Message)
	}
	if question == "" {
		apierr.Respond(w, "chat", turn.ErrEmptyMessage)
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.instructor.Respond(r.Context(), question))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	state, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		apierr.Respond(w, "chat", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}
