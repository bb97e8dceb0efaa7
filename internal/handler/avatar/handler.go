package avatar

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/trauma-sim/backend/internal/handler/apierr"
	avatarmodel "github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
	"github.com/zhouzirui/trauma-sim/backend/pkg/utils"
)

// StreamingTokenHeader carries the cached streaming token when it is not in the body.
const StreamingTokenHeader = "X-Streaming-Token"

// SessionService 抽象会话创建与关闭，便于测试替换。
type SessionService interface {
	CreateSession(ctx context.Context, personaID string) (*turn.SessionInfo, error)
	StopSession(ctx context.Context, sessionID, token string) avatarmodel.Outcome
}

// Handler 数字人会话的HTTP处理器
type Handler struct {
	sessions SessionService
}

// New 创建数字人会话处理器
func New(sessions SessionService) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册数字人会话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/avatar/sessions", func(ar chi.Router) {
		ar.Post("/", h.handleCreate)
		ar.Post("/{sessionID}/stop", h.handleStop)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.sessions.CreateSession(r.Context(), payload.PersonaID)
	if err != nil {
		apierr.Respond(w, "avatar", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, info)
}

// handleStop 尽力关闭会话，始终返回 200 和结果状态。
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		StreamingToken string `json:"streamingToken"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	outcome := h.sessions.StopSession(r.Context(), sessionID, utils.HeaderOr(r, StreamingTokenHeader, payload.StreamingToken))
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"outcome":   outcome,
	})
}
