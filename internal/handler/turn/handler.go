package turn

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/trauma-sim/backend/internal/handler/apierr"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
	"github.com/zhouzirui/trauma-sim/backend/pkg/utils"
)

// StreamingTokenHeader 可替代表单或JSON中的 streamingToken 字段。
const StreamingTokenHeader = "X-Streaming-Token"

// multipart 额外开销，超出音频上限的部分由服务层判定。
const formOverhead = 1 << 20

// Pipeline 抽象一轮对话的处理流程
type Pipeline interface {
	ProcessTextTurn(ctx context.Context, req turn.TextTurnRequest) (*turn.Result, error)
	ProcessVoiceTurn(ctx context.Context, req turn.VoiceTurnRequest) (*turn.Result, error)
}

// Handler 对话轮次的HTTP处理器
type Handler struct {
	pipeline Pipeline
}

// New 创建对话轮次处理器
func New(pipeline Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes 注册对话轮次路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/turns/{sessionID}", func(tr chi.Router) {
		tr.Post("/text", h.handleText)
		tr.Post("/voice", h.handleVoice)
	})
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message        string `json:"message"`
		StreamingToken string `json:"streamingToken"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.pipeline.ProcessTextTurn(r.Context(), turn.TextTurnRequest{
		SessionID:      chi.URLParam(r, "sessionID"),
		StreamingToken: utils.HeaderOr(r, StreamingTokenHeader, payload.StreamingToken),
		Message:        payload.Message,
	})
	if err != nil {
		apierr.Respond(w, "turn", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleVoice 接收 multipart 音频（字段名 audio）。
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, turn.MaxAudioBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierr.Respond(w, "turn", turn.ErrAudioTooLarge)
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	// 多读一个字节，让服务层能区分“刚好上限”与“超限”。
	audio, err := io.ReadAll(io.LimitReader(file, turn.MaxAudioBytes+1))
	if err != nil {
		log.Printf("[turn] read audio failed: %v", err)
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	result, err := h.pipeline.ProcessVoiceTurn(r.Context(), turn.VoiceTurnRequest{
		SessionID:      chi.URLParam(r, "sessionID"),
		StreamingToken: utils.HeaderOr(r, StreamingTokenHeader, r.FormValue("streamingToken")),
		Audio:          audio,
		FileName:       header.Filename,
	})
	if err != nil {
		apierr.Respond(w, "turn", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}
