package speech

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/trauma-sim/backend/internal/handler/apierr"
	speechsvc "github.com/zhouzirui/trauma-sim/backend/internal/service/speech"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
	"github.com/zhouzirui/trauma-sim/backend/pkg/utils"
)

// Transcriber 抽象语音识别，便于测试与替换实现
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	transcriber Transcriber
	ws          *WebSocketHandler
}

// New 创建语音处理器。ws 为 nil 时实时语音通道不可用。
func New(transcriber Transcriber, ws *WebSocketHandler) *Handler {
	return &Handler{
		transcriber: transcriber,
		ws:          ws,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)

		if h.ws != nil {
			h.ws.RegisterWebSocketRoutes(speechRouter)
		} else {
			speechRouter.Get("/ws/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "speech websocket not available")
			})
		}
	})
}

// handleTranscribe 只做语音转文本，不触发对话。
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		apierr.Respond(w, "speech", turn.ErrTranscriptionUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, turn.MaxAudioBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, turn.MaxAudioBytes+1))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}
	if err := turn.ValidateAudioSize(len(audio)); err != nil {
		apierr.Respond(w, "speech", err)
		return
	}

	text, err := h.transcriber.Transcribe(r.Context(), audio, header.Filename)
	if err != nil {
		log.Printf("[speech] transcription failed file=%s: %v", header.Filename, err)
		apierr.Respond(w, "speech", err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"text":   text,
		"format": speechsvc.InferAudioFormat(header.Filename),
	})
}
