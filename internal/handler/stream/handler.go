package stream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/trauma-sim/backend/internal/handler/apierr"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
	"github.com/zhouzirui/trauma-sim/backend/pkg/utils"
)

const defaultKeepAlive = 15 * time.Second

// TextPipeline 只需要文本轮次
type TextPipeline interface {
	ProcessTextTurn(ctx context.Context, req turn.TextTurnRequest) (*turn.Result, error)
}

// Handler manages turn progress via Server-Sent Events
type Handler struct {
	pipeline  TextPipeline
	keepAlive time.Duration
}

// New creates a new stream handler
func New(pipeline TextPipeline) *Handler {
	return &Handler{
		pipeline:  pipeline,
		keepAlive: defaultKeepAlive,
	}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// ErrorEvent is the payload of the terminal "error" event.
type ErrorEvent struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// handleStream 执行一轮文本对话，并按阶段推送 transcript/answer/avatar 事件，
// 最后以 result 或 error 事件结束。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	utils.SendSSEEvent(w, flusher, "start", map[string]string{"sessionId": sessionID})

	var (
		result *turn.Result
		err    error
	)
	events := make(chan turn.Event, 4)
	go func() {
		defer close(events)
		result, err = h.pipeline.ProcessTextTurn(ctx, turn.TextTurnRequest{
			SessionID:      sessionID,
			StreamingToken: utils.HeaderOr(r, "X-Streaming-Token", r.URL.Query().Get("token")),
			Message:        message,
			OnEvent: func(ev turn.Event) {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			},
		})
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for running := true; running; {
		select {
		case ev, open := <-events:
			if !open {
				running = false
				break
			}
			utils.SendSSEEvent(w, flusher, string(ev.Stage), ev)
		case <-ticker.C:
			utils.SendSSEComment(w, flusher, "keep-alive")
		case <-ctx.Done():
			return
		}
	}

	if err != nil {
		apierr.Log("stream", err)
		utils.SendSSEEvent(w, flusher, "error", ErrorEvent{Error: apierr.Message(err), Status: apierr.Status(err)})
		return
	}
	utils.SendSSEEvent(w, flusher, "result", result)
}
