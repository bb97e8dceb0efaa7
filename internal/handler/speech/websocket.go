package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/trauma-sim/backend/internal/handler/apierr"
	chatmodel "github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
	writeTimeout        = 10 * time.Second
	// 正在执行的一轮之外最多排队一轮
	turnQueueSize = 1
)

// Pipeline 抽象一轮对话的处理流程
type Pipeline interface {
	ProcessTextTurn(ctx context.Context, req turn.TextTurnRequest) (*turn.Result, error)
	ProcessVoiceTurn(ctx context.Context, req turn.VoiceTurnRequest) (*turn.Result, error)
}

// SessionReader 用于在升级前确认会话存在。
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (chatmodel.PatientConversationState, error)
}

// WebSocketHandler WebSocket语音处理器
type WebSocketHandler struct {
	pipeline     Pipeline
	sessions     SessionReader
	upgrader     websocket.Upgrader
	readTimeout  time.Duration
	pingInterval time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(pipeline Pipeline, sessions SessionReader) *WebSocketHandler {
	return &WebSocketHandler{
		pipeline:     pipeline,
		sessions:     sessions,
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// AudioMessage 音频分片，AudioData 在 JSON 中为 base64。
type AudioMessage struct {
	AudioData  []byte `json:"audioData"`
	FileName   string `json:"fileName"`
	IsFinal    bool   `json:"isFinal"`
	ChunkIndex int    `json:"chunkIndex"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	StreamingToken string `json:"streamingToken"`
	FileName       string `json:"fileName"`
	StreamMode     *bool  `json:"streamMode,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connectionState struct {
	sessionID  string
	token      string
	fileName   string
	streamMode bool
	buffer     bytes.Buffer
}

func newConnectionState(sessionID, token string) *connectionState {
	return &connectionState{
		sessionID:  sessionID,
		token:      strings.TrimSpace(token),
		fileName:   "recording.webm",
		streamMode: true,
	}
}

// wsConn 串行化写操作，gorilla 连接只允许一个并发写者。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	if h.sessions != nil {
		if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
			apierr.Respond(w, "websocket", err)
			return
		}
	}

	state := newConnectionState(sessionID, r.URL.Query().Get("token"))

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())

	// 对话轮次在单独的 worker 中串行执行，读循环持续处理 pong 与新消息。
	turns := make(chan func(context.Context), turnQueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for run := range turns {
			run(ctx)
		}
	}()
	defer func() {
		cancel()
		close(turns)
		wg.Wait()
	}()

	raw.SetReadLimit(turn.MaxAudioBytes * 2)
	_ = raw.SetReadDeadline(time.Now().Add(h.readTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go pingLoop(ctx, raw, h.pingInterval)

	h.sendInfo(conn, "connected", sessionID, map[string]any{
		"hasToken": state.token != "",
	})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(h.readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(conn, "session mismatch")
			continue
		}

		if run := h.handleMessage(conn, state, &msg); run != nil {
			select {
			case turns <- run:
			default:
				h.sendError(conn, "a turn is already in progress, please wait")
			}
		}
	}
}

// handleMessage 在读循环中处理消息。返回非 nil 时表示一轮对话，交给 worker 执行。
func (h *WebSocketHandler) handleMessage(conn *wsConn, state *connectionState, msg *inboundMessage) func(context.Context) {
	switch msg.Type {
	case "audio":
		return h.handleAudioMessage(conn, state, msg.Data)
	case "text":
		return h.handleTextMessage(conn, state, msg.Data)
	case "config":
		h.handleConfigMessage(conn, state, msg.Data)
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
	return nil
}

func (h *WebSocketHandler) handleAudioMessage(conn *wsConn, state *connectionState, raw json.RawMessage) func(context.Context) {
	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		h.sendError(conn, "invalid audio payload")
		return nil
	}

	if state.buffer.Len()+len(audio.AudioData) > turn.MaxAudioBytes {
		state.buffer.Reset()
		h.sendError(conn, apierr.Message(turn.ErrAudioTooLarge))
		return nil
	}
	if len(audio.AudioData) > 0 {
		state.buffer.Write(audio.AudioData)
	}
	if audio.FileName != "" {
		state.fileName = audio.FileName
	}

	if !audio.IsFinal && state.streamMode {
		return nil
	}

	// 连接状态只在读循环中访问，worker 拿到的是快照。
	req := turn.VoiceTurnRequest{
		SessionID:      state.sessionID,
		StreamingToken: state.token,
		Audio:          bytes.Clone(state.buffer.Bytes()),
		FileName:       state.fileName,
		OnEvent:        h.eventSink(conn, state.sessionID),
	}
	state.buffer.Reset()

	return func(ctx context.Context) {
		log.Printf("[websocket] processing audio session=%s file=%s bytes=%d", req.SessionID, req.FileName, len(req.Audio))
		result, err := h.pipeline.ProcessVoiceTurn(ctx, req)
		h.finishTurn(conn, req.SessionID, result, err)
	}
}

func (h *WebSocketHandler) handleTextMessage(conn *wsConn, state *connectionState, raw json.RawMessage) func(context.Context) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, "invalid text payload")
		return nil
	}

	req := turn.TextTurnRequest{
		SessionID:      state.sessionID,
		StreamingToken: state.token,
		Message:        text.Text,
		OnEvent:        h.eventSink(conn, state.sessionID),
	}
	return func(ctx context.Context) {
		result, err := h.pipeline.ProcessTextTurn(ctx, req)
		h.finishTurn(conn, req.SessionID, result, err)
	}
}

func (h *WebSocketHandler) eventSink(conn *wsConn, sessionID string) func(turn.Event) {
	return func(ev turn.Event) {
		h.sendInfo(conn, "event", sessionID, ev)
	}
}

func (h *WebSocketHandler) finishTurn(conn *wsConn, sessionID string, result *turn.Result, err error) {
	if err != nil {
		log.Printf("[websocket] turn failed session=%s: %v", sessionID, err)
		h.sendError(conn, apierr.Message(err))
		return
	}
	h.sendInfo(conn, "turn", sessionID, result)
}

func (h *WebSocketHandler) handleConfigMessage(conn *wsConn, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		h.sendError(conn, "invalid config payload")
		return
	}

	applyConfig(state, cfg)

	h.sendInfo(conn, "config", state.sessionID, map[string]any{
		"hasToken":   state.token != "",
		"fileName":   state.fileName,
		"streamMode": state.streamMode,
	})
}

func applyConfig(state *connectionState, cfg ConfigMessage) {
	if token := strings.TrimSpace(cfg.StreamingToken); token != "" {
		state.token = token
	}
	if cfg.FileName != "" {
		state.fileName = cfg.FileName
	}
	if cfg.StreamMode != nil {
		state.streamMode = *cfg.StreamMode
	}
}

func (h *WebSocketHandler) sendInfo(conn *wsConn, msgType, sessionID string, data any) {
	msg := outgoingMessage{
		Type:      msgType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msgType, err)
	}
}

func (h *WebSocketHandler) sendError(conn *wsConn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息，WriteControl 可与其他写操作并发。
func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
