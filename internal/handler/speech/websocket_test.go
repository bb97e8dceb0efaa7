package speech

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/zhouzirui/trauma-sim/backend/internal/service/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
)

func boolPtr(v bool) *bool { return &v }

type recordingPipeline struct {
	mu    sync.Mutex
	text  []turn.TextTurnRequest
	voice []turn.VoiceTurnRequest
}

func (p *recordingPipeline) ProcessTextTurn(_ context.Context, req turn.TextTurnRequest) (*turn.Result, error) {
	p.mu.Lock()
	p.text = append(p.text, req)
	p.mu.Unlock()
	if req.StreamingToken == "" {
		return nil, turn.ErrEmptyMessage
	}
	req.OnEvent(turn.Event{Stage: turn.StageAnswer, Text: "Apply direct pressure."})
	return &turn.Result{SessionID: req.SessionID, FinalText: "Apply direct pressure.", AvatarDelivered: true}, nil
}

func (p *recordingPipeline) ProcessVoiceTurn(_ context.Context, req turn.VoiceTurnRequest) (*turn.Result, error) {
	p.mu.Lock()
	p.voice = append(p.voice, req)
	p.mu.Unlock()
	req.OnEvent(turn.Event{Stage: turn.StageTranscript, Text: "he is bleeding"})
	return &turn.Result{SessionID: req.SessionID, UserTranscript: "he is bleeding"}, nil
}

func TestApplyConfigUpdatesState(t *testing.T) {
	state := newConnectionState("session", "")

	applyConfig(state, ConfigMessage{
		StreamingToken: " tok-9 ",
		FileName:       "clip.mp4",
		StreamMode:     boolPtr(false),
	})

	if state.token != "tok-9" {
		t.Fatalf("expected token tok-9, got %q", state.token)
	}
	if state.fileName != "clip.mp4" {
		t.Fatalf("expected file name clip.mp4, got %s", state.fileName)
	}
	if state.streamMode {
		t.Fatalf("expected stream mode disabled")
	}

	applyConfig(state, ConfigMessage{})
	if state.token != "tok-9" {
		t.Fatalf("blank config must not clear token")
	}
}

func dial(t *testing.T, pipeline Pipeline, path string) *websocket.Conn {
	t.Helper()
	return dialWith(t, nil, pipeline, path)
}

func dialWith(t *testing.T, tune func(*WebSocketHandler), pipeline Pipeline, path string) *websocket.Conn {
	t.Helper()
	store := chatservice.NewService()
	if _, err := store.CreateSession(context.Background(), "sess-1", "trauma-instructor"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	ws := NewWebSocketHandler(pipeline, store)
	if tune != nil {
		tune(ws)
	}
	r := chi.NewRouter()
	New(nil, ws).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) outgoingMessage {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg outgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read err waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	if err := conn.WriteJSON(inboundMessage{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("write err: %v", err)
	}
}

func TestWebSocketTextTurnUsesConfiguredToken(t *testing.T) {
	pipeline := &recordingPipeline{}
	conn := dial(t, pipeline, "/speech/ws/sess-1")
	readUntil(t, conn, "connected")

	send(t, conn, "config", ConfigMessage{StreamingToken: "tok-1"})
	readUntil(t, conn, "config")

	send(t, conn, "text", TextMessage{Text: "what now"})
	event := readUntil(t, conn, "event")
	if !strings.Contains(jsonString(t, event.Data), "Apply direct pressure.") {
		t.Fatalf("unexpected event %+v", event)
	}
	readUntil(t, conn, "turn")

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.text) != 1 || pipeline.text[0].StreamingToken != "tok-1" || pipeline.text[0].SessionID != "sess-1" {
		t.Fatalf("unexpected requests %+v", pipeline.text)
	}
}

func TestWebSocketAudioBufferedUntilFinal(t *testing.T) {
	pipeline := &recordingPipeline{}
	conn := dial(t, pipeline, "/speech/ws/sess-1?token=tok-q")
	readUntil(t, conn, "connected")

	send(t, conn, "audio", AudioMessage{AudioData: []byte("part-1-"), FileName: "clip.ogg"})
	send(t, conn, "audio", AudioMessage{AudioData: []byte("part-2"), IsFinal: true})
	readUntil(t, conn, "turn")

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.voice) != 1 {
		t.Fatalf("expected one voice turn, got %d", len(pipeline.voice))
	}
	got := pipeline.voice[0]
	if string(got.Audio) != "part-1-part-2" || got.FileName != "clip.ogg" || got.StreamingToken != "tok-q" {
		t.Fatalf("unexpected voice request audio=%q file=%s token=%s", got.Audio, got.FileName, got.StreamingToken)
	}
}

// slowPipeline 第一轮耗时超过读超时，之后立即返回。
type slowPipeline struct {
	recordingPipeline
	delay time.Duration
	calls int
}

func (p *slowPipeline) ProcessTextTurn(ctx context.Context, req turn.TextTurnRequest) (*turn.Result, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.recordingPipeline.ProcessTextTurn(ctx, req)
}

func TestWebSocketSurvivesTurnLongerThanReadTimeout(t *testing.T) {
	pipeline := &slowPipeline{delay: 600 * time.Millisecond}
	conn := dialWith(t, func(h *WebSocketHandler) {
		h.readTimeout = 200 * time.Millisecond
		h.pingInterval = 50 * time.Millisecond
	}, pipeline, "/speech/ws/sess-1?token=tok-1")
	readUntil(t, conn, "connected")

	send(t, conn, "text", TextMessage{Text: "first question"})
	readUntil(t, conn, "turn")

	send(t, conn, "text", TextMessage{Text: "second question"})
	readUntil(t, conn, "turn")

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if pipeline.calls != 2 || len(pipeline.text) != 2 {
		t.Fatalf("expected both turns to run, calls=%d recorded=%d", pipeline.calls, len(pipeline.text))
	}
}

func TestWebSocketTurnErrorIsReported(t *testing.T) {
	conn := dial(t, &recordingPipeline{}, "/speech/ws/sess-1")
	readUntil(t, conn, "connected")

	send(t, conn, "text", TextMessage{Text: "no token yet"})
	msg := readUntil(t, conn, "error")
	if !strings.Contains(jsonString(t, msg.Data), "message") {
		t.Fatalf("unexpected error payload %+v", msg)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	store := chatservice.NewService()
	r := chi.NewRouter()
	New(nil, NewWebSocketHandler(&recordingPipeline{}, store)).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/speech/ws/missing", nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}

func jsonString(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	return string(raw)
}
