package turn

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
)

type fakePipeline struct {
	text  turn.TextTurnRequest
	voice turn.VoiceTurnRequest
	err   error
}

func (f *fakePipeline) ProcessTextTurn(_ context.Context, req turn.TextTurnRequest) (*turn.Result, error) {
	f.text = req
	if f.err != nil {
		return nil, f.err
	}
	return &turn.Result{SessionID: req.SessionID, FinalText: "Check the airway.", AvatarDelivered: true}, nil
}

func (f *fakePipeline) ProcessVoiceTurn(_ context.Context, req turn.VoiceTurnRequest) (*turn.Result, error) {
	f.voice = req
	if f.err != nil {
		return nil, f.err
	}
	if err := turn.ValidateAudioSize(len(req.Audio)); err != nil {
		return nil, err
	}
	return &turn.Result{SessionID: req.SessionID, UserTranscript: "what now", FinalText: "Check the airway."}, nil
}

func newRouter(f *fakePipeline) http.Handler {
	r := chi.NewRouter()
	New(f).RegisterRoutes(r)
	return r
}

func voiceRequest(t *testing.T, audio []byte, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "clip.m4a")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if token != "" {
		if err := mw.WriteField("streamingToken", token); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/turns/sess-1/voice", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTextTurn(t *testing.T) {
	f := &fakePipeline{}
	req := httptest.NewRequest(http.MethodPost, "/turns/sess-1/text", strings.NewReader(`{"message":"what now","streamingToken":"tok-1"}`))
	rr := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body=%s", rr.Code, rr.Body.String())
	}
	if f.text.SessionID != "sess-1" || f.text.StreamingToken != "tok-1" || f.text.Message != "what now" {
		t.Fatalf("unexpected request %+v", f.text)
	}
}

func TestTextTurnErrorsMapToStatus(t *testing.T) {
	cases := map[error]int{
		turn.ErrEmptyMessage:          http.StatusBadRequest,
		turn.ErrNothingToSay:          http.StatusUnprocessableEntity,
		turn.ErrInstructorUnavailable: http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		f := &fakePipeline{err: err}
		req := httptest.NewRequest(http.MethodPost, "/turns/sess-1/text", strings.NewReader(`{"message":"x"}`))
		rr := httptest.NewRecorder()
		newRouter(f).ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("%v: expected %d, got %d", err, want, rr.Code)
		}
	}
}

func TestVoiceTurn(t *testing.T) {
	f := &fakePipeline{}
	audio := bytes.Repeat([]byte{1}, turn.MinAudioBytes)
	req := voiceRequest(t, audio, "")
	req.Header.Set(StreamingTokenHeader, "tok-h")
	rr := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body=%s", rr.Code, rr.Body.String())
	}
	if f.voice.StreamingToken != "tok-h" || f.voice.FileName != "clip.m4a" || len(f.voice.Audio) != len(audio) {
		t.Fatalf("unexpected voice request token=%q name=%q size=%d", f.voice.StreamingToken, f.voice.FileName, len(f.voice.Audio))
	}
}

func TestVoiceTurnTooSmall(t *testing.T) {
	f := &fakePipeline{}
	rr := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rr, voiceRequest(t, []byte("tiny"), "tok-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestVoiceTurnMissingFile(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("streamingToken", "tok-1")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/turns/sess-1/voice", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	newRouter(&fakePipeline{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
