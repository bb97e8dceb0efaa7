package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	model "github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
)

type recordedCall struct {
	Path   string
	Auth   string
	APIKey string
	Body   map[string]any
}

// fakeProvider mints a new token on every create_token call so any reuse bug
// shows up as a mismatched bearer.
type fakeProvider struct {
	mu           sync.Mutex
	calls        []recordedCall
	tokensMinted int
	startStatus  int
	taskStatus   int
	stopStatus   int
}

func (f *fakeProvider) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			APIKey: r.Header.Get("X-Api-Key"),
			Body:   body,
		})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case pathCreateToken:
			if r.Header.Get("X-Api-Key") != "heygen-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f.mu.Lock()
			f.tokensMinted++
			token := fmt.Sprintf("tok-%d", f.tokensMinted)
			f.mu.Unlock()
			_, _ = fmt.Fprintf(w, `{"code":100,"data":{"token":%q}}`, token)
		case pathNewSession:
			_, _ = w.Write([]byte(`{"code":100,"data":{"session_id":"sess-1","url":"wss://rtc.example","access_token":"lk-token"}}`))
		case pathStart:
			writeStatus(w, f.startStatus)
		case pathTask:
			writeStatus(w, f.taskStatus)
		case pathStop:
			writeStatus(w, f.stopStatus)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeProvider) snapshot() ([]recordedCall, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...), f.tokensMinted
}

func writeStatus(w http.ResponseWriter, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"code":100,"data":{}}`))
}

func newTestManager(t *testing.T, provider *fakeProvider) *Manager {
	t.Helper()
	srv := httptest.NewServer(provider.handler(t))
	t.Cleanup(srv.Close)
	return NewManager(Config{APIKey: "heygen-key", BaseURL: srv.URL})
}

func TestLifecycleReusesCreationToken(t *testing.T) {
	provider := &fakeProvider{startStatus: http.StatusUnauthorized}
	mgr := newTestManager(t, provider)
	ctx := context.Background()

	session, err := mgr.CreateSession(ctx, CreateOptions{AvatarID: "avatar-1", VoiceID: "voice-1"})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.SessionID != "sess-1" || session.URL != "wss://rtc.example" || session.AccessToken != "lk-token" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.StreamingToken != "tok-1" {
		t.Fatalf("unexpected streaming token %s", session.StreamingToken)
	}

	if outcome := mgr.StartSession(ctx, session.SessionID, session.StreamingToken); outcome.Status != model.StatusDegraded {
		t.Fatalf("expected degraded start on 401, got %+v", outcome)
	}
	if err := mgr.SendSpeechTask(ctx, session.SessionID, "Airway first.", session.StreamingToken, model.TaskTalk); err != nil {
		t.Fatalf("first task err: %v", err)
	}
	if err := mgr.SendSpeechTask(ctx, session.SessionID, "Then breathing.", session.StreamingToken, model.TaskRepeat); err != nil {
		t.Fatalf("second task err: %v", err)
	}
	if outcome := mgr.StopSession(ctx, session.SessionID, session.StreamingToken); !outcome.IsOK() {
		t.Fatalf("expected ok stop, got %+v", outcome)
	}

	calls, minted := provider.snapshot()
	if minted != 1 {
		t.Fatalf("expected exactly one token minted, got %d", minted)
	}
	wantPaths := []string{pathCreateToken, pathNewSession, pathStart, pathTask, pathTask, pathStop}
	if len(calls) != len(wantPaths) {
		t.Fatalf("unexpected call count %d", len(calls))
	}
	for i, call := range calls {
		if call.Path != wantPaths[i] {
			t.Fatalf("call %d path = %s, want %s", i, call.Path, wantPaths[i])
		}
		if i == 0 {
			if call.APIKey != "heygen-key" || call.Auth != "" {
				t.Fatalf("token mint must use api key header only: %+v", call)
			}
			continue
		}
		if call.Auth != "Bearer tok-1" {
			t.Fatalf("call %d (%s) used %q, want creation token", i, call.Path, call.Auth)
		}
	}

	newBody := calls[1].Body
	if newBody["avatar_id"] != "avatar-1" || newBody["quality"] != DefaultQuality {
		t.Fatalf("unexpected create body %+v", newBody)
	}
	if voice, _ := newBody["voice"].(map[string]any); voice["voice_id"] != "voice-1" {
		t.Fatalf("unexpected voice %+v", newBody["voice"])
	}
	task := calls[3].Body
	if task["session_id"] != "sess-1" || task["text"] != "Airway first." || task["task_type"] != "talk" {
		t.Fatalf("unexpected task body %+v", task)
	}
	if calls[4].Body["task_type"] != "repeat" {
		t.Fatalf("expected repeat task, got %+v", calls[4].Body)
	}
}

func TestSendSpeechTaskRequiresToken(t *testing.T) {
	provider := &fakeProvider{}
	mgr := newTestManager(t, provider)

	err := mgr.SendSpeechTask(context.Background(), "sess-1", "hello", "  ", model.TaskTalk)
	if !errors.Is(err, ErrMissingStreamingToken) {
		t.Fatalf("expected ErrMissingStreamingToken, got %v", err)
	}
	if calls, minted := provider.snapshot(); len(calls) != 0 || minted != 0 {
		t.Fatalf("no provider call may happen without a token, got %+v", calls)
	}
}

func TestSendSpeechTaskFailureIsHard(t *testing.T) {
	provider := &fakeProvider{taskStatus: http.StatusBadRequest}
	mgr := newTestManager(t, provider)

	err := mgr.SendSpeechTask(context.Background(), "sess-1", "hello", "tok-1", model.TaskTalk)
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusBadRequest || !errors.Is(err, ErrProviderResponse) {
		t.Fatalf("expected provider error, got %v", err)
	}

	mgr = newTestManager(t, &fakeProvider{taskStatus: http.StatusUnauthorized})
	if err := mgr.SendSpeechTask(context.Background(), "sess-1", "hello", "tok-1", model.TaskTalk); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}

	if err := mgr.SendSpeechTask(context.Background(), "sess-1", "  ", "tok-1", model.TaskTalk); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected empty text error, got %v", err)
	}
}

func TestBestEffortCallsNeverFail(t *testing.T) {
	provider := &fakeProvider{startStatus: http.StatusInternalServerError, stopStatus: http.StatusInternalServerError}
	mgr := newTestManager(t, provider)
	ctx := context.Background()

	if outcome := mgr.StartSession(ctx, "sess-1", "tok-1"); outcome.Status != model.StatusDegraded || outcome.Reason == "" {
		t.Fatalf("expected degraded start, got %+v", outcome)
	}
	if outcome := mgr.StopSession(ctx, "sess-1", "tok-1"); outcome.Status != model.StatusDegraded {
		t.Fatalf("expected degraded stop, got %+v", outcome)
	}
	if outcome := mgr.StopSession(ctx, "sess-1", ""); outcome.Status != model.StatusFatal {
		t.Fatalf("expected fatal outcome without token, got %+v", outcome)
	}
	if outcome := mgr.StartSession(ctx, "", "tok-1"); outcome.Status != model.StatusFatal {
		t.Fatalf("expected fatal outcome without session, got %+v", outcome)
	}
}

func TestCreateSessionConfigurationMissing(t *testing.T) {
	mgr := NewManager(Config{})
	if _, err := mgr.CreateSession(context.Background(), CreateOptions{AvatarID: "a"}); !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}

	provider := &fakeProvider{}
	mgr = newTestManager(t, provider)
	if _, err := mgr.CreateSession(context.Background(), CreateOptions{}); !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing without avatar id, got %v", err)
	}
	if calls, _ := provider.snapshot(); len(calls) != 0 {
		t.Fatalf("unexpected provider calls %+v", calls)
	}
}

func TestCreateSessionBadCredential(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider.handler(t))
	t.Cleanup(srv.Close)

	mgr := NewManager(Config{APIKey: "wrong", BaseURL: srv.URL})
	if _, err := mgr.CreateSession(context.Background(), CreateOptions{AvatarID: "a"}); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestCreateSessionMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == pathCreateToken {
			_, _ = w.Write([]byte(`{"data":{"token":"tok-1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	t.Cleanup(srv.Close)

	mgr := NewManager(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := mgr.CreateSession(context.Background(), CreateOptions{AvatarID: "a"}); !errors.Is(err, ErrProviderResponse) {
		t.Fatalf("expected provider response error, got %v", err)
	}
}
