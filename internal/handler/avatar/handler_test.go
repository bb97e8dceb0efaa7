package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	avatarmodel "github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
	avatarservice "github.com/zhouzirui/trauma-sim/backend/internal/service/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
)

type fakeSessions struct {
	createErr   error
	personaID   string
	stopSession string
	stopToken   string
}

func (f *fakeSessions) CreateSession(ctx context.Context, personaID string) (*turn.SessionInfo, error) {
	f.personaID = personaID
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &turn.SessionInfo{Session: &avatarmodel.StreamingSession{SessionID: "sess-1", StreamingToken: "tok-1"}}, nil
}

func (f *fakeSessions) StopSession(ctx context.Context, sessionID, token string) avatarmodel.Outcome {
	f.stopSession = sessionID
	f.stopToken = token
	return avatarmodel.Degraded("provider down")
}

func newRouter(f *fakeSessions) http.Handler {
	r := chi.NewRouter()
	New(f).RegisterRoutes(r)
	return r
}

func TestCreateSession(t *testing.T) {
	f := &fakeSessions{}
	req := httptest.NewRequest(http.MethodPost, "/avatar/sessions", strings.NewReader(`{"personaId":"patient-mike"}`))
	rr := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d body=%s", rr.Code, rr.Body.String())
	}
	var body turn.SessionInfo
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if body.Session.StreamingToken != "tok-1" || f.personaID != "patient-mike" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCreateSessionConfigurationMissing(t *testing.T) {
	f := &fakeSessions{createErr: avatarservice.ErrConfigurationMissing}
	req := httptest.NewRequest(http.MethodPost, "/avatar/sessions", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestStopSessionIsBestEffort(t *testing.T) {
	f := &fakeSessions{}
	req := httptest.NewRequest(http.MethodPost, "/avatar/sessions/sess-1/stop", strings.NewReader(`{"streamingToken":"body-token"}`))
	req.Header.Set(StreamingTokenHeader, "header-token")
	rr := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("stop must not fail, got %d", rr.Code)
	}
	if f.stopSession != "sess-1" || f.stopToken != "header-token" {
		t.Fatalf("unexpected stop call %+v", f)
	}
	if !strings.Contains(rr.Body.String(), `"degraded"`) {
		t.Fatalf("outcome missing from body %s", rr.Body.String())
	}
}
