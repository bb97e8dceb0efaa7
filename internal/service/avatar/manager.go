package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	model "github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
)

const (
	DefaultBaseURL = "https://api.heygen.com"
	DefaultQuality = "medium"
	DefaultTimeout = 120 * time.Second

	pathCreateToken = "/v1/streaming.create_token"
	pathNewSession  = "/v1/streaming.new"
	pathStart       = "/v1/streaming.start"
	pathTask        = "/v1/streaming.task"
	pathStop        = "/v1/streaming.stop"

	maxBodyBytes = 1 << 20
)

// Config 数字人服务配置。
type Config struct {
	APIKey     string
	BaseURL    string
	Quality    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// CreateOptions selects the avatar and voice for a new session.
type CreateOptions struct {
	AvatarID string
	VoiceID  string
	Quality  string
}

// Manager drives the streaming avatar lifecycle. It holds no per-session
// state: callers keep the StreamingSession and pass its token back on every
// later call.
type Manager struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	quality    string
	timeout    time.Duration
	now        func() time.Time
}

// NewManager builds a manager. A missing API key is reported on use as
// ErrConfigurationMissing so the rest of the server can still start.
func NewManager(cfg Config) *Manager {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	quality := strings.TrimSpace(cfg.Quality)
	if quality == "" {
		quality = DefaultQuality
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Manager{
		httpClient: httpClient,
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		quality:    quality,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Configured reports whether an API key is present.
func (m *Manager) Configured() bool {
	return m != nil && m.apiKey != ""
}

// CreateSession mints a streaming token and opens a session with it. The
// returned StreamingToken must be reused for every later call on the session.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (*model.StreamingSession, error) {
	if !m.Configured() {
		return nil, fmt.Errorf("%w: api key not set", ErrConfigurationMissing)
	}
	avatarID := strings.TrimSpace(opts.AvatarID)
	if avatarID == "" {
		return nil, fmt.Errorf("%w: avatar id not set", ErrConfigurationMissing)
	}

	token, err := m.createToken(ctx)
	if err != nil {
		return nil, err
	}

	quality := strings.TrimSpace(opts.Quality)
	if quality == "" {
		quality = m.quality
	}
	payload := map[string]any{
		"quality":        quality,
		"avatar_id":      avatarID,
		"version":        "v2",
		"video_encoding": "H264",
	}
	if voiceID := strings.TrimSpace(opts.VoiceID); voiceID != "" {
		payload["voice"] = map[string]any{"voice_id": voiceID}
	}

	body, err := m.post(ctx, "new", pathNewSession, bearer(token), payload)
	if err != nil {
		return nil, err
	}

	sessionID := strings.TrimSpace(body.Get("data.session_id").String())
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id missing from create response", ErrProviderResponse)
	}

	session := &model.StreamingSession{
		SessionID:      sessionID,
		URL:            body.Get("data.url").String(),
		AccessToken:    body.Get("data.access_token").String(),
		StreamingToken: token,
		AvatarID:       avatarID,
		CreatedAt:      m.now(),
	}
	log.Printf("[avatar] session created id=%s avatar=%s quality=%s", session.SessionID, avatarID, quality)
	return session, nil
}

// StartSession is best-effort. A 401 means the session was already made
// ready at creation and is reported as degraded, never as an error.
func (m *Manager) StartSession(ctx context.Context, sessionID, token string) model.Outcome {
	if outcome, ok := m.checkBestEffort("start", sessionID, token); !ok {
		return outcome
	}

	_, err := m.post(ctx, "start", pathStart, bearer(token), map[string]any{"session_id": sessionID})
	if err == nil {
		log.Printf("[avatar] session started id=%s", sessionID)
		return model.OK()
	}

	if errors.Is(err, ErrAuthFailure) {
		log.Printf("[avatar] start returned unauthorized for id=%s, treating session as already started", sessionID)
		return model.Degraded("start unauthorized: session already active")
	}
	log.Printf("[avatar] start failed for id=%s, continuing: %v", sessionID, err)
	return model.Degraded(err.Error())
}

// SendSpeechTask asks the avatar to speak text. Unlike start/stop this is a
// hard call: a missing token or any provider failure is returned.
func (m *Manager) SendSpeechTask(ctx context.Context, sessionID, text, token string, taskType model.TaskType) error {
	if strings.TrimSpace(token) == "" {
		log.Printf("[avatar] speech task for id=%s rejected: no cached streaming token", sessionID)
		return ErrMissingStreamingToken
	}
	if strings.TrimSpace(sessionID) == "" {
		return ErrMissingSessionID
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if taskType == "" {
		taskType = model.TaskTalk
	}

	started := m.now()
	_, err := m.post(ctx, "task", pathTask, bearer(token), map[string]any{
		"session_id": sessionID,
		"text":       text,
		"task_type":  string(taskType),
	})
	if err != nil {
		log.Printf("[avatar] speech task failed id=%s type=%s: %v", sessionID, taskType, err)
		return err
	}
	log.Printf("[avatar] speech task sent id=%s type=%s chars=%d in %s", sessionID, taskType, len(text), m.now().Sub(started).Round(time.Millisecond))
	return nil
}

// StopSession is best-effort cleanup.
func (m *Manager) StopSession(ctx context.Context, sessionID, token string) model.Outcome {
	if outcome, ok := m.checkBestEffort("stop", sessionID, token); !ok {
		return outcome
	}

	if _, err := m.post(ctx, "stop", pathStop, bearer(token), map[string]any{"session_id": sessionID}); err != nil {
		log.Printf("[avatar] stop failed for id=%s, ignoring: %v", sessionID, err)
		return model.Degraded(err.Error())
	}
	log.Printf("[avatar] session stopped id=%s", sessionID)
	return model.OK()
}

func (m *Manager) checkBestEffort(op, sessionID, token string) (model.Outcome, bool) {
	if strings.TrimSpace(sessionID) == "" {
		log.Printf("[avatar] %s skipped: %v", op, ErrMissingSessionID)
		return model.Fatal(ErrMissingSessionID.Error()), false
	}
	if strings.TrimSpace(token) == "" {
		log.Printf("[avatar] %s skipped for id=%s: %v", op, sessionID, ErrMissingStreamingToken)
		return model.Fatal(ErrMissingStreamingToken.Error()), false
	}
	return model.Outcome{}, true
}

func (m *Manager) createToken(ctx context.Context) (string, error) {
	body, err := m.post(ctx, "create_token", pathCreateToken, func(req *http.Request) {
		req.Header.Set("X-Api-Key", m.apiKey)
	}, nil)
	if err != nil {
		return "", err
	}

	token := strings.TrimSpace(body.Get("data.token").String())
	if token == "" {
		return "", fmt.Errorf("%w: token missing from create_token response", ErrProviderResponse)
	}
	return token, nil
}

func bearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
}

func (m *Manager) post(ctx context.Context, op, path string, auth func(*http.Request), payload any) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("avatar %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("avatar %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	auth(req)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("avatar %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("avatar %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: truncate(raw)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s returned malformed body", ErrProviderResponse, op)
	}
	return gjson.ParseBytes(raw), nil
}

func truncate(raw []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
