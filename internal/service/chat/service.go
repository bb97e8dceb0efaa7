package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

type entry struct {
	// mu serializes turns for one session so that turn N observes the state
	// written by turn N-1.
	mu    sync.Mutex
	state chat.PatientConversationState
}

// Service is the session-scoped conversation store. Different sessions never
// contend beyond the map lookup.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

// NewService bootstraps the in-memory store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession registers a conversation for sessionID with the Neutral state.
func (s *Service) CreateSession(_ context.Context, sessionID, personaID string) (chat.PatientConversationState, error) {
	if sessionID == "" {
		return chat.PatientConversationState{}, ErrSessionRequired
	}

	now := s.now()
	state := chat.PatientConversationState{
		SessionID: sessionID,
		PersonaID: personaID,
		Turns:     make([]chat.ConversationTurn, 0, 16),
		Emotion:   chat.Neutral,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; ok {
		return chat.PatientConversationState{}, ErrSessionExists
	}
	s.sessions[sessionID] = &entry{state: state}
	return state, nil
}

// GetSession returns a snapshot of the session state.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.PatientConversationState, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.PatientConversationState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.state), nil
}

// Update runs fn against a working copy of the session while holding the
// session lock, and commits the copy only when fn succeeds. fn may perform
// provider calls; concurrent turns of the same session wait for it.
func (s *Service) Update(ctx context.Context, sessionID string, fn func(state *chat.PatientConversationState) error) (chat.PatientConversationState, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.PatientConversationState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return chat.PatientConversationState{}, err
	}

	working := snapshot(e.state)
	if err := fn(&working); err != nil {
		return chat.PatientConversationState{}, err
	}

	working.UpdatedAt = s.now()
	e.state = working
	return snapshot(working), nil
}

// NewTurn stamps a turn for appending.
func (s *Service) NewTurn(sessionID string, role chat.Role, content string) chat.ConversationTurn {
	return chat.ConversationTurn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
}

// AppendTurns appends turns in order.
func (s *Service) AppendTurns(ctx context.Context, sessionID string, turns ...chat.ConversationTurn) error {
	_, err := s.Update(ctx, sessionID, func(state *chat.PatientConversationState) error {
		state.Turns = append(state.Turns, turns...)
		return nil
	})
	return err
}

// LoadTranscript returns stored turns for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.ConversationTurn, error) {
	state, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state.Turns, nil
}

// RemoveSession discards the conversation together with its turns.
func (s *Service) RemoveSession(_ context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return false
	}
	delete(s.sessions, sessionID)
	return true
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) lookup(sessionID string) (*entry, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func snapshot(state chat.PatientConversationState) chat.PatientConversationState {
	copied := make([]chat.ConversationTurn, len(state.Turns))
	copy(copied, state.Turns)
	state.Turns = copied
	return state
}
