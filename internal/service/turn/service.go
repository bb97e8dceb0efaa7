package turn

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
	avatarservice "github.com/zhouzirui/trauma-sim/backend/internal/service/avatar"
	emotionservice "github.com/zhouzirui/trauma-sim/backend/internal/service/emotion"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/instructor"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

// Instructor answers knowledge questions in character.
type Instructor interface {
	Respond(ctx context.Context, question string) knowledge.LLMResponse
}

// PatientResponder produces the simulated patient's reply.
type PatientResponder interface {
	Reply(ctx context.Context, userMessage string, history []chat.ConversationTurn, state chat.EmotionalState) string
}

// AvatarManager drives the streaming avatar.
type AvatarManager interface {
	CreateSession(ctx context.Context, opts avatarservice.CreateOptions) (*avatar.StreamingSession, error)
	StartSession(ctx context.Context, sessionID, token string) avatar.Outcome
	SendSpeechTask(ctx context.Context, sessionID, text, token string, taskType avatar.TaskType) error
	StopSession(ctx context.Context, sessionID, token string) avatar.Outcome
}

// SessionStore holds per-session conversation state.
type SessionStore interface {
	CreateSession(ctx context.Context, sessionID, personaID string) (chat.PatientConversationState, error)
	GetSession(ctx context.Context, sessionID string) (chat.PatientConversationState, error)
	Update(ctx context.Context, sessionID string, fn func(state *chat.PatientConversationState) error) (chat.PatientConversationState, error)
	NewTurn(sessionID string, role chat.Role, content string) chat.ConversationTurn
	RemoveSession(ctx context.Context, sessionID string) bool
}

// Dependencies 汇总流水线依赖，未配置的组件保持 nil。
type Dependencies struct {
	Transcriber Transcriber
	Instructor  Instructor
	Patient     PatientResponder
	Avatar      AvatarManager
	Sessions    SessionStore
	Personas    persona.Store
	Quality     string
}

// Service runs voice and text turns end to end. Each turn is strictly
// sequential: transcribe, answer, strip, speak.
type Service struct {
	transcriber Transcriber
	instructor  Instructor
	patient     PatientResponder
	avatar      AvatarManager
	sessions    SessionStore
	personas    persona.Store
	quality     string
}

// NewService wires the pipeline.
func NewService(deps Dependencies) *Service {
	return &Service{
		transcriber: deps.Transcriber,
		instructor:  deps.Instructor,
		patient:     deps.Patient,
		avatar:      deps.Avatar,
		sessions:    deps.Sessions,
		personas:    deps.Personas,
		quality:     deps.Quality,
	}
}

// CreateSession opens an avatar session for the persona and registers its
// conversation state. The returned streaming token must be sent back on
// every later turn.
func (s *Service) CreateSession(ctx context.Context, personaID string) (*SessionInfo, error) {
	p, err := s.resolvePersona(personaID)
	if err != nil {
		return nil, err
	}

	session, err := s.avatar.CreateSession(ctx, avatarservice.CreateOptions{
		AvatarID: p.AvatarID,
		VoiceID:  p.VoiceID,
		Quality:  s.quality,
	})
	if err != nil {
		return nil, fmt.Errorf("create avatar session: %w", err)
	}

	state, err := s.sessions.CreateSession(ctx, session.SessionID, p.ID)
	if err != nil {
		s.avatar.StopSession(ctx, session.SessionID, session.StreamingToken)
		return nil, fmt.Errorf("register session: %w", err)
	}

	outcome := s.avatar.StartSession(ctx, session.SessionID, session.StreamingToken)
	log.Printf("[turn] session opened id=%s persona=%s start=%s", session.SessionID, p.ID, outcome.Status)

	return &SessionInfo{
		Session:        session,
		Persona:        p,
		StartOutcome:   outcome,
		EmotionalState: state.Emotion,
	}, nil
}

// StopSession stops the avatar and discards the conversation. It never fails.
func (s *Service) StopSession(ctx context.Context, sessionID, token string) avatar.Outcome {
	outcome := s.avatar.StopSession(ctx, sessionID, token)
	removed := s.sessions.RemoveSession(ctx, sessionID)
	log.Printf("[turn] session closed id=%s stop=%s removed=%t", sessionID, outcome.Status, removed)
	return outcome
}

// ProcessVoiceTurn transcribes the audio and runs it as a text turn.
func (s *Service) ProcessVoiceTurn(ctx context.Context, req VoiceTurnRequest) (*Result, error) {
	if err := ValidateAudioSize(len(req.Audio)); err != nil {
		return nil, err
	}
	if err := requireToken(req.StreamingToken); err != nil {
		return nil, err
	}
	state, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if s.transcriber == nil {
		return nil, ErrTranscriptionUnavailable
	}

	text, err := s.transcriber.Transcribe(ctx, req.Audio, req.FileName)
	if err != nil {
		log.Printf("[turn] transcription failed session=%s bytes=%d: %v", req.SessionID, len(req.Audio), err)
		return nil, err
	}
	emit(req.OnEvent, Event{Stage: StageTranscript, Text: text})

	return s.run(ctx, state.PersonaID, req.SessionID, req.StreamingToken, text, req.OnEvent)
}

// ProcessTextTurn runs a typed message through the pipeline.
func (s *Service) ProcessTextTurn(ctx context.Context, req TextTurnRequest) (*Result, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if err := requireToken(req.StreamingToken); err != nil {
		return nil, err
	}
	state, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, state.PersonaID, req.SessionID, req.StreamingToken, text, req.OnEvent)
}

// ValidateAudioSize enforces the [1 KB, 25 MB] window before any provider call.
func ValidateAudioSize(n int) error {
	if n < MinAudioBytes {
		return ErrAudioTooSmall
	}
	if n > MaxAudioBytes {
		return ErrAudioTooLarge
	}
	return nil
}

func (s *Service) run(ctx context.Context, personaID, sessionID, token, text string, onEvent func(Event)) (*Result, error) {
	p, err := s.resolvePersona(personaID)
	if err != nil {
		return nil, err
	}
	if p.IsPatient() {
		return s.runPatient(ctx, p, sessionID, token, text, onEvent)
	}
	return s.runInstructor(ctx, p, sessionID, token, text, onEvent)
}

func (s *Service) runInstructor(ctx context.Context, p persona.Persona, sessionID, token, text string, onEvent func(Event)) (*Result, error) {
	if s.instructor == nil {
		return nil, ErrInstructorUnavailable
	}

	resp := s.instructor.Respond(ctx, text)
	spoken := resp.Text
	if !resp.IsFallback {
		spoken = instructor.StripForSpeech(resp.Text)
	}
	if spoken == "" {
		log.Printf("[turn] answer for session=%s held only sources", sessionID)
		return nil, ErrNothingToSay
	}
	emit(onEvent, Event{Stage: StageAnswer, Text: resp.Text, Sources: resp.Sources})

	_, err := s.sessions.Update(ctx, sessionID, func(state *chat.PatientConversationState) error {
		state.Turns = append(state.Turns,
			s.sessions.NewTurn(sessionID, chat.RoleUser, text),
			s.sessions.NewTurn(sessionID, chat.RoleAssistant, resp.Text),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		SessionID:        sessionID,
		PersonaID:        p.ID,
		UserTranscript:   text,
		FinalText:        resp.Text,
		AvatarTranscript: spoken,
		Sources:          resp.Sources,
		IsFallback:       resp.IsFallback,
	}
	s.speak(ctx, p, sessionID, token, result, onEvent)
	return result, nil
}

func (s *Service) runPatient(ctx context.Context, p persona.Persona, sessionID, token, text string, onEvent func(Event)) (*Result, error) {
	if s.patient == nil {
		return nil, ErrPatientUnavailable
	}

	var reply string
	// 读取状态、生成回复、推进情绪在同一把会话锁内完成
	state, err := s.sessions.Update(ctx, sessionID, func(state *chat.PatientConversationState) error {
		history := state.Turns
		reply = s.patient.Reply(ctx, text, history, state.Emotion)
		// 请求已取消时生成器给出的是降级台词，不能写入记录
		if err := ctx.Err(); err != nil {
			return err
		}
		next := emotionservice.Advance(state.Emotion, text, reply, history)
		if next != state.Emotion {
			log.Printf("[turn] patient state session=%s %s -> %s", sessionID, state.Emotion, next)
		}
		state.Emotion = next
		state.Turns = append(state.Turns,
			s.sessions.NewTurn(sessionID, chat.RoleUser, text),
			s.sessions.NewTurn(sessionID, chat.RolePatient, reply),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	emit(onEvent, Event{Stage: StageAnswer, Text: reply})

	emotion := state.Emotion
	result := &Result{
		SessionID:        sessionID,
		PersonaID:        p.ID,
		UserTranscript:   text,
		FinalText:        reply,
		AvatarTranscript: reply,
		Sources:          []knowledge.SourceReference{},
		EmotionalState:   &emotion,
	}
	s.speak(ctx, p, sessionID, token, result, onEvent)
	return result, nil
}

// speak dispatches the avatar task. A failure is recorded on the result so
// the textual answer still reaches the trainee.
func (s *Service) speak(ctx context.Context, p persona.Persona, sessionID, token string, result *Result, onEvent func(Event)) {
	err := s.avatar.SendSpeechTask(ctx, sessionID, result.AvatarTranscript, token, p.Role.TaskType())
	if err != nil {
		log.Printf("[turn] avatar dispatch failed session=%s, returning text only: %v", sessionID, err)
		result.AvatarError = err.Error()
		emit(onEvent, Event{Stage: StageAvatar, Error: err.Error()})
		return
	}
	result.AvatarDelivered = true
	emit(onEvent, Event{Stage: StageAvatar, Text: result.AvatarTranscript})
}

func (s *Service) resolvePersona(personaID string) (persona.Persona, error) {
	id := strings.TrimSpace(personaID)
	if id == "" {
		id = persona.InstructorID
	}
	p, ok := s.personas.FindByID(id)
	if !ok {
		return persona.Persona{}, fmt.Errorf("%w: %s", ErrUnknownPersona, id)
	}
	return p, nil
}

func requireToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return avatarservice.ErrMissingStreamingToken
	}
	return nil
}

func emit(onEvent func(Event), ev Event) {
	if onEvent != nil {
		onEvent(ev)
	}
}
