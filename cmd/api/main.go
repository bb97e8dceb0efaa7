package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/trauma-sim/backend/internal/config"
	"github.com/zhouzirui/trauma-sim/backend/internal/handler"
	avatarModel "github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/ai"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/instructor"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/knowledge"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/personality"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/speech"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.WithAvatars(persona.Seed(), map[avatarModel.Role]persona.AvatarBinding{
		avatarModel.RoleInstructor: {AvatarID: cfg.Avatar.InstructorAvatarID, VoiceID: cfg.Avatar.InstructorVoiceID},
		avatarModel.RolePatient:    {AvatarID: cfg.Avatar.PatientAvatarID, VoiceID: cfg.Avatar.PatientVoiceID},
	}))
	sessions := chat.NewService()
	components := map[string]bool{}

	// 语音转写
	var transcriber *speech.Client
	if cfg.Transcription.Enabled() {
		transcriber, err = speech.NewClient(speech.Config{
			APIKey:     cfg.Transcription.APIKey,
			BaseURL:    cfg.Transcription.BaseURL,
			Model:      cfg.Transcription.Model,
			Language:   cfg.Transcription.Language,
			Timeout:    cfg.Transcription.Timeout,
			MaxRetries: cfg.Transcription.MaxRetries,
		})
		if err != nil {
			log.Printf("warning: failed to initialize transcription: %v", err)
		}
	} else {
		log.Println("OPENAI_API_KEY 未配置，跳过语音转写初始化")
	}
	components["transcription"] = transcriber != nil

	// 讲师：知识库 + 人格改写
	orchestrator := newInstructor(cfg.Knowledge, cfg.Personality, personaStore)
	components["knowledge"] = orchestrator != nil
	components["personality"] = cfg.Personality.Enabled

	// 模拟病人
	var patient *ai.PatientGenerator
	if cfg.Patient.Enabled() {
		patient, err = newPatient(ctx, cfg.Patient, personaStore)
		if err != nil {
			log.Printf("warning: failed to initialize patient generator: %v", err)
			log.Println("continuing without patient persona - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("Patient generator initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过病人角色初始化")
	}
	components["patient"] = patient != nil

	avatarManager := avatar.NewManager(avatar.Config{
		APIKey:  cfg.Avatar.APIKey,
		BaseURL: cfg.Avatar.BaseURL,
		Quality: cfg.Avatar.Quality,
		Timeout: cfg.Avatar.Timeout,
	})
	components["avatar"] = avatarManager.Configured()

	// nil 指针不能直接赋给接口，否则服务层的判空会失效。
	deps := turn.Dependencies{
		Avatar:   avatarManager,
		Sessions: sessions,
		Personas: personaStore,
		Quality:  cfg.Avatar.Quality,
	}
	routerDeps := handler.Dependencies{
		Personas:   personaStore,
		Sessions:   sessions,
		Components: components,
	}
	if transcriber != nil {
		deps.Transcriber = transcriber
		routerDeps.Transcriber = transcriber
	}
	if orchestrator != nil {
		deps.Instructor = orchestrator
		routerDeps.Instructor = orchestrator
	}
	if patient != nil {
		deps.Patient = patient
	}
	routerDeps.Turns = turn.NewService(deps)

	startServer(ctx, cfg.Server, handler.NewRouter(routerDeps))
}

// newInstructor 返回 nil 时讲师相关接口回 503。
func newInstructor(kcfg config.KnowledgeConfig, pcfg config.PersonalityConfig, personas persona.Store) *instructor.Orchestrator {
	if !kcfg.Enabled() {
		log.Println("RAG_BASE_URL 未配置，讲师问答不可用，相关接口将返回 503")
		return nil
	}
	knowledgeClient, err := knowledge.NewClient(knowledge.Config{
		BaseURL:  kcfg.BaseURL,
		Path:     kcfg.Path,
		APIKey:   kcfg.APIKey,
		Model:    kcfg.Model,
		Timeout:  kcfg.Timeout,
		TopK:     kcfg.TopK,
		Inferrer: knowledge.NewCatalogMatcher(kcfg.TopK),
	})
	if err != nil {
		log.Printf("warning: failed to initialize knowledge client, instructor unavailable: %v", err)
		return nil
	}
	return instructor.NewOrchestrator(knowledgeClient, newRewriter(pcfg, personas))
}

// newRewriter 返回 nil 表示直接使用知识库原文。
func newRewriter(cfg config.PersonalityConfig, personas persona.Store) instructor.Rewriter {
	if !cfg.Enabled {
		log.Println("人格改写未启用，讲师将直接使用知识库回答")
		return nil
	}
	p, _ := personas.FindByID(persona.InstructorID)
	client, err := personality.NewClient(personality.Config{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
		MaxChars: cfg.MaxChars,
		Persona:  p,
	})
	if err != nil {
		log.Printf("warning: failed to initialize personality rewriter: %v", err)
		return nil
	}
	return client
}

func newPatient(ctx context.Context, cfg config.PatientConfig, personas persona.Store) (*ai.PatientGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	p, _ := personas.FindByID(persona.PatientID)
	return ai.NewPatientGenerator(ctx, chatModel, ai.GeneratorConfig{
		Persona:     p,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	})
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Trauma simulator backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
