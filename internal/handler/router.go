package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/trauma-sim/backend/internal/handler/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/handler/chat"
	"github.com/zhouzirui/trauma-sim/backend/internal/handler/persona"
	"github.com/zhouzirui/trauma-sim/backend/internal/handler/speech"
	"github.com/zhouzirui/trauma-sim/backend/internal/handler/stream"
	turnhandler "github.com/zhouzirui/trauma-sim/backend/internal/handler/turn"
	middlewarePkg "github.com/zhouzirui/trauma-sim/backend/internal/middleware"
	personaModel "github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
	chatService "github.com/zhouzirui/trauma-sim/backend/internal/service/chat"
	turnService "github.com/zhouzirui/trauma-sim/backend/internal/service/turn"
	"github.com/zhouzirui/trauma-sim/backend/pkg/utils"
)

// Dependencies 汇总路由需要的服务。可选项为 nil 时对应端点返回 503。
type Dependencies struct {
	Personas    personaModel.Store
	Sessions    *chatService.Service
	Turns       *turnService.Service
	Instructor  chat.Responder
	Transcriber speech.Transcriber
	// Components 报告各外部依赖是否已配置，用于健康检查。
	Components map[string]bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	var ws *speech.WebSocketHandler
	if deps.Turns != nil {
		ws = speech.NewWebSocketHandler(deps.Turns, deps.Sessions)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", healthHandler(deps.Components))

		persona.New(deps.Personas).RegisterRoutes(api)
		chat.New(deps.Instructor, deps.Sessions).RegisterRoutes(api)
		speech.New(deps.Transcriber, ws).RegisterRoutes(api)

		if deps.Turns != nil {
			avatar.New(deps.Turns).RegisterRoutes(api)
			turnhandler.New(deps.Turns).RegisterRoutes(api)
			stream.New(deps.Turns).RegisterRoutes(api)
		}
	})

	return r
}

func healthHandler(components map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := "ok"
		for _, ready := range components {
			if !ready {
				status = "degraded"
				break
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":     status,
			"components": components,
			"time":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}
