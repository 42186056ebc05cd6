package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/handler/calllog"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/handler/conversation"
	middlewarePkg "github.com/zhouzirui/z-tavern/voiceagent/internal/middleware"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
	calllogService "github.com/zhouzirui/z-tavern/voiceagent/internal/service/calllog"
	convService "github.com/zhouzirui/z-tavern/voiceagent/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/voiceagent/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(manager *convService.Manager, callLogs *calllogService.Service, metrics *observability.Metrics, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.With().Str("component", "http").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"conversations": len(manager.List()),
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	conversationHandler := conversation.New(manager, logger)
	callLogHandler := calllog.New(callLogs)

	r.Route("/api", func(api chi.Router) {
		conversationHandler.RegisterRoutes(api)
		callLogHandler.RegisterRoutes(api)
	})

	return r
}
