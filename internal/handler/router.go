package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sppetrol/webchat/internal/handler/webchat"
	"github.com/sppetrol/webchat/internal/logging"
	middlewarePkg "github.com/sppetrol/webchat/internal/middleware"
	chatService "github.com/sppetrol/webchat/internal/service/chat"
	"github.com/sppetrol/webchat/pkg/utils"
)

// NewRouter wires HTTP and WebSocket routes to the chat service.
func NewRouter(chatSvc *chatService.Service, opts webchat.Options, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.HTTPMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	webchatHandler := webchat.New(chatSvc, opts)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":    "ok",
				"autoReply": opts.Responder != nil,
			})
		})

		webchatHandler.RegisterRoutes(api)
	})

	webchatHandler.RegisterWebSocketRoutes(r)

	return r
}
