package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authHandler "github.com/zhouzirui/z-tavern/messenger/internal/handler/auth"
	chatHandler "github.com/zhouzirui/z-tavern/messenger/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/messenger/internal/handler/realtime"
	middlewarePkg "github.com/zhouzirui/z-tavern/messenger/internal/middleware"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/account"
	chatService "github.com/zhouzirui/z-tavern/messenger/internal/service/chat"
	"github.com/zhouzirui/z-tavern/messenger/pkg/utils"
)

// Options tunes the router. AccessLog enables chi's request logger.
type Options struct {
	AccessLog bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(accounts *account.Service, chatSvc *chatService.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(middlewarePkg.Metrics)

	authH := authHandler.New(accounts)
	chatH := chatHandler.New(chatSvc, accounts)
	realtimeH := realtime.New(chatSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		// Public auth routes
		authH.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireUser(accounts))

			authH.RegisterProtectedRoutes(protected)
			chatH.RegisterRoutes(protected)
			realtimeH.RegisterRoutes(protected)
		})
	})

	return r
}
