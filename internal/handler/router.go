package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	sessionHandler "github.com/zhouzirui/hangout/backend/internal/handler/session"
	"github.com/zhouzirui/hangout/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/hangout/backend/internal/middleware"
	"github.com/zhouzirui/hangout/backend/internal/observability"
	"github.com/zhouzirui/hangout/backend/internal/service/feed"
	"github.com/zhouzirui/hangout/backend/internal/service/orchestrator"
	sessionService "github.com/zhouzirui/hangout/backend/internal/service/session"
	"github.com/zhouzirui/hangout/backend/pkg/utils"
)

// Options carries everything the router wires together.
type Options struct {
	Sessions       *sessionService.Registry
	Orchestrator   *orchestrator.Orchestrator
	Hub            *feed.Hub
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	PublicBaseURL  string
	AllowedOrigins []string
	// Health reports dependency state for /healthz.
	Health func() map[string]string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]any{"status": "ok", "sessions": opts.Sessions.Len()}
		if opts.Health != nil {
			payload["dependencies"] = opts.Health()
		}
		utils.RespondJSON(w, http.StatusOK, payload)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	sessions := sessionHandler.New(opts.Sessions, opts.Orchestrator, opts.PublicBaseURL, opts.Metrics, logger)
	streams := stream.New(opts.Sessions, opts.Hub, opts.Orchestrator, opts.AllowedOrigins, logger)

	r.Route("/api", func(api chi.Router) {
		sessions.RegisterRoutes(api)
		streams.RegisterRoutes(api)
	})

	return r
}
