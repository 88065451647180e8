package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentrelay/internal/api/middleware"
	"github.com/eldtechnologies/agentrelay/internal/handlers"
	"github.com/eldtechnologies/agentrelay/internal/ratelimit"
	"github.com/eldtechnologies/agentrelay/internal/relay"
)

// DefaultMaxBodyBytes bounds request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 8 * 1024

// Options configures the router.
type Options struct {
	// Live serves the websocket endpoint. Nil disables /ws.
	Live http.Handler
	// RegisterLimiter throttles registration per client address. Nil disables it.
	RegisterLimiter ratelimit.Limiter

	Handlers       handlers.Options
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, svc *relay.Service, opts Options) *chi.Mux {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS for browser viewers
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(svc, logger, opts.Handlers)
	auth := middleware.NewAuthMiddleware(svc, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)

	if opts.Live != nil {
		r.Handle("/ws", opts.Live)
	}

	r.Route("/api", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/", h.Root)
		r.Group(func(r chi.Router) {
			if opts.RegisterLimiter != nil {
				r.Use(middleware.ThrottleByIP(opts.RegisterLimiter, "register", logger))
			}
			r.Post("/register", h.Register)
		})
		r.Get("/messages", h.GetMessages)
		r.Get("/messages/all", h.GetAllMessages)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.Who)
		r.Get("/rooms", h.ListRooms)
		r.Get("/stats", h.Stats)

		// Authenticated routes (require agent key)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Post("/messages", h.PostMessage)
		})
	})

	return r
}
