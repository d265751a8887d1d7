package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentdeck/internal/api/middleware"
	"github.com/eldtechnologies/agentdeck/internal/handlers"
)

// Options configures the router beyond the handler dependencies.
type Options struct {
	CORSOrigins []string
	RateLimit   middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps handlers.Deps, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64*1024, 12*1024*1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.SessionHeader},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: len(origins) > 0 && origins[0] != "*",
		MaxAge:           300,
	}))

	limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, opts.RateLimit)
	gate := middleware.NewGate(deps.Auth, logger)
	h := handlers.NewHandler(deps)

	// Ops
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	if deps.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(deps.StaticDir))))
	}
	if deps.Files != nil {
		r.Handle("/storage/*", http.StripPrefix("/storage/", deps.Files.Handler()))
	}

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Get("/auth/login", h.Page)
		r.Get("/auth/register", h.Page)
		r.Get("/auth/callback", h.Page)
		r.Post("/auth/callback", h.Callback)
		r.Post("/auth/logout", h.Logout)
		r.Post("/hooks/deployments/{id}", h.DeploymentWebhook)
	})

	// Pages (gated)
	r.Group(func(r chi.Router) {
		r.Use(gate.Pages)

		for _, p := range []string{
			"/", "/search", "/create", "/deploy", "/integrations", "/settings",
			"/chat/{agentId}", "/settings/{agentId}", "/agents/{agentId}/status",
		} {
			r.Get(p, h.Page)
		}
	})

	r.Route("/api", func(r chi.Router) {
		// Session state is answered for every caller.
		r.With(limiter.Middleware).Get("/session", h.Session)

		// Everything else is gated and rate limited per user.
		r.Group(func(r chi.Router) {
			r.Use(gate.API)
			r.Use(limiter.Middleware)

			r.Get("/agents", h.ListAgents)
			r.Get("/agents/{agentId}", h.GetAgent)
			r.Get("/typing", h.Typing)

			r.Route("/chat/{agentId}", func(r chi.Router) {
				r.Get("/messages", h.Messages)
				r.Post("/messages", h.SendMessage)
				r.Post("/retry", h.Retry)
				r.Get("/cache", h.CacheSnapshot)
				r.Delete("/view", h.LeaveChat)
				r.Post("/tts", h.TTS)
				r.Post("/whisper", h.Whisper)
			})

			r.Get("/my/agents", h.ListMyAgents)
			r.Post("/my/agents", h.CreateMyAgent)
			r.Put("/my/agents/{id}", h.UpdateMyAgent)
			r.Delete("/my/agents/{id}", h.DeleteMyAgent)

			r.Get("/deployments", h.ListDeployments)
			r.Post("/deployments", h.CreateDeployment)
			r.Get("/deployments/{id}", h.GetDeployment)
			r.Post("/deployments/{id}/deploy", h.Deploy)
			r.Get("/deployments/{id}/events", h.DeploymentEvents)

			r.Get("/settings", h.Settings)
			r.Get("/dashboard", h.Dashboard)
			r.Get("/integrations", h.Integrations)
		})
	})

	return r
}

// StaticDir returns the path to the static files directory, or "" when
// there is none.
func StaticDir() string {
	// Check if running from app directory (production container)
	for _, dir := range []string{"/app/web/static", "web/static"} {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return ""
}
