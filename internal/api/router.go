package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins     []string
	RateLimitWhitelist []string
	AutoBlockEnabled   bool
}

// NewRouter creates and configures the HTTP router. Rate limiting is enabled
// only when deps carries a Redis store.
func NewRouter(logger zerolog.Logger, deps handlers.Deps, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if deps.Redis != nil {
		limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        opts.RateLimitWhitelist,
			AutoBlockEnabled: opts.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.UserIDHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	deps.AllowedOrigins = origins
	h := handlers.NewHandler(deps)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Public routes (no identity required)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Post("/logout/{userId}", h.Logout)
		r.Get("/check-username/{username}", h.CheckUsername)
		r.Get("/check-phone/{phone}", h.CheckPhone)
	})

	// Identified routes (require User-Id)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.Get("/ws", h.Websocket)

		r.Route("/api/chat", func(r chi.Router) {
			r.Post("/private/{userId2}", h.CreatePrivateRoom)
			r.Post("/group", h.CreateGroupRoom)
			r.Get("/online-users", h.OnlineUsers)

			r.Get("/contacts", h.ListContacts)
			r.Post("/contacts/phone/{phone}", h.AddContactByPhone)
			r.Delete("/contacts/{contactId}", h.RemoveContact)
			r.Get("/search/users", h.SearchUsers)

			r.Get("/rooms", h.ListRooms)
			r.Route("/rooms/{id}", func(r chi.Router) {
				r.Get("/", h.GetRoom)
				r.Get("/messages", h.ListMessages)
				r.Get("/messages/latest", h.LatestMessages)
				r.Get("/messages/count", h.CountMessages)
				r.Post("/messages", h.PostMessage)
				r.Post("/participants/{participantId}", h.AddParticipant)
			})
		})
	})

	return r
}
