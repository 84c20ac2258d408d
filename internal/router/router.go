package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"finanzas-backend/internal/handlers"
	"finanzas-backend/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth      *handlers.AuthHandler
	Charts    *handlers.ChartHandler
	Plans     *handlers.PlanHandler
	Concepts  *handlers.ConceptHandler
	WebSocket http.HandlerFunc
}

func New(
	sessionAuth *middleware.SessionAuth,
	authLimiter *middleware.RateLimiter,
	h Handlers,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/anonymous", h.Auth.Anonymous)
			r.Post("/token", h.Auth.Token)
		})

		// ──── Chart Routes (public) ────
		r.Route("/charts", func(r chi.Router) {
			r.Get("/", h.Charts.List)
			r.Get("/{canvasID}", h.Charts.Get)
		})

		// ──── Feature Routes ────
		r.Group(func(r chi.Router) {
			r.Use(sessionAuth.Middleware)
			r.Post("/plans", h.Plans.Generate)
			r.Post("/concepts/explain", h.Concepts.Explain)
		})

		// ──── WebSocket ────
		r.Get("/ws", h.WebSocket)
	})

	return r
}
