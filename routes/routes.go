package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/rag-chatbot/app"
	"github.com/upb/rag-chatbot/handlers"
	"github.com/upb/rag-chatbot/middleware"
	"github.com/upb/rag-chatbot/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	timeout := deps.Config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handlers.NewAuthHandler(deps.Auth, deps.Logger)
	queryHandler := handlers.NewQueryHandler(deps.QueryService(), deps.Logger)
	if deps.Audit != nil {
		authHandler.WithAuditor(deps.Audit)
		queryHandler.WithAuditor(deps.Audit)
	}
	healthHandler := handlers.NewHealthHandler(deps.PipelineReady, deps.DatabaseChecker(), deps.IndexInspector(), deps.Logger)
	if deps.Generator != nil {
		healthHandler.WithGenerator(deps.Generator)
	}

	// Public routes
	r.Get("/", handlers.HandleRoot)
	r.Get("/health", healthHandler.HandleHealth)
	r.Head("/health", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)
	r.Post("/token", authHandler.HandleToken)

	// Bearer-protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		r.Get("/users/me", authHandler.HandleMe)
		if deps.RateLimiter != nil {
			r.With(middleware.RateLimit(deps.RateLimiter, deps.Logger)).Post("/query", queryHandler.HandleQuery)
		} else {
			r.Post("/query", queryHandler.HandleQuery)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteMethodNotAllowed(w)
	})

	return r
}
