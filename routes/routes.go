package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/rentiful/backend/app"
	"github.com/upb/rentiful/backend/handlers"
	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/middleware"
	"github.com/upb/rentiful/backend/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestMeta)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.ProviderAccessTokenHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.Health.HandleHealth)
	r.Get("/readyz", deps.Health.HandleReadiness)

	guard := deps.AuthMiddleware.Guard

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Handler)
			}
			r.Post("/register", deps.AuthHandler.HandleRegister)
			r.Post("/login-local", deps.AuthHandler.HandleLoginLocal)
		})

		r.With(guard(identity.RoleManager, identity.RoleTenant)).Get("/me", deps.AuthHandler.HandleMe)
	})

	r.Route("/managers", func(r chi.Router) {
		r.Use(guard(identity.RoleManager))
		r.Get("/{subjectId}", deps.Managers.HandleGet)
		r.Post("/", deps.Managers.HandleCreate)
		r.Put("/{subjectId}", deps.Managers.HandleUpdate)
	})

	r.Route("/tenants", func(r chi.Router) {
		r.Use(guard(identity.RoleTenant))
		r.Get("/{subjectId}", deps.Tenants.HandleGet)
		r.Post("/", deps.Tenants.HandleCreate)
		r.Put("/{subjectId}", deps.Tenants.HandleUpdate)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
