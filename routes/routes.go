package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/ai-gateway/app"
	"github.com/upb/ai-gateway/handlers"
	"github.com/upb/ai-gateway/internal/observability"
	"github.com/upb/ai-gateway/utils"
)

// timeoutGrace keeps the route deadline above every vendor deadline so
// vendor timeouts surface as 504s from the dispatcher
var timeoutGrace = 5 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(observability.HTTPMiddleware(deps.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.SQLDB(), deps.Credentials, deps.Logger)
	chat := handlers.NewChatHandler(deps.Gateway, deps.Logger)
	provider := handlers.NewProviderHandler(deps.Catalog, deps.Credentials, deps.Registry, deps.Logger)
	if deps.Metrics != nil {
		provider.WithGauge(deps.Metrics)
	}
	stats := handlers.NewUsageHandler(deps.Aggregator, deps.Logger)
	admin := deps.AuthMiddleware.RequireAdmin

	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{Registry: deps.Metrics}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Batch items are bounded by their own vendor deadlines; a shared
		// route deadline would abandon queued items behind slow ones.
		r.Post("/chat/batch", chat.HandleBatch)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(deps.Config.MaxRequestTimeout() + timeoutGrace))

			r.Post("/chat", chat.HandleChat)

			r.Route("/providers", func(r chi.Router) {
				r.Get("/", provider.ListProviders)
				r.With(admin).Post("/", provider.RegisterProvider)
				r.Get("/{id}", provider.GetProvider)

				r.Route("/{id}/credentials", func(r chi.Router) {
					r.Use(admin)
					r.Put("/", provider.SaveCredentials)
					r.Patch("/", provider.ToggleCredentials)
					r.Delete("/", provider.DeleteCredentials)
				})
			})

			r.With(admin).Get("/credentials", provider.ListCredentials)

			r.Route("/usage/stats", func(r chi.Router) {
				r.Get("/", stats.GetStats)
				r.With(admin).Delete("/", stats.ResetStats)
			})

			if deps.Archiver != nil {
				archive := handlers.NewArchiveHandler(deps.Archiver, deps.Logger)
				r.Route("/usage/archive", func(r chi.Router) {
					r.Use(admin)
					r.Get("/", archive.GetArchive)
					r.Get("/records", archive.GetRecords)
				})
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
