package router

import (
	"net/http"

	"fieldsync-agent/internal/handler"
	"fieldsync-agent/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler             *handler.Handler
	CaptureHandler      *handler.CaptureHandler
	SyncHandler         *handler.SyncHandler
	ConnectivityHandler *handler.ConnectivityHandler
	DeviceHandler       *handler.DeviceHandler
	AuthMiddleware      func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	// AUTHENTICATED routes; health and ready are exempted by the middleware
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			// Foreground capture
			if cfg.CaptureHandler != nil {
				r.Post("/attendance", cfg.CaptureHandler.SubmitAttendance)
				r.Post("/gps", cfg.CaptureHandler.RecordPosition)
				r.Route("/checkpoints", func(r chi.Router) {
					r.Post("/complete", cfg.CaptureHandler.CompleteCheckpoint)
					r.Post("/skip", cfg.CaptureHandler.SkipCheckpoint)
					r.Post("/validate", cfg.CaptureHandler.ValidateCheckpoint)
					r.Post("/next", cfg.CaptureHandler.NextCheckpoint)
				})
			}

			// Pending queues and sync
			if cfg.SyncHandler != nil {
				r.Route("/pending", func(r chi.Router) {
					r.Get("/", cfg.SyncHandler.ListPending)
					r.Get("/{class}", cfg.SyncHandler.ListClass)
					r.Delete("/{class}/{offline_id}", cfg.SyncHandler.Purge)
					r.Post("/{class}/{offline_id}/reset", cfg.SyncHandler.Reset)
				})
				r.Route("/sync", func(r chi.Router) {
					r.Post("/", cfg.SyncHandler.Sync)
					r.Get("/stats", cfg.SyncHandler.GetStats)
					r.Post("/prune", cfg.SyncHandler.Prune)
				})
			}

			if cfg.ConnectivityHandler != nil {
				r.Get("/connectivity", cfg.ConnectivityHandler.Get)
				r.Post("/connectivity/check", cfg.ConnectivityHandler.Check)
			}

			// Device signal intake from the native shell
			if cfg.DeviceHandler != nil {
				r.Route("/device", func(r chi.Router) {
					r.Put("/network", cfg.DeviceHandler.SetNetwork)
					r.Put("/location-services", cfg.DeviceHandler.SetLocationServices)
					r.Put("/position", cfg.DeviceHandler.SetPosition)
					r.Put("/tracking", cfg.DeviceHandler.SetTracking)
					r.Put("/session", cfg.DeviceHandler.SetSession)
				})
			}
		})
	})

	return r
}
