package server

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Routes returns the API router.
func Routes(h *Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.ServeHealth)

	r.Route("/api", func(api chi.Router) {
		api.Get("/speed-test", h.ServeSpeedTest)

		api.Route("/lessons/{lessonID}", func(lr chi.Router) {
			lr.Get("/", h.ServeLesson)
			lr.Get("/content", h.ServeContent)
			lr.Get("/variants", h.ServeVariants)
			lr.Post("/variants", h.UpsertVariant)
			lr.Get("/variants/{tier}", h.ServeVariant)
		})
	})

	return r
}
