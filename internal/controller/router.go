package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/handler"
)

// NewRouter mounts the campaign API.
func NewRouter(c *CampaignController, h *handler.CampaignHandler, allowedOrigins []string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", handler.ActorHeader},
		MaxAge:         300,
	}))

	// Campaign routes
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", c.CreateCampaign)
		r.Get("/", c.ListCampaigns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCampaignHandlerWithStats)
			r.Put("/", c.UpdateCampaign)
			r.Delete("/", c.DeleteCampaign)
			r.Post("/start", c.StartCampaign)
			r.Post("/cancel", c.CancelCampaign)
			r.Post("/replicate", c.ReplicateCampaign)
			r.Post("/preview", c.PersonalizedPreview)
			r.Get("/logs", h.CampaignLogsHandler)
		})
	})
	r.Get("/batches/{id}", h.BatchStatusHandler)
	r.Get("/notifications", h.NotificationsHandler)

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
