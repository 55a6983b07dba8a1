// internal/handler/router.go
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/controller"
)

// NewRouter mounts the campaign API, the cron endpoints, health and metrics.
func NewRouter(campaigns *controller.CampaignController, cron *controller.CronController, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", campaigns.CreateCampaign)
		r.Get("/", campaigns.ListCampaigns)
		r.Get("/{id}", campaigns.GetCampaignDetails)
		r.Post("/{id}/personalized-preview", campaigns.PersonalizedPreview)
		r.Post("/{id}/enqueue", campaigns.EnqueueCampaign)
		r.Post("/{id}/pause", campaigns.PauseCampaign)
		r.Post("/{id}/resume", campaigns.ResumeCampaign)
	})
	r.Post("/prospects/{id}/stop", campaigns.StopProspect)

	r.Route("/cron", func(r chi.Router) {
		r.Post("/process-send-queue", cron.ProcessSendQueue)
		r.Post("/poll-replies", cron.PollReplies)
		r.Post("/poll-accepted-connections", cron.PollConnections)
	})

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
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
