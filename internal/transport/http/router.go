// Package http exposes the REST surface: contract intake and retrieval,
// deadline review, alert management, the risk radar, and job polling.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealguard/internal/contracts"
	"dealguard/internal/platform/middleware"
	"dealguard/internal/proactive"
	"dealguard/internal/queue"
	"dealguard/pkg/platform/httputil"
)

// Handler bundles the services behind the REST API.
type Handler struct {
	contracts *contracts.Service
	deadlines *proactive.DeadlineService
	alerts    *proactive.AlertService
	risk      *proactive.RiskService
	jobs      *queue.Gateway
	logger    *slog.Logger
}

func NewHandler(
	contractSvc *contracts.Service,
	deadlineSvc *proactive.DeadlineService,
	alertSvc *proactive.AlertService,
	riskSvc *proactive.RiskService,
	jobs *queue.Gateway,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		contracts: contractSvc,
		deadlines: deadlineSvc,
		alerts:    alertSvc,
		risk:      riskSvc,
		jobs:      jobs,
		logger:    logger,
	}
}

// Router assembles the middleware chain and route tree. Health and metrics
// stay outside the auth boundary.
func (h *Handler) Router(validator middleware.TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, h.logger))

		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", h.uploadContract)
			r.Get("/", h.listContracts)
			r.Get("/{contractID}", h.getContract)
			r.Post("/{contractID}/analyze", h.analyzeContract)
			r.Get("/{contractID}/deadlines", h.listDeadlines)
		})

		r.Route("/deadlines/{deadlineID}", func(r chi.Router) {
			r.Post("/verify", h.verifyDeadline)
			r.Post("/handle", h.handleDeadline)
			r.Post("/dismiss", h.dismissDeadline)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.listAlerts)
			r.Post("/{alertID}/seen", h.markAlertSeen)
			r.Post("/{alertID}/status", h.setAlertStatus)
			r.Post("/{alertID}/snooze", h.snoozeAlert)
		})

		r.Get("/risk/radar", h.riskRadar)
		r.Put("/risk/signals/{category}", h.recordRiskSignal)
		r.Get("/jobs/{jobID}", h.getJob)
	})

	return r
}
