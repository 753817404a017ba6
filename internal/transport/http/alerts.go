package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dealguard/internal/proactive"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/httputil"
	"dealguard/pkg/requestcontext"
)

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	query := r.URL.Query()

	filter := proactive.AlertFilter{
		Status:     proactive.AlertStatus(query.Get("status")),
		Severity:   proactive.AlertSeverity(query.Get("severity")),
		IncludeAll: query.Get("include_all") == "true",
		Now:        requestcontext.Now(r.Context()),
		Limit:      limit,
		Offset:     offset,
	}

	alerts, total, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	items := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		items = append(items, toAlertView(a))
	}
	httputil.WriteJSON(w, http.StatusOK, pageView[alertView]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	})
}

func (h *Handler) markAlertSeen(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(chi.URLParam(r, "alertID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	alert, err := h.alerts.MarkSeen(r.Context(), alertID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertView(alert))
}

type setAlertStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setAlertStatus(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(chi.URLParam(r, "alertID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req setAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "body must carry a status field"))
		return
	}

	alert, err := h.alerts.SetStatus(r.Context(), alertID, proactive.AlertStatus(req.Status))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertView(alert))
}

type snoozeAlertRequest struct {
	Until time.Time `json:"until"`
}

func (h *Handler) snoozeAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(chi.URLParam(r, "alertID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req snoozeAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Until.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "body must carry an RFC 3339 until field"))
		return
	}

	alert, err := h.alerts.Snooze(r.Context(), alertID, req.Until)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAlertView(alert))
}

type recordSignalRequest struct {
	Score *int `json:"score"`
}

func (h *Handler) recordRiskSignal(w http.ResponseWriter, r *http.Request) {
	var req recordSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Score == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "body must carry a score field"))
		return
	}

	if err := h.risk.RecordSignal(r.Context(), chi.URLParam(r, "category"), *req.Score); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) riskRadar(w http.ResponseWriter, r *http.Request) {
	radar, err := h.risk.Radar(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, radar)
}
