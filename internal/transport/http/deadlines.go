package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dealguard/internal/proactive"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/httputil"
)

func (h *Handler) listDeadlines(w http.ResponseWriter, r *http.Request) {
	contractID, err := id.ParseContractID(chi.URLParam(r, "contractID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	deadlines, err := h.deadlines.ListForContract(r.Context(), contractID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	items := make([]deadlineView, 0, len(deadlines))
	for _, d := range deadlines {
		items = append(items, toDeadlineView(d))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type verifyDeadlineRequest struct {
	// CorrectedDate overrides the extracted date, YYYY-MM-DD.
	CorrectedDate string `json:"corrected_date,omitempty"`
}

func (h *Handler) verifyDeadline(w http.ResponseWriter, r *http.Request) {
	deadlineID, err := id.ParseDeadlineID(chi.URLParam(r, "deadlineID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req verifyDeadlineRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
			return
		}
	}

	var corrected *time.Time
	if req.CorrectedDate != "" {
		parsed, err := time.Parse("2006-01-02", req.CorrectedDate)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "corrected_date must be YYYY-MM-DD"))
			return
		}
		corrected = &parsed
	}

	deadline, err := h.deadlines.Verify(r.Context(), deadlineID, corrected)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeadlineView(deadline))
}

func (h *Handler) handleDeadline(w http.ResponseWriter, r *http.Request) {
	h.setDeadlineStatus(w, r, h.deadlines.MarkHandled)
}

func (h *Handler) dismissDeadline(w http.ResponseWriter, r *http.Request) {
	h.setDeadlineStatus(w, r, h.deadlines.Dismiss)
}

func (h *Handler) setDeadlineStatus(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, deadlineID id.DeadlineID) (*proactive.ContractDeadline, error),
) {
	deadlineID, err := id.ParseDeadlineID(chi.URLParam(r, "deadlineID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	deadline, err := apply(r.Context(), deadlineID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeadlineView(deadline))
}
