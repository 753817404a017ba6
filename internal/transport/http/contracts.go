package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/httputil"
)

// maxUploadBytes caps contract uploads at 20 MiB.
const maxUploadBytes = 20 << 20

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (h *Handler) uploadContract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected multipart form with a file field"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable upload"))
		return
	}

	contract, job, err := h.contracts.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	body := map[string]any{"contract_id": contract.ID.String()}
	if job != nil {
		body["job_id"] = job.ID.String()
	}
	// A duplicate upload returns the existing contract without a new job.
	status := http.StatusAccepted
	if job == nil {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, body)
}

func (h *Handler) listContracts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	list, total, err := h.contracts.List(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	items := make([]contractView, 0, len(list))
	for _, c := range list {
		items = append(items, toContractView(c))
	}
	httputil.WriteJSON(w, http.StatusOK, pageView[contractView]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	})
}

func (h *Handler) getContract(w http.ResponseWriter, r *http.Request) {
	contractID, err := id.ParseContractID(chi.URLParam(r, "contractID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	contract, analysis, err := h.contracts.Get(r.Context(), contractID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, contractDetail{
		contractView: toContractView(contract),
		Analysis:     toAnalysisView(analysis),
	})
}

func (h *Handler) analyzeContract(w http.ResponseWriter, r *http.Request) {
	contractID, err := id.ParseContractID(chi.URLParam(r, "contractID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, created, err := h.contracts.Analyze(r.Context(), contractID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, map[string]any{
		"job_id":   job.ID.String(),
		"existing": !created,
	})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toJobView(job))
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
