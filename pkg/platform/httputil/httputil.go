// Package httputil centralizes JSON response and error envelope writing so
// every handler returns the same shapes.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "dealguard/pkg/domain-errors"
)

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:         http.StatusBadRequest,
	dErrors.CodeInvalidInput:       http.StatusBadRequest,
	dErrors.CodeUnauthorized:       http.StatusUnauthorized,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeValidation:         http.StatusUnprocessableEntity,
	dErrors.CodeTransientUpstream:  http.StatusBadGateway,
	dErrors.CodeInvariantViolation: http.StatusConflict,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the shared error envelope.
// Internal errors omit the description so infrastructure details never
// reach callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
		code = dErrors.CodeInternal
	}

	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.MessageOf(err)
	}
	WriteJSON(w, status, body)
}
