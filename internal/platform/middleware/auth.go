package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/httputil"
	"dealguard/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns its tenant scope.
type TokenValidator interface {
	ValidateToken(tokenString string) (tenantID string, userID string, err error)
}

// RequireAuth rejects requests without a valid bearer token and injects the
// tenant and user IDs into the request context. Everything downstream reads
// the tenant from context only; there is no other channel.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}

			tenantRaw, userRaw, err := validator.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			tenantID, err := id.ParseTenantID(tenantRaw)
			if err != nil {
				logger.WarnContext(r.Context(), "token carries invalid tenant id",
					"request_id", requestcontext.RequestID(r.Context()),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid tenant claim"))
				return
			}

			ctx := requestcontext.WithTenantID(r.Context(), tenantID)
			if userID, err := id.ParseUserID(userRaw); err == nil {
				ctx = requestcontext.WithUserID(ctx, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
