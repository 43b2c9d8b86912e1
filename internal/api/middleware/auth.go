package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/response"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
)

// Session places the caller's bearer token into the request context, where
// session.Context finds it for outbound backend calls. The token is checked
// by the analysis backend, not here; a request without one is rejected.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Missing or invalid Authorization header", nil)
			return
		}

		slog.DebugContext(r.Context(), "session attached",
			"token", session.Fingerprint(token),
			"request_id", GetRequestID(r),
		)
		next.ServeHTTP(w, r.WithContext(session.WithToken(r.Context(), token)))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
