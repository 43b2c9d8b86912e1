package handler

import (
	"context"
	"net/http"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/response"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler checks the durable job index storage.
func NewHealthHandler(storage Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"storage": "ok"}
		if err := storage.Ping(r.Context()); err != nil {
			checks["storage"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
