package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	mw "github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/middleware"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateAnalysis http.HandlerFunc
	ListAnalyses   http.HandlerFunc
	GetAnalysis    http.HandlerFunc
	AnalysisEvents http.HandlerFunc
	DeleteAnalysis http.HandlerFunc
	ExportAnalysis http.HandlerFunc
	ProfileHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.RequestIDHeader},
			ExposedHeaders:   []string{mw.RequestIDHeader, "X-RateLimit-Remaining", "Retry-After", "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Session)

		limit := func(h http.Handler) http.Handler { return h }
		if deps.RateLimit != nil {
			limit = deps.RateLimit.Limit
		}

		r.With(limit).Post("/api/v1/analyses", orNotImplemented(deps.CreateAnalysis))
		r.Get("/api/v1/analyses", orNotImplemented(deps.ListAnalyses))
		r.Get("/api/v1/analyses/{id}", orNotImplemented(deps.GetAnalysis))
		r.Get("/api/v1/analyses/{id}/events", orNotImplemented(deps.AnalysisEvents))
		r.Delete("/api/v1/analyses/{id}", orNotImplemented(deps.DeleteAnalysis))
		r.Get("/api/v1/analyses/{id}/export/{format}", orNotImplemented(deps.ExportAnalysis))

		r.Get("/api/v1/profile", orNotImplemented(deps.ProfileHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
