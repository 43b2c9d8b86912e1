package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/analysis"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/response"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/tracker"
)

var errTooLarge = fmt.Errorf("%w: file too large", analysis.ErrValidation)

// apiError is the HTTP rendering of an error.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps each error kind to its own status and code. A timeout is
// never reported as a server failure.
func classify(err error) apiError {
	var (
		apiErr *analysis.APIError
		failed *tracker.JobFailedError
	)
	switch {
	case errors.Is(err, analysis.ErrUnauthorized):
		return apiError{http.StatusUnauthorized, "UNAUTHORIZED", "Session expired, please sign in again"}
	case errors.Is(err, errTooLarge):
		return apiError{http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", validationMessage(err)}
	case errors.Is(err, analysis.ErrValidation):
		status := http.StatusBadRequest
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusRequestEntityTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		return apiError{status, "VALIDATION_ERROR", validationMessage(err)}
	case errors.Is(err, tracker.ErrJobRemoved):
		return apiError{http.StatusNotFound, "ANALYSIS_REMOVED", "Analysis was removed on the server"}
	case errors.Is(err, analysis.ErrNotFound):
		return apiError{http.StatusNotFound, "NOT_FOUND", "Analysis not found"}
	case errors.As(err, &failed):
		msg := failed.Message
		if msg == "" {
			msg = "Analysis failed"
		}
		return apiError{http.StatusUnprocessableEntity, "ANALYSIS_FAILED", msg}
	case errors.Is(err, tracker.ErrTimeout):
		return apiError{http.StatusGatewayTimeout, "ANALYSIS_TIMEOUT", "Analysis is taking longer than expected, check history later"}
	case errors.Is(err, tracker.ErrNotReady):
		return apiError{http.StatusConflict, "ANALYSIS_NOT_READY", "Analysis has not completed yet"}
	case errors.Is(err, analysis.ErrNotSupported):
		return apiError{http.StatusNotImplemented, "NOT_SUPPORTED", "Operation not supported by the analysis backend"}
	case errors.Is(err, analysis.ErrTransport):
		return apiError{http.StatusBadGateway, "BACKEND_UNAVAILABLE", "Analysis backend is unavailable"}
	case errors.Is(err, tracker.ErrDisposed):
		return apiError{http.StatusServiceUnavailable, "SHUTTING_DOWN", "Dashboard is shutting down"}
	case errors.Is(err, context.Canceled):
		return apiError{http.StatusServiceUnavailable, "TRACKING_STOPPED", "Tracking stopped before the analysis finished"}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timed out"}
	}
	return apiError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
}

func validationMessage(err error) string {
	var apiErr *analysis.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	s := err.Error()
	marker := analysis.ErrValidation.Error() + ": "
	if i := strings.Index(s, marker); i >= 0 {
		return s[i+len(marker):]
	}
	return s
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.Status >= http.StatusInternalServerError {
		slog.WarnContext(r.Context(), "request failed",
			"path", r.URL.Path, "status", e.Status, "error", err)
	}
	response.Error(w, e.Status, e.Code, e.Message, nil)
}
