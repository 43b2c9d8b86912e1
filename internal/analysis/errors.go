package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors for analysis backend failures. Every error returned by
// HTTPClient matches exactly one of them via errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("analysis not found")
	ErrNotSupported = errors.New("operation not supported by backend")
	ErrTransport    = errors.New("analysis backend unavailable")
)

// APIError is a non-2xx response from the analysis backend.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Detail, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.kind }

func newAPIError(op string, status int, detail string) *APIError {
	return &APIError{Op: op, StatusCode: status, Detail: detail, kind: kindForStatus(status)}
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return ErrNotSupported
	default:
		return ErrTransport
	}
}

// parseDetail extracts the backend's error detail. The backend sends either
// {"detail": "..."} or a validation list {"detail": [{"msg": "..."}]}.
func parseDetail(body []byte, status int) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		if text := http.StatusText(status); text != "" {
			return text
		}
		return "An error occurred"
	}

	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
		return detail
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			msgs = append(msgs, it.Msg)
		}
		return strings.Join(msgs, ", ")
	}

	return "An error occurred"
}

// classifyError maps transport-level errors to ErrTransport, keeping the cause matchable.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %w", ErrTransport, err)
	}

	return fmt.Errorf("%w: %w", ErrTransport, err)
}
