package models

// Status is the lifecycle state of an analysis job. Only the backend moves a job
// between states; the dashboard mirrors what it observes.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether s is absorbing (no further transitions expected).
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CreateResult is returned by POST /analysis (202 Accepted). The client polls
// GET /analysis/{id} until status is COMPLETED or FAILED.
type CreateResult struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}
