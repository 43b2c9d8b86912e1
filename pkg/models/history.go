package models

import "time"

// Failure reasons recorded on a locally marked FAILED entry.
const (
	FailureServer  = "server"
	FailureTimeout = "timeout"
)

// HistoryEntry is the local durable projection of an Analysis. It may be ahead
// of or behind the server; the server record is authoritative.
type HistoryEntry struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	Status        Status    `json:"status"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	ProductName   string    `json:"productName,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// EntryFromAnalysis projects a server record onto an index entry.
func EntryFromAnalysis(a *Analysis) HistoryEntry {
	e := HistoryEntry{
		ID:          a.ID,
		CreatedAt:   a.CreatedAt,
		Status:      a.Status,
		ImageURL:    a.ImageURL,
		ProductName: a.ProductName(),
	}
	if a.Status == StatusFailed {
		e.FailureReason = FailureServer
	}
	return e
}
