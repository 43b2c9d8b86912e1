package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestStatus(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())

	assert.True(t, StatusFailed.Valid())
	assert.False(t, Status("DONE").Valid())
	assert.False(t, Status("").Valid())
}

func TestAnalysisValidate(t *testing.T) {
	story := &Story{ProductName: strPtr("Kopi")}

	tests := []struct {
		name    string
		rec     Analysis
		wantErr bool
	}{
		{"pending bare", Analysis{ID: "a", Status: StatusPending}, false},
		{"pending with payload", Analysis{ID: "a", Status: StatusPending, Story: story}, true},
		{"processing with error", Analysis{ID: "a", Status: StatusProcessing, Error: strPtr("x")}, true},
		{"failed with error", Analysis{ID: "a", Status: StatusFailed, Error: strPtr("model crashed")}, false},
		{"failed without error", Analysis{ID: "a", Status: StatusFailed}, true},
		{"failed with payload", Analysis{ID: "a", Status: StatusFailed, Error: strPtr("x"), Story: story}, true},
		{"completed empty", Analysis{ID: "a", Status: StatusCompleted}, false},
		{"completed with error", Analysis{ID: "a", Status: StatusCompleted, Error: strPtr("x")}, true},
		{"missing id", Analysis{Status: StatusPending}, true},
		{"unknown status", Analysis{ID: "a", Status: "DONE"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntryFromAnalysis(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	e := EntryFromAnalysis(&Analysis{
		ID: "a1", Status: StatusCompleted, CreatedAt: created, ImageURL: "/u/a.png",
		Story: &Story{ProductName: strPtr("Sambal")},
	})
	assert.Equal(t, HistoryEntry{ID: "a1", CreatedAt: created, Status: StatusCompleted, ImageURL: "/u/a.png", ProductName: "Sambal"}, e)

	failed := EntryFromAnalysis(&Analysis{ID: "a2", Status: StatusFailed, Error: strPtr("boom")})
	assert.Equal(t, FailureServer, failed.FailureReason)
	assert.Empty(t, failed.ProductName)
}
