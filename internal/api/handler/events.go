package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/response"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
)

const defaultHeartbeat = 15 * time.Second

type statusEvent struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

// NewAnalysisEventsHandler streams a job's status transitions as
// Server-Sent Events until it is terminal.
//
// Events: "status" (current status on connect), "transition" (each change),
// then exactly one of "completed" (the record) or "error" ({code, message}).
// Disconnecting stops the stream only. The job keeps being tracked for the
// other views.
func NewAnalysisEventsHandler(tr Tracker, heartbeat time.Duration) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming not supported", nil)
			return
		}

		id := chi.URLParam(r, "id")
		task, err := tr.Watch(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sub := task.Subscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		send := func(event string, v any) bool {
			payload, err := json.Marshal(v)
			if err != nil {
				return false
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}

		if !send("status", statusEvent{ID: id, Status: task.Status()}) {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-sub:
				if !open {
					rec, err := task.Result()
					if err != nil {
						send("error", classify(err))
						return
					}
					send("completed", rec)
					return
				}
				if !send("transition", ev) {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
