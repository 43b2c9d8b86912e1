package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/analysis"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/response"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/tracker"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
)

// multipartOverhead is allowed on top of the file size for form framing
// and the optional context field.
const multipartOverhead = 1 << 20

// Tracker is the part of tracker.Tracker the view handlers use.
type Tracker interface {
	Submit(ctx context.Context, up analysis.Upload) (*tracker.Task, error)
	Upload(ctx context.Context, up analysis.Upload) (*models.Analysis, error)
	History(ctx context.Context) ([]*models.Analysis, error)
	Reconcile(ctx context.Context) ([]*models.Analysis, error)
	Job(ctx context.Context, id string) (*models.Analysis, error)
	Watch(ctx context.Context, id string) (*tracker.Task, error)
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context, id, format string) (*analysis.Export, error)
}

var _ Tracker = (*tracker.Tracker)(nil)

type submitResponse struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

// NewCreateAnalysisHandler returns an http.HandlerFunc for POST /api/v1/analyses.
// It answers 202 with the job id once the job exists, or with ?wait=true
// holds the request until the job is terminal.
func NewCreateAnalysisHandler(tr Tracker, maxBytes int64) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = analysis.DefaultMaxUploadBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		up, err := readUpload(w, r, maxBytes)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if r.URL.Query().Get("wait") == "true" {
			rec, err := tr.Upload(r.Context(), up)
			if err != nil {
				writeError(w, r, err)
				return
			}
			response.JSON(w, rec)
			return
		}

		task, err := tr.Submit(r.Context(), up)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, submitResponse{ID: task.ID(), Status: task.Status()})
	}
}

func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (analysis.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return analysis.Upload{}, errTooLarge
		}
		return analysis.Upload{}, fmt.Errorf("%w: invalid multipart form", analysis.ErrValidation)
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		return analysis.Upload{}, fmt.Errorf("%w: file is required", analysis.ErrValidation)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return analysis.Upload{}, fmt.Errorf("%w: read file: %v", analysis.ErrValidation, err)
	}
	if int64(len(content)) > maxBytes {
		return analysis.Upload{}, errTooLarge
	}

	return analysis.Upload{
		Filename: hdr.Filename,
		Content:  content,
		Context:  r.FormValue("context"),
	}, nil
}

// NewListAnalysesHandler returns the aggregate history view, newest first.
// ?refresh=true forces a new reconcile pass.
func NewListAnalysesHandler(tr Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		load := tr.History
		if r.URL.Query().Get("refresh") == "true" {
			load = tr.Reconcile
		}
		recs, err := load(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if recs == nil {
			recs = []*models.Analysis{}
		}
		response.Collection(w, recs, response.ListMeta{Total: len(recs)})
	}
}

func NewGetAnalysisHandler(tr Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := tr.Job(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rec)
	}
}

func NewDeleteAnalysisHandler(tr Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := tr.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

func NewExportAnalysisHandler(tr Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		format := chi.URLParam(r, "format")

		exp, err := tr.Export(r.Context(), id, format)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Attachment(w, exp.ContentType, fmt.Sprintf("analysis-%s.%s", id, format), exp.Body)
	}
}

// ProfileSource fetches the signed-in user.
type ProfileSource interface {
	Profile(ctx context.Context) (*models.User, error)
}

func NewProfileHandler(p ProfileSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := p.Profile(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, user)
	}
}
