package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/analysis"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/handler"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/cache"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/history"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/store"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/tracker"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

var created = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

// ─── fake backend client ─────────────────────────────────────────────────────

// fakeClient serves scripted statuses per job id; the last one repeats.
// An unscripted id is NotFound.
type fakeClient struct {
	mu        sync.Mutex
	statuses  map[string][]models.Status
	calls     map[string]int
	getErr    error
	createErr error
	deleteErr error
	uploads   []analysis.Upload
}

func newFakeClient() *fakeClient {
	return &fakeClient{statuses: map[string][]models.Status{}, calls: map[string]int{}}
}

func (f *fakeClient) script(id string, statuses ...models.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = statuses
}

func (f *fakeClient) CreateJob(_ context.Context, up analysis.Upload) (*models.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.uploads = append(f.uploads, up)
	return &models.CreateResult{ID: "new-1", Status: models.StatusPending}, nil
}

func (f *fakeClient) GetJob(_ context.Context, id string) (*models.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	seq, ok := f.statuses[id]
	if !ok || len(seq) == 0 {
		return nil, fmt.Errorf("get analysis: %w", analysis.ErrNotFound)
	}
	n := f.calls[id]
	f.calls[id]++
	if n >= len(seq) {
		n = len(seq) - 1
	}

	rec := &models.Analysis{ID: id, Status: seq[n], CreatedAt: created}
	switch seq[n] {
	case models.StatusCompleted:
		name := "Kopi Susu"
		rec.Story = &models.Story{ProductName: &name}
	case models.StatusFailed:
		msg := "image unreadable"
		rec.Error = &msg
	}
	return rec, nil
}

func (f *fakeClient) DeleteJob(context.Context, string) error { return f.deleteErr }

func (f *fakeClient) ExportPDF(_ context.Context, id string) (*analysis.Export, error) {
	return &analysis.Export{ContentType: "application/pdf", Body: []byte("%PDF " + id)}, nil
}

func (f *fakeClient) ExportJSON(_ context.Context, id string) (*models.Analysis, error) {
	return &models.Analysis{ID: id, Status: models.StatusCompleted}, nil
}

func (f *fakeClient) Profile(context.Context) (*models.User, error) {
	return &models.User{ID: "u1", Email: "umkm@example.com"}, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

type env struct {
	client  *fakeClient
	tracker *tracker.Tracker
	index   *history.Index
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fc := newFakeClient()
	ix := history.New(store.NewMemoryStorage())
	tr := tracker.New(tracker.Deps{
		Client:       fc,
		Index:        ix,
		PollInterval: 2 * time.Millisecond,
		MaxAttempts:  50,
	})
	require.NoError(t, tr.Init(context.Background()))
	t.Cleanup(tr.Dispose)
	return &env{client: fc, tracker: tr, index: ix}
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mpw.CreateFormFile("file", filename)
		require.NoError(t, err)
		fw.Write(content)
	}
	for k, v := range fields {
		require.NoError(t, mpw.WriteField(k, v))
	}
	require.NoError(t, mpw.Close())
	return &buf, mpw.FormDataContentType()
}

// serve routes one request through a chi mux so URL params resolve.
func serve(method, pattern, target string, h http.HandlerFunc, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["data"].(map[string]any)
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

// ─── POST /api/v1/analyses ───────────────────────────────────────────────────

func TestCreateAnalysis_202_WithJobID(t *testing.T) {
	e := newEnv(t)
	e.client.script("new-1", models.StatusProcessing)

	body, ct := multipartBody(t, "snack.png", pngHeader, map[string]string{"context": "keripik pedas"})
	w := serve("POST", "/analyses", "/analyses", handler.NewCreateAnalysisHandler(e.tracker, 1<<20), body, ct)

	require.Equal(t, http.StatusAccepted, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, "new-1", data["id"])
	assert.NotEmpty(t, data["status"])

	require.Len(t, e.client.uploads, 1)
	assert.Equal(t, "snack.png", e.client.uploads[0].Filename)
	assert.Equal(t, "keripik pedas", e.client.uploads[0].Context)
	assert.True(t, e.index.Has(context.Background(), "new-1"))
}

func TestCreateAnalysis_200_Wait(t *testing.T) {
	e := newEnv(t)
	e.client.script("new-1", models.StatusProcessing, models.StatusCompleted)

	body, ct := multipartBody(t, "snack.png", pngHeader, nil)
	w := serve("POST", "/analyses", "/analyses?wait=true", handler.NewCreateAnalysisHandler(e.tracker, 1<<20), body, ct)

	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, "COMPLETED", data["status"])
	assert.Equal(t, "Kopi Susu", data["story"].(map[string]any)["product_name"])
}

func TestCreateAnalysis_422_WaitFailed(t *testing.T) {
	e := newEnv(t)
	e.client.script("new-1", models.StatusFailed)

	body, ct := multipartBody(t, "snack.png", pngHeader, nil)
	w := serve("POST", "/analyses", "/analyses?wait=true", handler.NewCreateAnalysisHandler(e.tracker, 1<<20), body, ct)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errObj := errorOf(t, w)
	assert.Equal(t, "ANALYSIS_FAILED", errObj["code"])
	assert.Equal(t, "image unreadable", errObj["message"])
}

func TestCreateAnalysis_400_Validation(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		wantMsg  string
	}{
		{"missing file", "", nil, "file is required"},
		{"not an image", "notes.png", []byte("just some text"), "file must be an image"},
		{"wrong extension", "snack.gif", pngHeader, "extension .gif not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			body, ct := multipartBody(t, tt.filename, tt.content, nil)
			w := serve("POST", "/analyses", "/analyses", handler.NewCreateAnalysisHandler(e.tracker, 1<<20), body, ct)

			require.Equal(t, http.StatusBadRequest, w.Code)
			errObj := errorOf(t, w)
			assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
			assert.Contains(t, errObj["message"], tt.wantMsg)
			assert.Empty(t, e.client.uploads)
			assert.Empty(t, e.index.List(context.Background()))
		})
	}
}

func TestCreateAnalysis_400_NotMultipart(t *testing.T) {
	e := newEnv(t)
	w := serve("POST", "/analyses", "/analyses", handler.NewCreateAnalysisHandler(e.tracker, 1<<20),
		bytes.NewBufferString(`{"file":"x"}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAnalysis_413_TooLarge(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "big.png", append(pngHeader, make([]byte, 64)...), nil)
	w := serve("POST", "/analyses", "/analyses", handler.NewCreateAnalysisHandler(e.tracker, 32), body, ct)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorOf(t, w)["code"])
	assert.Empty(t, e.client.uploads)
}

func TestCreateAnalysis_401_BackendRejectsSession(t *testing.T) {
	e := newEnv(t)
	e.client.createErr = fmt.Errorf("create: %w", analysis.ErrUnauthorized)

	body, ct := multipartBody(t, "snack.png", pngHeader, nil)
	w := serve("POST", "/analyses", "/analyses", handler.NewCreateAnalysisHandler(e.tracker, 1<<20), body, ct)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorOf(t, w)["code"])
	assert.Empty(t, e.index.List(context.Background()))
}

// ─── GET /api/v1/analyses ────────────────────────────────────────────────────

func TestListAnalyses_200_ReconciledNewestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.index.Upsert(ctx, models.HistoryEntry{ID: "old", CreatedAt: created.Add(-time.Hour), Status: models.StatusPending})
	e.index.Upsert(ctx, models.HistoryEntry{ID: "new", CreatedAt: created, Status: models.StatusCompleted})
	e.index.Upsert(ctx, models.HistoryEntry{ID: "gone", CreatedAt: created, Status: models.StatusCompleted})
	e.client.script("old", models.StatusCompleted)
	e.client.script("new", models.StatusCompleted)

	w := serve("GET", "/analyses", "/analyses", handler.NewListAnalysesHandler(e.tracker), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.Analysis `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, 2, body.Meta.Total)
	assert.False(t, e.index.Has(ctx, "gone"))

	// Both records share created_at, so ids break the tie.
	ids := []string{body.Data[0].ID, body.Data[1].ID}
	assert.Equal(t, []string{"new", "old"}, ids)
}

func TestListAnalyses_200_EmptyIsArray(t *testing.T) {
	e := newEnv(t)
	w := serve("GET", "/analyses", "/analyses", handler.NewListAnalysesHandler(e.tracker), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestListAnalyses_Refresh(t *testing.T) {
	e := newEnv(t)
	e.index.Upsert(context.Background(), models.HistoryEntry{ID: "a", CreatedAt: created, Status: models.StatusCompleted})
	e.client.script("a", models.StatusCompleted)
	h := handler.NewListAnalysesHandler(e.tracker)

	serve("GET", "/analyses", "/analyses", h, nil, "")
	serve("GET", "/analyses", "/analyses", h, nil, "")
	assert.Equal(t, 1, e.client.calls["a"])

	serve("GET", "/analyses", "/analyses?refresh=true", h, nil, "")
	assert.Equal(t, 2, e.client.calls["a"])
}

func TestListAnalyses_401_PassAborted(t *testing.T) {
	e := newEnv(t)
	e.index.Upsert(context.Background(), models.HistoryEntry{ID: "a", CreatedAt: created, Status: models.StatusCompleted})
	e.client.getErr = fmt.Errorf("get: %w", analysis.ErrUnauthorized)

	w := serve("GET", "/analyses", "/analyses", handler.NewListAnalysesHandler(e.tracker), nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ─── GET /api/v1/analyses/{id} ───────────────────────────────────────────────

func TestGetAnalysis_200(t *testing.T) {
	e := newEnv(t)
	e.client.script("a1", models.StatusCompleted)

	w := serve("GET", "/analyses/{id}", "/analyses/a1", handler.NewGetAnalysisHandler(e.tracker), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a1", dataOf(t, w)["id"])
	assert.True(t, e.index.Has(context.Background(), "a1"))
}

func TestGetAnalysis_404_NotFound(t *testing.T) {
	e := newEnv(t)
	e.index.Upsert(context.Background(), models.HistoryEntry{ID: "gone", CreatedAt: created, Status: models.StatusPending})

	w := serve("GET", "/analyses/{id}", "/analyses/gone", handler.NewGetAnalysisHandler(e.tracker), nil, "")

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorOf(t, w)["code"])
	assert.False(t, e.index.Has(context.Background(), "gone"))
}

func TestGetAnalysis_502_Transport(t *testing.T) {
	e := newEnv(t)
	e.client.getErr = fmt.Errorf("get: %w", analysis.ErrTransport)

	w := serve("GET", "/analyses/{id}", "/analyses/a1", handler.NewGetAnalysisHandler(e.tracker), nil, "")

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "BACKEND_UNAVAILABLE", errorOf(t, w)["code"])
}

// ─── GET /api/v1/analyses/{id}/events ────────────────────────────────────────

func TestAnalysisEvents_StreamsUntilCompleted(t *testing.T) {
	e := newEnv(t)
	e.client.script("a1", models.StatusPending, models.StatusProcessing, models.StatusCompleted)

	w := serve("GET", "/analyses/{id}/events", "/analyses/a1/events",
		handler.NewAnalysisEventsHandler(e.tracker, time.Second), nil, "")

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	out := w.Body.String()
	assert.True(t, strings.HasPrefix(out, "event: status\ndata: "), out)
	assert.Contains(t, out, "event: completed\ndata: ")
	assert.Contains(t, out, `"product_name":"Kopi Susu"`)
	assert.NotContains(t, out, "event: error")
}

func TestAnalysisEvents_TerminalFailedJob(t *testing.T) {
	e := newEnv(t)
	e.client.script("f1", models.StatusFailed)

	w := serve("GET", "/analyses/{id}/events", "/analyses/f1/events",
		handler.NewAnalysisEventsHandler(e.tracker, time.Second), nil, "")

	out := w.Body.String()
	assert.Contains(t, out, `event: status`)
	assert.Contains(t, out, `"status":"FAILED"`)
	assert.Contains(t, out, `event: error`)
	assert.Contains(t, out, `"code":"ANALYSIS_FAILED"`)
	assert.Equal(t, 1, e.client.calls["f1"])
}

func TestAnalysisEvents_404(t *testing.T) {
	e := newEnv(t)
	w := serve("GET", "/analyses/{id}/events", "/analyses/nope/events",
		handler.NewAnalysisEventsHandler(e.tracker, time.Second), nil, "")

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestAnalysisEvents_ClientDisconnect(t *testing.T) {
	e := newEnv(t)
	e.client.script("a1", models.StatusProcessing)

	r := chi.NewRouter()
	r.Get("/analyses/{id}/events", handler.NewAnalysisEventsHandler(e.tracker, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/analyses/a1/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after disconnect")
	}

	// The job is still tracked for other views.
	task, err := e.tracker.Watch(context.Background(), "a1")
	require.NoError(t, err)
	select {
	case <-task.Done():
		t.Fatal("task ended with the stream")
	default:
	}
}

// ─── DELETE /api/v1/analyses/{id} ────────────────────────────────────────────

func TestDeleteAnalysis_204(t *testing.T) {
	e := newEnv(t)
	e.client.deleteErr = fmt.Errorf("delete: %w", analysis.ErrNotSupported)
	e.index.Upsert(context.Background(), models.HistoryEntry{ID: "d1", CreatedAt: created, Status: models.StatusCompleted})

	w := serve("DELETE", "/analyses/{id}", "/analyses/d1", handler.NewDeleteAnalysisHandler(e.tracker), nil, "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, e.index.Has(context.Background(), "d1"))
}

func TestDeleteAnalysis_502_KeepsEntry(t *testing.T) {
	e := newEnv(t)
	e.client.deleteErr = fmt.Errorf("delete: %w", analysis.ErrTransport)
	e.index.Upsert(context.Background(), models.HistoryEntry{ID: "d1", CreatedAt: created, Status: models.StatusCompleted})

	w := serve("DELETE", "/analyses/{id}", "/analyses/d1", handler.NewDeleteAnalysisHandler(e.tracker), nil, "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.True(t, e.index.Has(context.Background(), "d1"))
}

// ─── GET /api/v1/analyses/{id}/export/{format} ───────────────────────────────

func TestExportAnalysis(t *testing.T) {
	e := newEnv(t)
	h := handler.NewExportAnalysisHandler(e.tracker)

	w := serve("GET", "/analyses/{id}/export/{format}", "/analyses/a1/export/pdf", h, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="analysis-a1.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF a1", w.Body.String())

	w = serve("GET", "/analyses/{id}/export/{format}", "/analyses/a1/export/json", h, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"id":"a1"`)

	w = serve("GET", "/analyses/{id}/export/{format}", "/analyses/a1/export/docx", h, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportAnalysis_409_NotReady(t *testing.T) {
	e := newEnv(t)
	e.tracker.Cache().Set(cache.JobKey("", "p1"), &models.Analysis{ID: "p1", Status: models.StatusProcessing})

	w := serve("GET", "/analyses/{id}/export/{format}", "/analyses/p1/export/pdf",
		handler.NewExportAnalysisHandler(e.tracker), nil, "")

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ANALYSIS_NOT_READY", errorOf(t, w)["code"])
}

// ─── profile and health ──────────────────────────────────────────────────────

func TestProfile_200(t *testing.T) {
	w := serve("GET", "/profile", "/profile", handler.NewProfileHandler(newFakeClient()), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "umkm@example.com", dataOf(t, w)["email"])
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth_200_AllOK(t *testing.T) {
	w := serve("GET", "/health", "/health", handler.NewHealthHandler(pinger{}), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "ok", data["services"].(map[string]any)["storage"])
}

func TestHealth_503_StorageDown(t *testing.T) {
	w := serve("GET", "/health", "/health", handler.NewHealthHandler(pinger{err: errors.New("disk gone")}), nil, "")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "DEGRADED", errorOf(t, w)["code"])
}
