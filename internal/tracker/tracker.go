// Package tracker is the asynchronous job tracking layer of the dashboard.
// It polls each submitted analysis to a terminal status and writes what it
// observes through to the durable index and the shared cache. The history
// view is reconciled against the server on demand.
//
// One Tracker is created per process with New, started with Init and torn
// down with Dispose. Every dashboard surface shares it. Local state is kept
// per session: the token in a call's context selects the index namespace,
// the cache keys and the poll tasks it sees.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/analysis"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/cache"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/history"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/metrics"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
)

// Deps holds the dependencies and tuning of a Tracker. Client and Index are
// required.
type Deps struct {
	Client analysis.Client
	Index  *history.Index
	// Cache defaults to a new cache.Cache.
	Cache  *cache.Cache
	Logger *slog.Logger

	PollInterval time.Duration
	MaxAttempts  int

	// ReconcileInterval > 0 refreshes the history view periodically after Init.
	ReconcileInterval    time.Duration
	ReconcileConcurrency int

	UploadRules analysis.UploadRules
}

type Tracker struct {
	client     analysis.Client
	index      *history.Index
	cache      *cache.Cache
	poller     *Poller
	reconciler *Reconciler
	rules      analysis.UploadRules
	interval   time.Duration
	logger     *slog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*Task // by taskKey
	started  bool
	disposed bool
}

func New(deps Deps) *Tracker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := deps.Cache
	if c == nil {
		c = cache.New()
	}
	rules := deps.UploadRules
	if rules.MaxBytes == 0 && len(rules.AllowedExtensions) == 0 {
		rules = analysis.DefaultUploadRules()
	}

	base, stop := context.WithCancel(context.Background())
	return &Tracker{
		client:     deps.Client,
		index:      deps.Index,
		cache:      c,
		poller:     NewPoller(deps.Client, deps.PollInterval, deps.MaxAttempts, logger),
		reconciler: NewReconciler(deps.Client, deps.Index, c, deps.ReconcileConcurrency, logger),
		rules:      rules,
		interval:   deps.ReconcileInterval,
		logger:     logger,
		base:       base,
		stop:       stop,
		tasks:      make(map[string]*Task),
	}
}

// Init starts background work. ctx supplies values, such as a service
// token, for the periodic reconciler; its cancellation does not stop the
// tracker, Dispose does. Calling Init again is a no-op.
func (t *Tracker) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	if t.started {
		return nil
	}
	t.started = true

	entries := t.index.List(ctx)
	t.logger.InfoContext(ctx, "tracker started", "indexed_jobs", len(entries))

	if t.interval > 0 {
		rctx, release := t.bind(ctx)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer release()
			t.reconciler.Run(rctx, t.interval)
		}()
	}
	return nil
}

// Dispose cancels every poll task and the periodic reconciler, waits for
// them to return, and resets the cache. Later calls fail with ErrDisposed.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	for _, task := range t.tasks {
		task.Cancel()
	}
	t.mu.Unlock()

	t.stop()
	t.wg.Wait()
	t.cache.Reset()
	t.logger.Info("tracker disposed")
}

// Cache exposes the shared job cache.
func (t *Tracker) Cache() *cache.Cache { return t.cache }

// Upload submits up and blocks until the job is terminal. It returns the
// COMPLETED record, or the error that ended tracking. If ctx ends first,
// polling stops unless a view is watching the job; either way the job stays
// indexed for a later reconcile.
func (t *Tracker) Upload(ctx context.Context, up analysis.Upload) (*models.Analysis, error) {
	task, err := t.Submit(ctx, up)
	if err != nil {
		return nil, err
	}
	rec, err := task.Wait(ctx)
	if ctx.Err() != nil {
		task.abandon()
		return nil, ctx.Err()
	}
	return rec, err
}

// Submit validates and creates the job, indexes it as PENDING and returns
// the task tracking it in the background. Nothing is indexed when creation
// fails.
func (t *Tracker) Submit(ctx context.Context, up analysis.Upload) (*Task, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}

	up, err := analysis.ValidateUpload(up, t.rules)
	if err != nil {
		return nil, err
	}

	created, err := t.client.CreateJob(ctx, up)
	if err != nil {
		return nil, fmt.Errorf("create analysis: %w", err)
	}

	t.index.Upsert(ctx, models.HistoryEntry{
		ID:        created.ID,
		CreatedAt: time.Now().UTC(),
		Status:    created.Status,
	})
	t.cache.Invalidate(cache.HistoryKey(session.Scope(ctx)))
	t.logger.InfoContext(ctx, "analysis submitted", "job_id", created.ID, "filename", up.Filename)

	return t.track(ctx, created.ID, created.Status)
}

// Watch joins the task polling id, or starts one from the job's current
// record. A job already terminal returns an ended task without polling. A
// watched task keeps polling after an Upload caller waiting on it leaves.
func (t *Tracker) Watch(ctx context.Context, id string) (*Task, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	if task := t.task(ctx, id); task != nil {
		task.pin()
		return task, nil
	}

	rec, err := t.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.StatusCompleted:
		return finishedTask(rec, nil), nil
	case models.StatusFailed:
		return finishedTask(rec, &JobFailedError{ID: id, Message: rec.ErrorMessage()}), nil
	}
	task, err := t.track(ctx, id, rec.Status)
	if err != nil {
		return nil, err
	}
	task.pin()
	return task, nil
}

// Job returns the record for id through the cache. A fetched record is
// written to the per-job key and indexed. NotFound prunes the job locally.
func (t *Tracker) Job(ctx context.Context, id string) (*models.Analysis, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}

	rec, err := cache.Fetch(ctx, t.cache, cache.JobKey(session.Scope(ctx), id), func(fctx context.Context) (*models.Analysis, error) {
		return t.client.GetJob(fctx, id)
	})
	if errors.Is(err, analysis.ErrNotFound) {
		t.forget(ctx, id)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if e, ok := t.index.Get(ctx, id); !ok || e.Status != rec.Status {
		t.index.Upsert(ctx, models.EntryFromAnalysis(rec))
	}
	return rec, nil
}

// History returns the aggregate view, newest first.
func (t *Tracker) History(ctx context.Context) ([]*models.Analysis, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	return t.reconciler.View(ctx)
}

// Reconcile forces a fresh history pass.
func (t *Tracker) Reconcile(ctx context.Context) ([]*models.Analysis, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	return t.reconciler.Refresh(ctx)
}

// Delete removes the job on the server and locally. A backend without a
// delete endpoint, or one that already forgot the job, still gets the local
// removal. Any other failure leaves local state untouched.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	if err := t.alive(); err != nil {
		return err
	}

	err := t.client.DeleteJob(ctx, id)
	switch {
	case err == nil, errors.Is(err, analysis.ErrNotFound):
	case errors.Is(err, analysis.ErrNotSupported):
		t.logger.InfoContext(ctx, "backend has no delete, removing locally", "job_id", id)
	default:
		return fmt.Errorf("delete analysis: %w", err)
	}

	if task := t.task(ctx, id); task != nil {
		task.Cancel()
		select {
		case <-task.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.forget(ctx, id)
	return nil
}

// Export downloads a pdf or json export. A job whose cached record is known
// not to be COMPLETED fails with ErrNotReady without a request.
func (t *Tracker) Export(ctx context.Context, id, format string) (*analysis.Export, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	if v, ok := t.cache.Get(cache.JobKey(session.Scope(ctx), id)); ok {
		if rec, ok := v.(*models.Analysis); ok && rec.Status != models.StatusCompleted {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, rec.Status)
		}
	}

	switch format {
	case analysis.FormatPDF:
		return t.client.ExportPDF(ctx, id)
	case analysis.FormatJSON:
		rec, err := t.client.ExportJSON(ctx, id)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode json export: %w", err)
		}
		return &analysis.Export{ContentType: "application/json", Body: body}, nil
	}
	return nil, fmt.Errorf("%w: unsupported export format %q", analysis.ErrValidation, format)
}

// track returns the live task for id or starts one. Callers must have
// checked alive.
func (t *Tracker) track(ctx context.Context, id string, from models.Status) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil, ErrDisposed
	}
	key := taskKey(ctx, id)
	if task, ok := t.tasks[key]; ok {
		return task, nil
	}

	tctx, release := t.bind(ctx)
	task := newTask(id, from, release)
	t.tasks[key] = task

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer release()

		rec, err := t.poller.Poll(tctx, id, from, func(tr Transition) {
			t.observe(tctx, tr.Analysis)
			task.emit(tr)
		})
		t.settle(tctx, id, rec, err)

		t.mu.Lock()
		if t.tasks[key] == task {
			delete(t.tasks, key)
		}
		t.mu.Unlock()
		task.finish(rec, err)
	}()
	return task, nil
}

// bind derives a context that keeps ctx's values but lives as long as the
// tracker, not the caller.
func (t *Tracker) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(t.base, cancel)
	return bctx, func() {
		stop()
		cancel()
	}
}

// observe writes a polled record through to the cache and the index. A
// terminal record already cached is never replaced by a non-terminal one.
func (t *Tracker) observe(ctx context.Context, rec *models.Analysis) {
	t.cache.SetIf(cache.JobKey(session.Scope(ctx), rec.ID), rec, func(cur any) bool {
		return !regresses(cur, rec)
	})
	t.index.Upsert(ctx, models.EntryFromAnalysis(rec))
}

// regresses reports whether writing next over the cached value cur would
// move a terminal record back to a non-terminal status.
func regresses(cur any, next *models.Analysis) bool {
	old, ok := cur.(*models.Analysis)
	return ok && old.Status.IsTerminal() && !next.Status.IsTerminal()
}

// settle applies the outcome of a finished poll to local state.
func (t *Tracker) settle(ctx context.Context, id string, rec *models.Analysis, err error) {
	switch {
	case err == nil:
		metrics.IncJobFinished("completed")
		t.observe(ctx, rec)
		t.cache.Invalidate(cache.HistoryKey(session.Scope(ctx)))
		t.logger.InfoContext(ctx, "analysis completed", "job_id", id, "sections", len(rec.Sections()))

	case errors.Is(err, ErrJobFailed):
		metrics.IncJobFinished("failed")
		if rec != nil {
			t.observe(ctx, rec)
		} else {
			t.index.Upsert(ctx, models.HistoryEntry{ID: id, Status: models.StatusFailed, FailureReason: models.FailureServer})
		}
		t.cache.Invalidate(cache.HistoryKey(session.Scope(ctx)))
		t.logger.InfoContext(ctx, "analysis failed on server", "job_id", id, "error", err)

	case errors.Is(err, ErrTimeout):
		metrics.IncJobFinished("timeout")
		t.index.Upsert(ctx, models.HistoryEntry{ID: id, Status: models.StatusFailed, FailureReason: models.FailureTimeout})
		t.cache.Invalidate(cache.HistoryKey(session.Scope(ctx)))
		t.logger.WarnContext(ctx, "analysis polling timed out", "job_id", id)

	case errors.Is(err, ErrJobRemoved):
		metrics.IncJobFinished("removed")
		t.forget(ctx, id)
		t.logger.InfoContext(ctx, "analysis removed on server", "job_id", id)

	case errors.Is(err, analysis.ErrUnauthorized):
		metrics.IncJobFinished("unauthorized")
		t.logger.WarnContext(ctx, "polling stopped, session not authorized", "job_id", id)

	default:
		metrics.IncJobFinished("cancelled")
		t.logger.DebugContext(context.WithoutCancel(ctx), "polling cancelled", "job_id", id)
	}
}

// forget drops every local trace of id.
func (t *Tracker) forget(ctx context.Context, id string) {
	scope := session.Scope(ctx)
	t.index.Remove(ctx, id)
	t.cache.Remove(cache.JobKey(scope, id))
	t.cache.Invalidate(cache.HistoryKey(scope))
}

func (t *Tracker) task(ctx context.Context, id string) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks[taskKey(ctx, id)]
}

func taskKey(ctx context.Context, id string) string {
	return session.Scope(ctx) + "/" + id
}

func (t *Tracker) alive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	return nil
}
