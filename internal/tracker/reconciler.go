package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/analysis"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/cache"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/history"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/metrics"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Reconciler computes the aggregate history view from the durable index and
// the server's records.
type Reconciler struct {
	client      analysis.Client
	index       *history.Index
	cache       *cache.Cache
	concurrency int
	logger      *slog.Logger
}

func NewReconciler(client analysis.Client, index *history.Index, c *cache.Cache, concurrency int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{client: client, index: index, cache: c, concurrency: concurrency, logger: logger}
}

// View returns the aggregate view of the session in ctx, reconciling only
// when the cached one is absent or invalidated. Concurrent callers of one
// session share one pass.
func (r *Reconciler) View(ctx context.Context) ([]*models.Analysis, error) {
	return cache.Fetch(ctx, r.cache, cache.HistoryKey(session.Scope(ctx)), r.Reconcile)
}

// Refresh forces a new pass and replaces the aggregate view with its result.
func (r *Reconciler) Refresh(ctx context.Context) ([]*models.Analysis, error) {
	r.cache.Invalidate(cache.HistoryKey(session.Scope(ctx)))
	return r.View(ctx)
}

// Reconcile runs one pass over the session in ctx: every indexed job is
// fetched concurrently, and each result is applied on its own. A record
// refreshes its index entry, and its per-job key unless that key was written
// while the fetch was out; NotFound prunes the job; any other failure leaves
// the job out of this pass only. Unauthorized aborts the pass without
// touching local state, as does ctx ending or, when run by View, every
// caller giving up on the pass.
//
// The result is sorted newest first. Reconcile does not write the aggregate
// key itself; View and Refresh store it as one replace.
func (r *Reconciler) Reconcile(ctx context.Context) ([]*models.Analysis, error) {
	start := time.Now()
	defer func() { metrics.ObserveReconcile(time.Since(start)) }()

	scope := session.Scope(ctx)
	entries := r.index.List(ctx)
	records := make([]*models.Analysis, len(entries))
	gone := make([]bool, len(entries))
	gens := make([]uint64, len(entries))
	for i, e := range entries {
		gens[i] = r.cache.Gen(cache.JobKey(scope, e.ID))
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	for i := range entries {
		id := entries[i].ID
		g.Go(func() error {
			rec, err := r.client.GetJob(gctx, id)
			switch {
			case err == nil:
				records[i] = rec
			case errors.Is(err, analysis.ErrUnauthorized):
				return err
			case errors.Is(err, analysis.ErrNotFound):
				gone[i] = true
			default:
				if gctx.Err() == nil {
					metrics.IncReconcileJob("skipped")
					r.logger.WarnContext(ctx, "reconcile fetch failed, keeping entry", "job_id", id, "error", err)
				}
			}
			return nil // one job's failure never fails the pass
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.WarnContext(ctx, "reconcile pass aborted", "error", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cache.Abandoned(ctx) {
		r.logger.DebugContext(ctx, "reconcile pass abandoned, discarding results", "jobs", len(entries))
		return nil, cache.ErrAbandoned
	}

	out := make([]*models.Analysis, 0, len(records))
	for i, e := range entries {
		switch {
		case gone[i]:
			metrics.IncReconcileJob("removed")
			r.index.Remove(ctx, e.ID)
			r.cache.Remove(cache.JobKey(scope, e.ID))
			r.logger.InfoContext(ctx, "analysis no longer on server, pruned", "job_id", e.ID)
		case records[i] != nil:
			rec := records[i]
			if rec.ID == "" {
				rec.ID = e.ID
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = e.CreatedAt
			}
			key := cache.JobKey(scope, e.ID)
			if !r.cache.SetIfGen(key, gens[i], rec) {
				// The key was written or evicted while this fetch was out.
				v, _ := r.cache.Peek(key)
				cur, ok := v.(*models.Analysis)
				if !ok {
					metrics.IncReconcileJob("skipped")
					continue
				}
				rec = cur
			}
			metrics.IncReconcileJob("ok")
			r.index.Upsert(ctx, models.EntryFromAnalysis(rec))
			out = append(out, rec)
		}
	}

	sortRecords(out)
	return out, nil
}

// Run refreshes the aggregate view every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			recs, err := r.Refresh(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "periodic reconcile failed", "error", err)
				}
				continue
			}
			r.logger.DebugContext(ctx, "periodic reconcile done", "jobs", len(recs))
		}
	}
}

func sortRecords(recs []*models.Analysis) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
