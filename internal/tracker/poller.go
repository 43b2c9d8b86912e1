package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/analysis"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/metrics"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 90
)

// Poller drives the status state machine of a single job: fetch, report a
// transition when the status changed, wait a fixed interval, repeat.
type Poller struct {
	client      analysis.Client
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

func NewPoller(client analysis.Client, interval time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, interval: interval, maxAttempts: maxAttempts, logger: logger, now: time.Now}
}

// Poll fetches job id until it is terminal and calls notify for every status
// change, starting from the last known status from. Polls never overlap: the
// next one is scheduled only after the previous response was handled.
//
// It returns the last record seen together with nil (COMPLETED), a
// *JobFailedError (FAILED), ErrTimeout, an error matching ErrJobRemoved, an
// error matching analysis.ErrUnauthorized, or ctx.Err(). Transport failures
// count as an attempt and polling goes on.
func (p *Poller) Poll(ctx context.Context, id string, from models.Status, notify func(Transition)) (*models.Analysis, error) {
	last := from
	var lastRec *models.Analysis

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(p.interval)
			select {
			case <-ctx.Done():
				return lastRec, ctx.Err()
			case <-timer.C:
			}
		}

		rec, err := p.fetch(ctx, id)
		if ctx.Err() != nil {
			metrics.IncPollRequest("discarded")
			return lastRec, ctx.Err()
		}

		switch {
		case err == nil:
			metrics.IncPollRequest("ok")
			lastRec = rec
			if rec.Status != last {
				metrics.IncPollTransition(string(rec.Status))
				p.logger.DebugContext(ctx, "analysis status changed", "job_id", id, "from", last, "to", rec.Status)
				if notify != nil {
					notify(Transition{JobID: id, From: last, To: rec.Status, Analysis: rec, At: p.now()})
				}
				last = rec.Status
			}
			switch rec.Status {
			case models.StatusCompleted:
				return rec, nil
			case models.StatusFailed:
				return rec, &JobFailedError{ID: id, Message: rec.ErrorMessage()}
			}

		case errors.Is(err, analysis.ErrUnauthorized):
			metrics.IncPollRequest("unauthorized")
			return lastRec, err

		case errors.Is(err, analysis.ErrNotFound):
			metrics.IncPollRequest("not_found")
			return lastRec, fmt.Errorf("%w: %s: %w", ErrJobRemoved, id, err)

		default:
			metrics.IncPollRequest("transport")
			p.logger.WarnContext(ctx, "poll failed, will retry",
				"job_id", id, "attempt", attempt, "max_attempts", p.maxAttempts, "error", err)
		}
	}

	return lastRec, fmt.Errorf("%w: %s still %s after %d attempts", ErrTimeout, id, last, p.maxAttempts)
}

type fetchResult struct {
	rec *models.Analysis
	err error
}

// fetch issues one GetJob that outlives ctx. When ctx ends first, fetch
// returns at once and the response is dropped when it arrives.
func (p *Poller) fetch(ctx context.Context, id string) (*models.Analysis, error) {
	ch := make(chan fetchResult, 1)
	go func() {
		rec, err := p.client.GetJob(context.WithoutCancel(ctx), id)
		ch <- fetchResult{rec, err}
	}()

	select {
	case r := <-ch:
		return r.rec, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
