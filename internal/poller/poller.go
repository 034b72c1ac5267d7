package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sorajobs/internal/domain"
	"sorajobs/internal/lifecycle"
	"sorajobs/internal/providers"
	"sorajobs/internal/queue"
	"sorajobs/internal/telemetry"
)

// Options tunes one poller instance.
type Options struct {
	// Interval is how far out a still-active job is rescheduled.
	Interval time.Duration
	// StaleAfter is the sweep threshold: active jobs not checked for this
	// long are picked up even if they fell out of the redis schedule.
	StaleAfter time.Duration
}

// Poller drives provider polls for active jobs and feeds the results through
// the reconciler. Due jobs come from the redis schedule; a SQL sweep catches
// jobs the schedule lost (redis restart, missed reschedule).
type Poller struct {
	jobs       domain.JobRepository
	registry   providers.Registry
	reconciler *lifecycle.Reconciler
	schedule   *queue.PollSchedule
	logger     zerolog.Logger
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// New wires a poller. schedule may be nil, in which case only the SQL sweep
// feeds the run.
func New(jobs domain.JobRepository, registry providers.Registry, reconciler *lifecycle.Reconciler, schedule *queue.PollSchedule, logger zerolog.Logger, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Poller{
		jobs:       jobs,
		registry:   registry,
		reconciler: reconciler,
		schedule:   schedule,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run performs one sweep of up to limit jobs. It returns how many jobs were
// examined and how many reconciliation writes were applied. Provider errors
// fail soft: the job keeps its prior state and is rescheduled.
func (p *Poller) Run(ctx context.Context, limit int) (processed, updated int, err error) {
	if limit <= 0 {
		limit = 5
	}
	telemetry.PollerRuns.Inc()
	now := p.now()

	seen := make(map[string]struct{}, limit)
	var ids []string
	if p.schedule != nil {
		due, err := p.schedule.Due(ctx, now, int64(limit))
		if err != nil {
			p.logger.Warn().Err(err).Msg("poller: reading schedule failed, falling back to sweep")
		}
		for _, id := range due {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) < limit {
		stale, err := p.jobs.ListActive(ctx, now.Add(-p.staleAfter), limit-len(ids))
		if err != nil {
			return processed, updated, err
		}
		for _, job := range stale {
			if _, ok := seen[job.ID]; !ok {
				seen[job.ID] = struct{}{}
				ids = append(ids, job.ID)
			}
		}
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return processed, updated, ctx.Err()
		default:
		}
		processed++
		telemetry.PolledJobs.Inc()
		if applied := p.pollOne(ctx, id); applied {
			updated++
		}
	}
	return processed, updated, nil
}

func (p *Poller) pollOne(ctx context.Context, jobID string) bool {
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: load job failed")
		return false
	}
	if job.Status.Terminal() {
		p.forget(ctx, job.ID)
		return false
	}
	adapter, ok := p.registry.Get(job.Provider)
	if !ok || job.ProviderJobID == "" {
		p.logger.Warn().Str("job_id", job.ID).Str("provider", string(job.Provider)).Msg("poller: job has no pollable provider")
		p.forget(ctx, job.ID)
		return false
	}

	upd, err := adapter.Poll(ctx, job.ProviderJobID)
	if err != nil {
		// Transient by definition: keep prior state, try again later.
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("poller: provider poll failed")
		p.reschedule(ctx, job.ID)
		return false
	}

	outcome, err := p.reconciler.Reconcile(ctx, job, upd)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("poller: reconciliation failed")
		p.reschedule(ctx, job.ID)
		return false
	}
	if outcome.Status.Terminal() {
		p.forget(ctx, job.ID)
	} else {
		p.reschedule(ctx, job.ID)
	}
	return outcome.Applied
}

func (p *Poller) reschedule(ctx context.Context, jobID string) {
	if p.schedule == nil {
		return
	}
	if err := p.schedule.Schedule(ctx, jobID, p.now().Add(p.interval)); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: reschedule failed")
	}
}

func (p *Poller) forget(ctx context.Context, jobID string) {
	if p.schedule == nil {
		return
	}
	if err := p.schedule.Remove(ctx, jobID); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: schedule remove failed")
	}
}
