package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"asset-pipeline/internal/models"
	"asset-pipeline/internal/store"
	"asset-pipeline/internal/telemetry"
)

// JobQueue is the slice of the queue contract the pool consumes.
type JobQueue interface {
	Lease(ctx context.Context, kind models.Kind) (*models.Job, error)
	ReportProgress(ctx context.Context, jobID string, percent int) error
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, jobErr error) (retrying bool, err error)
	Discard(ctx context.Context, jobID string, jobErr error) error
}

// ProgressFunc reports pipeline progress in percent.
type ProgressFunc func(percent int)

// Pipeline runs one kind's transform for a leased job and returns the atomic
// asset update to apply on success. Any error fails the whole job.
type Pipeline interface {
	Process(ctx context.Context, job models.Job, progress ProgressFunc) (models.CompletionUpdate, error)
}

// Pool runs a fixed number of concurrent workers leasing jobs of one kind.
type Pool struct {
	kind         models.Kind
	concurrency  int
	pollInterval time.Duration
	queue        JobQueue
	assets       store.AssetStore
	pipeline     Pipeline
	logger       *slog.Logger
}

// NewPool wires a worker pool. All collaborators are injected; nothing is
// constructed from package-level state.
func NewPool(kind models.Kind, concurrency int, pollInterval time.Duration, q JobQueue, assets store.AssetStore, pipeline Pipeline, logger *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		kind:         kind,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		queue:        q,
		assets:       assets,
		pipeline:     pipeline,
		logger:       logger.With("kind", string(kind)),
	}
}

// Run starts the workers and blocks until the context is cancelled. Workers
// stop leasing on cancellation; a job interrupted mid-flight is reclaimed by
// the queue's lease timeout.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			return p.loop(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := p.queue.Lease(ctx, p.kind)
		if err != nil {
			p.logger.Error("lease failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.handle(ctx, *job)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

func (p *Pool) handle(ctx context.Context, job models.Job) {
	log := p.logger.With("job_id", job.ID, "asset_id", job.Payload.AssetID, "attempt", job.Attempts+1)
	log.Info("processing job")

	telemetry.InFlight.WithLabelValues(string(p.kind)).Inc()
	defer telemetry.InFlight.WithLabelValues(string(p.kind)).Dec()
	start := time.Now()

	// Contract errors are terminal immediately: no retry will make a
	// malformed payload valid, and no side effect has happened yet.
	if err := job.Payload.Validate(); err != nil {
		log.Error("malformed job payload", "error", err)
		if job.Payload.AssetID != "" {
			p.markFailed(ctx, log, job.Payload.AssetID, err, true)
		}
		if derr := p.queue.Discard(ctx, job.ID, err); derr != nil {
			log.Error("discard failed", "error", derr)
		}
		telemetry.JobsFailed.WithLabelValues(string(p.kind)).Inc()
		return
	}

	if err := p.assets.MarkProcessing(ctx, job.Payload.AssetID); err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			log.Error("job references missing asset", "error", err)
			if derr := p.queue.Discard(ctx, job.ID, err); derr != nil {
				log.Error("discard failed", "error", derr)
			}
			telemetry.JobsFailed.WithLabelValues(string(p.kind)).Inc()
			return
		}
		p.fail(ctx, log, job, err)
		return
	}

	progress := func(percent int) {
		if err := p.queue.ReportProgress(ctx, job.ID, percent); err != nil {
			log.Debug("progress report failed", "percent", percent, "error", err)
		}
	}

	upd, err := p.pipeline.Process(ctx, job, progress)
	if err != nil {
		p.fail(ctx, log, job, err)
		return
	}

	if err := p.assets.MarkCompleted(ctx, job.Payload.AssetID, upd); err != nil {
		// Artifacts are already uploaded to idempotent keys; retrying the
		// whole job is safe and completes the record update.
		p.fail(ctx, log, job, err)
		return
	}
	if err := p.queue.Complete(ctx, job.ID); err != nil {
		log.Error("complete failed", "error", err)
		return
	}

	telemetry.JobsCompleted.WithLabelValues(string(p.kind)).Inc()
	telemetry.TransformDuration.WithLabelValues(string(p.kind)).Observe(time.Since(start).Seconds())
	log.Info("job completed", "duration", time.Since(start))
}

// fail reflects the failure on the asset record first, then hands the job to
// the queue's retry policy. Terminality is derived from the attempt budget so
// the asset status is consistent before the job becomes leasable again.
func (p *Pool) fail(ctx context.Context, log *slog.Logger, job models.Job, jobErr error) {
	terminal := job.Attempts+1 >= job.MaxAttempts
	p.markFailed(ctx, log, job.Payload.AssetID, jobErr, terminal)

	retrying, err := p.queue.Fail(ctx, job.ID, jobErr)
	if err != nil {
		log.Error("queue fail errored", "error", err)
		return
	}
	if retrying {
		telemetry.JobsRetried.WithLabelValues(string(p.kind)).Inc()
		log.Warn("job failed, will retry", "error", jobErr)
	} else {
		telemetry.JobsFailed.WithLabelValues(string(p.kind)).Inc()
		log.Error("job failed terminally", "error", jobErr)
	}
}

func (p *Pool) markFailed(ctx context.Context, log *slog.Logger, assetID string, jobErr error, terminal bool) {
	if err := p.assets.MarkFailed(ctx, assetID, jobErr.Error(), terminal); err != nil {
		log.Error("asset failure update errored", "error", err)
	}
}
