// Package reconciler sweeps asset records that claim to be processing long
// after any worker could still hold them. The queue's lease timeout is the
// primary recovery path; this is the backstop for records orphaned by bugs or
// by jobs purged from retention.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"asset-pipeline/internal/store"
)

// Reconciler periodically fails assets stuck in processing.
type Reconciler struct {
	assets     store.AssetStore
	stuckAfter time.Duration
	spec       string
	logger     *slog.Logger
	cron       *cron.Cron
}

// New builds a reconciler. Spec is a cron expression ("@every 5m" style
// descriptors included); stuckAfter is the processing age that counts as
// stuck.
func New(assets store.AssetStore, spec string, stuckAfter time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		assets:     assets,
		stuckAfter: stuckAfter,
		spec:       spec,
		logger:     logger,
	}
}

// Start schedules the sweep and returns immediately. The sweep stops when ctx
// is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.spec, func() { r.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	r.cron = c

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	ids, err := r.assets.FailStuckProcessing(ctx, r.stuckAfter)
	if err != nil {
		r.logger.Error("stuck-asset sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		r.logger.Warn("failed stuck assets", "count", len(ids), "ids", ids)
	}
}
