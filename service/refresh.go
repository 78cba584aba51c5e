package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"blogdash/logger"
	"blogdash/metrics"
	"blogdash/models"
)

// Syncer runs the sync routine of one source
type Syncer interface {
	Sync(ctx context.Context, source string) error
	BackfillMonths(ctx context.Context) (int, error)
}

// SyncLog reads the staleness timestamps
type SyncLog interface {
	LastSyncTime(ctx context.Context, source string) (time.Time, error)
}

// Report tells which sources a refresh ran, skipped or failed
type Report struct {
	Ran     []string `json:"ran"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

// Refresher re-syncs sources whose data has gone stale. Concurrent calls are
// not coordinated; every write is idempotent so a duplicate run only costs
// remote calls.
type Refresher struct {
	syncer Syncer
	log    SyncLog
	now    func() time.Time
	zl     *zap.Logger
}

// NewRefresher creates a Refresher. A nil now uses the wall clock.
func NewRefresher(syncer Syncer, log SyncLog, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{syncer: syncer, log: log, now: now, zl: logger.Named("refresh")}
}

// Refresh syncs, in order, every source last synced more than threshold ago.
// A failing source does not stop later ones; all failures are returned
// combined. Months are backfilled whenever a source sync was started; a failed
// staleness lookup alone does not count.
func (r *Refresher) Refresh(ctx context.Context, threshold time.Duration) (Report, error) {
	return r.run(ctx, threshold, false)
}

// Force syncs every source regardless of when it was last synced
func (r *Refresher) Force(ctx context.Context) (Report, error) {
	return r.run(ctx, 0, true)
}

func (r *Refresher) run(ctx context.Context, threshold time.Duration, force bool) (Report, error) {
	var report Report
	var errs error
	attempted := 0

	for _, source := range models.Sources {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, fmt.Errorf("refresh cancelled: %w", ctx.Err()))
			break
		}

		if !force {
			stale, err := r.stale(ctx, source, threshold)
			if err != nil {
				report.Failed = append(report.Failed, source)
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", source, err))
				continue
			}
			if !stale {
				report.Skipped = append(report.Skipped, source)
				metrics.RecordSkipped(source)
				r.zl.Debug("Source is fresh, skipping", zap.String("source", source))
				continue
			}
		}

		attempted++
		started := r.now()
		err := r.syncer.Sync(ctx, source)
		metrics.RecordSync(source, started, r.now().Sub(started), err)
		if err != nil {
			r.zl.Error("Sync failed, serving stored data",
				zap.String("source", source),
				zap.Error(err))
			report.Failed = append(report.Failed, source)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}
		report.Ran = append(report.Ran, source)
	}

	if attempted > 0 && ctx.Err() == nil {
		created, err := r.syncer.BackfillMonths(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("months: %w", err))
		} else if created > 0 {
			metrics.MonthsCreatedTotal.Add(float64(created))
			r.zl.Info("Backfilled months", zap.Int("created", created))
		}
	}

	return report, errs
}

// stale reports whether source was last synced more than threshold ago
func (r *Refresher) stale(ctx context.Context, source string, threshold time.Duration) (bool, error) {
	last, err := r.log.LastSyncTime(ctx, source)
	if err != nil {
		return false, err
	}
	return r.now().Sub(last) > threshold, nil
}

// Monitor refreshes on every tick of interval until ctx is done
func (r *Refresher) Monitor(ctx context.Context, interval, threshold time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := r.Refresh(ctx, threshold)
				if err != nil {
					r.zl.Warn("Background refresh failed",
						zap.Strings("failed", report.Failed),
						zap.Error(err))
				}
			}
		}
	}()
}
