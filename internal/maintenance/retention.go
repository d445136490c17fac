// Package maintenance runs the periodic housekeeping pass: log retention
// and system-metrics snapshots.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = time.Hour

type LogPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type MetricsSnapshotter interface {
	Snapshot(ctx context.Context, activeWorkers int) error
}

// WorkerCounter reports the number of listings currently in flight; the
// dispatcher implements it.
type WorkerCounter interface {
	ActiveCount() int
}

type Runner struct {
	logs          LogPurger
	sysMetrics    MetricsSnapshotter
	workers       WorkerCounter
	retentionDays int
	timezone      string
	logger        *zap.Logger

	interval time.Duration
}

func NewRunner(logs LogPurger, sysMetrics MetricsSnapshotter, workers WorkerCounter, retentionDays int, timezone string, logger *zap.Logger) *Runner {
	return &Runner{
		logs:          logs,
		sysMetrics:    sysMetrics,
		workers:       workers,
		retentionDays: retentionDays,
		timezone:      timezone,
		logger:        logger,
		interval:      defaultInterval,
	}
}

// Run executes one maintenance pass.
func (r *Runner) Run(ctx context.Context) error {
	loc, err := time.LoadLocation(r.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", r.timezone, err)
	}
	cutoff := time.Now().In(loc).AddDate(0, 0, -r.retentionDays)

	purged, err := r.logs.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging logs: %w", err)
	}
	if purged > 0 {
		r.logger.Info("scrape logs purged",
			zap.Int64("rows", purged),
			zap.Time("cutoff", cutoff))
	}

	active := 0
	if r.workers != nil {
		active = r.workers.ActiveCount()
	}
	if err := r.sysMetrics.Snapshot(ctx, active); err != nil {
		return fmt.Errorf("snapshotting metrics: %w", err)
	}
	return nil
}

// RunPeriodic repeats Run on the maintenance cadence until ctx is cancelled.
func (r *Runner) RunPeriodic(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("maintenance pass failed", zap.Error(err))
			}
		}
	}
}
