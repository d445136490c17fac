package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// SystemMetrics appends periodic snapshots of queue depth, scrape throughput
// and timing to the system_metrics table. The CPU/memory/disk columns exist
// for schema parity with external tooling and stay NULL; process resource
// metrics are served by the Prometheus endpoint instead.
type SystemMetrics struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewSystemMetrics(pool *pgxpool.Pool, logger *zap.Logger) *SystemMetrics {
	return &SystemMetrics{pool: pool, logger: logger}
}

// Snapshot writes one row computed from live table state in a single
// statement, so counts and timings come from the same instant.
func (s *SystemMetrics) Snapshot(ctx context.Context, activeWorkers int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_metrics
			(urls_pending, urls_processing, urls_completed, urls_failed,
			 hotels_scraped, images_downloaded, active_workers,
			 avg_scraping_time, total_scraping_time, recorded_at)
		SELECT
			(SELECT COUNT(*) FROM url_queue WHERE status = 'pending'),
			(SELECT COUNT(*) FROM url_queue WHERE status = 'processing'),
			(SELECT COUNT(*) FROM url_queue WHERE status = 'completed'),
			(SELECT COUNT(*) FROM url_queue WHERE status = 'failed'),
			(SELECT COUNT(*) FROM hotels),
			(SELECT COALESCE(SUM(images_count), 0) FROM hotels),
			$1,
			(SELECT AVG(duration_seconds) FROM scraping_logs WHERE status = 'completed'),
			(SELECT SUM(duration_seconds) FROM scraping_logs WHERE status = 'completed'),
			now()`,
		activeWorkers)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("metrics_snapshot").Inc()
		return fmt.Errorf("snapshotting system metrics: %w", err)
	}
	return nil
}
