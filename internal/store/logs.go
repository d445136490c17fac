package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// Logs owns the append-only scraping_logs table. Callers treat append
// failures as warnings: a lost log line must never fail a scrape.
type Logs struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewLogs(pool *pgxpool.Pool, logger *zap.Logger) *Logs {
	return &Logs{pool: pool, logger: logger}
}

// LogEntry statuses: completed, error, no_data, lang_mismatch.
type LogEntry struct {
	URLID      int64
	Language   string
	Status     string
	Duration   float64
	Items      int
	Error      string
	HTTPStatus int
	UserAgent  string
	VPNIP      string
	TaskID     string
}

type LogRow struct {
	ID         int64     `json:"id"`
	URLID      *int64    `json:"url_id"`
	Language   *string   `json:"language"`
	Status     string    `json:"status"`
	Duration   *float64  `json:"duration_seconds"`
	Items      int       `json:"items_extracted"`
	Error      *string   `json:"error_message,omitempty"`
	HTTPStatus *int      `json:"http_status_code,omitempty"`
	VPNIP      *string   `json:"vpn_ip,omitempty"`
	TaskID     *string   `json:"task_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (l *Logs) Append(ctx context.Context, e LogEntry) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO scraping_logs
			(url_id, language, status, duration_seconds, items_extracted,
			 error_message, http_status_code, user_agent, vpn_ip, task_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		e.URLID, nullableString(e.Language), e.Status, e.Duration, e.Items,
		nullableString(e.Error), nilIfZero(e.HTTPStatus),
		nullableString(e.UserAgent), nullableString(e.VPNIP), nullableString(e.TaskID))
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("log_append").Inc()
		return fmt.Errorf("appending scrape log: %w", err)
	}
	return nil
}

func (l *Logs) Recent(ctx context.Context, limit int) ([]LogRow, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, url_id, language, status, duration_seconds, items_extracted,
		       error_message, http_status_code, vpn_ip, task_id, timestamp
		FROM scraping_logs ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scrape logs: %w", err)
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var r LogRow
		if err := rows.Scan(&r.ID, &r.URLID, &r.Language, &r.Status, &r.Duration,
			&r.Items, &r.Error, &r.HTTPStatus, &r.VPNIP, &r.TaskID, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeOlderThan enforces log retention; returns the number of rows removed.
func (l *Logs) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM scraping_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("log_purge").Inc()
		return 0, fmt.Errorf("purging scrape logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
