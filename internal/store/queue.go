package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// Queue owns the url_queue table: the listing state machine
// pending → processing → {completed, failed}, with failed → pending reopening
// while retry_count stays under the cap.
type Queue struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewQueue(pool *pgxpool.Pool, logger *zap.Logger) *Queue {
	return &Queue{pool: pool, logger: logger}
}

// Claimed is the slice of a queue row a worker needs to start scraping.
type Claimed struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

type QueueRow struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	Status     string     `json:"status"`
	Priority   int        `json:"priority"`
	Language   string     `json:"language"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	LastError  *string    `json:"last_error,omitempty"`
	ScrapedAt  *time.Time `json:"scraped_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// StatusCounts aggregates the queue by status.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// NewURL is one row for bulk ingestion.
type NewURL struct {
	URL        string
	Language   string
	Priority   int
	MaxRetries int
}

// ClaimPending atomically flips up to n eligible rows to processing and
// returns them. FOR UPDATE SKIP LOCKED keeps concurrent dispatchers from
// claiming the same row.
func (q *Queue) ClaimPending(ctx context.Context, n int) ([]Claimed, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE url_queue SET status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM url_queue
			WHERE status = 'pending' AND retry_count < max_retries
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, url`, n)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("claim_pending").Inc()
		return nil, fmt.Errorf("claiming pending urls: %w", err)
	}
	defer rows.Close()

	var claimed []Claimed
	for rows.Next() {
		var c Claimed
		if err := rows.Scan(&c.ID, &c.URL); err != nil {
			return nil, fmt.Errorf("scanning claimed row: %w", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("claim_pending").Inc()
		return nil, fmt.Errorf("iterating claimed rows: %w", err)
	}
	return claimed, nil
}

func (q *Queue) Get(ctx context.Context, id int64) (*QueueRow, error) {
	var r QueueRow
	err := q.pool.QueryRow(ctx, `
		SELECT id, url, status, priority, language, retry_count, max_retries,
		       last_error, scraped_at, created_at, updated_at
		FROM url_queue WHERE id = $1`, id,
	).Scan(&r.ID, &r.URL, &r.Status, &r.Priority, &r.Language, &r.RetryCount,
		&r.MaxRetries, &r.LastError, &r.ScrapedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("fetching queue row %d: %w", id, err)
	}
	return &r, nil
}

// SetTerminal marks a listing completed or failed. scraped_at is stamped on
// both outcomes; last_error is only overwritten when errText is non-empty.
func (q *Queue) SetTerminal(ctx context.Context, id int64, status, errText string) error {
	if status != "completed" && status != "failed" {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	_, err := q.pool.Exec(ctx, `
		UPDATE url_queue SET
			status     = $2,
			scraped_at = now(),
			last_error = CASE WHEN $3 <> '' THEN $3 ELSE last_error END,
			updated_at = now()
		WHERE id = $1`, id, status, errText)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("set_terminal").Inc()
		return fmt.Errorf("setting terminal status for %d: %w", id, err)
	}
	return nil
}

// SetRetryableFailure bumps retry_count and reopens the row as pending, or
// flips it to failed once the cap is reached. One statement so the counter
// check and the transition cannot race.
func (q *Queue) SetRetryableFailure(ctx context.Context, id int64, errText string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE url_queue SET
			retry_count = retry_count + 1,
			status      = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			last_error  = $2,
			updated_at  = now()
		WHERE id = $1`, id, nullableString(errText))
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("set_retryable_failure").Inc()
		return fmt.Errorf("recording retryable failure for %d: %w", id, err)
	}
	return nil
}

// ResetFailed reopens every failed row with a fresh retry budget.
func (q *Queue) ResetFailed(ctx context.Context) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE url_queue SET status = 'pending', retry_count = 0, last_error = NULL, updated_at = now()
		WHERE status = 'failed'`)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("reset_failed").Inc()
		return 0, fmt.Errorf("resetting failed urls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RequeueStuck is boot recovery: rows left processing by a dead process go
// back to pending, and failed rows get a fresh budget.
func (q *Queue) RequeueStuck(ctx context.Context) (stuck, failed int64, err error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE url_queue SET status = 'pending', updated_at = now()
		WHERE status = 'processing'`)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("requeue_stuck").Inc()
		return 0, 0, fmt.Errorf("requeueing processing urls: %w", err)
	}
	stuck = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		UPDATE url_queue SET status = 'pending', retry_count = 0, updated_at = now()
		WHERE status = 'failed'`)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("requeue_stuck").Inc()
		return 0, 0, fmt.Errorf("reopening failed urls: %w", err)
	}
	failed = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit tx: %w", err)
	}
	return stuck, failed, nil
}

// List returns queue rows, optionally filtered by status, newest first.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]QueueRow, error) {
	const cols = `id, url, status, priority, language, retry_count, max_retries,
	       last_error, scraped_at, created_at, updated_at`

	var (
		rows pgxRows
		err  error
	)
	if status != "" {
		rows, err = q.pool.Query(ctx,
			`SELECT `+cols+` FROM url_queue WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`,
			status, limit)
	} else {
		rows, err = q.pool.Query(ctx,
			`SELECT `+cols+` FROM url_queue ORDER BY updated_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing queue rows: %w", err)
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var r QueueRow
		if err := rows.Scan(&r.ID, &r.URL, &r.Status, &r.Priority, &r.Language,
			&r.RetryCount, &r.MaxRetries, &r.LastError, &r.ScrapedAt,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queue) CountByStatus(ctx context.Context) (StatusCounts, error) {
	var c StatusCounts
	err := q.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*)
		FROM url_queue`,
	).Scan(&c.Pending, &c.Processing, &c.Completed, &c.Failed, &c.Total)
	if err != nil {
		return c, fmt.Errorf("counting queue by status: %w", err)
	}
	return c, nil
}

// InsertBatch inserts canonical URLs, skipping ones already queued.
// Returns the number of rows actually inserted.
func (q *Queue) InsertBatch(ctx context.Context, urls []NewURL) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for _, u := range urls {
		tag, err := tx.Exec(ctx, `
			INSERT INTO url_queue (url, language, priority, max_retries)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (url) DO NOTHING`,
			u.URL, u.Language, u.Priority, u.MaxRetries)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("insert_batch").Inc()
			return 0, fmt.Errorf("inserting url %s: %w", u.URL, err)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}
