// Package export streams table contents as CSV or JSON for the operator
// surface and the export subcommand.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// exportQueries is the allowlist: table names arrive from URL parameters and
// must never be spliced into SQL directly.
var exportQueries = map[string]string{
	"hotels": `SELECT id, url_id, url, language, name, address, description, rating,
		total_reviews, rating_category, review_scores, services, facilities,
		house_rules, important_info, rooms_info, images_urls, images_count,
		scraped_at, updated_at FROM hotels ORDER BY id`,
	"url_queue": `SELECT id, url, status, priority, language, retry_count, max_retries,
		last_error, scraped_at, created_at, updated_at FROM url_queue ORDER BY id`,
	"scraping_logs": `SELECT id, url_id, language, status, duration_seconds, items_extracted,
		error_message, http_status_code, vpn_ip, task_id, timestamp
		FROM scraping_logs ORDER BY id`,
	"vpn_rotations": `SELECT id, old_ip, new_ip, country, rotation_reason, requests_count,
		success, error_message, rotated_at FROM vpn_rotations ORDER BY id`,
}

// ValidTable reports whether the name can be exported.
func ValidTable(name string) bool {
	_, ok := exportQueries[name]
	return ok
}

// Tables lists the exportable table names.
func Tables() []string {
	return []string{"hotels", "url_queue", "scraping_logs", "vpn_rotations"}
}

type Exporter struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Exporter {
	return &Exporter{pool: pool, logger: logger}
}

// CSV streams the table to w with a header row. Rows are written as they
// are scanned; the full table is never held in memory.
func (e *Exporter) CSV(ctx context.Context, w io.Writer, table string) error {
	query, ok := exportQueries[table]
	if !ok {
		return fmt.Errorf("export: unknown table %q", table)
	}
	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export %s: writing header: %w", table, err)
	}

	count := 0
	record := make([]string, len(fields))
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("export %s: reading row: %w", table, err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export %s: writing row: %w", table, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export %s: flushing: %w", table, err)
	}
	e.logger.Info("csv export done", zap.String("table", table), zap.Int("rows", count))
	return nil
}

// JSON streams the table as an array of objects keyed by column name.
func (e *Exporter) JSON(ctx context.Context, w io.Writer, table string) error {
	query, ok := exportQueries[table]
	if !ok {
		return fmt.Errorf("export: unknown table %q", table)
	}
	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	enc := json.NewEncoder(w)

	if _, err := io.WriteString(w, "["); err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	count := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("export %s: reading row: %w", table, err)
		}
		obj := make(map[string]any, len(fields))
		for i, f := range fields {
			obj[f.Name] = jsonValue(values[i])
		}
		if count > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return fmt.Errorf("export %s: %w", table, err)
			}
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("export %s: encoding row: %w", table, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	if _, err := io.WriteString(w, "]"); err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	e.logger.Info("json export done", zap.String("table", table), zap.Int("rows", count))
	return nil
}

// formatValue renders one column value for CSV.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(t)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// jsonValue keeps JSONB columns as raw JSON instead of double-encoding them
// as strings.
func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		if json.Valid(t) {
			return json.RawMessage(t)
		}
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
