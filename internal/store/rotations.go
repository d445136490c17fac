package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// Rotations owns the append-only vpn_rotations audit table.
type Rotations struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewRotations(pool *pgxpool.Pool, logger *zap.Logger) *Rotations {
	return &Rotations{pool: pool, logger: logger}
}

// Rotation reasons: manual, periodic, block_ip, mismatch.
type Rotation struct {
	OldIP         string
	NewIP         string
	Country       string
	Reason        string
	RequestsCount int
	Success       bool
	Error         string
}

type RotationRow struct {
	ID            int64     `json:"id"`
	OldIP         *string   `json:"old_ip"`
	NewIP         *string   `json:"new_ip"`
	Country       *string   `json:"country"`
	Reason        *string   `json:"rotation_reason"`
	RequestsCount int       `json:"requests_count"`
	Success       bool      `json:"success"`
	Error         *string   `json:"error_message,omitempty"`
	RotatedAt     time.Time `json:"rotated_at"`
}

func (r *Rotations) Append(ctx context.Context, rot Rotation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vpn_rotations
			(old_ip, new_ip, country, rotation_reason, requests_count, success, error_message, rotated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		nullableString(rot.OldIP), nullableString(rot.NewIP), nullableString(rot.Country),
		nullableString(rot.Reason), rot.RequestsCount, rot.Success, nullableString(rot.Error))
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("rotation_append").Inc()
		return fmt.Errorf("appending vpn rotation: %w", err)
	}
	return nil
}

func (r *Rotations) Recent(ctx context.Context, limit int) ([]RotationRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, old_ip, new_ip, country, rotation_reason, requests_count,
		       success, error_message, rotated_at
		FROM vpn_rotations ORDER BY rotated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing vpn rotations: %w", err)
	}
	defer rows.Close()

	var out []RotationRow
	for rows.Next() {
		var row RotationRow
		if err := rows.Scan(&row.ID, &row.OldIP, &row.NewIP, &row.Country, &row.Reason,
			&row.RequestsCount, &row.Success, &row.Error, &row.RotatedAt); err != nil {
			return nil, fmt.Errorf("scanning rotation row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
