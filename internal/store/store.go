package store

import "github.com/jackc/pgx/v5"

// pgxRows lets query helpers share scan loops across pool and tx sources.
type pgxRows = pgx.Rows

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZero[T int | int64 | float64](v T) any {
	if v == 0 {
		return nil
	}
	return v
}
