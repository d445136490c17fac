package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// Hotels owns the hotels table, keyed by (url_id, language). One listing
// yields at most one row per locale; re-scrapes update in place.
type Hotels struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewHotels(pool *pgxpool.Pool, logger *zap.Logger) *Hotels {
	return &Hotels{pool: pool, logger: logger}
}

// Room is one entry of the rooms_info JSONB array.
type Room struct {
	Name     string `json:"name"`
	Price    string `json:"price,omitempty"`
	Capacity string `json:"capacity,omitempty"`
	Beds     string `json:"beds,omitempty"`
}

// HotelRecord carries every column the worker writes for one (listing, locale).
type HotelRecord struct {
	URLID          int64
	URL            string
	Language       string
	Name           string
	Address        string
	Description    string
	Rating         *float64
	TotalReviews   *int
	RatingCategory string
	ReviewScores   map[string]float64
	Services       []string
	Facilities     map[string][]string
	HouseRules     string
	ImportantInfo  string
	Rooms          []Room
	ImageURLs      []string
}

// HotelRow is the read-side shape for the operator surface.
type HotelRow struct {
	ID             int64           `json:"id"`
	URLID          int64           `json:"url_id"`
	URL            string          `json:"url"`
	Language       string          `json:"language"`
	Name           *string         `json:"name"`
	Address        *string         `json:"address"`
	Description    *string         `json:"description,omitempty"`
	Rating         *float64        `json:"rating"`
	TotalReviews   *int            `json:"total_reviews"`
	RatingCategory *string         `json:"rating_category"`
	ReviewScores   json.RawMessage `json:"review_scores,omitempty"`
	Services       json.RawMessage `json:"services,omitempty"`
	Facilities     json.RawMessage `json:"facilities,omitempty"`
	RoomsInfo      json.RawMessage `json:"rooms_info,omitempty"`
	ImagesURLs     json.RawMessage `json:"images_urls,omitempty"`
	ImagesCount    int             `json:"images_count"`
	ScrapedAt      time.Time       `json:"scraped_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Upsert inserts or updates the record for (url_id, language). Every
// non-identity column is overwritten so a re-scrape fully replaces stale
// data. images_count starts as the extracted URL count and is narrowed by
// UpdateImagesCount once the downloader has run.
func (h *Hotels) Upsert(ctx context.Context, rec *HotelRecord) (int64, error) {
	reviewScores, err := json.Marshal(orEmptyMap(rec.ReviewScores))
	if err != nil {
		return 0, fmt.Errorf("marshal review_scores: %w", err)
	}
	services, err := json.Marshal(orEmptySlice(rec.Services))
	if err != nil {
		return 0, fmt.Errorf("marshal services: %w", err)
	}
	facilities, err := json.Marshal(orEmptyMapSlice(rec.Facilities))
	if err != nil {
		return 0, fmt.Errorf("marshal facilities: %w", err)
	}
	rooms, err := json.Marshal(orEmptyRooms(rec.Rooms))
	if err != nil {
		return 0, fmt.Errorf("marshal rooms_info: %w", err)
	}
	imageURLs, err := json.Marshal(orEmptySlice(rec.ImageURLs))
	if err != nil {
		return 0, fmt.Errorf("marshal images_urls: %w", err)
	}

	var id int64
	err = h.pool.QueryRow(ctx, `
		INSERT INTO hotels (
			url_id, url, language,
			name, address, description,
			rating, total_reviews, rating_category,
			review_scores, services, facilities,
			house_rules, important_info,
			rooms_info, images_urls, images_count,
			scraped_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
		ON CONFLICT (url_id, language) DO UPDATE SET
			url             = EXCLUDED.url,
			name            = EXCLUDED.name,
			address         = EXCLUDED.address,
			description     = EXCLUDED.description,
			rating          = EXCLUDED.rating,
			total_reviews   = EXCLUDED.total_reviews,
			rating_category = EXCLUDED.rating_category,
			review_scores   = EXCLUDED.review_scores,
			services        = EXCLUDED.services,
			facilities      = EXCLUDED.facilities,
			house_rules     = EXCLUDED.house_rules,
			important_info  = EXCLUDED.important_info,
			rooms_info      = EXCLUDED.rooms_info,
			images_urls     = EXCLUDED.images_urls,
			images_count    = EXCLUDED.images_count,
			updated_at      = now()
		RETURNING id`,
		rec.URLID, rec.URL, rec.Language,
		nullableString(rec.Name), nullableString(rec.Address), nullableString(rec.Description),
		rec.Rating, rec.TotalReviews, nullableString(rec.RatingCategory),
		reviewScores, services, facilities,
		nullableString(rec.HouseRules), nullableString(rec.ImportantInfo),
		rooms, imageURLs, len(rec.ImageURLs),
	).Scan(&id)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("hotel_upsert").Inc()
		return 0, fmt.Errorf("upserting hotel (url_id=%d, lang=%s): %w", rec.URLID, rec.Language, err)
	}
	return id, nil
}

// UpdateImagesCount narrows images_count to the number of files actually
// written, and records their relative paths.
func (h *Hotels) UpdateImagesCount(ctx context.Context, urlID int64, language string, n int, localPaths []string) error {
	local, err := json.Marshal(orEmptySlice(localPaths))
	if err != nil {
		return fmt.Errorf("marshal images_local: %w", err)
	}
	_, err = h.pool.Exec(ctx, `
		UPDATE hotels SET images_count = $3, images_local = $4, updated_at = now()
		WHERE url_id = $1 AND language = $2`,
		urlID, language, n, local)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("hotel_images_count").Inc()
		return fmt.Errorf("updating images_count (url_id=%d, lang=%s): %w", urlID, language, err)
	}
	return nil
}

const hotelCols = `id, url_id, url, language, name, address, description, rating,
	total_reviews, rating_category, review_scores, services, facilities,
	rooms_info, images_urls, images_count, scraped_at, updated_at`

func scanHotel(rows pgxRows) (HotelRow, error) {
	var r HotelRow
	err := rows.Scan(&r.ID, &r.URLID, &r.URL, &r.Language, &r.Name, &r.Address,
		&r.Description, &r.Rating, &r.TotalReviews, &r.RatingCategory,
		&r.ReviewScores, &r.Services, &r.Facilities, &r.RoomsInfo,
		&r.ImagesURLs, &r.ImagesCount, &r.ScrapedAt, &r.UpdatedAt)
	return r, err
}

func (h *Hotels) List(ctx context.Context, limit, offset int) ([]HotelRow, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT `+hotelCols+` FROM hotels ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing hotels: %w", err)
	}
	defer rows.Close()
	return collectHotels(rows)
}

func (h *Hotels) SearchByName(ctx context.Context, q string, limit int) ([]HotelRow, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT `+hotelCols+` FROM hotels WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT $2`,
		q, limit)
	if err != nil {
		return nil, fmt.Errorf("searching hotels for %q: %w", q, err)
	}
	defer rows.Close()
	return collectHotels(rows)
}

// GetByURLID returns every locale row stored for one listing.
func (h *Hotels) GetByURLID(ctx context.Context, urlID int64) ([]HotelRow, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT `+hotelCols+` FROM hotels WHERE url_id = $1 ORDER BY language`, urlID)
	if err != nil {
		return nil, fmt.Errorf("fetching hotels for url_id %d: %w", urlID, err)
	}
	defer rows.Close()
	return collectHotels(rows)
}

func collectHotels(rows pgxRows) ([]HotelRow, error) {
	var out []HotelRow
	for rows.Next() {
		r, err := scanHotel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning hotel row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (h *Hotels) CountByLanguage(ctx context.Context) (map[string]int64, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT language, COUNT(*) FROM hotels GROUP BY language ORDER BY language`)
	if err != nil {
		return nil, fmt.Errorf("counting hotels by language: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var lang string
		var n int64
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, fmt.Errorf("scanning language count: %w", err)
		}
		counts[lang] = n
	}
	return counts, rows.Err()
}

// JSONB columns default to their empty container rather than SQL NULL so
// readers never need a null check before iterating.

func orEmptyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMapSlice(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}

func orEmptyRooms(r []Room) []Room {
	if r == nil {
		return []Room{}
	}
	return r
}
