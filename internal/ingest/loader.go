// Package ingest bulk-loads listing URLs from operator-supplied files.
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/fetch"
	"github.com/corralejo-htls/scrapv25/internal/store"
)

// listingURLRe accepts only catalog hotel pages. Anything else in a load
// file is counted as invalid, never queued.
var listingURLRe = regexp.MustCompile(`(?i)^https?://(www\.)?booking\.com/hotel/.+\.html?$`)

const insertBatchSize = 100

type QueueInserter interface {
	InsertBatch(ctx context.Context, urls []store.NewURL) (int64, error)
}

// Report summarizes one load: total lines seen, rows inserted, rows already
// queued, lines rejected by validation.
type Report struct {
	Total      int   `json:"total"`
	Inserted   int64 `json:"inserted"`
	Duplicates int64 `json:"duplicates"`
	Invalid    int   `json:"invalid"`
}

type Loader struct {
	cfg    config.ScraperConfig
	queue  QueueInserter
	logger *zap.Logger
}

func NewLoader(cfg config.ScraperConfig, queue QueueInserter, logger *zap.Logger) *Loader {
	return &Loader{cfg: cfg, queue: queue, logger: logger}
}

// LoadFile ingests a .txt (one URL per line) or .csv file.
func (l *Loader) LoadFile(ctx context.Context, path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("opening url file: %w", err)
	}
	defer f.Close()

	var report Report
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		report, err = l.loadCSV(ctx, f)
	case ".txt", "":
		report, err = l.loadText(ctx, f)
	default:
		return Report{}, fmt.Errorf("unsupported url file type %q", filepath.Ext(path))
	}
	if err != nil {
		return report, err
	}

	l.logger.Info("url file loaded",
		zap.String("path", path),
		zap.Int("total", report.Total),
		zap.Int64("inserted", report.Inserted),
		zap.Int64("duplicates", report.Duplicates),
		zap.Int("invalid", report.Invalid))
	return report, nil
}

// LoadReader ingests already-open content; the HTTP upload endpoint uses it.
func (l *Loader) LoadReader(ctx context.Context, r io.Reader, name string) (Report, error) {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return l.loadCSV(ctx, r)
	}
	return l.loadText(ctx, r)
}

func (l *Loader) loadText(ctx context.Context, r io.Reader) (Report, error) {
	var report Report
	var batch []store.NewURL

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		report.Total++
		u, ok := l.canonicalize(line)
		if !ok {
			report.Invalid++
			continue
		}
		batch = append(batch, l.newURL(u, "", 0))
		if len(batch) >= insertBatchSize {
			if err := l.flush(ctx, &report, &batch); err != nil {
				return report, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("reading url file: %w", err)
	}
	return report, l.flush(ctx, &report, &batch)
}

func (l *Loader) loadCSV(ctx context.Context, r io.Reader) (Report, error) {
	var report Report
	var batch []store.NewURL

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	urlCol, langCol, prioCol := 0, -1, -1
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("reading csv: %w", err)
		}
		if first {
			first = false
			if hasHeader(rec) {
				for i, h := range rec {
					switch strings.ToLower(strings.TrimSpace(h)) {
					case "url":
						urlCol = i
					case "language":
						langCol = i
					case "priority":
						prioCol = i
					}
				}
				continue
			}
		}
		if urlCol >= len(rec) {
			report.Total++
			report.Invalid++
			continue
		}

		report.Total++
		u, ok := l.canonicalize(rec[urlCol])
		if !ok {
			report.Invalid++
			continue
		}
		lang := ""
		if langCol >= 0 && langCol < len(rec) {
			lang = strings.TrimSpace(rec[langCol])
		}
		prio := 0
		if prioCol >= 0 && prioCol < len(rec) {
			if p, err := strconv.Atoi(strings.TrimSpace(rec[prioCol])); err == nil {
				prio = p
			}
		}
		batch = append(batch, l.newURL(u, lang, prio))
		if len(batch) >= insertBatchSize {
			if err := l.flush(ctx, &report, &batch); err != nil {
				return report, err
			}
		}
	}
	return report, l.flush(ctx, &report, &batch)
}

// hasHeader: a first row whose url column does not look like a URL is a
// header row.
func hasHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	return !strings.Contains(strings.ToLower(rec[0]), "http")
}

// canonicalize validates the URL and strips any locale suffix so the queue
// stores one canonical row per listing.
func (l *Loader) canonicalize(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if !listingURLRe.MatchString(u) {
		return "", false
	}
	return fetch.StripLocaleSuffix(u), true
}

func (l *Loader) newURL(u, lang string, prio int) store.NewURL {
	if lang == "" {
		lang = l.cfg.DefaultLocale
	}
	return store.NewURL{
		URL:        u,
		Language:   lang,
		Priority:   prio,
		MaxRetries: l.cfg.MaxRetries,
	}
}

func (l *Loader) flush(ctx context.Context, report *Report, batch *[]store.NewURL) error {
	if len(*batch) == 0 {
		return nil
	}
	inserted, err := l.queue.InsertBatch(ctx, *batch)
	if err != nil {
		return err
	}
	report.Inserted += inserted
	report.Duplicates += int64(len(*batch)) - inserted
	*batch = nil
	return nil
}
