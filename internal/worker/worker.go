// Package worker scrapes one claimed listing across every enabled locale.
package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/extract"
	"github.com/corralejo-htls/scrapv25/internal/fetch"
	"github.com/corralejo-htls/scrapv25/internal/metrics"
	"github.com/corralejo-htls/scrapv25/internal/store"
	"github.com/corralejo-htls/scrapv25/internal/vpn"
)

// langRetrySleep separates default-locale mismatch retries; a fresh session
// served instantly tends to get the same cached wrong-language page.
const langRetrySleep = 3 * time.Second

// maxLangRetries bounds same-locale retries for the default locale.
const maxLangRetries = 2

// mismatchRotateThreshold: cumulative mismatches before the egress IP is
// presumed to be geo-pinned to the wrong language.
const mismatchRotateThreshold = 3

type QueueStore interface {
	SetTerminal(ctx context.Context, id int64, status, errText string) error
	SetRetryableFailure(ctx context.Context, id int64, errText string) error
}

type HotelStore interface {
	Upsert(ctx context.Context, rec *store.HotelRecord) (int64, error)
	UpdateImagesCount(ctx context.Context, urlID int64, language string, n int, localPaths []string) error
}

type LogSink interface {
	Append(ctx context.Context, e store.LogEntry) error
}

// VPN is the slice of the controller the worker drives.
type VPN interface {
	ReconnectIfDisconnected(ctx context.Context) error
	Rotate(ctx context.Context, reason string) error
	NoteListing()
	NoteFailure()
	MaybeRotate(ctx context.Context) error
}

type ImageDownloader interface {
	Download(ctx context.Context, listingID int64, locale string, urls []string, cookies []*http.Cookie) ([]string, error)
}

// FetcherFactory builds one fetcher per listing; the instance is reused
// across that listing's locales so session cookies carry over.
type FetcherFactory func(ctx context.Context) (fetch.Fetcher, error)

// Deps are the worker's collaborators, injected as interfaces.
type Deps struct {
	Queue      QueueStore
	Hotels     HotelStore
	Logs       LogSink
	VPN        VPN
	Images     ImageDownloader
	NewFetcher FetcherFactory
}

type Worker struct {
	cfg       config.ScraperConfig
	imagesCfg config.ImagesConfig
	deps      Deps
	counters  *Counters
	logger    *zap.Logger

	retryWait time.Duration
}

func New(cfg config.ScraperConfig, imagesCfg config.ImagesConfig, deps Deps, counters *Counters, logger *zap.Logger) *Worker {
	return &Worker{
		cfg:       cfg,
		imagesCfg: imagesCfg,
		deps:      deps,
		counters:  counters,
		logger:    logger,
		retryWait: langRetrySleep,
	}
}

// ScrapeOne processes a claimed queue row end to end: every enabled locale,
// default first, then the terminal queue transition. Errors are absorbed
// into the queue row; the dispatcher never sees them.
func (w *Worker) ScrapeOne(ctx context.Context, q store.Claimed) {
	start := time.Now()
	taskID := uuid.NewString()
	log := w.logger.With(zap.Int64("url_id", q.ID), zap.String("task_id", taskID))

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := w.deps.VPN.ReconnectIfDisconnected(ctx); err != nil {
		log.Warn("vpn check failed", zap.Error(err))
	}

	locales, prepended := w.cfg.OrderedLocales()
	if prepended {
		log.Warn("default locale missing from enabled list, prepending",
			zap.String("locale", w.cfg.DefaultLocale))
	}

	f, err := w.deps.NewFetcher(ctx)
	if err != nil {
		log.Error("building fetcher", zap.Error(err))
		w.finish(ctx, q, log, 0, "fetcher init: "+err.Error())
		return
	}
	defer f.Close()

	stored := 0
	lastErr := ""
	langRetry := 0
	imagesDownloaded := false

	for i := 0; i < len(locales) && ctx.Err() == nil; i++ {
		locale := locales[i]
		localeURL := fetch.BuildLocaleURL(q.URL, locale)
		llog := log.With(zap.String("locale", locale), zap.String("url", localeURL))

		res, err := f.Fetch(ctx, localeURL, locale)
		if err != nil {
			llog.Warn("fetch failed", zap.Error(err))
			lastErr = err.Error()
			w.appendLog(ctx, store.LogEntry{
				URLID: q.ID, Language: locale, Status: "error",
				Duration: time.Since(start).Seconds(),
				Error:    truncateErr(err), HTTPStatus: fetchStatus(err), TaskID: taskID,
			})
			continue
		}

		listing, err := extract.Extract(res.HTML, locale)
		if err != nil {
			llog.Warn("extraction failed", zap.Error(err))
			lastErr = err.Error()
			w.appendLog(ctx, store.LogEntry{
				URLID: q.ID, Language: locale, Status: "error",
				Duration: time.Since(start).Seconds(),
				Error:    truncateErr(err), HTTPStatus: res.Status, TaskID: taskID,
			})
			continue
		}
		if listing.Name == "" {
			llog.Warn("no data extracted", zap.String("title", res.Title))
			w.appendLog(ctx, store.LogEntry{
				URLID: q.ID, Language: locale, Status: "no_data",
				Duration: time.Since(start).Seconds(),
				Error:    "no data extracted", HTTPStatus: res.Status, TaskID: taskID,
			})
			continue
		}

		if listing.DetectedLocale != locale {
			metrics.LangMismatchTotal.WithLabelValues(locale).Inc()
			cumulative := w.counters.noteMismatch()
			llog.Warn("language mismatch, not storing",
				zap.String("detected", listing.DetectedLocale),
				zap.Int("cumulative", cumulative))
			w.appendLog(ctx, store.LogEntry{
				URLID: q.ID, Language: locale, Status: "lang_mismatch",
				Duration: time.Since(start).Seconds(),
				Error:    "detected " + listing.DetectedLocale, HTTPStatus: res.Status, TaskID: taskID,
			})

			if locale == w.cfg.DefaultLocale && langRetry < maxLangRetries {
				langRetry++
				f.Discard()
				if err := sleepCtx(ctx, w.retryWait); err != nil {
					break
				}
				i--
				continue
			}
			if cumulative >= mismatchRotateThreshold {
				if err := w.deps.VPN.Rotate(ctx, vpn.ReasonMismatch); err != nil {
					llog.Warn("mismatch rotation failed", zap.Error(err))
				}
				w.counters.resetMismatch()
			}
			continue
		}

		rec := recordFrom(q.ID, localeURL, locale, listing)
		if _, err := w.deps.Hotels.Upsert(ctx, rec); err != nil {
			llog.Error("storing locale failed", zap.Error(err))
			lastErr = err.Error()
			w.appendLog(ctx, store.LogEntry{
				URLID: q.ID, Language: locale, Status: "error",
				Duration: time.Since(start).Seconds(),
				Error:    truncateErr(err), TaskID: taskID,
			})
			continue
		}

		stored++
		langRetry = 0
		w.counters.resetMismatch()
		w.counters.noteScraped()
		metrics.LocalesStoredTotal.WithLabelValues(locale).Inc()
		llog.Info("locale stored",
			zap.String("name", listing.Name),
			zap.Int("images", len(listing.ImageURLs)))
		w.appendLog(ctx, store.LogEntry{
			URLID: q.ID, Language: locale, Status: "completed",
			Duration: time.Since(start).Seconds(),
			Items:    1, HTTPStatus: res.Status, TaskID: taskID,
		})

		if locale == w.cfg.DefaultLocale && listing.DetectedLocale == w.cfg.DefaultLocale &&
			!imagesDownloaded && w.imagesCfg.Download {
			imagesDownloaded = true
			w.downloadImages(ctx, q.ID, locale, listing.ImageURLs, f, llog)
		}
	}

	w.finish(ctx, q, log, stored, lastErr)
	log.Info("listing done",
		zap.Int("locales_stored", stored),
		zap.Int("locales_total", len(locales)),
		zap.Duration("elapsed", time.Since(start)))
}

func (w *Worker) downloadImages(ctx context.Context, urlID int64, locale string, urls []string, f fetch.Fetcher, log *zap.Logger) {
	if len(urls) == 0 || w.deps.Images == nil {
		return
	}
	written, err := w.deps.Images.Download(ctx, urlID, locale, urls, f.Cookies(ctx))
	if err != nil {
		log.Warn("image download incomplete", zap.Error(err))
	}
	if len(written) > 0 {
		if err := w.deps.Hotels.UpdateImagesCount(ctx, urlID, locale, len(written), written); err != nil {
			log.Warn("updating images count", zap.Error(err))
		}
	}
}

// finish applies the terminal queue transition and feeds the rotation policy.
func (w *Worker) finish(ctx context.Context, q store.Claimed, log *zap.Logger, stored int, lastErr string) {
	if stored > 0 {
		if err := w.deps.Queue.SetTerminal(ctx, q.ID, "completed", ""); err != nil {
			log.Error("marking completed", zap.Error(err))
		}
		metrics.ListingsScrapedTotal.WithLabelValues("completed").Inc()
		w.deps.VPN.NoteListing()
	} else {
		if lastErr == "" {
			lastErr = "no locale stored"
		}
		if err := w.deps.Queue.SetRetryableFailure(ctx, q.ID, lastErr); err != nil {
			log.Error("marking failed", zap.Error(err))
		}
		metrics.ListingsScrapedTotal.WithLabelValues("failed").Inc()
		w.deps.VPN.NoteFailure()
	}
	if err := w.deps.VPN.MaybeRotate(ctx); err != nil {
		log.Warn("rotation check failed", zap.Error(err))
	}
}

func (w *Worker) appendLog(ctx context.Context, e store.LogEntry) {
	if w.deps.Logs == nil {
		return
	}
	if err := w.deps.Logs.Append(ctx, e); err != nil {
		w.logger.Warn("appending scrape log", zap.Error(err))
	}
}

func recordFrom(urlID int64, url, locale string, l *extract.Listing) *store.HotelRecord {
	rooms := make([]store.Room, len(l.Rooms))
	for i, r := range l.Rooms {
		rooms[i] = store.Room{Name: r.Name, Price: r.Price, Capacity: r.Capacity, Beds: r.Beds}
	}
	return &store.HotelRecord{
		URLID:          urlID,
		URL:            url,
		Language:       locale,
		Name:           l.Name,
		Address:        l.Address,
		Description:    l.Description,
		Rating:         l.Rating,
		TotalReviews:   l.TotalReviews,
		RatingCategory: l.RatingCategory,
		ReviewScores:   l.ReviewScores,
		Services:       l.Services,
		Facilities:     l.Facilities,
		HouseRules:     l.HouseRules,
		ImportantInfo:  l.ImportantInfo,
		Rooms:          rooms,
		ImageURLs:      l.ImageURLs,
	}
}

func fetchStatus(err error) int {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

func truncateErr(err error) string {
	s := err.Error()
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
