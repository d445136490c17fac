package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapv25_fetch_attempts_total",
			Help: "Fetch attempts by fetcher variant and classification result.",
		},
		[]string{"variant", "result"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapv25_fetch_duration_seconds",
			Help:    "Wall time per fetch attempt.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"variant"},
	)

	ListingsScrapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapv25_listings_scraped_total",
			Help: "Listings finished by terminal status (completed, failed).",
		},
		[]string{"status"},
	)

	LocalesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapv25_locales_stored_total",
			Help: "Per-locale records stored.",
		},
		[]string{"locale"},
	)

	LangMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapv25_lang_mismatch_total",
			Help: "Extractions rejected by the language authenticator.",
		},
		[]string{"locale"},
	)

	ImagesDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapv25_images_downloaded_total",
			Help: "Images written to disk.",
		},
	)

	ImageBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapv25_image_bytes_total",
			Help: "Bytes of image files written to disk.",
		},
	)

	VPNRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapv25_vpn_rotations_total",
			Help: "VPN rotations by reason (manual, periodic, block_ip, mismatch).",
		},
		[]string{"reason", "success"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scrapv25_queue_depth",
			Help: "URL queue rows by status, refreshed each dispatch cycle.",
		},
		[]string{"status"},
	)

	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapv25_active_workers",
			Help: "Workers currently scraping a listing.",
		},
	)

	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapv25_store_errors_total",
			Help: "Store operation failures by operation.",
		},
		[]string{"op"},
	)

	DebugDumpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapv25_debug_dumps_total",
			Help: "Debug HTML dumps written by kind (403, blocked, short, not_hotel, no_name).",
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FetchAttemptsTotal,
			FetchDuration,
			ListingsScrapedTotal,
			LocalesStoredTotal,
			LangMismatchTotal,
			ImagesDownloadedTotal,
			ImageBytesTotal,
			VPNRotationsTotal,
			QueueDepth,
			ActiveWorkers,
			StoreErrorsTotal,
			DebugDumpsTotal,
		)
	})
}
