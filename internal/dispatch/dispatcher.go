// Package dispatch feeds claimed queue rows to the worker pool on a fixed
// cadence.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/metrics"
	"github.com/corralejo-htls/scrapv25/internal/store"
)

const (
	warmupDelay  = 5 * time.Second
	loopInterval = 30 * time.Second

	// firstBootCountry: English-speaking egress for the very first connect,
	// so the default-locale pass sees English pages.
	firstBootCountry = "US"
)

type Claimer interface {
	ClaimPending(ctx context.Context, n int) ([]store.Claimed, error)
	CountByStatus(ctx context.Context) (store.StatusCounts, error)
}

type Scraper interface {
	ScrapeOne(ctx context.Context, q store.Claimed)
}

// Connector is the slice of the VPN controller the dispatcher needs.
type Connector interface {
	IsActive(ctx context.Context) bool
	Connect(ctx context.Context, country string) error
}

type Dispatcher struct {
	cfg        config.ScraperConfig
	vpnEnabled bool
	queue      Claimer
	scraper    Scraper
	vpn        Connector
	logger     *zap.Logger

	mu     sync.Mutex
	active map[int64]struct{}

	sem     chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	kick    chan struct{}

	warmup   time.Duration
	interval time.Duration
}

func New(cfg config.ScraperConfig, vpnEnabled bool, queue Claimer, scraper Scraper, vpn Connector, logger *zap.Logger) *Dispatcher {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		cfg:        cfg,
		vpnEnabled: vpnEnabled,
		queue:      queue,
		scraper:    scraper,
		vpn:        vpn,
		logger:     logger,
		active:     make(map[int64]struct{}),
		sem:        make(chan struct{}, maxConcurrent),
		kick:       make(chan struct{}, 1),
		warmup:     warmupDelay,
		interval:   loopInterval,
	}
}

// Run is the dispatch loop. It blocks until ctx is cancelled, then waits
// for in-flight workers to drain.
func (d *Dispatcher) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d.warmup):
	}

	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("dispatcher started",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("max_concurrent", cap(d.sem)))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if n, err := d.RunBatch(ctx); err != nil {
			d.logger.Error("dispatch cycle failed", zap.Error(err))
		} else if n > 0 {
			d.logger.Info("batch dispatched", zap.Int("claimed", n))
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping, draining workers")
			d.wg.Wait()
			return
		case <-ticker.C:
		case <-d.kick:
		}
	}
}

// RunBatch performs one claim-and-submit cycle and returns the number of
// listings handed to the pool. Submitted work runs asynchronously.
func (d *Dispatcher) RunBatch(ctx context.Context) (int, error) {
	d.ensureVPN(ctx)

	claimed, err := d.queue.ClaimPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, q := range claimed {
		if !d.markActive(q.ID) {
			continue
		}
		submitted++
		d.wg.Add(1)
		go func(q store.Claimed) {
			defer d.wg.Done()
			defer d.unmarkActive(q.ID)
			select {
			case d.sem <- struct{}{}:
				defer func() { <-d.sem }()
			case <-ctx.Done():
				return
			}
			d.scraper.ScrapeOne(ctx, q)
		}(q)
	}

	d.refreshQueueGauges(ctx)
	return submitted, nil
}

// DispatchNow schedules an extra cycle without waiting for the ticker.
func (d *Dispatcher) DispatchNow() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Running reports whether the loop has passed warm-up; readiness checks use it.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// ActiveCount returns the number of listings currently in flight.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) ensureVPN(ctx context.Context) {
	if !d.vpnEnabled || d.vpn == nil || d.vpn.IsActive(ctx) {
		return
	}
	d.logger.Warn("vpn inactive, connecting")
	if err := d.vpn.Connect(ctx, firstBootCountry); err != nil {
		d.logger.Warn("connect to preferred country failed, trying any",
			zap.String("country", firstBootCountry), zap.Error(err))
		if err := d.vpn.Connect(ctx, ""); err != nil {
			d.logger.Error("vpn connect failed", zap.Error(err))
		}
	}
}

// markActive reports false when the id is already in flight; a slow worker
// must not be doubled up by the next cycle re-claiming its row.
func (d *Dispatcher) markActive(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[id]; ok {
		return false
	}
	d.active[id] = struct{}{}
	return true
}

func (d *Dispatcher) unmarkActive(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, id)
}

func (d *Dispatcher) refreshQueueGauges(ctx context.Context) {
	counts, err := d.queue.CountByStatus(ctx)
	if err != nil {
		d.logger.Warn("refreshing queue gauges", zap.Error(err))
		return
	}
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(counts.Pending))
	metrics.QueueDepth.WithLabelValues("processing").Set(float64(counts.Processing))
	metrics.QueueDepth.WithLabelValues("completed").Set(float64(counts.Completed))
	metrics.QueueDepth.WithLabelValues("failed").Set(float64(counts.Failed))
}
