package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/db"
	"github.com/corralejo-htls/scrapv25/internal/diag"
	"github.com/corralejo-htls/scrapv25/internal/dispatch"
	"github.com/corralejo-htls/scrapv25/internal/export"
	"github.com/corralejo-htls/scrapv25/internal/fetch"
	scraphttp "github.com/corralejo-htls/scrapv25/internal/http"
	"github.com/corralejo-htls/scrapv25/internal/images"
	"github.com/corralejo-htls/scrapv25/internal/ingest"
	"github.com/corralejo-htls/scrapv25/internal/maintenance"
	"github.com/corralejo-htls/scrapv25/internal/metrics"
	"github.com/corralejo-htls/scrapv25/internal/store"
	"github.com/corralejo-htls/scrapv25/internal/vpn"
	"github.com/corralejo-htls/scrapv25/internal/worker"
)

const version = "2.5.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "load-urls":
		runLoadURLs()
	case "export":
		runExport()
	case "maintenance":
		runMaintenance()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: scrapv25 <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                 Start the scraping service")
	fmt.Println("  migrate               Run database migrations")
	fmt.Println("  load-urls <file>      Load listing URLs from a txt or csv file")
	fmt.Println("  export <table>        Export a table as CSV or JSON")
	fmt.Println("  maintenance           Run one housekeeping pass (log retention, metrics snapshot)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
	fmt.Println()
	fmt.Println("Export options:")
	fmt.Println("  --format <csv|json>   Output format (default csv)")
	fmt.Println("  --out <path>          Write to file instead of stdout")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

// positionalArg returns the first argument that is not a flag or a flag value.
func positionalArg(args []string) string {
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

func flagValue(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// migrationsDir returns the path to the migrations directory relative to the binary.
func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting scrapv25",
		zap.String("version", version),
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.Strings("locales", cfg.Scraper.LocalesEnabled),
		zap.Bool("browser_driver", cfg.Scraper.UseBrowserDriver),
		zap.Bool("vpn_enabled", cfg.VPN.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	queue := store.NewQueue(pool, logger.Named("store.queue"))
	hotels := store.NewHotels(pool, logger.Named("store.hotels"))
	logs := store.NewLogs(pool, logger.Named("store.logs"))
	rotations := store.NewRotations(pool, logger.Named("store.rotations"))
	sysMetrics := store.NewSystemMetrics(pool, logger.Named("store.sysmetrics"))

	// Rows left claimed by a previous run would never be picked up again.
	stuck, failed, err := queue.RequeueStuck(ctx)
	if err != nil {
		logger.Fatal("boot recovery failed", zap.Error(err))
	}
	if stuck > 0 || failed > 0 {
		logger.Info("boot recovery",
			zap.Int64("requeued", stuck),
			zap.Int64("exhausted", failed))
	}

	vpnCtl := vpn.New(ctx, cfg.VPN, rotations, logger.Named("vpn"))
	dumps := fetch.NewDumpWriter(cfg.Logs.Root, cfg.Logs.CompressDumps, logger.Named("dumps"))
	imgDownloader := images.New(cfg.Images, logger.Named("images"))
	counters := worker.NewCounters()

	scrapeWorker := worker.New(cfg.Scraper, cfg.Images, worker.Deps{
		Queue:  queue,
		Hotels: hotels,
		Logs:   logs,
		VPN:    vpnCtl,
		Images: imgDownloader,
		NewFetcher: func(ctx context.Context) (fetch.Fetcher, error) {
			return fetch.New(ctx, cfg.Scraper, dumps, logger.Named("fetch"))
		},
	}, counters, logger.Named("worker"))

	dispatcher := dispatch.New(cfg.Scraper, cfg.VPN.Enabled, queue, scrapeWorker, vpnCtl, logger.Named("dispatch"))
	maint := maintenance.NewRunner(logs, sysMetrics, dispatcher, cfg.Logs.RetentionDays, cfg.Logs.Timezone, logger.Named("maintenance"))
	loader := ingest.NewLoader(cfg.Scraper, queue, logger.Named("ingest"))
	exporter := export.New(pool, logger.Named("export"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); dispatcher.Run(ctx) }()
	go func() { defer wg.Done(); maint.RunPeriodic(ctx) }()

	httpServer := scraphttp.NewServer(cfg.Service.HTTPListen, scraphttp.Deps{
		DB:       pool,
		Dispatch: dispatcher,
		Queue:    queue,
		Hotels:   hotels,
		Logs:     logs,
		VPN:      vpnCtl,
		Loader:   loader,
		Exporter: exporter,
		Counters: counters,
		TestURL: func(ctx context.Context, rawURL, locale string) (*diag.Report, error) {
			return diag.Check(ctx, cfg.Scraper, rawURL, locale, logger.Named("diag"))
		},
	}, scraphttp.Info{
		Version:        version,
		LocalesEnabled: cfg.Scraper.LocalesEnabled,
		DefaultLocale:  cfg.Scraper.DefaultLocale,
		BrowserDriver:  cfg.Scraper.UseBrowserDriver,
		BatchSize:      cfg.Scraper.BatchSize,
		MaxConcurrent:  cfg.Scraper.MaxConcurrent,
		ImagesEnabled:  cfg.Images.Download,
		VPNEnabled:     cfg.VPN.Enabled,
	}, logger.Named("http"))

	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("dispatcher and HTTP server started")

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting HTTP traffic first.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel context so the dispatcher stops claiming and drains its workers.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("dispatcher drained gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some workers may not have finished")
	}

	logger.Info("scrapv25 stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running migrations",
		zap.String("dsn", redactDSN(cfg.Postgres.DSN)),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func runLoadURLs() {
	args := os.Args[2:]
	path := positionalArg(args)
	if path == "" {
		fmt.Fprintln(os.Stderr, "load-urls requires a file path")
		os.Exit(1)
	}

	cfg, logger := loadConfig(args)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	queue := store.NewQueue(pool, logger.Named("store.queue"))
	loader := ingest.NewLoader(cfg.Scraper, queue, logger.Named("ingest"))

	report, err := loader.LoadFile(ctx, path)
	if err != nil {
		logger.Fatal("loading URLs failed", zap.Error(err))
	}

	logger.Info("URL load complete",
		zap.String("file", path),
		zap.Int("total", report.Total),
		zap.Int64("inserted", report.Inserted),
		zap.Int64("duplicates", report.Duplicates),
		zap.Int("invalid", report.Invalid),
	)

	out, _ := json.Marshal(report)
	fmt.Println(string(out))
}

func runExport() {
	args := os.Args[2:]
	table := positionalArg(args)
	if !export.ValidTable(table) {
		fmt.Fprintf(os.Stderr, "export requires a table name, one of: %s\n", strings.Join(export.Tables(), ", "))
		os.Exit(1)
	}
	format := flagValue(args, "--format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		fmt.Fprintf(os.Stderr, "unknown format: %s\n", format)
		os.Exit(1)
	}

	cfg, logger := loadConfig(args)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	out := os.Stdout
	if path := flagValue(args, "--out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			logger.Fatal("creating output file", zap.Error(err))
		}
		defer f.Close()
		out = f
	}

	exporter := export.New(pool, logger.Named("export"))
	switch format {
	case "csv":
		err = exporter.CSV(ctx, out, table)
	case "json":
		err = exporter.JSON(ctx, out, table)
	}
	if err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}
}

func runMaintenance() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running maintenance pass",
		zap.Int("retention_days", cfg.Logs.RetentionDays),
		zap.String("timezone", cfg.Logs.Timezone),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	logs := store.NewLogs(pool, logger.Named("store.logs"))
	sysMetrics := store.NewSystemMetrics(pool, logger.Named("store.sysmetrics"))

	r := maintenance.NewRunner(logs, sysMetrics, nil, cfg.Logs.RetentionDays, cfg.Logs.Timezone, logger)
	if err := r.Run(ctx); err != nil {
		logger.Fatal("maintenance failed", zap.Error(err))
	}

	logger.Info("maintenance complete")
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		// keyword=value format, redact the password=... portion
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
