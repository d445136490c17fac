package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Postgres PostgresConfig `koanf:"postgres"`
	Scraper  ScraperConfig  `koanf:"scraper"`
	Images   ImagesConfig   `koanf:"images"`
	VPN      VPNConfig      `koanf:"vpn"`
	Logs     LogsConfig     `koanf:"logs"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type ScraperConfig struct {
	LocalesEnabled   []string `koanf:"locales_enabled"`
	DefaultLocale    string   `koanf:"default_locale"`
	UseBrowserDriver bool     `koanf:"use_browser_driver"`
	BatchSize        int      `koanf:"batch_size"`
	MaxConcurrent    int      `koanf:"max_concurrent"`
	// MaxRetries bounds both in-call fetch attempts and the queue retry cap
	// applied to newly ingested URLs.
	MaxRetries            int `koanf:"max_retries"`
	RetryDelaySeconds     int `koanf:"retry_delay_seconds"`
	MinRequestDelayMs     int `koanf:"min_request_delay_ms"`
	MaxRequestDelayMs     int `koanf:"max_request_delay_ms"`
	BrowserTimeoutSeconds int `koanf:"browser_timeout_seconds"`
	PageLoadWaitSeconds   int `koanf:"page_load_wait_seconds"`
	ScrollIterations      int `koanf:"scroll_iterations"`
}

type ImagesConfig struct {
	Download   bool   `koanf:"download"`
	Root       string `koanf:"root"`
	MaxWidth   int    `koanf:"max_width"`
	MaxHeight  int    `koanf:"max_height"`
	MinWidth   int    `koanf:"min_width"`
	MinHeight  int    `koanf:"min_height"`
	Quality    int    `koanf:"quality"`
	MaxWorkers int    `koanf:"max_workers"`
}

type VPNConfig struct {
	Enabled bool `koanf:"enabled"`
	// Countries is ordered: English-speaking countries first, so that the
	// first-boot connect lands on an egress IP the catalog serves English to.
	Countries   []string `koanf:"countries"`
	RotateEvery int      `koanf:"rotate_every"`
	Command     string   `koanf:"command"`
}

type LogsConfig struct {
	Root          string `koanf:"root"`
	RetentionDays int    `koanf:"retention_days"`
	Timezone      string `koanf:"timezone"`
	CompressDumps bool   `koanf:"compress_dumps"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: SCRAPV25_POSTGRES__DSN → postgres.dsn
	if err := k.Load(env.Provider("SCRAPV25_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "SCRAPV25_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "scrapv25-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Scraper: ScraperConfig{
			LocalesEnabled:        []string{"en", "es", "de", "fr", "it"},
			DefaultLocale:         "en",
			BatchSize:             5,
			MaxConcurrent:         1,
			MaxRetries:            3,
			RetryDelaySeconds:     60,
			MinRequestDelayMs:     2000,
			MaxRequestDelayMs:     5000,
			BrowserTimeoutSeconds: 30,
			PageLoadWaitSeconds:   5,
			ScrollIterations:      3,
		},
		Images: ImagesConfig{
			Download:   true,
			Root:       "./data/images",
			MaxWidth:   1920,
			MaxHeight:  1080,
			MinWidth:   200,
			MinHeight:  150,
			Quality:    85,
			MaxWorkers: 5,
		},
		VPN: VPNConfig{
			Countries:   []string{"US", "UK", "CA", "DE", "FR", "NL", "IT", "ES"},
			RotateEvery: 50,
			Command:     "nordvpn",
		},
		Logs: LogsConfig{
			Root:          "./data/logs",
			RetentionDays: 30,
			Timezone:      "UTC",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Scraper.LocalesEnabled) == 1 && strings.Contains(cfg.Scraper.LocalesEnabled[0], ",") {
		cfg.Scraper.LocalesEnabled = splitTrimmed(cfg.Scraper.LocalesEnabled[0])
	}
	if len(cfg.VPN.Countries) == 1 && strings.Contains(cfg.VPN.Countries[0], ",") {
		cfg.VPN.Countries = splitTrimmed(cfg.VPN.Countries[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if len(c.Scraper.LocalesEnabled) == 0 {
		return fmt.Errorf("config: scraper.locales_enabled is required")
	}
	for _, loc := range c.Scraper.LocalesEnabled {
		if !KnownLocale(loc) {
			return fmt.Errorf("config: scraper.locales_enabled contains unknown locale %q", loc)
		}
	}
	if !KnownLocale(c.Scraper.DefaultLocale) {
		return fmt.Errorf("config: scraper.default_locale %q is unknown", c.Scraper.DefaultLocale)
	}
	if c.Scraper.BatchSize <= 0 {
		return fmt.Errorf("config: scraper.batch_size must be > 0 (got %d)", c.Scraper.BatchSize)
	}
	if c.Scraper.MaxConcurrent <= 0 {
		return fmt.Errorf("config: scraper.max_concurrent must be > 0 (got %d)", c.Scraper.MaxConcurrent)
	}
	if c.Scraper.MaxRetries <= 0 {
		return fmt.Errorf("config: scraper.max_retries must be > 0 (got %d)", c.Scraper.MaxRetries)
	}
	if c.Scraper.MinRequestDelayMs < 0 {
		return fmt.Errorf("config: scraper.min_request_delay_ms must be >= 0 (got %d)", c.Scraper.MinRequestDelayMs)
	}
	if c.Scraper.MaxRequestDelayMs < c.Scraper.MinRequestDelayMs {
		return fmt.Errorf("config: scraper.max_request_delay_ms (%d) is below scraper.min_request_delay_ms (%d)",
			c.Scraper.MaxRequestDelayMs, c.Scraper.MinRequestDelayMs)
	}
	if c.Scraper.BrowserTimeoutSeconds <= 0 {
		return fmt.Errorf("config: scraper.browser_timeout_seconds must be > 0 (got %d)", c.Scraper.BrowserTimeoutSeconds)
	}
	if c.Scraper.ScrollIterations < 0 {
		return fmt.Errorf("config: scraper.scroll_iterations must be >= 0 (got %d)", c.Scraper.ScrollIterations)
	}
	if c.Images.MinWidth <= 0 || c.Images.MinHeight <= 0 {
		return fmt.Errorf("config: images.min_width/min_height must be > 0 (got %dx%d)", c.Images.MinWidth, c.Images.MinHeight)
	}
	if c.Images.MaxWidth < c.Images.MinWidth || c.Images.MaxHeight < c.Images.MinHeight {
		return fmt.Errorf("config: images.max_width/max_height (%dx%d) below min bounds (%dx%d)",
			c.Images.MaxWidth, c.Images.MaxHeight, c.Images.MinWidth, c.Images.MinHeight)
	}
	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return fmt.Errorf("config: images.quality must be in [1,100] (got %d)", c.Images.Quality)
	}
	if c.Images.MaxWorkers <= 0 {
		return fmt.Errorf("config: images.max_workers must be > 0 (got %d)", c.Images.MaxWorkers)
	}
	if c.VPN.Enabled {
		if len(c.VPN.Countries) == 0 {
			return fmt.Errorf("config: vpn.countries is required when vpn.enabled")
		}
		if c.VPN.Command == "" {
			return fmt.Errorf("config: vpn.command is required when vpn.enabled")
		}
	}
	if c.VPN.RotateEvery <= 0 {
		return fmt.Errorf("config: vpn.rotate_every must be > 0 (got %d)", c.VPN.RotateEvery)
	}
	if c.Logs.RetentionDays <= 0 {
		return fmt.Errorf("config: logs.retention_days must be > 0 (got %d)", c.Logs.RetentionDays)
	}
	if _, err := time.LoadLocation(c.Logs.Timezone); err != nil {
		return fmt.Errorf("config: logs.timezone is invalid: %w", err)
	}
	return nil
}

// OrderedLocales returns the enabled locales with the default locale first.
// The second return reports whether the default was missing from the enabled
// list and had to be prepended; callers log a warning in that case.
func (s *ScraperConfig) OrderedLocales() ([]string, bool) {
	out := make([]string, 0, len(s.LocalesEnabled)+1)
	out = append(out, s.DefaultLocale)
	found := false
	for _, loc := range s.LocalesEnabled {
		if loc == s.DefaultLocale {
			found = true
			continue
		}
		out = append(out, loc)
	}
	return out, !found
}
