package fetch

import (
	"context"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
)

// Result is a successfully fetched listing page.
type Result struct {
	HTML   string
	Status int
	Title  string
	Length int
}

// Fetcher produces listing HTML for a (URL, locale) pair. Implementations
// own their session state; one instance serves all locales of one listing
// and is never shared between workers.
type Fetcher interface {
	Fetch(ctx context.Context, url, locale string) (*Result, error)
	// Cookies returns the session's current cookies for the catalog domain,
	// harvested for authenticated CDN image downloads.
	Cookies(ctx context.Context) []*http.Cookie
	// Discard invalidates the current session so the next Fetch starts
	// fresh. Used on language-mismatch retries of the default locale.
	Discard()
	Close()
}

// New selects the fetcher variant from config.
func New(ctx context.Context, cfg config.ScraperConfig, dumps *DumpWriter, logger *zap.Logger) (Fetcher, error) {
	if cfg.UseBrowserDriver {
		return NewBrowser(ctx, cfg, dumps, logger)
	}
	return NewClient(cfg, dumps, logger), nil
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func pageTitle(html string) string {
	m := titleRe.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func randomUserAgent() string {
	return config.UserAgents[rand.Intn(len(config.UserAgents))]
}

// requestDelay returns the pre-request jitter: uniform in [min, max] on the
// first attempt, scaled multiplicatively on retries and capped at 25s.
func requestDelay(minMs, maxMs, attempt int) time.Duration {
	if maxMs <= 0 || maxMs < minMs {
		return 0
	}
	spread := maxMs - minMs
	ms := minMs
	if spread > 0 {
		ms += rand.Intn(spread + 1)
	}
	d := time.Duration(ms) * time.Millisecond
	if attempt > 1 {
		d = time.Duration(float64(d) * float64(attempt) * 1.5)
		if d > 25*time.Second {
			d = 25 * time.Second
		}
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
