package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// poisonThreshold: after this many 403/short-content responses the session
// is considered flagged by the target and is rebuilt on the next attempt.
const poisonThreshold = 2

// defaultRetryAfter applies when a 429 response carries no Retry-After.
const defaultRetryAfter = 90 * time.Second

var catalogURL, _ = url.Parse(config.CatalogRoot + "/")

// Client is the challenge-aware HTTP fetcher (variant B). It keeps one
// long-lived session with the catalog's consent cookies pre-injected and
// rebuilds it when the target starts serving 403s or empty shells.
type Client struct {
	cfg    config.ScraperConfig
	dumps  *DumpWriter
	logger *zap.Logger

	mu        sync.Mutex
	hc        *http.Client
	ua        string
	sessionID string
	poisoned  int
}

func NewClient(cfg config.ScraperConfig, dumps *DumpWriter, logger *zap.Logger) *Client {
	c := &Client{cfg: cfg, dumps: dumps, logger: logger}
	c.buildSession()
	return c
}

// buildSession replaces the jar, User-Agent and correlation id. Caller holds
// c.mu or has exclusive access.
func (c *Client) buildSession() {
	jar, _ := cookiejar.New(nil)

	cookies := make([]*http.Cookie, 0, len(config.ConsentCookies)+2)
	for _, ck := range config.ConsentCookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Domain: config.CatalogCookieDomain, Path: "/"})
	}
	// Per-session analytics cookies; fixed values across a session look like
	// a returning visitor, fresh values per session avoid a stable fingerprint.
	stamp := func() string {
		return fmt.Sprintf("GA1.1.%d.1700000000", 100000000+rand.Intn(900000000))
	}
	cookies = append(cookies,
		&http.Cookie{Name: "_ga", Value: stamp(), Domain: config.CatalogCookieDomain, Path: "/"},
		&http.Cookie{Name: "_gid", Value: stamp(), Domain: config.CatalogCookieDomain, Path: "/"},
	)
	jar.SetCookies(catalogURL, cookies)

	c.hc = &http.Client{
		Jar:     jar,
		Timeout: time.Duration(c.cfg.BrowserTimeoutSeconds) * time.Second,
	}
	c.ua = randomUserAgent()
	c.sessionID = uuid.NewString()
	c.poisoned = 0
	c.logger.Debug("http session built",
		zap.String("session_id", c.sessionID),
		zap.String("user_agent", c.ua))
}

func (c *Client) Fetch(ctx context.Context, pageURL, locale string) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		c.mu.Lock()
		if c.poisoned >= poisonThreshold {
			c.logger.Info("session poisoned, rebuilding",
				zap.String("session_id", c.sessionID),
				zap.Int("strikes", c.poisoned))
			c.buildSession()
		}
		c.mu.Unlock()

		if err := sleep(ctx, requestDelay(c.cfg.MinRequestDelayMs, c.cfg.MaxRequestDelayMs, attempt)); err != nil {
			return nil, err
		}

		res, err := c.doAttempt(ctx, pageURL, locale, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var fe *Error
		if !errors.As(err, &fe) || !retryable(fe.Kind) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doAttempt(ctx context.Context, pageURL, locale string, attempt int) (*Result, error) {
	start := time.Now()

	// Overwrite the locale preference cookie; it wins over the URL suffix
	// when they disagree, so a stale value silently serves the wrong locale.
	c.mu.Lock()
	c.hc.Jar.SetCookies(catalogURL, []*http.Cookie{{
		Name:   "selectedLanguage",
		Value:  config.LocaleCookieValue[locale],
		Domain: config.CatalogCookieDomain,
		Path:   "/",
	}})
	hc, ua := c.hc, c.ua
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", config.LocaleAcceptLanguage[locale])
	req.Header.Set("Referer", "https://www.google.com/search?q=booking+hotel")

	resp, err := hc.Do(req)
	if err != nil {
		metrics.FetchAttemptsTotal.WithLabelValues("client", "timeout").Inc()
		return nil, &Error{Kind: KindTimeout, URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	// Legacy pages occasionally declare non-UTF-8 charsets; decode before
	// signal matching so multi-byte markers survive.
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	bodyBytes, err := io.ReadAll(reader)
	if err != nil {
		metrics.FetchAttemptsTotal.WithLabelValues("client", "timeout").Inc()
		return nil, &Error{Kind: KindTimeout, Status: resp.StatusCode, URL: pageURL, Err: err}
	}
	body := string(bodyBytes)

	class := Classify(resp.StatusCode, body)
	metrics.FetchDuration.WithLabelValues("client").Observe(time.Since(start).Seconds())

	switch class {
	case ClassOK:
		c.mu.Lock()
		c.poisoned = 0
		c.mu.Unlock()
		metrics.FetchAttemptsTotal.WithLabelValues("client", "success").Inc()
		return &Result{HTML: body, Status: resp.StatusCode, Title: pageTitle(body), Length: len(body)}, nil

	case ClassNotListing:
		metrics.FetchAttemptsTotal.WithLabelValues("client", "not_listing").Inc()
		c.dumps.Write(dumpLabel(resp.StatusCode, class), pageURL, body)
		if attempt >= c.cfg.MaxRetries {
			// Full-size page without known markers: let the extractor try.
			c.logger.Warn("no listing signals, passing through on final attempt",
				zap.String("url", pageURL), zap.Int("length", len(body)))
			return &Result{HTML: body, Status: resp.StatusCode, Title: pageTitle(body), Length: len(body)}, nil
		}
		return nil, &Error{Kind: KindShortContent, Status: resp.StatusCode, URL: pageURL}

	case ClassRateLimited:
		metrics.FetchAttemptsTotal.WithLabelValues("client", "rate_limited").Inc()
		wait := defaultRetryAfter
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		c.logger.Warn("rate limited", zap.String("url", pageURL), zap.Duration("retry_after", wait))
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
		return nil, &Error{Kind: KindRateLimited, Status: resp.StatusCode, URL: pageURL}

	case ClassNotFound:
		metrics.FetchAttemptsTotal.WithLabelValues("client", "not_found").Inc()
		return nil, &Error{Kind: KindNotFound, Status: resp.StatusCode, URL: pageURL}

	case ClassServerError:
		metrics.FetchAttemptsTotal.WithLabelValues("client", "server_error").Inc()
		return nil, &Error{Kind: KindServerError, Status: resp.StatusCode, URL: pageURL}

	default: // blocked or short content poisons the session
		c.mu.Lock()
		c.poisoned++
		strikes := c.poisoned
		c.mu.Unlock()
		c.dumps.Write(dumpLabel(resp.StatusCode, class), pageURL, body)
		kind := kindFor(class)
		metrics.FetchAttemptsTotal.WithLabelValues("client", string(kind)).Inc()
		c.logger.Warn("attempt blocked",
			zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(kind)),
			zap.Int("poison_strikes", strikes))
		return nil, &Error{Kind: kind, Status: resp.StatusCode, URL: pageURL}
	}
}

func (c *Client) Cookies(ctx context.Context) []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hc == nil || c.hc.Jar == nil {
		return nil
	}
	return c.hc.Jar.Cookies(catalogURL)
}

// Discard flags the session so the next Fetch builds a fresh one.
func (c *Client) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poisoned = poisonThreshold
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hc != nil {
		c.hc.CloseIdleConnections()
	}
}
