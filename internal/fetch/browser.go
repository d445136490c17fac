package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// browserCandidates are tried in order; the first existing binary wins.
// Brave first: its fingerprint draws the least anti-bot attention.
var browserCandidates = []string{
	"/usr/bin/brave-browser",
	"/opt/brave.com/brave/brave-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/microsoft-edge",
	"/usr/bin/opera",
}

// listingWaitSelectors are polled in priority order until one appears.
var listingWaitSelectors = []string{
	`[data-testid="title"]`,
	`[data-testid="property-name"]`,
	`#hp_hotel_name`,
	`[data-testid="property-section--content"]`,
	`#basiclayout`,
}

// popupDismissSelectors cover the overlays that cover listing content.
var popupDismissSelectors = []string{
	`#onetrust-accept-btn-handler`,
	`button[aria-label="Dismiss sign-in info."]`,
	`button[aria-label="Dismiss sign in information."]`,
	`[data-testid="modal-close"]`,
}

const galleryTriggerSelector = `[data-testid="gallery-trigger"], .bh-photo-grid-thumb-more, a.bh-photo-grid-item`

// Browser is the headless browser fetcher (variant A). One allocator and tab
// serve all locales of a listing; the catalog root is visited once per
// session so locale cookies can be planted before the first listing load.
type Browser struct {
	cfg    config.ScraperConfig
	dumps  *DumpWriter
	logger *zap.Logger

	parent context.Context
	ua     string

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context
	seeded      bool
}

func NewBrowser(ctx context.Context, cfg config.ScraperConfig, dumps *DumpWriter, logger *zap.Logger) (*Browser, error) {
	b := &Browser{cfg: cfg, dumps: dumps, logger: logger, parent: ctx}
	if err := b.start(); err != nil {
		return nil, err
	}
	return b, nil
}

func findBrowserBinary() string {
	for _, p := range browserCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (b *Browser) start() error {
	b.ua = randomUserAgent()

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(b.ua),
	)
	bin := findBrowserBinary()
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(b.parent, opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := context.WithTimeout(tab, time.Duration(b.cfg.BrowserTimeoutSeconds)*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("starting browser (binary %q): %w", bin, err)
	}

	b.allocCancel = allocCancel
	b.tabCancel = tabCancel
	b.tab = tab
	b.seeded = false
	b.logger.Info("browser session started",
		zap.String("binary", bin),
		zap.String("user_agent", b.ua))
	return nil
}

func (b *Browser) stop() {
	if b.tabCancel != nil {
		b.tabCancel()
		b.tabCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.tab = nil
	b.seeded = false
}

func (b *Browser) Fetch(ctx context.Context, pageURL, locale string) (*Result, error) {
	var lastErr error
	rebuilt := false

	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		if err := sleep(ctx, requestDelay(b.cfg.MinRequestDelayMs, b.cfg.MaxRequestDelayMs, attempt)); err != nil {
			return nil, err
		}
		if b.tab == nil {
			if err := b.start(); err != nil {
				return nil, err
			}
		}

		res, err := b.doAttempt(ctx, pageURL, locale, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if sessionDead(err) {
			// A dead tab fails every later action too; rebuild instead of
			// hammering the corpse, but only once per call.
			b.logger.Warn("browser session dead, rebuilding",
				zap.String("url", pageURL), zap.Error(err))
			metrics.FetchAttemptsTotal.WithLabelValues("browser", "session_dead").Inc()
			b.stop()
			if rebuilt {
				return nil, &Error{Kind: KindSessionDead, URL: pageURL, Err: err}
			}
			rebuilt = true
			if err := b.start(); err != nil {
				return nil, err
			}
			continue
		}

		var fe *Error
		if !errors.As(err, &fe) || !retryable(fe.Kind) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (b *Browser) doAttempt(ctx context.Context, pageURL, locale string, attempt int) (*Result, error) {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(b.tab, time.Duration(b.cfg.BrowserTimeoutSeconds)*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if !b.seeded {
		if err := chromedp.Run(runCtx, chromedp.Navigate(config.CatalogRoot)); err != nil {
			return nil, b.attemptError(pageURL, err)
		}
		b.seeded = true
	}

	actions := []chromedp.Action{
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": config.LocaleAcceptLanguage[locale],
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Delete-then-set: SetCookie alone will not replace a cookie
			// planted with different attributes by the site's own JS.
			if err := network.DeleteCookies("selectedLanguage").
				WithDomain(config.CatalogCookieDomain).Do(ctx); err != nil {
				return err
			}
			return network.SetCookie("selectedLanguage", config.LocaleCookieValue[locale]).
				WithDomain(config.CatalogCookieDomain).
				WithPath("/").
				Do(ctx)
		}),
		chromedp.Navigate(pageURL),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return nil, b.attemptError(pageURL, err)
	}

	b.waitForListing(runCtx)
	b.dismissPopups(runCtx)
	b.scrollPage(runCtx)
	b.openGallery(runCtx)

	html, err := pageSource(runCtx)
	if err != nil {
		return nil, b.attemptError(pageURL, err)
	}

	metrics.FetchDuration.WithLabelValues("browser").Observe(time.Since(start).Seconds())

	// The driver sees rendered DOM, not status lines; classification rests
	// on content alone.
	class := Classify(200, html)
	switch class {
	case ClassOK:
		metrics.FetchAttemptsTotal.WithLabelValues("browser", "success").Inc()
		return &Result{HTML: html, Status: 200, Title: pageTitle(html), Length: len(html)}, nil
	case ClassNotListing:
		metrics.FetchAttemptsTotal.WithLabelValues("browser", "not_listing").Inc()
		b.dumps.Write(dumpLabel(200, class), pageURL, html)
		if attempt >= b.cfg.MaxRetries {
			b.logger.Warn("no listing signals, passing through on final attempt",
				zap.String("url", pageURL), zap.Int("length", len(html)))
			return &Result{HTML: html, Status: 200, Title: pageTitle(html), Length: len(html)}, nil
		}
		return nil, &Error{Kind: KindShortContent, Status: 200, URL: pageURL}
	default:
		kind := kindFor(class)
		metrics.FetchAttemptsTotal.WithLabelValues("browser", string(kind)).Inc()
		b.dumps.Write(dumpLabel(200, class), pageURL, html)
		b.logger.Warn("rendered page rejected",
			zap.String("url", pageURL),
			zap.String("kind", string(kind)),
			zap.Int("length", len(html)))
		return nil, &Error{Kind: kind, Status: 200, URL: pageURL}
	}
}

// waitForListing polls the selector list until one matches or the page-load
// budget runs out. Best effort: a miss falls through to classification.
func (b *Browser) waitForListing(ctx context.Context) {
	deadline := time.Now().Add(time.Duration(b.cfg.PageLoadWaitSeconds) * time.Second)
	for time.Now().Before(deadline) {
		for _, sel := range listingWaitSelectors {
			var found bool
			script := fmt.Sprintf("document.querySelector(%q) !== null", sel)
			if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err != nil {
				return
			}
			if found {
				return
			}
		}
		if err := sleep(ctx, 250*time.Millisecond); err != nil {
			return
		}
	}
}

func (b *Browser) dismissPopups(ctx context.Context) {
	for _, sel := range popupDismissSelectors {
		script := fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (el) { el.click(); return true; } return false; })()`, sel)
		var clicked bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
			return
		}
		if clicked {
			b.logger.Debug("dismissed overlay", zap.String("selector", sel))
			_ = sleep(ctx, 300*time.Millisecond)
		}
	}
}

// scrollPage walks down the page so lazy-loaded sections (images, rooms
// table) enter the DOM.
func (b *Browser) scrollPage(ctx context.Context) {
	for i := 0; i < b.cfg.ScrollIterations; i++ {
		script := "window.scrollBy(0, document.body.scrollHeight / " +
			fmt.Sprint(max(b.cfg.ScrollIterations, 1)) + ")"
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
			return
		}
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return
		}
	}
}

// openGallery clicks the photo grid so the full-resolution gallery overlay
// mounts, then scrolls inside it to force every thumbnail into the DOM.
func (b *Browser) openGallery(ctx context.Context) {
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (el) { el.click(); return true; } return false; })()`, galleryTriggerSelector)
	var opened bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &opened)); err != nil || !opened {
		return
	}
	_ = sleep(ctx, 700*time.Millisecond)
	for i := 0; i < 3; i++ {
		scroll := `(() => { const m = document.querySelector('[role="dialog"], .bh-photo-modal'); if (m) { m.scrollBy(0, m.scrollHeight); } })()`
		if err := chromedp.Run(ctx, chromedp.Evaluate(scroll, nil)); err != nil {
			return
		}
		if err := sleep(ctx, 400*time.Millisecond); err != nil {
			return
		}
	}
}

func pageSource(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		root, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
		return err
	}))
	return html, err
}

func (b *Browser) attemptError(pageURL string, err error) error {
	if sessionDead(err) {
		return &Error{Kind: KindSessionDead, URL: pageURL, Err: err}
	}
	metrics.FetchAttemptsTotal.WithLabelValues("browser", "timeout").Inc()
	return &Error{Kind: KindTimeout, URL: pageURL, Err: err}
}

// sessionDead reports whether the error means the browser process or its
// websocket is gone, as opposed to one slow page.
func sessionDead(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Kind == KindSessionDead {
			return true
		}
		err = fe.Err
		if err == nil {
			return false
		}
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "browser process") ||
		strings.Contains(msg, "connection closed")
}

func (b *Browser) Cookies(ctx context.Context) []*http.Cookie {
	if b.tab == nil {
		return nil
	}
	runCtx, cancel := context.WithTimeout(b.tab, 5*time.Second)
	defer cancel()

	var raw []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		b.logger.Debug("harvesting cookies", zap.Error(err))
		return nil
	}

	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return cookies
}

// Discard tears the session down; the next Fetch starts a fresh browser.
func (b *Browser) Discard() {
	b.stop()
}

func (b *Browser) Close() {
	b.stop()
}
