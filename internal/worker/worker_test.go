package worker

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/fetch"
	"github.com/corralejo-htls/scrapv25/internal/store"
)

const englishPage = `<html><body>
<div data-testid="title">Hotel Sunset</div>
<p data-testid="property-description">The hotel is located in the city centre and features a swimming pool. Breakfast is served every morning and guests can relax in the garden with a drink.</p>
<img src="https://cf.bstatic.com/xdata/images/hotel/max500/111.jpg">
</body></html>`

const spanishPage = `<html><body>
<div data-testid="title">Hotel Sunset</div>
<p data-testid="property-description">El hotel está ubicado en el centro de la ciudad y cuenta con piscina. El desayuno se sirve cada mañana y las habitaciones tienen aire acondicionado para todos los huéspedes.</p>
<img src="https://cf.bstatic.com/xdata/images/hotel/max500/111.jpg">
</body></html>`

const emptyPage = `<html><body></body></html>`

type fetchStep struct {
	html string
	err  error
}

// fakeFetcher serves a scripted sequence of responses per URL; the last
// step repeats once the script runs out.
type fakeFetcher struct {
	mu       sync.Mutex
	script   map[string][]fetchStep
	calls    []string
	discards int
	closed   bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, locale string) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	steps := f.script[url]
	if len(steps) == 0 {
		return nil, &fetch.Error{Kind: fetch.KindNotFound, Status: 404, URL: url}
	}
	step := steps[0]
	if len(steps) > 1 {
		f.script[url] = steps[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	return &fetch.Result{HTML: step.html, Status: 200, Length: len(step.html)}, nil
}

func (f *fakeFetcher) Cookies(ctx context.Context) []*http.Cookie {
	return []*http.Cookie{{Name: "bkng", Value: "session"}}
}

func (f *fakeFetcher) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards++
}

func (f *fakeFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeQueue struct {
	terminalStatus string
	terminalErr    string
	retryableErr   string
	retryableCalls int
}

func (f *fakeQueue) SetTerminal(ctx context.Context, id int64, status, errText string) error {
	f.terminalStatus = status
	f.terminalErr = errText
	return nil
}

func (f *fakeQueue) SetRetryableFailure(ctx context.Context, id int64, errText string) error {
	f.retryableCalls++
	f.retryableErr = errText
	return nil
}

type imagesCountCall struct {
	locale string
	n      int
}

type fakeHotels struct {
	upserts     []*store.HotelRecord
	imageCounts []imagesCountCall
}

func (f *fakeHotels) Upsert(ctx context.Context, rec *store.HotelRecord) (int64, error) {
	f.upserts = append(f.upserts, rec)
	return int64(len(f.upserts)), nil
}

func (f *fakeHotels) UpdateImagesCount(ctx context.Context, urlID int64, language string, n int, localPaths []string) error {
	f.imageCounts = append(f.imageCounts, imagesCountCall{locale: language, n: n})
	return nil
}

type fakeLogs struct {
	entries []store.LogEntry
}

func (f *fakeLogs) Append(ctx context.Context, e store.LogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogs) statuses() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Status
	}
	return out
}

type fakeVPN struct {
	rotations  []string
	listings   int
	failures   int
	reconnects int
	maybes     int
}

func (f *fakeVPN) ReconnectIfDisconnected(ctx context.Context) error { f.reconnects++; return nil }
func (f *fakeVPN) Rotate(ctx context.Context, reason string) error {
	f.rotations = append(f.rotations, reason)
	return nil
}
func (f *fakeVPN) NoteListing() { f.listings++ }
func (f *fakeVPN) NoteFailure() { f.failures++ }
func (f *fakeVPN) MaybeRotate(ctx context.Context) error { f.maybes++; return nil }

type imageCall struct {
	urlID  int64
	locale string
	urls   []string
}

type fakeImages struct {
	calls []imageCall
}

func (f *fakeImages) Download(ctx context.Context, listingID int64, locale string, urls []string, cookies []*http.Cookie) ([]string, error) {
	f.calls = append(f.calls, imageCall{urlID: listingID, locale: locale, urls: urls})
	return []string{"img_0000_abcdefabcdef.jpg"}, nil
}

type fixture struct {
	w       *Worker
	fetcher *fakeFetcher
	queue   *fakeQueue
	hotels  *fakeHotels
	logs    *fakeLogs
	vpn     *fakeVPN
	images  *fakeImages
}

func newFixture(t *testing.T, locales []string, script map[string][]fetchStep) *fixture {
	t.Helper()
	fx := &fixture{
		fetcher: &fakeFetcher{script: script},
		queue:   &fakeQueue{},
		hotels:  &fakeHotels{},
		logs:    &fakeLogs{},
		vpn:     &fakeVPN{},
		images:  &fakeImages{},
	}
	cfg := config.ScraperConfig{
		LocalesEnabled: locales,
		DefaultLocale:  "en",
		MaxRetries:     3,
	}
	fx.w = New(cfg, config.ImagesConfig{Download: true}, Deps{
		Queue:  fx.queue,
		Hotels: fx.hotels,
		Logs:   fx.logs,
		VPN:    fx.vpn,
		Images: fx.images,
		NewFetcher: func(ctx context.Context) (fetch.Fetcher, error) {
			return fx.fetcher, nil
		},
	}, NewCounters(), zap.NewNop())
	fx.w.retryWait = 0
	return fx
}

const baseURL = "https://www.booking.com/hotel/es/example.html"

func TestScrapeOneHappyPath(t *testing.T) {
	fx := newFixture(t, []string{"en", "es"}, map[string][]fetchStep{
		baseURL: {{html: englishPage}},
		"https://www.booking.com/hotel/es/example.es.html": {{html: spanishPage}},
	})

	fx.w.ScrapeOne(context.Background(), store.Claimed{ID: 11, URL: baseURL})

	if len(fx.hotels.upserts) != 2 {
		t.Fatalf("expected 2 stored locales, got %d", len(fx.hotels.upserts))
	}
	if fx.hotels.upserts[0].Language != "en" || fx.hotels.upserts[1].Language != "es" {
		t.Fatalf("expected en then es, got %q, %q",
			fx.hotels.upserts[0].Language, fx.hotels.upserts[1].Language)
	}
	if fx.queue.terminalStatus != "completed" {
		t.Fatalf("expected terminal completed, got %q", fx.queue.terminalStatus)
	}
	got := fx.logs.statuses()
	if len(got) != 2 || got[0] != "completed" || got[1] != "completed" {
		t.Fatalf("expected two completed log entries, got %v", got)
	}
	if len(fx.images.calls) != 1 {
		t.Fatalf("expected one image download, got %d", len(fx.images.calls))
	}
	if fx.images.calls[0].locale != "en" {
		t.Fatalf("expected images downloaded for en, got %q", fx.images.calls[0].locale)
	}
	if len(fx.hotels.imageCounts) != 1 || fx.hotels.imageCounts[0].n != 1 {
		t.Fatalf("expected images_count narrowed to 1, got %v", fx.hotels.imageCounts)
	}
	if fx.vpn.listings != 1 || fx.vpn.failures != 0 {
		t.Fatalf("expected one success noted, got listings=%d failures=%d",
			fx.vpn.listings, fx.vpn.failures)
	}
	if fx.vpn.maybes != 1 {
		t.Fatalf("expected one rotation check, got %d", fx.vpn.maybes)
	}
	if !fx.fetcher.closed {
		t.Fatal("expected fetcher closed")
	}
}

func TestScrapeOneMismatchBlocksStorage(t *testing.T) {
	// Spanish URL serves English: the locale must not be stored.
	fx := newFixture(t, []string{"en", "es"}, map[string][]fetchStep{
		baseURL: {{html: englishPage}},
		"https://www.booking.com/hotel/es/example.es.html": {{html: englishPage}},
	})

	fx.w.ScrapeOne(context.Background(), store.Claimed{ID: 12, URL: baseURL})

	if len(fx.hotels.upserts) != 1 || fx.hotels.upserts[0].Language != "en" {
		t.Fatalf("expected only the en row, got %v", fx.hotels.upserts)
	}
	got := fx.logs.statuses()
	if len(got) != 2 || got[0] != "completed" || got[1] != "lang_mismatch" {
		t.Fatalf("expected completed then lang_mismatch, got %v", got)
	}
	if fx.logs.entries[1].Items != 0 {
		t.Fatalf("expected items=0 on the mismatch entry, got %d", fx.logs.entries[1].Items)
	}
	if fx.queue.terminalStatus != "completed" {
		t.Fatalf("expected terminal completed, got %q", fx.queue.terminalStatus)
	}
	if len(fx.images.calls) != 1 {
		t.Fatalf("expected images still downloaded from the en pass, got %d", len(fx.images.calls))
	}
	if fx.fetcher.discards != 0 {
		t.Fatalf("expected no session discard for a non-default locale, got %d", fx.fetcher.discards)
	}
}

func TestScrapeOneDefaultLocaleRetriesThenSucceeds(t *testing.T) {
	// The default-locale page comes back Spanish twice, then English.
	fx := newFixture(t, []string{"en"}, map[string][]fetchStep{
		baseURL: {{html: spanishPage}, {html: spanishPage}, {html: englishPage}},
	})

	fx.w.ScrapeOne(context.Background(), store.Claimed{ID: 13, URL: baseURL})

	if len(fx.hotels.upserts) != 1 || fx.hotels.upserts[0].Language != "en" {
		t.Fatalf("expected one en row, got %v", fx.hotels.upserts)
	}
	got := fx.logs.statuses()
	want := []string{"lang_mismatch", "lang_mismatch", "completed"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if fx.fetcher.discards != 2 {
		t.Fatalf("expected 2 session discards, got %d", fx.fetcher.discards)
	}
	if fx.queue.terminalStatus != "completed" {
		t.Fatalf("expected terminal completed, got %q", fx.queue.terminalStatus)
	}
	if len(fx.images.calls) != 1 {
		t.Fatalf("expected images downloaded after the retry, got %d", len(fx.images.calls))
	}
}

func TestScrapeOneAllLocalesFail(t *testing.T) {
	fx := newFixture(t, []string{"en", "es"}, map[string][]fetchStep{})

	fx.w.ScrapeOne(context.Background(), store.Claimed{ID: 14, URL: baseURL})

	if len(fx.hotels.upserts) != 0 {
		t.Fatalf("expected no rows stored, got %d", len(fx.hotels.upserts))
	}
	if fx.queue.retryableCalls != 1 {
		t.Fatalf("expected one retryable failure, got %d", fx.queue.retryableCalls)
	}
	if fx.queue.retryableErr == "" {
		t.Fatal("expected last_error populated")
	}
	if fx.queue.terminalStatus != "" {
		t.Fatalf("expected no terminal transition, got %q", fx.queue.terminalStatus)
	}
	if fx.vpn.failures != 1 || fx.vpn.listings != 0 {
		t.Fatalf("expected one failure noted, got failures=%d listings=%d",
			fx.vpn.failures, fx.vpn.listings)
	}
	got := fx.logs.statuses()
	if len(got) != 2 || got[0] != "error" || got[1] != "error" {
		t.Fatalf("expected two error entries, got %v", got)
	}
	if len(fx.images.calls) != 0 {
		t.Fatalf("expected no image downloads, got %d", len(fx.images.calls))
	}
}

func TestScrapeOneNoDataContinues(t *testing.T) {
	fx := newFixture(t, []string{"en", "es"}, map[string][]fetchStep{
		baseURL: {{html: emptyPage}},
		"https://www.booking.com/hotel/es/example.es.html": {{html: spanishPage}},
	})

	fx.w.ScrapeOne(context.Background(), store.Claimed{ID: 15, URL: baseURL})

	if len(fx.hotels.upserts) != 1 || fx.hotels.upserts[0].Language != "es" {
		t.Fatalf("expected only the es row, got %v", fx.hotels.upserts)
	}
	got := fx.logs.statuses()
	if len(got) != 2 || got[0] != "no_data" || got[1] != "completed" {
		t.Fatalf("expected no_data then completed, got %v", got)
	}
	if fx.queue.terminalStatus != "completed" {
		t.Fatalf("expected terminal completed, got %q", fx.queue.terminalStatus)
	}
	// es passed but is not the default locale, so no images.
	if len(fx.images.calls) != 0 {
		t.Fatalf("expected no image downloads without a default-locale pass, got %d", len(fx.images.calls))
	}
}

func TestScrapeOneCumulativeMismatchTriggersRotation(t *testing.T) {
	english := []fetchStep{{html: englishPage}}
	fx := newFixture(t, []string{"en", "es", "fr", "de"}, map[string][]fetchStep{
		baseURL: english,
		"https://www.booking.com/hotel/es/example.es.html": english,
		"https://www.booking.com/hotel/es/example.fr.html": english,
		"https://www.booking.com/hotel/es/example.de.html": english,
	})

	fx.w.ScrapeOne(context.Background(), store.Claimed{ID: 16, URL: baseURL})

	if len(fx.vpn.rotations) != 1 || fx.vpn.rotations[0] != "mismatch" {
		t.Fatalf("expected one mismatch rotation, got %v", fx.vpn.rotations)
	}
	if len(fx.hotels.upserts) != 1 {
		t.Fatalf("expected only the en row, got %d", len(fx.hotels.upserts))
	}
}
