// Package images downloads, filters and normalizes listing photos.
package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	_ "image/gif"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// imagesLocale: photos are a listing property, not a locale property, so
// they live under one fixed subdirectory no matter which locale asked.
const imagesLocale = "en"

// Downloader fetches listing photos through a bounded worker pool, filters
// out icons and avatars by size, normalizes resolution and color mode, and
// deduplicates by URL content id.
type Downloader struct {
	cfg    config.ImagesConfig
	hc     *http.Client
	logger *zap.Logger
}

func New(cfg config.ImagesConfig, logger *zap.Logger) *Downloader {
	return &Downloader{
		cfg:    cfg,
		hc:     &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Download writes the listing's photos under {root}/hotel_{id}/en/ and
// returns the relative paths of the files written in this call. The session
// cookies come from the fetcher; the CDN rejects bare requests.
func (d *Downloader) Download(ctx context.Context, listingID int64, locale string, urls []string, cookies []*http.Cookie) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if locale != imagesLocale {
		d.logger.Warn("image download requested for non-default locale, forcing",
			zap.Int64("listing_id", listingID),
			zap.String("requested", locale),
			zap.String("forced", imagesLocale))
	}

	dir := filepath.Join(d.cfg.Root, fmt.Sprintf("hotel_%d", listingID), imagesLocale)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image dir %s: %w", dir, err)
	}

	existing, err := existingHashes(dir)
	if err != nil {
		return nil, err
	}

	type job struct {
		idx int
		url string
	}
	jobs := make(chan job)
	var mu sync.Mutex
	var written []string

	ua := config.UserAgents[rand.Intn(len(config.UserAgents))]
	var wg sync.WaitGroup
	for w := 0; w < d.cfg.MaxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				path, err := d.downloadOne(ctx, dir, j.idx, j.url, cookies, ua, existing)
				if err != nil {
					d.logger.Debug("image skipped",
						zap.Int64("listing_id", listingID),
						zap.String("url", j.url),
						zap.Error(err))
					continue
				}
				if path != "" {
					mu.Lock()
					written = append(written, path)
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for i, u := range urls {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{idx: i, url: u}:
		}
	}
	close(jobs)
	wg.Wait()

	sort.Strings(written)
	d.logger.Info("images downloaded",
		zap.Int64("listing_id", listingID),
		zap.Int("requested", len(urls)),
		zap.Int("written", len(written)))
	return written, ctx.Err()
}

// contentID derives the 12-hex dedup key from the URL string itself: the
// CDN path is content-addressed, so the same photo always hashes the same.
func contentID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:12]
}

// existingHashes loads the dedup state from filenames already on disk.
func existingHashes(dir string) (*sync.Map, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading image dir %s: %w", dir, err)
	}
	m := &sync.Map{}
	for _, e := range entries {
		parts := strings.Split(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), "_")
		if len(parts) >= 3 {
			m.Store(parts[len(parts)-1], true)
		}
	}
	return m, nil
}

// downloadOne returns the relative path written, "" when skipped (dedup or
// size filter), or an error.
func (d *Downloader) downloadOne(ctx context.Context, dir string, idx int, url string, cookies []*http.Cookie, ua string, existing *sync.Map) (string, error) {
	hash := contentID(url)
	if _, dup := existing.LoadOrStore(hash, true); dup {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Referer", config.CatalogRoot+"/")
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "image")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", err
	}

	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < d.cfg.MinWidth || h < d.cfg.MinHeight {
		return "", nil
	}

	img = d.resize(img)

	ext := extensionFor(format)
	name := fmt.Sprintf("img_%04d_%s.%s", idx, hash, ext)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	switch ext {
	case "png":
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, flattenForJPEG(img), &jpeg.Options{Quality: d.cfg.Quality})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}

	info, err := os.Stat(path)
	if err == nil {
		metrics.ImageBytesTotal.Add(float64(info.Size()))
	}
	metrics.ImagesDownloadedTotal.Inc()
	return name, nil
}

// resize fits the image inside the configured bounds preserving aspect
// ratio. Images already within bounds are returned untouched.
func (d *Downloader) resize(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= d.cfg.MaxWidth && h <= d.cfg.MaxHeight {
		return img
	}
	ratio := min(float64(d.cfg.MaxWidth)/float64(w), float64(d.cfg.MaxHeight)/float64(h))
	nw, nh := int(float64(w)*ratio), int(float64(h)*ratio)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// flattenForJPEG composites the image onto a white background; JPEG has no
// alpha channel and transparent regions would come out black.
func flattenForJPEG(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Over)
	return dst
}

func extensionFor(format string) string {
	switch format {
	case "png":
		return "png"
	default:
		return "jpg"
	}
}
