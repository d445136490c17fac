package images

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
)

func testImagesConfig(root string) config.ImagesConfig {
	return config.ImagesConfig{
		Download:   true,
		Root:       root,
		MaxWidth:   1920,
		MaxHeight:  1080,
		MinWidth:   200,
		MinHeight:  150,
		Quality:    85,
		MaxWorkers: 2,
	}
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func imageServer(t *testing.T, responses map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
}

func TestDownloadWritesAndNames(t *testing.T) {
	srv := imageServer(t, map[string][]byte{
		"/a.jpg": jpegBytes(t, 640, 480),
		"/b.jpg": jpegBytes(t, 800, 600),
	})
	defer srv.Close()

	root := t.TempDir()
	d := New(testImagesConfig(root), zap.NewNop())

	written, err := d.Download(context.Background(), 42, "en",
		[]string{srv.URL + "/a.jpg", srv.URL + "/b.jpg"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(written), written)
	}

	nameRe := regexp.MustCompile(`^img_\d{4}_[0-9a-f]{12}\.jpg$`)
	for _, name := range written {
		if !nameRe.MatchString(name) {
			t.Errorf("unexpected file name %q", name)
		}
		if _, err := os.Stat(filepath.Join(root, "hotel_42", "en", name)); err != nil {
			t.Errorf("expected file on disk: %v", err)
		}
	}
}

func TestDownloadSizeFilter(t *testing.T) {
	srv := imageServer(t, map[string][]byte{
		"/narrow.jpg":   jpegBytes(t, 199, 300),
		"/short.jpg":    jpegBytes(t, 300, 149),
		"/boundary.jpg": jpegBytes(t, 200, 150),
	})
	defer srv.Close()

	d := New(testImagesConfig(t.TempDir()), zap.NewNop())
	written, err := d.Download(context.Background(), 1, "en", []string{
		srv.URL + "/narrow.jpg",
		srv.URL + "/short.jpg",
		srv.URL + "/boundary.jpg",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("expected only the boundary image, got %v", written)
	}
	if !strings.Contains(written[0], contentID(srv.URL+"/boundary.jpg")) {
		t.Fatalf("expected boundary image written, got %q", written[0])
	}
}

func TestDownloadDeduplicates(t *testing.T) {
	srv := imageServer(t, map[string][]byte{"/a.jpg": jpegBytes(t, 640, 480)})
	defer srv.Close()

	root := t.TempDir()
	d := New(testImagesConfig(root), zap.NewNop())
	url := srv.URL + "/a.jpg"

	written, err := d.Download(context.Background(), 7, "en", []string{url, url}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("expected 1 file for duplicate URLs, got %d", len(written))
	}

	// Second call must skip via the on-disk filename hash.
	written, err = d.Download(context.Background(), 7, "en", []string{url}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 0 {
		t.Fatalf("expected re-download skipped, got %v", written)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "hotel_7", "en"))
	if len(entries) != 1 {
		t.Fatalf("expected 1 file on disk, got %d", len(entries))
	}
}

func TestDownloadForcesDefaultLocaleDir(t *testing.T) {
	srv := imageServer(t, map[string][]byte{"/a.jpg": jpegBytes(t, 640, 480)})
	defer srv.Close()

	root := t.TempDir()
	d := New(testImagesConfig(root), zap.NewNop())

	if _, err := d.Download(context.Background(), 9, "es", []string{srv.URL + "/a.jpg"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "hotel_9", "en")); err != nil {
		t.Fatalf("expected images under en/ regardless of locale: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "hotel_9", "es")); !os.IsNotExist(err) {
		t.Fatal("expected no es/ directory")
	}
}

func TestDownloadResizesOversized(t *testing.T) {
	srv := imageServer(t, map[string][]byte{"/big.jpg": jpegBytes(t, 1000, 800)})
	defer srv.Close()

	root := t.TempDir()
	cfg := testImagesConfig(root)
	cfg.MaxWidth, cfg.MaxHeight = 500, 500
	d := New(cfg, zap.NewNop())

	written, err := d.Download(context.Background(), 3, "en", []string{srv.URL + "/big.jpg"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("expected 1 file, got %d", len(written))
	}

	f, err := os.Open(filepath.Join(root, "hotel_3", "en", written[0]))
	if err != nil {
		t.Fatalf("opening result: %v", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w != 500 || h != 400 {
		t.Fatalf("expected 500x400 after aspect-preserving resize, got %dx%d", w, h)
	}
}

func TestDownloadKeepsPNGFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 640, 480))); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	srv := imageServer(t, map[string][]byte{"/a.png": buf.Bytes()})
	defer srv.Close()

	d := New(testImagesConfig(t.TempDir()), zap.NewNop())
	written, err := d.Download(context.Background(), 5, "en", []string{srv.URL + "/a.png"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 1 || !strings.HasSuffix(written[0], ".png") {
		t.Fatalf("expected one .png file, got %v", written)
	}
}

func TestDownloadEmptyURLList(t *testing.T) {
	d := New(testImagesConfig(t.TempDir()), zap.NewNop())
	written, err := d.Download(context.Background(), 1, "en", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != nil {
		t.Fatalf("expected nil result for empty list, got %v", written)
	}
}
