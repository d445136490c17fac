package fetch

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/metrics"
)

// maxDumpBytes bounds each debug dump file; a block page's useful content
// sits in the first few KiB.
const maxDumpBytes = 120 << 10

var zstdEncoder, _ = zstd.NewWriter(nil)

var slugCleanRe = regexp.MustCompile(`[^a-z0-9-]+`)

// DumpWriter saves failing response bodies for offline inspection under
// {logs_root}/debug/. Dump failures are logged and swallowed; diagnostics
// must never break a fetch.
type DumpWriter struct {
	dir      string
	compress bool
	logger   *zap.Logger
}

func NewDumpWriter(logsRoot string, compress bool, logger *zap.Logger) *DumpWriter {
	return &DumpWriter{
		dir:      filepath.Join(logsRoot, "debug"),
		compress: compress,
		logger:   logger,
	}
}

// Write stores body (truncated) as {kind}_{slug}_{timestamp}.html[.zst].
func (d *DumpWriter) Write(kind, pageURL, body string) {
	if d == nil {
		return
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Debug("debug dump dir", zap.Error(err))
		return
	}

	if len(body) > maxDumpBytes {
		body = body[:maxDumpBytes]
	}

	name := fmt.Sprintf("%s_%s_%d.html", kind, urlSlug(pageURL), time.Now().Unix())
	data := []byte(body)
	if d.compress {
		data = zstdEncoder.EncodeAll(data, nil)
		name += ".zst"
	}

	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		d.logger.Debug("writing debug dump", zap.String("path", path), zap.Error(err))
		return
	}
	metrics.DebugDumpsTotal.WithLabelValues(kind).Inc()
	d.logger.Debug("debug dump written", zap.String("file", name), zap.Int("bytes", len(data)))
}

// urlSlug reduces a URL to a filesystem-safe host+path fragment, max 80 chars.
func urlSlug(raw string) string {
	s := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		s = u.Host + u.Path
	}
	s = slugCleanRe.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
