// Package http is the operator surface: health, stats, queue and hotel
// inspection, VPN control, exports and diagnostics.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/diag"
	"github.com/corralejo-htls/scrapv25/internal/export"
	"github.com/corralejo-htls/scrapv25/internal/ingest"
	"github.com/corralejo-htls/scrapv25/internal/store"
	"github.com/corralejo-htls/scrapv25/internal/vpn"
	"github.com/corralejo-htls/scrapv25/internal/worker"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	readyPingTimeout = 2 * time.Second
	maxUploadBytes   = 32 << 20
)

// DBChecker abstracts the database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

// Dispatch is the slice of the dispatcher the server drives.
type Dispatch interface {
	Running() bool
	ActiveCount() int
	DispatchNow()
	RunBatch(ctx context.Context) (int, error)
}

type QueueReader interface {
	CountByStatus(ctx context.Context) (store.StatusCounts, error)
	List(ctx context.Context, status string, limit int) ([]store.QueueRow, error)
	ResetFailed(ctx context.Context) (int64, error)
}

type HotelReader interface {
	List(ctx context.Context, limit, offset int) ([]store.HotelRow, error)
	SearchByName(ctx context.Context, q string, limit int) ([]store.HotelRow, error)
	GetByURLID(ctx context.Context, urlID int64) ([]store.HotelRow, error)
	CountByLanguage(ctx context.Context) (map[string]int64, error)
}

type LogReader interface {
	Recent(ctx context.Context, limit int) ([]store.LogRow, error)
}

// VPNControl is the slice of the VPN controller the server exposes.
type VPNControl interface {
	Status(ctx context.Context) vpn.Status
	Rotate(ctx context.Context, reason string) error
	Connect(ctx context.Context, country string) error
}

type URLLoader interface {
	LoadFile(ctx context.Context, path string) (ingest.Report, error)
	LoadReader(ctx context.Context, r io.Reader, name string) (ingest.Report, error)
}

type Exporter interface {
	CSV(ctx context.Context, w io.Writer, table string) error
	JSON(ctx context.Context, w io.Writer, table string) error
}

type CountersReader interface {
	Snapshot() worker.Snapshot
}

// TestURLFunc runs the diagnostic dry run for /scraping/test-url.
type TestURLFunc func(ctx context.Context, url, locale string) (*diag.Report, error)

// Deps collects the server's injected collaborators; any nil entry disables
// its endpoints with 503.
type Deps struct {
	DB       DBChecker
	Dispatch Dispatch
	Queue    QueueReader
	Hotels   HotelReader
	Logs     LogReader
	VPN      VPNControl
	Loader   URLLoader
	Exporter Exporter
	Counters CountersReader
	TestURL  TestURLFunc
}

// Info is the static part of /system/info.
type Info struct {
	Version        string   `json:"version"`
	LocalesEnabled []string `json:"locales_enabled"`
	DefaultLocale  string   `json:"default_locale"`
	BrowserDriver  bool     `json:"browser_driver"`
	BatchSize      int      `json:"batch_size"`
	MaxConcurrent  int      `json:"max_concurrent"`
	ImagesEnabled  bool     `json:"images_enabled"`
	VPNEnabled     bool     `json:"vpn_enabled"`
}

type Server struct {
	srv     *http.Server
	deps    Deps
	info    Info
	started time.Time
	logger  *zap.Logger
}

func NewServer(addr string, deps Deps, info Info, logger *zap.Logger) *Server {
	s := &Server{
		deps:    deps,
		info:    info,
		started: time.Now(),
		logger:  logger,
	}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the route table; tests mount it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /system/info", s.handleSystemInfo)

	mux.HandleFunc("GET /vpn/status", s.handleVPNStatus)
	mux.HandleFunc("POST /vpn/rotate", s.handleVPNRotate)
	mux.HandleFunc("POST /vpn/connect", s.handleVPNConnect)

	mux.HandleFunc("GET /urls", s.handleURLList)
	mux.HandleFunc("POST /urls/load", s.handleURLLoad)
	mux.HandleFunc("POST /urls/reset-failed", s.handleURLResetFailed)

	mux.HandleFunc("POST /scraping/start", s.handleScrapingStart)
	mux.HandleFunc("POST /scraping/force-now", s.handleScrapingForceNow)
	mux.HandleFunc("GET /scraping/status", s.handleScrapingStatus)
	mux.HandleFunc("GET /scraping/logs", s.handleScrapingLogs)
	mux.HandleFunc("POST /scraping/test-url", s.handleTestURL)

	mux.HandleFunc("GET /hotels", s.handleHotelList)
	mux.HandleFunc("GET /hotels/search", s.handleHotelSearch)
	mux.HandleFunc("GET /hotels/{id}", s.handleHotelGet)

	mux.HandleFunc("GET /export/csv", s.handleExportCSV)
	mux.HandleFunc("GET /export/json", s.handleExportJSON)

	return mux
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			checks["postgres"] = "error"
			ready = false
		} else {
			checks["postgres"] = "ok"
		}
	} else {
		checks["postgres"] = "error"
		ready = false
	}

	if s.deps.Dispatch != nil && s.deps.Dispatch.Running() {
		checks["dispatcher"] = "ok"
	} else {
		checks["dispatcher"] = "not_running"
		ready = false
	}

	status, httpStatus := "ready", http.StatusOK
	if !ready {
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil || s.deps.Hotels == nil {
		writeError(w, http.StatusServiceUnavailable, "stores unavailable")
		return
	}
	queue, err := s.deps.Queue.CountByStatus(r.Context())
	if err != nil {
		s.fail(w, "counting queue", err)
		return
	}
	hotels, err := s.deps.Hotels.CountByLanguage(r.Context())
	if err != nil {
		s.fail(w, "counting hotels", err)
		return
	}
	out := map[string]any{
		"queue":              queue,
		"hotels_by_language": hotels,
	}
	if s.deps.Counters != nil {
		out["counters"] = s.deps.Counters.Snapshot()
	}
	if s.deps.Dispatch != nil {
		out["active_listings"] = s.deps.Dispatch.ActiveCount()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"info":           s.info,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleVPNStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.VPN == nil {
		writeError(w, http.StatusServiceUnavailable, "vpn controller unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.VPN.Status(r.Context()))
}

func (s *Server) handleVPNRotate(w http.ResponseWriter, r *http.Request) {
	if s.deps.VPN == nil {
		writeError(w, http.StatusServiceUnavailable, "vpn controller unavailable")
		return
	}
	if err := s.deps.VPN.Rotate(r.Context(), vpn.ReasonManual); err != nil {
		s.fail(w, "rotating vpn", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.VPN.Status(r.Context()))
}

func (s *Server) handleVPNConnect(w http.ResponseWriter, r *http.Request) {
	if s.deps.VPN == nil {
		writeError(w, http.StatusServiceUnavailable, "vpn controller unavailable")
		return
	}
	country := r.URL.Query().Get("country")
	if err := s.deps.VPN.Connect(r.Context(), country); err != nil {
		s.fail(w, "connecting vpn", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.VPN.Status(r.Context()))
}

func (s *Server) handleURLList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", "pending", "processing", "completed", "failed":
	default:
		writeError(w, http.StatusBadRequest, "invalid status "+strconv.Quote(status))
		return
	}
	rows, err := s.deps.Queue.List(r.Context(), status, queryLimit(r))
	if err != nil {
		s.fail(w, "listing urls", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": rows, "count": len(rows)})
}

func (s *Server) handleURLLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.Loader == nil {
		writeError(w, http.StatusServiceUnavailable, "loader unavailable")
		return
	}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "parsing upload: "+err.Error())
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		report, err := s.deps.Loader.LoadReader(r.Context(), file, header.Filename)
		if err != nil {
			s.fail(w, "loading urls", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, "expected multipart upload or {\"path\": ...}")
		return
	}
	report, err := s.deps.Loader.LoadFile(r.Context(), body.Path)
	if err != nil {
		s.fail(w, "loading urls", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleURLResetFailed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	n, err := s.deps.Queue.ResetFailed(r.Context())
	if err != nil {
		s.fail(w, "resetting failed urls", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reopened": n})
}

func (s *Server) handleScrapingStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatch == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
		return
	}
	s.deps.Dispatch.DispatchNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatch scheduled"})
}

func (s *Server) handleScrapingForceNow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatch == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
		return
	}
	n, err := s.deps.Dispatch.RunBatch(r.Context())
	if err != nil {
		s.fail(w, "running batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"submitted": n})
}

func (s *Server) handleScrapingStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.deps.Dispatch != nil {
		out["dispatcher_running"] = s.deps.Dispatch.Running()
		out["active_listings"] = s.deps.Dispatch.ActiveCount()
	}
	if s.deps.Counters != nil {
		out["counters"] = s.deps.Counters.Snapshot()
	}
	if s.deps.Queue != nil {
		if counts, err := s.deps.Queue.CountByStatus(r.Context()); err == nil {
			out["queue"] = counts
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScrapingLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeError(w, http.StatusServiceUnavailable, "logs unavailable")
		return
	}
	rows, err := s.deps.Logs.Recent(r.Context(), queryLimit(r))
	if err != nil {
		s.fail(w, "listing logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": rows, "count": len(rows)})
}

func (s *Server) handleTestURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.TestURL == nil {
		writeError(w, http.StatusServiceUnavailable, "diagnostics unavailable")
		return
	}
	var body struct {
		URL    string `json:"url"`
		Locale string `json:"locale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "expected {\"url\": ..., \"locale\": ...}")
		return
	}
	report, err := s.deps.TestURL(r.Context(), body.URL, body.Locale)
	if err != nil {
		s.fail(w, "testing url", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHotelList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hotels == nil {
		writeError(w, http.StatusServiceUnavailable, "hotels unavailable")
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	rows, err := s.deps.Hotels.List(r.Context(), queryLimit(r), offset)
	if err != nil {
		s.fail(w, "listing hotels", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotels": rows, "count": len(rows)})
}

func (s *Server) handleHotelSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hotels == nil {
		writeError(w, http.StatusServiceUnavailable, "hotels unavailable")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	rows, err := s.deps.Hotels.SearchByName(r.Context(), q, queryLimit(r))
	if err != nil {
		s.fail(w, "searching hotels", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotels": rows, "count": len(rows)})
}

func (s *Server) handleHotelGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hotels == nil {
		writeError(w, http.StatusServiceUnavailable, "hotels unavailable")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	rows, err := s.deps.Hotels.GetByURLID(r.Context(), id)
	if err != nil {
		s.fail(w, "fetching hotel", err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "hotel not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url_id": id, "locales": rows})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	table, ok := s.exportTable(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+table+`.csv"`)
	if err := s.deps.Exporter.CSV(r.Context(), w, table); err != nil {
		s.logger.Error("csv export failed", zap.String("table", table), zap.Error(err))
	}
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	table, ok := s.exportTable(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := s.deps.Exporter.JSON(r.Context(), w, table); err != nil {
		s.logger.Error("json export failed", zap.String("table", table), zap.Error(err))
	}
}

func (s *Server) exportTable(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exporter unavailable")
		return "", false
	}
	table := r.URL.Query().Get("table")
	if !export.ValidTable(table) {
		writeError(w, http.StatusBadRequest,
			"unknown table; valid: "+strings.Join(export.Tables(), ", "))
		return "", false
	}
	return table, true
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, what+": "+err.Error())
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
