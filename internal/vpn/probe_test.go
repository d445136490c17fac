package vpn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func ipServer(t *testing.T, ip string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(ip + "\n"))
	}))
}

func TestProberReturnsTrimmedIP(t *testing.T) {
	srv := ipServer(t, "203.0.113.9", nil)
	defer srv.Close()

	p := newProber([]string{srv.URL})
	ip, err := p.CurrentIP(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip != "203.0.113.9" {
		t.Fatalf("expected 203.0.113.9, got %q", ip)
	}
}

func TestProberCachesResult(t *testing.T) {
	var hits atomic.Int64
	srv := ipServer(t, "203.0.113.9", &hits)
	defer srv.Close()

	p := newProber([]string{srv.URL})
	for i := 0; i < 5; i++ {
		if _, err := p.CurrentIP(context.Background(), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", got)
	}

	if _, err := p.CurrentIP(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected force to bypass cache, got %d hits", got)
	}
}

func TestProberFallsThroughEndpoints(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	junk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an ip</html>"))
	}))
	defer junk.Close()
	good := ipServer(t, "198.51.100.4", nil)
	defer good.Close()

	p := newProber([]string{bad.URL, junk.URL, good.URL})
	ip, err := p.CurrentIP(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip != "198.51.100.4" {
		t.Fatalf("expected the last endpoint to serve, got %q", ip)
	}
}

func TestProberAllEndpointsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	p := newProber([]string{bad.URL})
	if _, err := p.CurrentIP(context.Background(), false); err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
}
