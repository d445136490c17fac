package vpn

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// echoEndpoints are plain-text what-is-my-ip services, tried in order.
var echoEndpoints = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

const (
	probeTimeout = 5 * time.Second
	ipCacheTTL   = 30 * time.Second
)

// prober resolves the current egress IP. Results are cached briefly and
// concurrent refreshes collapse into one request; every worker consults the
// controller before fetching and a probe stampede looks like scraping
// traffic to the echo services.
type prober struct {
	endpoints []string
	hc        *http.Client

	mu        sync.Mutex
	ip        string
	fetchedAt time.Time

	group singleflight.Group
}

func newProber(endpoints []string) *prober {
	if len(endpoints) == 0 {
		endpoints = echoEndpoints
	}
	return &prober{
		endpoints: endpoints,
		hc:        &http.Client{Timeout: probeTimeout},
	}
}

// CurrentIP returns the egress IP, from cache unless expired or force is
// set.
func (p *prober) CurrentIP(ctx context.Context, force bool) (string, error) {
	p.mu.Lock()
	if !force && p.ip != "" && time.Since(p.fetchedAt) < ipCacheTTL {
		ip := p.ip
		p.mu.Unlock()
		return ip, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("ip", func() (any, error) {
		ip, err := p.fetch(ctx)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.ip = ip
		p.fetchedAt = time.Now()
		p.mu.Unlock()
		return ip, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *prober) fetch(ctx context.Context) (string, error) {
	var lastErr error
	for _, endpoint := range p.endpoints {
		ip, err := p.fetchOne(ctx, endpoint)
		if err == nil {
			return ip, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("probing egress ip: %w", lastErr)
}

func (p *prober) fetchOne(ctx context.Context, endpoint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: http %d", endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%s: not an ip: %q", endpoint, ip)
	}
	return ip, nil
}
