// Package vpn owns the process's outbound IP: connecting, health checks and
// rotation policy around an external VPN client CLI.
package vpn

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/metrics"
	"github.com/corralejo-htls/scrapv25/internal/store"
)

// Runner invokes the VPN client. Arguments are passed as a vector; the
// command line never goes through a shell.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

type execRunner struct {
	command string
}

func (r execRunner) Run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, r.command, args...).CombinedOutput()
	return string(out), err
}

// RotationSink records completed rotation attempts.
type RotationSink interface {
	Append(ctx context.Context, r store.Rotation) error
}

// Rotation reasons.
const (
	ReasonManual   = "manual"
	ReasonPeriodic = "periodic"
	ReasonBlockIP  = "block_ip"
	ReasonMismatch = "mismatch"
)

// blockIPThreshold: consecutive listing failures before the egress IP is
// presumed burned.
const blockIPThreshold = 3

// Controller is the process-wide VPN singleton. cliMu serializes every CLI
// invocation; the client binary cannot handle concurrent connect calls.
type Controller struct {
	cfg       config.VPNConfig
	runner    Runner
	probe     *prober
	rotations RotationSink
	logger    *zap.Logger

	cliMu          sync.Mutex
	originalIP     string
	currentCountry string

	statMu              sync.Mutex
	countSinceRotate    int
	consecutiveFailures int
	rotationsDone       int
}

// New builds the controller and captures the pre-VPN IP, best effort: with
// no probe result IsActive stays pessimistically true.
func New(ctx context.Context, cfg config.VPNConfig, rotations RotationSink, logger *zap.Logger) *Controller {
	c := &Controller{
		cfg:       cfg,
		runner:    execRunner{command: cfg.Command},
		probe:     newProber(nil),
		rotations: rotations,
		logger:    logger,
	}
	if ip, err := c.probe.CurrentIP(ctx, true); err == nil {
		c.originalIP = ip
		logger.Info("original egress ip captured", zap.String("ip", ip))
	} else {
		logger.Warn("could not capture original egress ip", zap.Error(err))
	}
	return c
}

// Connect switches to the given country; empty picks the first configured.
func (c *Controller) Connect(ctx context.Context, country string) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.cliMu.Lock()
	defer c.cliMu.Unlock()
	return c.connectLocked(ctx, country)
}

func (c *Controller) connectLocked(ctx context.Context, country string) error {
	if country == "" {
		if len(c.cfg.Countries) == 0 {
			return fmt.Errorf("vpn: no countries configured")
		}
		country = c.cfg.Countries[0]
	}

	if out, err := c.runner.Run(ctx, "disconnect"); err != nil {
		c.logger.Debug("vpn disconnect", zap.String("output", firstLine(out)), zap.Error(err))
	}

	out, err := c.runner.Run(ctx, "connect", country)
	if err != nil && !strings.Contains(strings.ToLower(out), "connected") {
		return fmt.Errorf("vpn connect %s: %w (output %q)", country, err, firstLine(out))
	}

	c.currentCountry = country
	ip, perr := c.probe.CurrentIP(ctx, true)
	if perr != nil {
		c.logger.Warn("connected but ip probe failed", zap.String("country", country), zap.Error(perr))
	}
	c.logger.Info("vpn connected", zap.String("country", country), zap.String("ip", ip))
	return nil
}

// Rotate switches to a different country and records the attempt.
func (c *Controller) Rotate(ctx context.Context, reason string) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.cliMu.Lock()
	defer c.cliMu.Unlock()

	oldIP, _ := c.probe.CurrentIP(ctx, false)
	oldCountry := c.currentCountry

	c.statMu.Lock()
	requests := c.countSinceRotate
	c.statMu.Unlock()

	country := c.nextCountry(oldCountry)
	err := c.connectLocked(ctx, country)

	newIP := ""
	if err == nil {
		newIP, _ = c.probe.CurrentIP(ctx, false)
		c.statMu.Lock()
		c.countSinceRotate = 0
		c.rotationsDone++
		c.statMu.Unlock()
	}

	metrics.VPNRotationsTotal.WithLabelValues(reason, strconv.FormatBool(err == nil)).Inc()
	if c.rotations != nil {
		rot := store.Rotation{
			OldIP:         oldIP,
			NewIP:         newIP,
			Country:       country,
			Reason:        reason,
			RequestsCount: requests,
			Success:       err == nil,
		}
		if err != nil {
			rot.Error = err.Error()
		}
		if serr := c.rotations.Append(ctx, rot); serr != nil {
			c.logger.Warn("recording vpn rotation", zap.Error(serr))
		}
	}

	if err != nil {
		return err
	}
	c.logger.Info("vpn rotated",
		zap.String("reason", reason),
		zap.String("old_ip", oldIP),
		zap.String("new_ip", newIP),
		zap.String("country", country))
	return nil
}

func (c *Controller) nextCountry(current string) string {
	for _, country := range c.cfg.Countries {
		if country != current {
			return country
		}
	}
	if len(c.cfg.Countries) > 0 {
		return c.cfg.Countries[0]
	}
	return current
}

// IsActive reports whether traffic leaves through the VPN. Unknown IPs
// count as active: a probe outage must not trigger a reconnect stampede.
func (c *Controller) IsActive(ctx context.Context) bool {
	if !c.cfg.Enabled {
		return false
	}
	if c.originalIP == "" {
		return true
	}
	ip, err := c.probe.CurrentIP(ctx, false)
	if err != nil || ip == "" {
		return true
	}
	return ip != c.originalIP
}

// ReconnectIfDisconnected restores the tunnel before a listing is fetched.
func (c *Controller) ReconnectIfDisconnected(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.cliMu.Lock()
	defer c.cliMu.Unlock()
	if c.IsActive(ctx) {
		return nil
	}
	c.logger.Warn("vpn tunnel down, reconnecting", zap.String("country", c.currentCountry))
	return c.connectLocked(ctx, c.currentCountry)
}

// Status is the operator-surface snapshot.
type Status struct {
	Enabled             bool   `json:"enabled"`
	Active              bool   `json:"active"`
	Country             string `json:"country,omitempty"`
	IP                  string `json:"ip,omitempty"`
	CountSinceRotate    int    `json:"count_since_rotate"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Rotations           int    `json:"rotations"`
}

func (c *Controller) Status(ctx context.Context) Status {
	// Probe before taking statMu so the lock never spans network I/O.
	ip, _ := c.probe.CurrentIP(ctx, false)
	active := c.cfg.Enabled && c.IsActive(ctx)

	c.statMu.Lock()
	defer c.statMu.Unlock()
	return Status{
		Enabled:             c.cfg.Enabled,
		Active:              active,
		Country:             c.currentCountry,
		IP:                  ip,
		CountSinceRotate:    c.countSinceRotate,
		ConsecutiveFailures: c.consecutiveFailures,
		Rotations:           c.rotationsDone,
	}
}

// NoteListing counts a successfully scraped listing toward periodic
// rotation and clears the failure streak.
func (c *Controller) NoteListing() {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	c.countSinceRotate++
	c.consecutiveFailures = 0
}

// NoteFailure counts a failed listing toward the block-ip threshold.
func (c *Controller) NoteFailure() {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	c.consecutiveFailures++
}

// ResetFailures clears the failure streak without counting a listing.
func (c *Controller) ResetFailures() {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	c.consecutiveFailures = 0
}

// MaybeRotate applies the rotation policy: a burned IP (3 consecutive
// failures) wins over the periodic schedule.
func (c *Controller) MaybeRotate(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.statMu.Lock()
	failures := c.consecutiveFailures
	count := c.countSinceRotate
	c.statMu.Unlock()

	switch {
	case failures >= blockIPThreshold:
		c.statMu.Lock()
		c.consecutiveFailures = 0
		c.statMu.Unlock()
		return c.Rotate(ctx, ReasonBlockIP)
	case c.cfg.RotateEvery > 0 && count >= c.cfg.RotateEvery:
		return c.Rotate(ctx, ReasonPeriodic)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
