package vpn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  bool
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.fail && args[0] == "connect" {
		return "Unable to connect", fmt.Errorf("exit status 1")
	}
	if args[0] == "connect" {
		return "You are connected to " + args[1] + "!", nil
	}
	return "", nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

type fakeSink struct {
	mu   sync.Mutex
	rows []store.Rotation
}

func (f *fakeSink) Append(ctx context.Context, r store.Rotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, r)
	return nil
}

func testController(t *testing.T, cfg config.VPNConfig, runner Runner, sink RotationSink, probeIP string) *Controller {
	t.Helper()
	srv := ipServer(t, probeIP, nil)
	t.Cleanup(srv.Close)
	return &Controller{
		cfg:       cfg,
		runner:    runner,
		probe:     newProber([]string{srv.URL}),
		rotations: sink,
		logger:    zap.NewNop(),
	}
}

func testVPNConfig() config.VPNConfig {
	return config.VPNConfig{
		Enabled:     true,
		Countries:   []string{"US", "DE", "NL"},
		RotateEvery: 5,
		Command:     "nordvpn",
	}
}

func TestConnectRunsDisconnectThenConnect(t *testing.T) {
	runner := &fakeRunner{}
	c := testController(t, testVPNConfig(), runner, nil, "203.0.113.1")

	if err := c.Connect(context.Background(), "US"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmds := runner.commands()
	if len(cmds) != 2 || cmds[0] != "disconnect" || cmds[1] != "connect US" {
		t.Fatalf("expected disconnect then connect US, got %v", cmds)
	}
	if c.currentCountry != "US" {
		t.Fatalf("expected current country US, got %q", c.currentCountry)
	}
}

func TestConnectDefaultsToFirstCountry(t *testing.T) {
	runner := &fakeRunner{}
	c := testController(t, testVPNConfig(), runner, nil, "203.0.113.1")

	if err := c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.currentCountry != "US" {
		t.Fatalf("expected first configured country, got %q", c.currentCountry)
	}
}

func TestConnectFailure(t *testing.T) {
	runner := &fakeRunner{fail: true}
	c := testController(t, testVPNConfig(), runner, nil, "203.0.113.1")

	if err := c.Connect(context.Background(), "US"); err == nil {
		t.Fatal("expected error when the client cannot connect")
	}
}

func TestRotatePicksDifferentCountryAndRecords(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	c := testController(t, testVPNConfig(), runner, sink, "203.0.113.1")
	c.currentCountry = "US"
	c.countSinceRotate = 7

	if err := c.Rotate(context.Background(), ReasonPeriodic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.currentCountry != "DE" {
		t.Fatalf("expected rotation away from US, got %q", c.currentCountry)
	}
	if c.countSinceRotate != 0 {
		t.Fatalf("expected counter reset, got %d", c.countSinceRotate)
	}
	if len(sink.rows) != 1 {
		t.Fatalf("expected 1 rotation row, got %d", len(sink.rows))
	}
	row := sink.rows[0]
	if row.Reason != ReasonPeriodic || !row.Success || row.Country != "DE" {
		t.Fatalf("unexpected rotation row %+v", row)
	}
	if row.RequestsCount != 7 {
		t.Fatalf("expected requests count 7, got %d", row.RequestsCount)
	}
}

func TestRotateFailureStillRecorded(t *testing.T) {
	runner := &fakeRunner{fail: true}
	sink := &fakeSink{}
	c := testController(t, testVPNConfig(), runner, sink, "203.0.113.1")
	c.currentCountry = "US"

	if err := c.Rotate(context.Background(), ReasonBlockIP); err == nil {
		t.Fatal("expected rotation error")
	}
	if len(sink.rows) != 1 {
		t.Fatalf("expected failed rotation recorded, got %d rows", len(sink.rows))
	}
	if sink.rows[0].Success {
		t.Fatal("expected success=false on the recorded row")
	}
	if sink.rows[0].Error == "" {
		t.Fatal("expected error message on the recorded row")
	}
}

func TestIsActive(t *testing.T) {
	c := testController(t, testVPNConfig(), &fakeRunner{}, nil, "203.0.113.1")

	c.originalIP = "198.51.100.50"
	if !c.IsActive(context.Background()) {
		t.Fatal("expected active when egress ip differs from original")
	}

	c.originalIP = "203.0.113.1"
	c.probe.ip = "" // drop the cache so the probe runs again
	if c.IsActive(context.Background()) {
		t.Fatal("expected inactive when egress ip equals original")
	}
}

func TestIsActiveUnknownIPCountsAsActive(t *testing.T) {
	c := testController(t, testVPNConfig(), &fakeRunner{}, nil, "203.0.113.1")
	c.originalIP = "203.0.113.1"
	c.probe = newProber([]string{"http://127.0.0.1:1"})

	if !c.IsActive(context.Background()) {
		t.Fatal("expected probe failure to count as active")
	}
}

func TestReconnectIfDisconnected(t *testing.T) {
	runner := &fakeRunner{}
	c := testController(t, testVPNConfig(), runner, nil, "203.0.113.1")
	c.currentCountry = "DE"
	c.originalIP = "203.0.113.1" // same as probed: tunnel looks down

	if err := c.ReconnectIfDisconnected(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmds := runner.commands()
	if len(cmds) != 2 || cmds[1] != "connect DE" {
		t.Fatalf("expected reconnect to current country, got %v", cmds)
	}
}

func TestReconnectSkipsWhenActive(t *testing.T) {
	runner := &fakeRunner{}
	c := testController(t, testVPNConfig(), runner, nil, "203.0.113.1")
	c.originalIP = "198.51.100.50"

	if err := c.ReconnectIfDisconnected(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.commands()) != 0 {
		t.Fatalf("expected no client calls while active, got %v", runner.commands())
	}
}

func TestMaybeRotatePeriodic(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	c := testController(t, testVPNConfig(), runner, sink, "203.0.113.1")
	c.currentCountry = "US"

	for i := 0; i < 5; i++ {
		c.NoteListing()
	}
	if err := c.MaybeRotate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.rows) != 1 || sink.rows[0].Reason != ReasonPeriodic {
		t.Fatalf("expected one periodic rotation, got %+v", sink.rows)
	}

	// Counter was reset; the next check must not rotate again.
	if err := c.MaybeRotate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.rows) != 1 {
		t.Fatalf("expected no second rotation, got %d rows", len(sink.rows))
	}
}

func TestMaybeRotateBlockIP(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	c := testController(t, testVPNConfig(), runner, sink, "203.0.113.1")
	c.currentCountry = "US"

	c.NoteFailure()
	c.NoteFailure()
	if err := c.MaybeRotate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.rows) != 0 {
		t.Fatal("expected no rotation under the failure threshold")
	}

	c.NoteFailure()
	if err := c.MaybeRotate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.rows) != 1 || sink.rows[0].Reason != ReasonBlockIP {
		t.Fatalf("expected block_ip rotation, got %+v", sink.rows)
	}
	if c.consecutiveFailures != 0 {
		t.Fatalf("expected failure streak cleared, got %d", c.consecutiveFailures)
	}
}

func TestNoteListingClearsFailureStreak(t *testing.T) {
	c := testController(t, testVPNConfig(), &fakeRunner{}, nil, "203.0.113.1")
	c.NoteFailure()
	c.NoteFailure()
	c.NoteListing()
	if c.consecutiveFailures != 0 {
		t.Fatalf("expected streak cleared by success, got %d", c.consecutiveFailures)
	}
	if c.countSinceRotate != 1 {
		t.Fatalf("expected 1 listing counted, got %d", c.countSinceRotate)
	}
}

func TestStatusCountersNotBlockedByProbe(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("10.0.0.2\n"))
	}))
	defer srv.Close()

	c := &Controller{
		cfg:        testVPNConfig(),
		runner:     &fakeRunner{},
		probe:      newProber([]string{srv.URL}),
		logger:     zap.NewNop(),
		originalIP: "10.0.0.1",
	}

	statusCh := make(chan Status, 1)
	go func() { statusCh <- c.Status(context.Background()) }()

	// Counter updates must not wait on the in-flight ip probe.
	noted := make(chan struct{})
	go func() { c.NoteListing(); close(noted) }()
	select {
	case <-noted:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("counter update blocked behind the ip probe")
	}

	close(release)
	st := <-statusCh
	if !st.Active {
		t.Fatalf("expected active with a differing egress ip, got %+v", st)
	}
	if st.CountSinceRotate != 1 {
		t.Fatalf("expected the listing counted before status returned, got %d", st.CountSinceRotate)
	}
}

func TestDisabledControllerIsInert(t *testing.T) {
	runner := &fakeRunner{}
	cfg := testVPNConfig()
	cfg.Enabled = false
	c := testController(t, cfg, runner, nil, "203.0.113.1")

	if err := c.Connect(context.Background(), "US"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Rotate(context.Background(), ReasonManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.MaybeRotate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IsActive(context.Background()) {
		t.Fatal("expected disabled controller to report inactive")
	}
	if len(runner.commands()) != 0 {
		t.Fatalf("expected no client calls, got %v", runner.commands())
	}
}
