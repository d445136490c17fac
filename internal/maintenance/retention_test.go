package maintenance

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakePurger struct {
	cutoff time.Time
	purged int64
	calls  int
}

func (f *fakePurger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.purged, nil
}

type fakeSnapshotter struct {
	calls  int
	active int
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, activeWorkers int) error {
	f.calls++
	f.active = activeWorkers
	return nil
}

type fakeCounter struct{ n int }

func (f *fakeCounter) ActiveCount() int { return f.n }

func TestRunPurgesAndSnapshots(t *testing.T) {
	purger := &fakePurger{purged: 12}
	snap := &fakeSnapshotter{}
	r := NewRunner(purger, snap, &fakeCounter{n: 3}, 30, "UTC", zap.NewNop())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purger.calls != 1 || snap.calls != 1 {
		t.Fatalf("expected one purge and one snapshot, got %d/%d", purger.calls, snap.calls)
	}
	if snap.active != 3 {
		t.Fatalf("expected active workers passed through, got %d", snap.active)
	}

	want := time.Now().UTC().AddDate(0, 0, -30)
	if diff := purger.cutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected cutoff ~30 days ago, got %s", purger.cutoff)
	}
}

func TestRunRejectsBadTimezone(t *testing.T) {
	r := NewRunner(&fakePurger{}, &fakeSnapshotter{}, nil, 30, "Mars/Olympus", zap.NewNop())
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestRunPeriodicStopsOnCancel(t *testing.T) {
	purger := &fakePurger{}
	r := NewRunner(purger, &fakeSnapshotter{}, nil, 30, "UTC", zap.NewNop())
	r.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunPeriodic(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop on cancellation")
	}
	if purger.calls == 0 {
		t.Fatal("expected at least one periodic pass")
	}
}
