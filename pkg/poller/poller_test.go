package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartImmediatePollAndIdempotency(t *testing.T) {
	var calls atomic.Int64
	p := New("test", time.Hour, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	defer p.Stop()

	p.Start(context.Background())
	p.Start(context.Background()) // duplicate Start must not add a timer

	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("got %d polls, want exactly 1 immediate poll with a 1h interval", n)
	}
	if !p.Running() {
		t.Fatal("poller should report running")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := New("test", time.Hour, func(ctx context.Context) error { return nil })
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatal("poller should be stopped")
	}
}

func TestPollsNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight, total atomic.Int64
	p := New("test", 5*time.Millisecond, func(ctx context.Context) error {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(20 * time.Millisecond) // slower than the interval
		inFlight.Add(-1)
		total.Add(1)
		return nil
	})

	p.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return total.Load() >= 5 })
	p.Stop()

	if m := maxInFlight.Load(); m != 1 {
		t.Fatalf("observed %d concurrent polls, want at most 1", m)
	}
}

func TestBackoffDoublesAndResets(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int64
	p := New("test", 5*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		if fail.Load() {
			return errors.New("boom")
		}
		return nil
	})

	p.Start(context.Background())
	defer p.Stop()

	// 1 failure -> x2, 2 -> x4, 3+ -> capped at x4.
	waitFor(t, time.Second, func() bool { return calls.Load() >= 1 })
	waitFor(t, time.Second, func() bool { return p.Multiplier() >= 2 })
	waitFor(t, time.Second, func() bool { return p.Multiplier() == 4 })

	waitFor(t, time.Second, func() bool { return calls.Load() >= 4 })
	if m := p.Multiplier(); m != 4 {
		t.Fatalf("multiplier %d, want cap of 4", m)
	}

	fail.Store(false)
	waitFor(t, time.Second, func() bool { return p.Multiplier() == 1 })
}

func TestBackoffCapOption(t *testing.T) {
	var calls atomic.Int64
	p := New("test", 2*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	}, WithMaxBackoff(8))

	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool { return p.Multiplier() == 8 })
	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 5 })
	if m := p.Multiplier(); m != 8 {
		t.Fatalf("multiplier %d, want cap of 8", m)
	}
}

func TestHiddenSuppressesPolls(t *testing.T) {
	var calls atomic.Int64
	p := New("test", 5*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	p.SetVisible(false)
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(60 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("got %d polls while hidden, want 0", n)
	}
}

func TestVisibilityRestoredPollsOnceWhenStale(t *testing.T) {
	var calls atomic.Int64
	interval := 20 * time.Millisecond
	p := New("test", interval, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	p.SetVisible(false)
	p.Start(context.Background())
	defer p.Stop()

	// Hidden across several intervals: no catch-up queue may build.
	time.Sleep(4 * interval)
	if n := calls.Load(); n != 0 {
		t.Fatalf("got %d polls while hidden, want 0", n)
	}

	p.SetVisible(true)
	waitFor(t, time.Second, func() bool { return calls.Load() >= 1 })
	time.Sleep(interval / 2)
	if n := calls.Load(); n != 1 {
		t.Fatalf("got %d polls right after becoming visible, want exactly 1 immediate poll", n)
	}

	// Normal cadence resumes afterwards.
	waitFor(t, time.Second, func() bool { return calls.Load() >= 2 })
}

func TestVisibilityRestoredSkipsPollWhenFresh(t *testing.T) {
	var calls atomic.Int64
	p := New("test", time.Hour, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })

	p.SetVisible(false)
	p.SetVisible(true) // last success is well within the interval

	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("got %d polls, want no catch-up poll for fresh data", n)
	}
}
