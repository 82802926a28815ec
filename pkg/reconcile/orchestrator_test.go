package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jhorman10/betsync/pkg/connectivity"
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

func TestReconcileAllRunsEveryRefresher(t *testing.T) {
	m := connectivity.NewMonitor()
	o := NewOrchestrator(m)

	var a, b atomic.Int64
	o.Register(RefreshFunc{RefresherName: "live", Fn: func(ctx context.Context) error {
		a.Add(1)
		return nil
	}})
	o.Register(RefreshFunc{RefresherName: "predictions", Fn: func(ctx context.Context) error {
		b.Add(1)
		return nil
	}})

	if !o.ReconcileAll(context.Background(), "manual") {
		t.Fatal("pass should have run")
	}
	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("refreshers ran %d/%d times, want 1/1", a.Load(), b.Load())
	}
}

func TestConcurrentTriggerIsDropped(t *testing.T) {
	m := connectivity.NewMonitor()
	o := NewOrchestrator(m)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int64
	o.Register(RefreshFunc{RefresherName: "slow", Fn: func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}})

	done := make(chan bool, 1)
	go func() { done <- o.ReconcileAll(context.Background(), "manual") }()
	<-started

	if !o.InProgress() {
		t.Fatal("InProgress should be true mid-pass")
	}
	if o.ReconcileAll(context.Background(), "manual") {
		t.Fatal("second trigger mid-pass should be dropped")
	}

	close(release)
	if !<-done {
		t.Fatal("first pass should have completed")
	}
	if runs.Load() != 1 {
		t.Fatalf("refresher ran %d times, want 1", runs.Load())
	}
	if o.InProgress() {
		t.Fatal("InProgress should clear after the pass")
	}
}

func TestPartialFailureStillStampsLastSync(t *testing.T) {
	m := connectivity.NewMonitor()
	o := NewOrchestrator(m)

	o.Register(RefreshFunc{RefresherName: "ok", Fn: func(ctx context.Context) error { return nil }})
	o.Register(RefreshFunc{RefresherName: "broken", Fn: func(ctx context.Context) error {
		return errors.New("backend down")
	}})

	var report Report
	o.OnComplete(func(r Report) { report = r })

	o.ReconcileAll(context.Background(), "manual")

	if report.Failed != 1 {
		t.Fatalf("report.Failed = %d, want 1", report.Failed)
	}
	if len(report.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(report.Results))
	}
	var broken *Result
	for i := range report.Results {
		if report.Results[i].Name == "broken" {
			broken = &report.Results[i]
		}
	}
	if broken == nil || broken.Error == "" {
		t.Fatalf("broken refresher result %+v, want a recorded error", broken)
	}
	if report.Trigger != "manual" || report.RunID == "" {
		t.Fatalf("report %+v, want trigger and run ID set", report)
	}

	if m.State().LastSync.IsZero() {
		t.Fatal("partial pass should still stamp the last sync")
	}
}

func TestBindTriggersOnRecovery(t *testing.T) {
	m := connectivity.NewMonitor()
	o := NewOrchestrator(m)

	var runs atomic.Int64
	var trigger atomic.Value
	o.Register(RefreshFunc{RefresherName: "live", Fn: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})
	o.OnComplete(func(r Report) { trigger.Store(r.Trigger) })

	unbind := o.Bind(context.Background())
	defer unbind()

	m.ReportNetworkError()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("going down must not trigger a pass")
	}

	m.ReportBackendSuccess()
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
	if got := trigger.Load(); got != "connectivity-restored" {
		t.Fatalf("trigger %v, want connectivity-restored", got)
	}
}

func TestNotifyVisibleSkipsWhenUnhealthy(t *testing.T) {
	m := connectivity.NewMonitor()
	o := NewOrchestrator(m)

	var runs atomic.Int64
	o.Register(RefreshFunc{RefresherName: "live", Fn: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	m.ReportNetworkError()
	o.NotifyVisible(context.Background())
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("visibility while unhealthy must not trigger a pass")
	}

	m.ReportBackendSuccess()
	o.NotifyVisible(context.Background())
	waitFor(t, time.Second, func() bool { return runs.Load() >= 1 })
}
