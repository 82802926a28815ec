// Package reconcile re-synchronizes the dashboard stores with the backend
// after a connectivity gap. All registered refreshers run in parallel in
// silent mode; a single in-flight guard ensures passes never overlap —
// a request arriving mid-pass is dropped, not queued.
package reconcile

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jhorman10/betsync/pkg/connectivity"
)

// DefaultTimeout bounds one full reconciliation pass.
const DefaultTimeout = 30 * time.Second

// Refresher is a store that can silently re-run its primary fetch.
type Refresher interface {
	Name() string
	Reconcile(ctx context.Context) error
}

// RefreshFunc adapts a function to the Refresher interface.
type RefreshFunc struct {
	RefresherName string
	Fn            func(ctx context.Context) error
}

func (r RefreshFunc) Name() string { return r.RefresherName }

func (r RefreshFunc) Reconcile(ctx context.Context) error { return r.Fn(ctx) }

// Result is the outcome of one refresher within a pass.
type Result struct {
	Name     string        `json:"name"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a completed reconciliation pass.
type Report struct {
	RunID     string        `json:"run_id"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []Result      `json:"results"`
	Failed    int           `json:"failed"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds a full pass.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// Orchestrator coordinates reconciliation across independent stores.
type Orchestrator struct {
	monitor *connectivity.Monitor
	timeout time.Duration

	mu         sync.Mutex
	refreshers []Refresher
	onComplete func(Report)

	inFlight atomic.Bool
}

// NewOrchestrator creates an orchestrator bound to the connectivity monitor.
func NewOrchestrator(monitor *connectivity.Monitor, opts ...Option) *Orchestrator {
	o := &Orchestrator{monitor: monitor, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a store to future passes.
func (o *Orchestrator) Register(r Refresher) {
	o.mu.Lock()
	o.refreshers = append(o.refreshers, r)
	o.mu.Unlock()
}

// OnComplete sets a callback invoked after every pass. Used for streaming
// reports to dashboard clients.
func (o *Orchestrator) OnComplete(fn func(Report)) {
	o.mu.Lock()
	o.onComplete = fn
	o.mu.Unlock()
}

// InProgress reports whether a pass is currently running.
func (o *Orchestrator) InProgress() bool {
	return o.inFlight.Load()
}

// ReconcileAll runs every registered refresher in parallel and reports
// whether the pass actually ran. A call while a pass is in flight is a
// no-op returning false. Failures are isolated per refresher, and the
// last-sync stamp is updated even when some refreshers fail.
func (o *Orchestrator) ReconcileAll(ctx context.Context, trigger string) bool {
	if !o.inFlight.CompareAndSwap(false, true) {
		log.Printf("[RECON] pass already in flight, %s trigger dropped", trigger)
		return false
	}
	defer o.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	o.mu.Lock()
	refreshers := make([]Refresher, len(o.refreshers))
	copy(refreshers, o.refreshers)
	onComplete := o.onComplete
	o.mu.Unlock()

	report := Report{
		RunID:     uuid.New().String(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Results:   make([]Result, len(refreshers)),
	}
	log.Printf("[RECON] pass %s started (trigger=%s, stores=%d)", report.RunID, trigger, len(refreshers))

	var wg sync.WaitGroup
	for i, r := range refreshers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := r.Reconcile(ctx)
			report.Results[i] = Result{Name: r.Name(), Duration: time.Since(start)}
			if err != nil {
				report.Results[i].Error = err.Error()
				log.Printf("[RECON] %s failed: %v", r.Name(), err)
			}
		}()
	}
	wg.Wait()

	for _, res := range report.Results {
		if res.Error != "" {
			report.Failed++
		}
	}
	report.Duration = time.Since(report.StartedAt)

	// Even a partial pass counts as a sync: the stores that could refresh
	// did, and the failures are already recorded on their own state.
	o.monitor.UpdateLastSync()
	log.Printf("[RECON] pass %s done in %s (%d/%d ok)",
		report.RunID, report.Duration.Round(time.Millisecond), len(report.Results)-report.Failed, len(report.Results))

	if onComplete != nil {
		onComplete(report)
	}
	return true
}

// Bind subscribes the orchestrator to connectivity transitions: a pass is
// kicked off whenever the backend goes from unhealthy to healthy. Returns
// the unsubscribe function.
func (o *Orchestrator) Bind(ctx context.Context) func() {
	return o.monitor.Subscribe(func(prev, cur connectivity.State) {
		if !prev.Healthy() && cur.Healthy() {
			go o.ReconcileAll(ctx, "connectivity-restored")
		}
	})
}

// NotifyVisible is called when the dashboard regains an observer. It funnels
// into the same entry point as connectivity restoration, and only runs when
// the backend is currently healthy.
func (o *Orchestrator) NotifyVisible(ctx context.Context) {
	if !o.monitor.State().Healthy() {
		return
	}
	go o.ReconcileAll(ctx, "visibility-restored")
}
