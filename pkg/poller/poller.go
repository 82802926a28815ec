// Package poller provides a recurring-task runner with exponential error
// backoff and an observed/unobserved gate: while nothing is watching the
// data, ticks are suppressed so no network or CPU is spent on it. Polls for
// a single poller never overlap; the loop is a single goroutine and a slow
// poll simply delays the next tick.
package poller

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultMaxBackoff caps the interval multiplier after repeated failures.
const DefaultMaxBackoff = 4

// Option configures a Poller.
type Option func(*Poller)

// WithMaxBackoff sets the backoff multiplier cap.
func WithMaxBackoff(max int) Option {
	return func(p *Poller) {
		if max >= 1 {
			p.maxBackoff = max
		}
	}
}

// WithBackoffObserver registers a callback invoked whenever the backoff
// multiplier changes. Used to feed metrics.
func WithBackoffObserver(fn func(multiplier int)) Option {
	return func(p *Poller) { p.onBackoff = fn }
}

// Poller runs a task at a fixed cadence, stretching the cadence by a
// doubling multiplier while the task keeps failing.
type Poller struct {
	name       string
	interval   time.Duration
	maxBackoff int
	onPoll     func(ctx context.Context) error
	onBackoff  func(multiplier int)

	mu          sync.Mutex
	running     bool
	visible     bool
	backoff     int
	lastSuccess time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	kick        chan struct{}

	now func() time.Time
}

// New creates a poller. The task is not started until Start is called.
func New(name string, interval time.Duration, onPoll func(ctx context.Context) error, opts ...Option) *Poller {
	p := &Poller{
		name:       name,
		interval:   interval,
		maxBackoff: DefaultMaxBackoff,
		onPoll:     onPoll,
		visible:    true,
		backoff:    1,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling: one immediate poll, then a repeating timer at
// interval * backoff. Calling Start on a running poller is a no-op, which
// guards against duplicate timers.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.kick = make(chan struct{}, 1)
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts polling and waits for any in-flight poll to finish. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Multiplier returns the current backoff multiplier.
func (p *Poller) Multiplier() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backoff
}

// SetVisible flips the observed state. Turning visible again polls
// immediately when the last success is older than one interval, so data is
// never staler than one interval from the observer's perspective; otherwise
// normal cadence resumes from where it left off.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = visible
	running, kick := p.running, p.kick
	p.mu.Unlock()

	if visible && !was && running {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	p.pollIfVisible(ctx)

	for {
		timer := time.NewTimer(p.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.kick:
			timer.Stop()
			// Just became visible: catch up only if stale, and at most
			// one immediate poll regardless of how long we were hidden.
			if p.stale() {
				p.pollIfVisible(ctx)
			}
		case <-timer.C:
			p.pollIfVisible(ctx)
		}
	}
}

func (p *Poller) pollIfVisible(ctx context.Context) {
	p.mu.Lock()
	visible := p.visible
	p.mu.Unlock()
	if !visible {
		return
	}

	err := p.onPoll(ctx)

	p.mu.Lock()
	prev := p.backoff
	if err != nil {
		p.backoff *= 2
		if p.backoff > p.maxBackoff {
			p.backoff = p.maxBackoff
		}
	} else {
		p.backoff = 1
		p.lastSuccess = p.now()
	}
	cur := p.backoff
	p.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		log.Printf("[POLL] %s: poll failed (backoff x%d): %v", p.name, cur, err)
	}
	if cur != prev && p.onBackoff != nil {
		p.onBackoff(cur)
	}
}

// nextDelay applies the multiplier prospectively: it is read when the next
// timer is armed, never retroactively against a timer already running.
func (p *Poller) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval * time.Duration(p.backoff)
}

func (p *Poller) stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.lastSuccess) > p.interval
}
