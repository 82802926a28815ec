// Package connectivity tracks network and backend reachability as shared
// state. Producers (any fetch call site) report outcomes through the
// Reporter interface; consumers subscribe to state transitions. Only
// network-class failures downgrade reachability — an HTTP error status means
// the server was reached and is reported as success here.
package connectivity

import (
	"log"
	"sync"
	"time"
)

// State is a snapshot of connectivity.
type State struct {
	Online           bool      `json:"online"`
	BackendReachable bool      `json:"backend_reachable"`
	LastSync         time.Time `json:"last_sync,omitempty"`
}

// Healthy reports whether fetches and reconciliation should run.
func (s State) Healthy() bool {
	return s.Online && s.BackendReachable
}

// Reporter is the producer-side interface stores use to report fetch
// outcomes, decoupling them from the Monitor's concrete type.
type Reporter interface {
	ReportBackendSuccess()
	ReportNetworkError()
}

// Monitor holds process-wide connectivity state.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	reachable bool
	lastSync  time.Time

	subs    map[int]func(prev, cur State)
	nextSub int

	now func() time.Time
}

// NewMonitor creates a monitor. Both flags start optimistic; the first
// failed fetch corrects them.
func NewMonitor() *Monitor {
	return &Monitor{
		online:    true,
		reachable: true,
		subs:      make(map[int]func(prev, cur State)),
		now:       time.Now,
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Monitor) stateLocked() State {
	return State{Online: m.online, BackendReachable: m.reachable, LastSync: m.lastSync}
}

// SetOnline records a platform-level network transition.
func (m *Monitor) SetOnline(online bool) {
	m.set(func() { m.online = online })
}

// ReportBackendSuccess marks the backend reachable. Called by any fetch
// call site whose request reached the server, regardless of HTTP status.
func (m *Monitor) ReportBackendSuccess() {
	m.set(func() {
		m.online = true
		m.reachable = true
	})
}

// ReportNetworkError marks the backend unreachable. Called only for
// network-class failures where no response reached the server.
func (m *Monitor) ReportNetworkError() {
	m.set(func() { m.reachable = false })
}

// UpdateLastSync stamps the completion time of a reconciliation pass.
func (m *Monitor) UpdateLastSync() {
	m.mu.Lock()
	m.lastSync = m.now()
	m.mu.Unlock()
}

// Subscribe registers a transition callback and returns an unsubscribe
// function. Callbacks fire only when Online or BackendReachable actually
// change, not on every report.
func (m *Monitor) Subscribe(fn func(prev, cur State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) set(mutate func()) {
	m.mu.Lock()
	prev := m.stateLocked()
	mutate()
	cur := m.stateLocked()

	if prev.Online == cur.Online && prev.BackendReachable == cur.BackendReachable {
		m.mu.Unlock()
		return
	}

	subs := make([]func(prev, cur State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	log.Printf("[CONN] online=%v backend_reachable=%v", cur.Online, cur.BackendReachable)
	for _, fn := range subs {
		fn(prev, cur)
	}
}
