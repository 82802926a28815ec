package dashboard

import (
	"sync"
	"time"
)

// FetchState is the render-ready snapshot of one data domain: the data, a
// loading flag, a domain-level error message, and the last successful
// update time. Errors here are messages for the UI, never transport
// failures — those are converted to connectivity state upstream.
type FetchState[T any] struct {
	Data        T         `json:"data"`
	Loading     bool      `json:"loading"`
	Error       string    `json:"error,omitempty"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// state is the mutable holder behind a FetchState snapshot.
type state[T any] struct {
	mu sync.RWMutex
	fs FetchState[T]
}

func newState[T any]() *state[T] {
	return &state[T]{fs: FetchState[T]{Loading: true}}
}

func (s *state[T]) Snapshot() FetchState[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fs
}

// setLoading flips the loading flag; silent refreshes skip this so the UI
// keeps rendering current data during background reconciliation.
func (s *state[T]) setLoading() {
	s.mu.Lock()
	s.fs.Loading = true
	s.mu.Unlock()
}

func (s *state[T]) setData(data T, at time.Time) {
	s.mu.Lock()
	s.fs.Data = data
	s.fs.Loading = false
	s.fs.Error = ""
	s.fs.LastUpdated = at
	s.mu.Unlock()
}

// setError records a domain error while keeping whatever data is already
// held: stale-but-present beats a blank error screen.
func (s *state[T]) setError(msg string) {
	s.mu.Lock()
	s.fs.Loading = false
	s.fs.Error = msg
	s.mu.Unlock()
}

// hydrate seeds data without clearing an error or marking an update; used
// for cache restores at startup.
func (s *state[T]) hydrate(data T, at time.Time) {
	s.mu.Lock()
	s.fs.Data = data
	s.fs.Loading = false
	s.fs.LastUpdated = at
	s.mu.Unlock()
}

// reset returns the state to its initial shape.
func (s *state[T]) reset() {
	s.mu.Lock()
	s.fs = FetchState[T]{Loading: true}
	s.mu.Unlock()
}
