package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhorman10/betsync/pkg/cache"
	"github.com/jhorman10/betsync/pkg/connectivity"
	"github.com/jhorman10/betsync/pkg/sportsdata"
	"github.com/jhorman10/betsync/pkg/sportsdata/backend"
)

// PredictionStore serves match predictions for the currently selected
// league. Predictions come only from the backend; when it is unreachable
// the store keeps the last cached list and flags the error, so the grid
// shows stale-but-present data with an offline indicator instead of a
// blocking error screen.
type PredictionStore struct {
	client  *backend.Client
	monitor connectivity.Reporter
	cache   *cache.Cache

	mu     sync.Mutex
	league string

	state *state[[]sportsdata.Match]
}

// NewPredictionStore creates the store pointed at an initial league.
func NewPredictionStore(client *backend.Client, monitor connectivity.Reporter, kv *cache.Cache, league string) *PredictionStore {
	s := &PredictionStore{
		client:  client,
		monitor: monitor,
		cache:   kv,
		league:  league,
		state:   newState[[]sportsdata.Match](),
	}
	s.hydrateFromCache()
	return s
}

func predictionsCacheKey(league string) string {
	return "predictions-" + league
}

func (s *PredictionStore) hydrateFromCache() {
	if s.cache == nil {
		return
	}
	var cached []sportsdata.Match
	if s.cache.Get(predictionsCacheKey(s.League()), &cached) {
		at, _ := s.cache.StoredAt(predictionsCacheKey(s.League()))
		s.state.hydrate(cached, at)
	}
}

// League returns the currently selected league slug.
func (s *PredictionStore) League() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.league
}

// SetLeague switches the selected league, resetting state and seeding it
// from the cache. The caller triggers the refresh.
func (s *PredictionStore) SetLeague(league string) {
	s.mu.Lock()
	changed := league != s.league
	s.league = league
	s.mu.Unlock()

	if changed {
		s.state.reset()
		s.hydrateFromCache()
	}
}

// Name implements reconcile.Refresher.
func (s *PredictionStore) Name() string { return "predictions" }

// Reconcile implements reconcile.Refresher with a silent refresh.
func (s *PredictionStore) Reconcile(ctx context.Context) error {
	return s.Refresh(ctx, true)
}

// Refresh fetches predictions for the selected league. Network-class
// failures downgrade reachability and keep stale data; HTTP errors become
// a domain message without touching reachability.
func (s *PredictionStore) Refresh(ctx context.Context, silent bool) error {
	if !silent {
		s.state.setLoading()
	}

	league := s.League()
	ctx, cancel := context.WithTimeout(ctx, backend.DefaultTimeout)
	defer cancel()

	matches, err := s.client.PredictionsByLeague(ctx, league)
	if err != nil {
		if backend.IsNetworkError(err) {
			s.monitor.ReportNetworkError()
			s.state.setError("backend unavailable, showing cached predictions")
		} else {
			s.monitor.ReportBackendSuccess()
			s.state.setError(fmt.Sprintf("predictions for %s failed to load", league))
		}
		return fmt.Errorf("predictions %s: %w", league, err)
	}

	s.monitor.ReportBackendSuccess()
	s.state.setData(matches, time.Now())
	if s.cache != nil {
		s.cache.Put(predictionsCacheKey(league), matches)
	}
	return nil
}

// Snapshot returns the current FetchState.
func (s *PredictionStore) Snapshot() FetchState[[]sportsdata.Match] {
	return s.state.Snapshot()
}
