package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/jhorman10/betsync/pkg/cache"
	"github.com/jhorman10/betsync/pkg/connectivity"
	"github.com/jhorman10/betsync/pkg/fetch"
	"github.com/jhorman10/betsync/pkg/sportsdata"
	"github.com/jhorman10/betsync/pkg/sportsdata/backend"
)

const leaguesCacheKey = "leagues"

// LeagueStore serves the country/league selector. It runs its own small
// fallback chain: backend, then the persisted cache, then the built-in
// default league set, so the selector is usable before the backend has
// ever been reached.
type LeagueStore struct {
	chain *fetch.Chain[sportsdata.League]
	cache *cache.Cache
	state *state[[]sportsdata.League]

	onUpdate func(leagues []sportsdata.League, tier string)
}

// NewLeagueStore wires the league fallback chain.
func NewLeagueStore(client *backend.Client, monitor connectivity.Reporter, kv *cache.Cache) *LeagueStore {
	s := &LeagueStore{
		cache: kv,
		state: newState[[]sportsdata.League](),
	}

	primary := fetch.SourceFunc[sportsdata.League]{
		SourceName: string(sportsdata.TierBackend),
		Fn: func(ctx context.Context) ([]sportsdata.League, error) {
			ctx, cancel := context.WithTimeout(ctx, backend.DefaultTimeout)
			defer cancel()
			leagues, err := client.Leagues(ctx)
			if err != nil {
				if backend.IsNetworkError(err) {
					monitor.ReportNetworkError()
				}
				return nil, err
			}
			monitor.ReportBackendSuccess()
			return leagues, nil
		},
	}
	cached := fetch.SourceFunc[sportsdata.League]{
		SourceName: "cache",
		Fn: func(ctx context.Context) ([]sportsdata.League, error) {
			if kv == nil {
				return nil, nil
			}
			var leagues []sportsdata.League
			kv.Get(leaguesCacheKey, &leagues)
			return leagues, nil
		},
	}
	builtin := fetch.SourceFunc[sportsdata.League]{
		SourceName: string(sportsdata.TierFallback),
		Fn: func(ctx context.Context) ([]sportsdata.League, error) {
			return sportsdata.DefaultLeagues, nil
		},
	}

	s.chain = fetch.NewChain("leagues", primary, cached, builtin)
	return s
}

// OnAttempt forwards the chain's tier observer, for metrics.
func (s *LeagueStore) OnAttempt(fn func(fetch.Attempt)) {
	s.chain.OnAttempt(fn)
}

// OnUpdate registers a callback fired after every refresh with the served
// leagues and the tier that produced them.
func (s *LeagueStore) OnUpdate(fn func(leagues []sportsdata.League, tier string)) {
	s.onUpdate = fn
}

// Name implements reconcile.Refresher.
func (s *LeagueStore) Name() string { return "leagues" }

// Reconcile implements reconcile.Refresher with a silent refresh.
func (s *LeagueStore) Reconcile(ctx context.Context) error {
	return s.Refresh(ctx, true)
}

// Refresh runs the league chain and publishes the result. Only a
// backend-served result is persisted; caching the fallback list would
// shadow real data on the next startup.
func (s *LeagueStore) Refresh(ctx context.Context, silent bool) error {
	if !silent {
		s.state.setLoading()
	}

	leagues, tier := s.chain.Fetch(ctx)
	s.state.setData(leagues, time.Now())

	if s.cache != nil && tier == string(sportsdata.TierBackend) {
		s.cache.Put(leaguesCacheKey, leagues)
	}
	if s.onUpdate != nil {
		s.onUpdate(leagues, tier)
	}
	if tier == "" {
		return fmt.Errorf("leagues: all sources exhausted")
	}
	return nil
}

// Snapshot returns the current FetchState.
func (s *LeagueStore) Snapshot() FetchState[[]sportsdata.League] {
	return s.state.Snapshot()
}
