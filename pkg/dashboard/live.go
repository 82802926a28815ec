// Package dashboard holds the per-domain data stores behind the prediction
// dashboard. Each store owns a FetchState, refreshes through its fetch
// pipeline, persists a projection through the cache, and reports fetch
// outcomes to the connectivity monitor. Stores implement
// reconcile.Refresher so the orchestrator can resync them after a
// connectivity gap.
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
	"github.com/jhorman10/betsync/pkg/sportsdata/scoreboard"
)

const liveCacheKey = "live-matches"

// LiveMatchStore serves live matches with predictions through the
// three-tier fallback chain: backend, public scoreboards, static fixtures.
type LiveMatchStore struct {
	chain *fetch.Chain[sportsdata.Match]
	cache *cache.Cache
	state *state[[]sportsdata.Match]

	onUpdate func(matches []sportsdata.Match, tier string)
}

// NewLiveMatchStore wires the fallback chain for live matches. The primary
// tier reports its outcome to the monitor; the secondary fans out across
// the given league slugs.
func NewLiveMatchStore(
	client *backend.Client,
	boards *scoreboard.Client,
	monitor connectivity.Reporter,
	kv *cache.Cache,
	leagueSlugs []string,
) *LiveMatchStore {
	s := &LiveMatchStore{
		cache: kv,
		state: newState[[]sportsdata.Match](),
	}

	primary := fetch.SourceFunc[sportsdata.Match]{
		SourceName: string(sportsdata.TierBackend),
		Fn: func(ctx context.Context) ([]sportsdata.Match, error) {
			ctx, cancel := context.WithTimeout(ctx, backend.DefaultTimeout)
			defer cancel()
			matches, err := client.LiveMatches(ctx)
			if err != nil {
				if backend.IsNetworkError(err) {
					monitor.ReportNetworkError()
				}
				return nil, err
			}
			monitor.ReportBackendSuccess()
			return matches, nil
		},
	}
	secondary := fetch.SourceFunc[sportsdata.Match]{
		SourceName: string(sportsdata.TierScoreboard),
		Fn: func(ctx context.Context) ([]sportsdata.Match, error) {
			return boards.LiveMatches(ctx, leagueSlugs)
		},
	}
	tertiary := fetch.SourceFunc[sportsdata.Match]{
		SourceName: string(sportsdata.TierFallback),
		Fn: func(ctx context.Context) ([]sportsdata.Match, error) {
			return sportsdata.FallbackMatches(time.Now()), nil
		},
	}

	s.chain = fetch.NewChain("live-matches", primary, secondary, tertiary)

	// Seed from the last persisted snapshot so restarts render instantly.
	var cached []sportsdata.Match
	if kv != nil && kv.Get(liveCacheKey, &cached) {
		if at, ok := kv.StoredAt(liveCacheKey); ok {
			s.state.hydrate(cached, at)
		} else {
			s.state.hydrate(cached, time.Time{})
		}
	}

	return s
}

// OnAttempt forwards the chain's tier observer, for metrics.
func (s *LiveMatchStore) OnAttempt(fn func(fetch.Attempt)) {
	s.chain.OnAttempt(fn)
}

// OnUpdate registers a callback fired after every refresh with the fresh
// matches and the tier that served them. Used to stream snapshots.
func (s *LiveMatchStore) OnUpdate(fn func(matches []sportsdata.Match, tier string)) {
	s.onUpdate = fn
}

// Name implements reconcile.Refresher.
func (s *LiveMatchStore) Name() string { return "live-matches" }

// Reconcile implements reconcile.Refresher with a silent refresh.
func (s *LiveMatchStore) Reconcile(ctx context.Context) error {
	return s.Refresh(ctx, true)
}

// Refresh runs the fallback chain and publishes the result. In silent mode
// the loading flag is left untouched so the UI never flashes a spinner
// during background reconciliation. Returns an error only when every tier
// is exhausted.
func (s *LiveMatchStore) Refresh(ctx context.Context, silent bool) error {
	if !silent {
		s.state.setLoading()
	}

	matches, tier := s.chain.Fetch(ctx)
	s.state.setData(matches, time.Now())

	if s.cache != nil && tier != "" {
		s.cache.Put(liveCacheKey, matches)
	}
	if s.onUpdate != nil {
		s.onUpdate(matches, tier)
	}
	if tier == "" {
		return fmt.Errorf("live matches: all sources exhausted")
	}
	return nil
}

// Snapshot returns the current FetchState.
func (s *LiveMatchStore) Snapshot() FetchState[[]sportsdata.Match] {
	return s.state.Snapshot()
}

// Clear resets the store to its initial state.
func (s *LiveMatchStore) Clear() {
	s.state.reset()
}
