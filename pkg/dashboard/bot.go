package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jhorman10/betsync/pkg/cache"
	"github.com/jhorman10/betsync/pkg/connectivity"
	"github.com/jhorman10/betsync/pkg/sportsdata"
	"github.com/jhorman10/betsync/pkg/sportsdata/backend"
)

const botCacheKey = "bot-dashboard"

// BotDashboard aggregates the bot-performance panel: backtest stats plus
// the current training run.
type BotDashboard struct {
	Stats    *sportsdata.BotStats       `json:"stats,omitempty"`
	Training *sportsdata.TrainingStatus `json:"training,omitempty"`
}

// BotStatsStore serves the backtesting/bot-performance panel. Stats and
// training status are fetched independently so one failing endpoint does
// not blank the other half of the panel.
type BotStatsStore struct {
	client  *backend.Client
	monitor connectivity.Reporter
	cache   *cache.Cache
	state   *state[BotDashboard]
}

// NewBotStatsStore creates the store, seeded from the cache.
func NewBotStatsStore(client *backend.Client, monitor connectivity.Reporter, kv *cache.Cache) *BotStatsStore {
	s := &BotStatsStore{
		client:  client,
		monitor: monitor,
		cache:   kv,
		state:   newState[BotDashboard](),
	}
	if kv != nil {
		var cached BotDashboard
		if kv.Get(botCacheKey, &cached) {
			at, _ := kv.StoredAt(botCacheKey)
			s.state.hydrate(cached, at)
		}
	}
	return s
}

// Name implements reconcile.Refresher.
func (s *BotStatsStore) Name() string { return "bot-stats" }

// Reconcile implements reconcile.Refresher with a silent refresh.
func (s *BotStatsStore) Reconcile(ctx context.Context) error {
	return s.Refresh(ctx, true)
}

// Refresh fetches stats and training status, tolerating partial failure.
func (s *BotStatsStore) Refresh(ctx context.Context, silent bool) error {
	if !silent {
		s.state.setLoading()
	}

	ctx, cancel := context.WithTimeout(ctx, backend.DefaultTimeout)
	defer cancel()

	dash := s.state.Snapshot().Data
	var errs []error

	stats, err := s.client.BotStats(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("bot stats: %w", err))
	} else {
		dash.Stats = stats
	}

	training, err := s.client.TrainingStatus(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("training status: %w", err))
	} else {
		dash.Training = training
	}

	combined := errors.Join(errs...)
	if combined != nil && backend.IsNetworkError(combined) {
		s.monitor.ReportNetworkError()
		s.state.setError("backend unavailable, showing cached bot stats")
		return combined
	}
	s.monitor.ReportBackendSuccess()

	if len(errs) == 2 {
		s.state.setError("bot dashboard failed to load")
		return combined
	}

	s.state.setData(dash, time.Now())
	if s.cache != nil {
		s.cache.Put(botCacheKey, dash)
	}
	return combined
}

// Snapshot returns the current FetchState.
func (s *BotStatsStore) Snapshot() FetchState[BotDashboard] {
	return s.state.Snapshot()
}
