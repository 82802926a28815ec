package dashboard

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhorman10/betsync/pkg/cache"
	"github.com/jhorman10/betsync/pkg/connectivity"
	"github.com/jhorman10/betsync/pkg/sportsdata"
	"github.com/jhorman10/betsync/pkg/sportsdata/backend"
)

// PickService serves the parley builder: suggested picks per match and
// feedback submission. Picks are cached per match so a selected parley
// survives a backend outage; feedback is stamped with a client-generated
// ID so the backend can deduplicate retries.
type PickService struct {
	client  *backend.Client
	monitor connectivity.Reporter
	cache   *cache.Cache
}

// NewPickService creates the service.
func NewPickService(client *backend.Client, monitor connectivity.Reporter, kv *cache.Cache) *PickService {
	return &PickService{client: client, monitor: monitor, cache: kv}
}

func picksCacheKey(matchID string) string {
	return "picks-" + matchID
}

// Picks returns suggested picks for a match, falling back to the cached
// list when the backend is unreachable.
func (p *PickService) Picks(ctx context.Context, matchID string) ([]sportsdata.SuggestedPick, error) {
	ctx, cancel := context.WithTimeout(ctx, backend.DefaultTimeout)
	defer cancel()

	picks, err := p.client.SuggestedPicks(ctx, matchID)
	if err != nil {
		if backend.IsNetworkError(err) {
			p.monitor.ReportNetworkError()
			var cached []sportsdata.SuggestedPick
			if p.cache != nil && p.cache.Get(picksCacheKey(matchID), &cached) {
				return cached, nil
			}
		} else {
			p.monitor.ReportBackendSuccess()
		}
		return nil, fmt.Errorf("picks %s: %w", matchID, err)
	}

	p.monitor.ReportBackendSuccess()
	if p.cache != nil {
		p.cache.Put(picksCacheKey(matchID), picks)
	}
	return picks, nil
}

// MatchDetails returns one match by ID, for the live-match viewer.
func (p *PickService) MatchDetails(ctx context.Context, matchID string) (*sportsdata.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, backend.DefaultTimeout)
	defer cancel()

	match, err := p.client.MatchDetails(ctx, matchID)
	if err != nil {
		if backend.IsNetworkError(err) {
			p.monitor.ReportNetworkError()
		} else {
			p.monitor.ReportBackendSuccess()
		}
		return nil, fmt.Errorf("match %s: %w", matchID, err)
	}
	p.monitor.ReportBackendSuccess()
	return match, nil
}

// SubmitFeedback posts prediction feedback, assigning a client ID when the
// caller did not provide one.
func (p *PickService) SubmitFeedback(ctx context.Context, fb sportsdata.Feedback) error {
	if fb.ClientID == "" {
		fb.ClientID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(ctx, backend.DefaultTimeout)
	defer cancel()

	if err := p.client.SubmitFeedback(ctx, fb); err != nil {
		if backend.IsNetworkError(err) {
			p.monitor.ReportNetworkError()
		} else {
			p.monitor.ReportBackendSuccess()
		}
		return fmt.Errorf("feedback %s: %w", fb.MatchID, err)
	}
	p.monitor.ReportBackendSuccess()
	return nil
}
