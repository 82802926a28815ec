// Package scoreboard is the secondary tier of the live-match fallback
// chain: an unauthenticated public scoreboard API queried once per league
// slug. Individual league requests are best-effort — one failing league
// never aborts the others — and merged responses are cached in-process for
// a short TTL to absorb rapid re-polls.
package scoreboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jhorman10/betsync/pkg/sportsdata"
)

const (
	// DefaultBaseURL is the public scoreboard API root.
	DefaultBaseURL = "https://site.api.espn.com/apis/site/v2/sports/soccer"

	// DefaultTTL is how long a merged fan-out result is reused.
	DefaultTTL = 15 * time.Second

	// DefaultConcurrency bounds the league fan-out.
	DefaultConcurrency = 4

	defaultRateLimit = 5.0
	defaultBurst     = 5
)

// Client fetches live matches from the public scoreboard API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	concurrency int
	ttl         time.Duration

	mu       sync.Mutex
	cached   []sportsdata.Match
	cachedAt time.Time

	now func() time.Time
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithTTL overrides the in-process result TTL.
func WithTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.ttl = ttl }
}

// WithConcurrency bounds the per-league fan-out.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n >= 1 {
			c.concurrency = n
		}
	}
}

// NewClient creates a scoreboard client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		concurrency: DefaultConcurrency,
		ttl:         DefaultTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LiveMatches fans out one scoreboard request per league slug, tolerating
// individual failures, and returns the merged, deduplicated matches. A
// merged result younger than the TTL is returned without any network
// traffic.
func (c *Client) LiveMatches(ctx context.Context, leagueSlugs []string) ([]sportsdata.Match, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.ttl {
		cached := make([]sportsdata.Match, len(c.cached))
		copy(cached, c.cached)
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	results := make([][]sportsdata.Match, len(leagueSlugs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, slug := range leagueSlugs {
		g.Go(func() error {
			matches, err := c.fetchLeague(gctx, slug)
			if err != nil {
				// Best-effort: log and keep going with other leagues.
				log.Printf("[SCOREBOARD] %s failed: %v", slug, err)
				return nil
			}
			results[i] = matches
			return nil
		})
	}
	// Errors are swallowed per league, so Wait only propagates ctx errors.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeResults(results)

	c.mu.Lock()
	c.cached = merged
	c.cachedAt = c.now()
	c.mu.Unlock()

	out := make([]sportsdata.Match, len(merged))
	copy(out, merged)
	return out, nil
}

// mergeResults flattens per-league results, dropping duplicate fixtures
// that appear in more than one feed (cup games show up under both domestic
// slugs). Identity is the normalized home/away pair.
func mergeResults(results [][]sportsdata.Match) []sportsdata.Match {
	merged := make([]sportsdata.Match, 0)
	seen := make(map[string]bool)
	for _, matches := range results {
		for _, m := range matches {
			key := sportsdata.NormalizeTeamName(m.Home.Name) + "|" + sportsdata.NormalizeTeamName(m.Away.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, m)
		}
	}
	return merged
}

// scoreboardResponse is the subset of the public API payload we consume.
type scoreboardResponse struct {
	Events []struct {
		ID     string `json:"id"`
		Date   string `json:"date"`
		Status struct {
			DisplayClock string `json:"displayClock"`
			Type         struct {
				State     string `json:"state"`
				Completed bool   `json:"completed"`
			} `json:"type"`
		} `json:"status"`
		Competitions []struct {
			Competitors []struct {
				HomeAway string `json:"homeAway"`
				Score    string `json:"score"`
				Team     struct {
					DisplayName  string `json:"displayName"`
					Abbreviation string `json:"abbreviation"`
				} `json:"team"`
			} `json:"competitors"`
		} `json:"competitions"`
	} `json:"events"`
}

func (c *Client) fetchLeague(ctx context.Context, slug string) ([]sportsdata.Match, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + "/" + slug + "/scoreboard"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scoreboard error %d: %s", resp.StatusCode, string(body))
	}

	var sb scoreboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&sb); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return normalize(slug, &sb), nil
}

// normalize maps the scoreboard payload into the shared Match shape.
func normalize(slug string, sb *scoreboardResponse) []sportsdata.Match {
	matches := make([]sportsdata.Match, 0, len(sb.Events))
	for _, ev := range sb.Events {
		if len(ev.Competitions) == 0 {
			continue
		}

		m := sportsdata.Match{
			ID:         slug + "-" + ev.ID,
			LeagueSlug: slug,
			Status:     mapStatus(ev.Status.Type.State, ev.Status.DisplayClock),
			Source:     sportsdata.TierScoreboard,
		}
		if t, err := time.Parse(time.RFC3339, ev.Date); err == nil {
			m.KickoffAt = t
		}
		m.Minute = parseMinute(ev.Status.DisplayClock)

		for _, comp := range ev.Competitions[0].Competitors {
			team := sportsdata.Team{
				Name:   comp.Team.DisplayName,
				Abbrev: comp.Team.Abbreviation,
			}
			score, _ := strconv.Atoi(comp.Score)
			if comp.HomeAway == "home" {
				m.Home, m.HomeScore = team, score
			} else {
				m.Away, m.AwayScore = team, score
			}
		}

		matches = append(matches, m)
	}
	return matches
}

func mapStatus(state, clock string) sportsdata.MatchStatus {
	switch state {
	case "pre":
		return sportsdata.StatusScheduled
	case "in":
		if strings.EqualFold(strings.TrimSpace(clock), "HT") {
			return sportsdata.StatusHalftime
		}
		return sportsdata.StatusLive
	case "post":
		return sportsdata.StatusFinished
	default:
		return sportsdata.StatusScheduled
	}
}

func parseMinute(clock string) int {
	clock = strings.TrimSuffix(strings.TrimSpace(clock), "'")
	if i := strings.IndexAny(clock, "+:"); i >= 0 {
		clock = clock[:i]
	}
	minute, err := strconv.Atoi(clock)
	if err != nil {
		return 0
	}
	return minute
}
