// Package backend is the client for the authoritative prediction backend.
// It is the primary tier of every fallback chain. HTTP error statuses are
// surfaced as *StatusError so call sites can tell "server said no" apart
// from "server never answered" — only the latter downgrades reachability.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/jhorman10/betsync/pkg/sportsdata"
)

const (
	// DefaultTimeout bounds every request to the backend.
	DefaultTimeout = 10 * time.Second

	defaultRateLimit = 10.0 // requests per second
	defaultBurst     = 5
)

// StatusError is a non-2xx response from a reachable backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Body)
}

// IsNetworkError reports whether err is a network-class failure: the
// request never produced a response. Timeouts count; HTTP error statuses,
// decode failures, and caller cancellation do not.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// Client is the backend REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Leagues fetches the league list.
func (c *Client) Leagues(ctx context.Context) ([]sportsdata.League, error) {
	var leagues []sportsdata.League
	if err := c.get(ctx, "/api/leagues", nil, &leagues); err != nil {
		return nil, err
	}
	return leagues, nil
}

// PredictionsByLeague fetches predicted matches for one league.
func (c *Client) PredictionsByLeague(ctx context.Context, leagueSlug string) ([]sportsdata.Match, error) {
	params := url.Values{}
	params.Set("league", leagueSlug)

	var matches []sportsdata.Match
	if err := c.get(ctx, "/api/predictions", params, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// MatchDetails fetches a single match by ID.
func (c *Client) MatchDetails(ctx context.Context, matchID string) (*sportsdata.Match, error) {
	var match sportsdata.Match
	if err := c.get(ctx, "/api/matches/"+url.PathEscape(matchID), nil, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

// SuggestedPicks fetches recommended bets for a match.
func (c *Client) SuggestedPicks(ctx context.Context, matchID string) ([]sportsdata.SuggestedPick, error) {
	var picks []sportsdata.SuggestedPick
	if err := c.get(ctx, "/api/matches/"+url.PathEscape(matchID)+"/picks", nil, &picks); err != nil {
		return nil, err
	}
	return picks, nil
}

// LiveMatches fetches all currently live matches with predictions attached.
// An empty list is a valid answer: live availability is legitimately sparse.
func (c *Client) LiveMatches(ctx context.Context) ([]sportsdata.Match, error) {
	var matches []sportsdata.Match
	if err := c.get(ctx, "/api/live", nil, &matches); err != nil {
		return nil, err
	}
	for i := range matches {
		matches[i].Source = sportsdata.TierBackend
	}
	return matches, nil
}

// BotStats fetches backtesting and bot performance numbers.
func (c *Client) BotStats(ctx context.Context) (*sportsdata.BotStats, error) {
	var stats sportsdata.BotStats
	if err := c.get(ctx, "/api/bot/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SubmitFeedback posts a user correction for a prediction.
func (c *Client) SubmitFeedback(ctx context.Context, fb sportsdata.Feedback) error {
	return c.post(ctx, "/api/feedback", fb, nil)
}

// TrainingStatus fetches the state of the current model training run.
func (c *Client) TrainingStatus(ctx context.Context) (*sportsdata.TrainingStatus, error) {
	var status sportsdata.TrainingStatus
	if err := c.get(ctx, "/api/training/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StartTraining kicks off a model training run.
func (c *Client) StartTraining(ctx context.Context) error {
	return c.post(ctx, "/api/training/run", nil, nil)
}

// get performs a GET request with rate limiting.
func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request with a JSON body.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
