package scoreboard

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jhorman10/betsync/pkg/sportsdata"
)

func eventJSON(id, state, clock, home, away, homeScore, awayScore string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"date": "2026-08-24T14:00:00Z",
		"status": {"displayClock": %q, "type": {"state": %q}},
		"competitions": [{"competitors": [
			{"homeAway": "home", "score": %q, "team": {"displayName": %q, "abbreviation": ""}},
			{"homeAway": "away", "score": %q, "team": {"displayName": %q, "abbreviation": ""}}
		]}]
	}`, id, clock, state, homeScore, home, awayScore, away)
}

func scoreboardBody(events ...string) string {
	return `{"events":[` + strings.Join(events, ",") + `]}`
}

func TestFanOutMergesLeagues(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch {
		case strings.Contains(r.URL.Path, "eng.1"):
			fmt.Fprint(w, scoreboardBody(eventJSON("401", "in", "63'", "Arsenal", "Chelsea", "2", "1")))
		case strings.Contains(r.URL.Path, "esp.1"):
			fmt.Fprint(w, scoreboardBody(eventJSON("502", "pre", "", "Real Madrid", "Sevilla", "0", "0")))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	matches, err := c.LiveMatches(context.Background(), []string{"eng.1", "esp.1"})
	if err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 2 {
		t.Fatalf("made %d requests, want one per league", requests.Load())
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}

	byID := make(map[string]sportsdata.Match)
	for _, m := range matches {
		byID[m.ID] = m
	}
	live, ok := byID["eng.1-401"]
	if !ok {
		t.Fatalf("missing eng.1 match in %v", matches)
	}
	if live.Status != sportsdata.StatusLive || live.Minute != 63 {
		t.Fatalf("got status=%s minute=%d, want live at 63'", live.Status, live.Minute)
	}
	if live.HomeScore != 2 || live.AwayScore != 1 {
		t.Fatalf("score %d-%d, want 2-1", live.HomeScore, live.AwayScore)
	}
	if live.Source != sportsdata.TierScoreboard {
		t.Fatalf("source %q, want scoreboard tier", live.Source)
	}
	if byID["esp.1-502"].Status != sportsdata.StatusScheduled {
		t.Fatal("pre-game event should map to scheduled")
	}
}

func TestOneFailingLeagueIsTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "ger.1") {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, scoreboardBody(eventJSON("401", "in", "10'", "Arsenal", "Chelsea", "0", "0")))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	matches, err := c.LiveMatches(context.Background(), []string{"eng.1", "ger.1"})
	if err != nil {
		t.Fatalf("a single failing league must not fail the fan-out: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want the surviving league's 1", len(matches))
	}
}

func TestDuplicateFixtureAcrossFeedsIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Same fixture shows up under both slugs with name variants.
		if strings.Contains(r.URL.Path, "esp.1") {
			fmt.Fprint(w, scoreboardBody(eventJSON("1", "in", "30'", "Atlético Madrid", "Sevilla FC", "1", "0")))
			return
		}
		fmt.Fprint(w, scoreboardBody(eventJSON("2", "in", "30'", "Atletico Madrid", "Sevilla", "1", "0")))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	matches, err := c.LiveMatches(context.Background(), []string{"esp.1", "esp.copa"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want duplicates merged to 1", len(matches))
	}
}

func TestTTLSkipsNetworkOnRepoll(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, scoreboardBody(eventJSON("401", "in", "10'", "Arsenal", "Chelsea", "0", "0")))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTTL(time.Minute))
	if _, err := c.LiveMatches(context.Background(), []string{"eng.1"}); err != nil {
		t.Fatal(err)
	}
	matches, err := c.LiveMatches(context.Background(), []string{"eng.1"})
	if err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 1 {
		t.Fatalf("made %d requests, want the second poll served from the TTL cache", requests.Load())
	}
	if len(matches) != 1 {
		t.Fatalf("cached result had %d matches", len(matches))
	}

	// Expire the cache and poll again.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := c.LiveMatches(context.Background(), []string{"eng.1"}); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 2 {
		t.Fatalf("made %d requests, want a refetch after TTL expiry", requests.Load())
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		state, clock string
		want         sportsdata.MatchStatus
	}{
		{"pre", "", sportsdata.StatusScheduled},
		{"in", "63'", sportsdata.StatusLive},
		{"in", "HT", sportsdata.StatusHalftime},
		{"in", "ht", sportsdata.StatusHalftime},
		{"post", "FT", sportsdata.StatusFinished},
		{"unknown", "", sportsdata.StatusScheduled},
	}
	for _, tc := range cases {
		if got := mapStatus(tc.state, tc.clock); got != tc.want {
			t.Errorf("mapStatus(%q, %q) = %q, want %q", tc.state, tc.clock, got, tc.want)
		}
	}
}

func TestParseMinute(t *testing.T) {
	cases := []struct {
		clock string
		want  int
	}{
		{"63'", 63},
		{"90+4'", 90},
		{"45:30", 45},
		{"HT", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseMinute(tc.clock); got != tc.want {
			t.Errorf("parseMinute(%q) = %d, want %d", tc.clock, got, tc.want)
		}
	}
}
