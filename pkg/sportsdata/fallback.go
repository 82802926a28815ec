package sportsdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLeagues is the league set shown when the backend has never been
// reachable. Kept in kickoff-priority order.
var DefaultLeagues = []League{
	{ID: "1", Slug: "premier-league", Name: "Premier League", Country: "England"},
	{ID: "2", Slug: "la-liga", Name: "La Liga", Country: "Spain"},
	{ID: "3", Slug: "serie-a", Name: "Serie A", Country: "Italy"},
	{ID: "4", Slug: "bundesliga", Name: "Bundesliga", Country: "Germany"},
	{ID: "5", Slug: "ligue-1", Name: "Ligue 1", Country: "France"},
}

// FallbackMatches returns static placeholder fixtures so the dashboard is
// never empty during off-peak hours when no matches are live anywhere.
// Kickoffs are anchored to the next top of the hour.
func FallbackMatches(now time.Time) []Match {
	kickoff := now.Truncate(time.Hour).Add(time.Hour)
	return []Match{
		{
			ID:         "fallback-1",
			LeagueSlug: "premier-league",
			Home:       Team{Name: "Arsenal", Abbrev: "ARS"},
			Away:       Team{Name: "Liverpool", Abbrev: "LIV"},
			KickoffAt:  kickoff,
			Status:     StatusScheduled,
			Prediction: &Prediction{
				Market:     "winner",
				HomeWin:    decimal.NewFromFloat(0.38),
				Draw:       decimal.NewFromFloat(0.27),
				AwayWin:    decimal.NewFromFloat(0.35),
				Confidence: decimal.NewFromFloat(0.55),
			},
			Source: TierFallback,
		},
		{
			ID:         "fallback-2",
			LeagueSlug: "la-liga",
			Home:       Team{Name: "Real Madrid", Abbrev: "RMA"},
			Away:       Team{Name: "Sevilla", Abbrev: "SEV"},
			KickoffAt:  kickoff.Add(2 * time.Hour),
			Status:     StatusScheduled,
			Prediction: &Prediction{
				Market:     "winner",
				HomeWin:    decimal.NewFromFloat(0.61),
				Draw:       decimal.NewFromFloat(0.22),
				AwayWin:    decimal.NewFromFloat(0.17),
				Confidence: decimal.NewFromFloat(0.7),
			},
			Source: TierFallback,
		},
	}
}
