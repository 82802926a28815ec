// Package sportsdata defines the shared data model for the prediction
// dashboard: leagues, matches, predictions, and suggested picks. Every
// upstream source (backend, public scoreboards, static fixtures) is
// normalized into these shapes before the rest of the system sees it.
package sportsdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	StatusScheduled MatchStatus = "scheduled"
	StatusLive      MatchStatus = "live"
	StatusHalftime  MatchStatus = "halftime"
	StatusFinished  MatchStatus = "finished"
)

// SourceTier identifies which tier of the fallback chain produced a result.
type SourceTier string

const (
	TierBackend    SourceTier = "backend"
	TierScoreboard SourceTier = "scoreboard"
	TierFallback   SourceTier = "fallback"
)

// League is a competition the dashboard can track.
type League struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// Team is one side of a match.
type Team struct {
	Name   string `json:"name"`
	Abbrev string `json:"abbrev,omitempty"`
}

// Prediction holds model output for a match. Probabilities are in [0,1]
// and sum to 1 across the three outcomes for winner markets.
type Prediction struct {
	Market       string          `json:"market"`
	HomeWin      decimal.Decimal `json:"home_win"`
	Draw         decimal.Decimal `json:"draw"`
	AwayWin      decimal.Decimal `json:"away_win"`
	Confidence   decimal.Decimal `json:"confidence"`
	ModelVersion string          `json:"model_version,omitempty"`
}

// Match is a single fixture, live or scheduled, with an optional prediction.
type Match struct {
	ID         string      `json:"id"`
	LeagueSlug string      `json:"league_slug"`
	Home       Team        `json:"home"`
	Away       Team        `json:"away"`
	KickoffAt  time.Time   `json:"kickoff_at"`
	Status     MatchStatus `json:"status"`
	HomeScore  int         `json:"home_score"`
	AwayScore  int         `json:"away_score"`
	Minute     int         `json:"minute,omitempty"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Source     SourceTier  `json:"source,omitempty"`
}

// Live reports whether the match is currently in play.
func (m *Match) Live() bool {
	return m.Status == StatusLive || m.Status == StatusHalftime
}

// SuggestedPick is a single recommended bet for a match, used by the
// parley builder.
type SuggestedPick struct {
	MatchID     string          `json:"match_id"`
	Market      string          `json:"market"`
	Selection   string          `json:"selection"`
	Probability decimal.Decimal `json:"probability"`
	Odds        decimal.Decimal `json:"odds"`
}

// BotStats summarizes backtesting and bot performance.
type BotStats struct {
	TotalBets int             `json:"total_bets"`
	Wins      int             `json:"wins"`
	Losses    int             `json:"losses"`
	HitRate   decimal.Decimal `json:"hit_rate"`
	ROI       decimal.Decimal `json:"roi"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TrainingStatus reports the state of a model training run.
type TrainingStatus struct {
	State      string    `json:"state"`
	Progress   float64   `json:"progress"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Feedback is a user-submitted correction or rating for a prediction.
type Feedback struct {
	ClientID string `json:"client_id"`
	MatchID  string `json:"match_id"`
	Market   string `json:"market"`
	Outcome  string `json:"outcome"`
	Comment  string `json:"comment,omitempty"`
}
