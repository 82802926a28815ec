package sportsdata

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTeamName canonicalizes a team name so that the same club reported
// by different sources ("Atlético Madrid", "Atletico Madrid FC") maps to one
// key. Used when merging scoreboard results with backend predictions.
func NormalizeTeamName(name string) string {
	name = strings.ToLower(name)

	stripped, _, err := transform.String(accentStripper, name)
	if err == nil {
		name = stripped
	}

	// Drop common club suffixes
	for _, suffix := range []string{" fc", " afc", " cf", " sc"} {
		name = strings.TrimSuffix(name, suffix)
	}

	name = strings.Join(strings.Fields(name), " ")
	return strings.TrimSpace(name)
}

// SameTeam reports whether two reported names refer to the same club.
func SameTeam(a, b string) bool {
	return NormalizeTeamName(a) == NormalizeTeamName(b)
}
