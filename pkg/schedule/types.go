// Package schedule provides a client for the prediction service's
// upcoming-games API and the post-processing rules applied to its output.
package schedule

import (
	"sort"
	"strings"
	"time"
)

// Game represents one scheduled matchup.
type Game struct {
	ID       int64  `json:"id"`
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Stadium  string `json:"stadium,omitempty"`
	City     string `json:"city,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Matchup returns the display form "Home (Home) vs Away (Away)".
func (g *Game) Matchup() string {
	return g.HomeTeam + " (Home) vs " + g.AwayTeam + " (Away)"
}

// kickoff layouts accepted from the upstream API.
var kickoffLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Kickoff parses the game's date and time into a single chronological
// point. ok is false when the pair cannot be parsed.
func (g *Game) Kickoff() (time.Time, bool) {
	date := strings.TrimSpace(g.Date)
	if date == "" {
		return time.Time{}, false
	}

	stamp := date
	if t := strings.TrimSpace(g.Time); t != "" {
		stamp = date + " " + t
	}

	for _, layout := range kickoffLayouts {
		if ts, err := time.Parse(layout, stamp); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// SortGames orders games ascending by kickoff. Games whose date/time
// cannot be parsed sort after every parsable game; ties break by ID so
// the ordering is deterministic.
func SortGames(games []Game) {
	sort.SliceStable(games, func(i, j int) bool {
		ki, iok := games[i].Kickoff()
		kj, jok := games[j].Kickoff()

		switch {
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		case !iok && !jok:
			return games[i].ID < games[j].ID
		}

		if ki.Equal(kj) {
			return games[i].ID < games[j].ID
		}
		return ki.Before(kj)
	})
}

// FilterValid drops entries missing a home or away team name.
func FilterValid(games []Game) []Game {
	valid := make([]Game, 0, len(games))
	for _, g := range games {
		if strings.TrimSpace(g.HomeTeam) == "" || strings.TrimSpace(g.AwayTeam) == "" {
			continue
		}
		valid = append(valid, g)
	}
	return valid
}
