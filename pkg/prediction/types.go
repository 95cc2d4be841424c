// Package prediction provides a client for the remote prediction API.
// The analysis itself is produced upstream; this package only fetches
// and decodes the payload unlocked for a paid event.
package prediction

import (
	"github.com/shopspring/decimal"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/schedule"
)

// Prediction is the analytical payload for a single matchup.
type Prediction struct {
	Matchup             string              `json:"matchup"`
	Date                string              `json:"date,omitempty"`
	StatisticalAnalysis StatisticalAnalysis `json:"statistical_analysis"`

	// Per-team confidence, 0-100.
	ConfidenceScores map[string]decimal.Decimal `json:"confidence_scores,omitempty"`

	BettingRecommendations []Recommendation `json:"betting_recommendations"`
}

// StatisticalAnalysis groups the per-team advantage notes.
type StatisticalAnalysis struct {
	// Advantages maps team name to an ordered list of edges the
	// analysis found for that team.
	Advantages map[string][]string `json:"advantages"`
}

// Recommendation is a single suggested bet.
type Recommendation struct {
	Type        string          `json:"type"` // "spread", "total", "moneyline"
	Bet         string          `json:"bet"`
	Odds        decimal.Decimal `json:"odds"`
	Confidence  decimal.Decimal `json:"confidence"`
	Explanation string          `json:"explanation,omitempty"`
}

// ConfidenceFor returns the confidence score for a team, matching by
// normalized name so schedule and prediction spellings can differ.
func (p *Prediction) ConfidenceFor(team string) (decimal.Decimal, bool) {
	if score, ok := p.ConfidenceScores[team]; ok {
		return score, true
	}
	for name, score := range p.ConfidenceScores {
		if schedule.SameTeam(name, team) {
			return score, true
		}
	}
	return decimal.Zero, false
}

// AdvantagesFor returns the advantage notes for a team by normalized
// name match.
func (p *Prediction) AdvantagesFor(team string) []string {
	if adv, ok := p.StatisticalAnalysis.Advantages[team]; ok {
		return adv
	}
	for name, adv := range p.StatisticalAnalysis.Advantages {
		if schedule.SameTeam(name, team) {
			return adv
		}
	}
	return nil
}
