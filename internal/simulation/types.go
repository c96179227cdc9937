// Package simulation implements the Simulator: Monte-Carlo prediction over
// candidate scenarios for a detected ThresholdEvent. The seeded-PRNG
// discipline and per-scenario control-law scoring are grounded on the
// dominance simulator's reproducible rand.Rand usage and the control law's
// reversibility/utility scoring.
package simulation

import (
	"github.com/octoreflex/govcircuit/internal/hashchain"
)

// Outcome is one scenario's aggregated result across every Monte-Carlo run.
type Outcome struct {
	Scenario           Scenario   `json:"scenario"`
	Probability        float64    `json:"probability"`
	Reversibility      float64    `json:"reversibility"`
	SideEffects        []string   `json:"side_effects"`
	StateHash          string     `json:"state_hash"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	Variance           float64    `json:"variance"`
}

// Prediction is the Simulator's output for one triggering event.
type Prediction struct {
	EventHash      string    `json:"event_hash"`
	Seed           int64     `json:"seed"`
	MonteCarloRuns int       `json:"monte_carlo_runs"`
	Outcomes       []Outcome `json:"outcomes"`
	PredictionHash string    `json:"prediction_hash"`
}

type predictionContent struct {
	EventHash      string    `json:"event_hash"`
	Seed           int64     `json:"seed"`
	MonteCarloRuns int       `json:"monte_carlo_runs"`
	Outcomes       []Outcome `json:"outcomes"`
}

func (p Prediction) recomputeHash() (string, error) {
	return hashchain.ShortHash(predictionContent{
		EventHash:      p.EventHash,
		Seed:           p.Seed,
		MonteCarloRuns: p.MonteCarloRuns,
		Outcomes:       p.Outcomes,
	}, 16)
}

// BestOutcome returns the first (highest-probability, already sorted)
// outcome, used by the Deliberator's automated evaluators as the
// "prediction best-outcome reversibility" input.
func (p Prediction) BestOutcome() (Outcome, bool) {
	if len(p.Outcomes) == 0 {
		return Outcome{}, false
	}
	return p.Outcomes[0], true
}
