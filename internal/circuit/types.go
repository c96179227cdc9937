// Package circuit orchestrates the four stages — Detection, Simulation,
// Deliberation, Intervention — into a single traceable unit per proposed
// action, and applies that same unit to the circuit's own repository
// metrics (self-monitoring). Stage sequencing and cancellation handling are
// grounded on cmd/octoreflex's top-level wiring sequence, generalized from a
// process entrypoint into a single Circuit.Run call; the progression-phase
// state machine is grounded on escalation.ProcessState's mutex-guarded
// monotonic-state pattern. Each stage boundary publishes to the optional
// event bus under the exact topic namespace (threshold.detected,
// simulation.complete, deliberation.complete, intervention.complete,
// circuit.complete, circuit.cancelled), so an external subscriber can
// persist or replay a run without instrumenting Run itself.
package circuit

import (
	"time"

	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/intervention"
	"github.com/octoreflex/govcircuit/internal/simulation"
)

// MetricReading is one measured value feeding the Detector for one proposal.
type MetricReading struct {
	Metric  string
	Value   float64
	Details map[string]any
}

// Proposal is one state-mutating action submitted to the circuit for a
// proceed/block decision.
type Proposal struct {
	Target   string
	Readings []MetricReading
}

// Result is the top-level artifact for one proposed action: the detected
// event (if any), its prediction, the deliberation outcome, the enforcement
// outcome, and how long the invocation took.
type Result struct {
	Event        *detection.ThresholdEvent
	Prediction   *simulation.Prediction
	Deliberation *deliberation.DeliberationResult
	Enforcement  *intervention.EnforcementResult
	DurationMs   int64
	Cancelled    bool
}
