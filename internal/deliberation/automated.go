package deliberation

import (
	"context"
	"fmt"
	"time"

	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/simulation"
)

// AutomatedProvider is a bundled evaluator that derives its vote from event
// severity, the prediction's best-outcome reversibility, and that outcome's
// side-effect tags, and attaches a rationale referencing those inputs.
type AutomatedProvider struct {
	id  string
	typ StakeholderType
}

// NewAutomatedProvider builds an automated VoteProvider for one stakeholder.
func NewAutomatedProvider(id string, typ StakeholderType) *AutomatedProvider {
	return &AutomatedProvider{id: id, typ: typ}
}

func (p *AutomatedProvider) StakeholderID() string           { return p.id }
func (p *AutomatedProvider) StakeholderType() StakeholderType { return p.typ }

func (p *AutomatedProvider) Vote(_ context.Context, event detection.ThresholdEvent, prediction simulation.Prediction, template config.TemplateConfig) (StakeholderVote, error) {
	best, hasOutcome := prediction.BestOutcome()
	score := templateScore(template, event, best, hasOutcome)

	vote := StakeholderVote{
		StakeholderID:   p.id,
		StakeholderType: p.typ,
		Timestamp:       time.Now().UTC(),
	}

	switch {
	case event.Severity == detection.SeverityEmergency && (!hasOutcome || best.Reversibility < 0.3):
		vote.Decision = Reject
		vote.Confidence = 0.85
		vote.Concerns = []string{"low reversibility at emergency severity"}
		vote.Rationale = fmt.Sprintf("severity=%s, template=%s score=%.2f, best-outcome reversibility=%.2f: risk of an irreversible action is too high", event.Severity, template.Name, score, best.Reversibility)

	case score < 0.35:
		vote.Decision = Reject
		vote.Confidence = 0.8
		vote.Concerns = []string{fmt.Sprintf("template %s weighted score %.2f below acceptable floor", template.Name, score)}
		vote.Rationale = fmt.Sprintf("severity=%s, template=%s score=%.2f: weighted dimensions fall below the reject floor", event.Severity, template.Name, score)

	case score < 0.65 || (hasOutcome && len(best.SideEffects) > 0 && event.Severity.AtLeastWarning()):
		vote.Decision = Conditional
		vote.Confidence = 0.6
		vote.Conditions = []string{"logging_enabled", "rollback_available"}
		vote.Concerns = append(vote.Concerns, best.SideEffects...)
		vote.Rationale = fmt.Sprintf("severity=%s, template=%s score=%.2f, best outcome %q carries side effects %v: require logging and rollback before proceeding", event.Severity, template.Name, score, best.Scenario, best.SideEffects)

	default:
		vote.Decision = Proceed
		vote.Confidence = 0.5 + 0.5*score
		vote.Rationale = fmt.Sprintf("severity=%s, template=%s score=%.2f, best-outcome reversibility=%.2f: acceptable risk", event.Severity, template.Name, score, best.Reversibility)
	}

	return vote, nil
}

// dimensionScore rates one named dimension in [0,1] (1 = safest) against the
// event and the prediction's best outcome, per the heuristics named in the
// dimension's built-in question (spec.md's deliberation template structure).
func dimensionScore(name string, event detection.ThresholdEvent, best simulation.Outcome, hasOutcome bool) float64 {
	switch name {
	case "reversibility", "rollback-capability":
		if !hasOutcome {
			return 0
		}
		return best.Reversibility
	case "legibility", "transparency", "auditability":
		if hasOutcome && len(best.SideEffects) > 0 {
			return 0.5
		}
		return 1.0
	case "governance", "scope-limitation", "human-veto":
		switch event.Severity {
		case detection.SeverityEmergency:
			return 0.2
		case detection.SeverityCritical:
			return 0.4
		case detection.SeverityWarning:
			return 0.7
		default:
			return 1.0
		}
	case "paradigm-safety", "risk-level":
		switch event.Severity {
		case detection.SeverityEmergency:
			return 0.1
		case detection.SeverityCritical:
			return 0.3
		case detection.SeverityWarning:
			return 0.6
		default:
			return 1.0
		}
	default:
		return 0.5
	}
}

// templateScore is the weight-normalized sum of dimensionScore across a
// template's dimensions. An empty template scores neutral (0.5).
func templateScore(template config.TemplateConfig, event detection.ThresholdEvent, best simulation.Outcome, hasOutcome bool) float64 {
	if len(template.Dimensions) == 0 {
		return 0.5
	}
	var weighted, totalWeight float64
	for _, d := range template.Dimensions {
		weighted += d.Weight * dimensionScore(d.Name, event, best, hasOutcome)
		totalWeight += d.Weight
	}
	if totalWeight == 0 {
		return 0.5
	}
	return weighted / totalWeight
}
