// Package deliberation implements the Deliberator: stakeholder vote
// collection, weighted aggregation with a priority-ordered rule set, and
// dissent preservation. Vote accumulation and per-provider deadlines are
// grounded on the quorum package's multi-reporter accumulation with
// TTL-based pruning, generalized from anomaly-score observations to
// stakeholder votes.
package deliberation

import (
	"time"

	"github.com/octoreflex/govcircuit/internal/hashchain"
)

// StakeholderType tags the kind of participant casting a vote.
type StakeholderType string

const (
	Technical     StakeholderType = "technical"
	Ethical       StakeholderType = "ethical"
	Domain        StakeholderType = "domain"
	Physiological StakeholderType = "physiological"
	HumanOperator StakeholderType = "human-operator"
)

// Decision is a stakeholder's (or the aggregated) position.
type Decision string

const (
	Proceed     Decision = "Proceed"
	Pause       Decision = "Pause"
	Reject      Decision = "Reject"
	Defer       Decision = "Defer"
	Conditional Decision = "Conditional"
)

// StakeholderVote is one participant's position on a proposed action.
type StakeholderVote struct {
	StakeholderID   string          `json:"stakeholder_id"`
	StakeholderType StakeholderType `json:"stakeholder_type"`
	Decision        Decision        `json:"decision"`
	Rationale       string          `json:"rationale"`
	Confidence      float64         `json:"confidence"`
	Concerns        []string        `json:"concerns"`
	Conditions      []string        `json:"conditions"`
	Timestamp       time.Time       `json:"timestamp"`
}

// DissentRecord preserves a minority vote verbatim alongside the majority
// decision it disagreed with.
type DissentRecord struct {
	StakeholderID     string   `json:"stakeholder_id"`
	MajorityDecision  Decision `json:"majority_decision"`
	PreferredDecision Decision `json:"preferred_decision"`
	Rationale         string   `json:"rationale"`
	Concerns          []string `json:"concerns"`
}

// DeliberationResult is the Deliberator's output for one event.
type DeliberationResult struct {
	SessionID       string            `json:"session_id"`
	Decision        Decision          `json:"decision"`
	Rationale       string            `json:"rationale"`
	Votes           []StakeholderVote `json:"votes"`
	DissentingViews []DissentRecord   `json:"dissenting_views"`
	Conditions      []string          `json:"conditions"`
	AuditHash       string            `json:"audit_hash"`
}

type resultContent struct {
	SessionID       string            `json:"session_id"`
	Decision        Decision          `json:"decision"`
	Rationale       string            `json:"rationale"`
	Votes           []StakeholderVote `json:"votes"`
	DissentingViews []DissentRecord   `json:"dissenting_views"`
	Conditions      []string          `json:"conditions"`
}

func (r DeliberationResult) recomputeHash() (string, error) {
	return hashchain.ShortHash(resultContent{
		SessionID:       r.SessionID,
		Decision:        r.Decision,
		Rationale:       r.Rationale,
		Votes:           r.Votes,
		DissentingViews: r.DissentingViews,
		Conditions:      r.Conditions,
	}, 16)
}
