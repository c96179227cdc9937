package deliberation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/circuiterr"
	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/observability"
	"github.com/octoreflex/govcircuit/internal/simulation"
)

// voteWeight is the aggregation weight of a vote: human-operator votes
// count double, per the tie-break rule.
func voteWeight(v StakeholderVote) float64 {
	if v.StakeholderType == HumanOperator {
		return 2
	}
	return 1
}

// Deliberator collects stakeholder votes and aggregates them into a
// DeliberationResult.
type Deliberator struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New builds a Deliberator.
func New(logger *zap.Logger) *Deliberator {
	return &Deliberator{logger: logger}
}

// WithMetrics attaches a Prometheus metrics sink; every vote collected and
// every aggregated decision from that point on is counted by it.
func (d *Deliberator) WithMetrics(metrics *observability.Metrics) *Deliberator {
	d.metrics = metrics
	return d
}

// Deliberate elicits a vote from every provider (respecting perProviderTimeout
// as an abstention deadline) and aggregates the result per the priority-ordered
// rule set. template is the active deliberation template (spec.md §4.3); each
// provider may use it to weigh its own dimensions.
func (d *Deliberator) Deliberate(ctx context.Context, event detection.ThresholdEvent, prediction simulation.Prediction, providers []VoteProvider, template config.TemplateConfig, perProviderTimeout time.Duration) (*DeliberationResult, error) {
	if perProviderTimeout <= 0 {
		return nil, circuiterr.New(circuiterr.KindInvalidArgument, "deliberator", "perProviderTimeout must be positive")
	}

	votes := make([]StakeholderVote, 0, len(providers))
	for _, p := range providers {
		vote, abstained := d.collectVote(ctx, p, event, prediction, template, perProviderTimeout)
		if abstained {
			d.logger.Warn("deliberation: vote provider timed out, recording abstention",
				zap.String("stakeholder_id", p.StakeholderID()))
			continue
		}
		votes = append(votes, vote)
		if d.metrics != nil {
			d.metrics.VotesCastTotal.WithLabelValues(string(vote.Decision)).Inc()
		}
	}

	result := aggregate(votes)
	result.SessionID = uuid.NewString()

	hash, err := result.recomputeHash()
	if err != nil {
		return nil, circuiterr.Wrap(circuiterr.KindInvalidArgument, "deliberator", "compute audit hash", err)
	}
	result.AuditHash = hash

	d.logger.Debug("deliberation: aggregated",
		zap.String("session_id", result.SessionID),
		zap.String("decision", string(result.Decision)),
		zap.Int("votes", len(result.Votes)))
	if d.metrics != nil {
		d.metrics.DeliberationDecisionsTotal.WithLabelValues(string(result.Decision)).Inc()
	}

	return &result, nil
}

// collectVote calls provider.Vote with a wall-clock deadline. If the
// provider doesn't respond within timeout, the vote is treated as an
// abstention (abstained=true) and does not block aggregation.
func (d *Deliberator) collectVote(ctx context.Context, provider VoteProvider, event detection.ThresholdEvent, prediction simulation.Prediction, template config.TemplateConfig, timeout time.Duration) (StakeholderVote, bool) {
	voteCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		vote StakeholderVote
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := provider.Vote(voteCtx, event, prediction, template)
		ch <- result{vote: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			d.logger.Warn("deliberation: vote provider returned error, recording abstention",
				zap.String("stakeholder_id", provider.StakeholderID()), zap.Error(r.err))
			return StakeholderVote{}, true
		}
		return r.vote, false
	case <-voteCtx.Done():
		return StakeholderVote{}, true
	}
}

// aggregate applies the priority-ordered aggregation rules and dissent
// preservation to votes. It does not set SessionID or AuditHash.
func aggregate(votes []StakeholderVote) DeliberationResult {
	if len(votes) < 2 {
		return DeliberationResult{
			Decision:        Defer,
			Rationale:       "insufficient participation",
			Votes:           votes,
			DissentingViews: []DissentRecord{},
			Conditions:      []string{},
		}
	}

	decision := decide(votes)
	conditions := unionConditions(votes, decision)
	rationale := winningRationale(votes, decision)
	dissent := dissentingViews(votes, decision)

	return DeliberationResult{
		Decision:        decision,
		Rationale:       rationale,
		Votes:           votes,
		DissentingViews: dissent,
		Conditions:      conditions,
	}
}

// decide applies the physiological universal veto and the priority-ordered
// aggregation rules, in that order.
func decide(votes []StakeholderVote) Decision {
	for _, v := range votes {
		if v.StakeholderType == Physiological && v.Decision == Pause {
			return Pause
		}
	}

	for _, v := range votes {
		if v.Decision == Reject && v.Confidence >= 0.8 {
			return Reject
		}
	}

	var pauseWeight, proceedWeight, conditionalWeight float64
	hasConditional := false
	for _, v := range votes {
		w := voteWeight(v)
		switch v.Decision {
		case Pause:
			pauseWeight += w
		case Proceed:
			proceedWeight += w
		case Conditional:
			conditionalWeight += w
			hasConditional = true
		}
	}

	if pauseWeight > proceedWeight+conditionalWeight {
		return Pause
	}
	if hasConditional {
		return Conditional
	}
	if proceedWeight > pauseWeight {
		return Proceed
	}
	return Defer
}

func unionConditions(votes []StakeholderVote, decision Decision) []string {
	if decision != Conditional {
		return []string{}
	}
	seen := map[string]bool{}
	var out []string
	for _, v := range votes {
		if v.Decision != Conditional && v.Decision != Proceed {
			continue
		}
		for _, c := range v.Conditions {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func winningRationale(votes []StakeholderVote, decision Decision) string {
	var parts []string
	for _, v := range votes {
		if v.Decision == decision {
			parts = append(parts, v.Rationale)
		}
	}
	return strings.Join(parts, "; ")
}

func dissentingViews(votes []StakeholderVote, decision Decision) []DissentRecord {
	out := []DissentRecord{}
	for _, v := range votes {
		if v.Decision == decision {
			continue
		}
		out = append(out, DissentRecord{
			StakeholderID:     v.StakeholderID,
			MajorityDecision:  decision,
			PreferredDecision: v.Decision,
			Rationale:         v.Rationale,
			Concerns:          v.Concerns,
		})
	}
	return out
}
