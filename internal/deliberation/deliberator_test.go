package deliberation_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/simulation"
)

type stubProvider struct {
	id    string
	typ   deliberation.StakeholderType
	vote  deliberation.StakeholderVote
	delay time.Duration
}

func (s stubProvider) StakeholderID() string                         { return s.id }
func (s stubProvider) StakeholderType() deliberation.StakeholderType { return s.typ }
func (s stubProvider) Vote(ctx context.Context, _ detection.ThresholdEvent, _ simulation.Prediction, _ config.TemplateConfig) (deliberation.StakeholderVote, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return deliberation.StakeholderVote{}, ctx.Err()
		}
	}
	v := s.vote
	v.StakeholderID = s.id
	v.StakeholderType = s.typ
	return v, nil
}

func emptyPrediction() simulation.Prediction {
	return simulation.Prediction{}
}

func minimalTemplate() config.TemplateConfig {
	return config.Defaults().Deliberation.Templates[2]
}

func TestDeliberate_ConfidentRejectWins(t *testing.T) {
	d := deliberation.New(zap.NewNop())
	providers := []deliberation.VoteProvider{
		stubProvider{id: "ethical-1", typ: deliberation.Ethical, vote: deliberation.StakeholderVote{Decision: deliberation.Reject, Confidence: 0.9, Rationale: "too risky"}},
		stubProvider{id: "technical-1", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Confidence: 0.6, Rationale: "looks fine"}},
	}
	result, err := d.Deliberate(context.Background(), detection.ThresholdEvent{Severity: detection.SeverityEmergency}, emptyPrediction(), providers, minimalTemplate(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != deliberation.Reject {
		t.Fatalf("expected Reject, got %s", result.Decision)
	}
}

func TestDeliberate_DissentPreservedForEveryNonMatchingVote(t *testing.T) {
	d := deliberation.New(zap.NewNop())
	providers := []deliberation.VoteProvider{
		stubProvider{id: "a", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
		stubProvider{id: "b", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
		stubProvider{id: "c", typ: deliberation.Domain, vote: deliberation.StakeholderVote{Decision: deliberation.Pause, Rationale: "wait"}},
	}
	result, err := d.Deliberate(context.Background(), detection.ThresholdEvent{Severity: detection.SeverityWarning}, emptyPrediction(), providers, minimalTemplate(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != deliberation.Proceed {
		t.Fatalf("expected Proceed (2 weight vs 1), got %s", result.Decision)
	}
	if len(result.DissentingViews) != 1 || result.DissentingViews[0].StakeholderID != "c" {
		t.Fatalf("expected exactly one dissent from stakeholder c, got %+v", result.DissentingViews)
	}
}

func TestDeliberate_DissentingViewsNeverNil(t *testing.T) {
	d := deliberation.New(zap.NewNop())
	providers := []deliberation.VoteProvider{
		stubProvider{id: "a", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
		stubProvider{id: "b", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
	}
	result, err := d.Deliberate(context.Background(), detection.ThresholdEvent{}, emptyPrediction(), providers, minimalTemplate(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DissentingViews == nil {
		t.Fatal("expected empty slice, not nil, when there is no dissent")
	}
}

func TestDeliberate_InsufficientParticipation(t *testing.T) {
	d := deliberation.New(zap.NewNop())
	providers := []deliberation.VoteProvider{
		stubProvider{id: "a", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
	}
	result, err := d.Deliberate(context.Background(), detection.ThresholdEvent{}, emptyPrediction(), providers, minimalTemplate(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != deliberation.Defer || result.Rationale != "insufficient participation" {
		t.Fatalf("expected Defer/insufficient participation, got %+v", result)
	}
}

func TestDeliberate_PhysiologicalPauseIsUniversalVeto(t *testing.T) {
	d := deliberation.New(zap.NewNop())
	providers := []deliberation.VoteProvider{
		stubProvider{id: "a", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
		stubProvider{id: "b", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
		stubProvider{id: "phys", typ: deliberation.Physiological, vote: deliberation.StakeholderVote{Decision: deliberation.Pause, Rationale: "halt"}},
	}
	result, err := d.Deliberate(context.Background(), detection.ThresholdEvent{}, emptyPrediction(), providers, minimalTemplate(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != deliberation.Pause {
		t.Fatalf("expected physiological veto to force Pause, got %s", result.Decision)
	}
}

func TestDeliberate_TimeoutRecordedAsAbstention(t *testing.T) {
	d := deliberation.New(zap.NewNop())
	providers := []deliberation.VoteProvider{
		stubProvider{id: "a", typ: deliberation.Technical, vote: deliberation.StakeholderVote{Decision: deliberation.Proceed, Rationale: "ok"}},
		stubProvider{id: "slow", typ: deliberation.Technical, delay: 200 * time.Millisecond, vote: deliberation.StakeholderVote{Decision: deliberation.Reject, Confidence: 0.9}},
	}
	result, err := d.Deliberate(context.Background(), detection.ThresholdEvent{}, emptyPrediction(), providers, minimalTemplate(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Votes) != 1 {
		t.Fatalf("expected the slow provider's vote to be absorbed as an abstention, got %d votes", len(result.Votes))
	}
}
