package intervention_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/intervention"
)

func TestBudget_ConsumeForDecisionChargesConfiguredCost(t *testing.T) {
	b := intervention.NewBudget(10, time.Hour)
	defer b.Close()
	if !b.ConsumeForDecision(deliberation.Pause) {
		t.Fatal("expected enough tokens for one Pause decision")
	}
	if b.Remaining() != 10-intervention.CostModel[deliberation.Pause] {
		t.Fatalf("expected %d tokens remaining, got %d", 10-intervention.CostModel[deliberation.Pause], b.Remaining())
	}
}

func TestBudget_ProceedDecisionIsAlwaysFree(t *testing.T) {
	b := intervention.NewBudget(1, time.Hour)
	defer b.Close()
	for i := 0; i < 5; i++ {
		if !b.ConsumeForDecision(deliberation.Proceed) {
			t.Fatal("expected Proceed to never consume budget")
		}
	}
	if b.Remaining() != 1 {
		t.Fatalf("expected untouched capacity, got %d", b.Remaining())
	}
}

func TestEnforce_ExhaustedBudgetBlocksBeforeAnyGateRuns(t *testing.T) {
	b := intervention.NewBudget(1, time.Hour)
	defer b.Close()
	iv := intervention.New(zap.NewNop()).WithBudget(b)

	result := deliberation.DeliberationResult{AuditHash: "abc", Decision: deliberation.Pause}
	gates := []intervention.Gate{intervention.PauseGate{Condition: "manual-resume", Signal: make(chan struct{})}}

	// A Pause costs 5 tokens and the bucket holds at most 1, so the first Pause is blocked immediately.
	er, err := iv.Enforce(context.Background(), result, gates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if er.Applied {
		t.Fatal("expected applied=false when the budget is exhausted")
	}
	if len(er.GateLog) != 0 {
		t.Fatalf("expected no gates invoked once the budget blocks enforcement, got %+v", er.GateLog)
	}
	last := er.AuditTrail[len(er.AuditTrail)-1]
	if last.Action != "enforcement_blocked" || last.Details["reason"] != "budget_exhausted" {
		t.Fatalf("expected a budget_exhausted enforcement_blocked entry, got %+v", last)
	}
}
