package intervention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/hashchain"
	"github.com/octoreflex/govcircuit/internal/intervention"
)

func approvedResult() deliberation.DeliberationResult {
	return deliberation.DeliberationResult{AuditHash: "abc123"}
}

func TestEnforce_NoGatesAppliesImmediately(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	er, err := iv.Enforce(context.Background(), approvedResult(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !er.Applied || er.RolledBack {
		t.Fatalf("expected applied=true rolled_back=false, got %+v", er)
	}
	if len(er.AuditTrail) != 2 {
		t.Fatalf("expected enforcement_start + enforcement_applied, got %d entries", len(er.AuditTrail))
	}
	if er.AuditTrail[0].Action != "enforcement_start" || er.AuditTrail[0].PreviousHash != hashchain.GenesisHash {
		t.Fatalf("first entry must be enforcement_start at genesis, got %+v", er.AuditTrail[0])
	}
	if er.AuditTrail[1].Action != "enforcement_applied" {
		t.Fatalf("second entry must be enforcement_applied, got %q", er.AuditTrail[1].Action)
	}
	ok, _ := intervention.VerifyAuditTrail(*er)
	if !ok {
		t.Fatal("expected a valid audit chain")
	}
}

func TestEnforce_RejectedConditionCheckBlocksAndSkipsSubsequentGates(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	registry := intervention.NewStaticPredicateRegistry(nil) // nothing holds
	gates := []intervention.Gate{
		intervention.ConditionCheckGate{Predicates: []string{"logging_enabled"}, Registry: registry},
		intervention.HumanApprovalGate{Channel: intervention.NewMemApprovalChannel("never-resolved"), Deadline: 10 * time.Millisecond},
	}
	er, err := iv.Enforce(context.Background(), approvedResult(), gates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if er.Applied {
		t.Fatal("expected applied=false after a rejected gate")
	}
	if len(er.GateLog) != 1 {
		t.Fatalf("expected exactly one gate evaluated, got %d", len(er.GateLog))
	}
	last := er.AuditTrail[len(er.AuditTrail)-1]
	if last.Action != "enforcement_blocked" {
		t.Fatalf("expected final entry enforcement_blocked, got %q", last.Action)
	}
}

func TestEnforce_HumanApprovalGrantedAppliesAfterApproval(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	ch := intervention.NewMemApprovalChannel("ops-channel")
	go func() {
		time.Sleep(5 * time.Millisecond)
		ch.Resolve(true, "alice")
	}()
	gates := []intervention.Gate{intervention.HumanApprovalGate{Channel: ch, Deadline: time.Second}}
	er, err := iv.Enforce(context.Background(), approvedResult(), gates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !er.Applied {
		t.Fatalf("expected applied=true after approval, got %+v", er)
	}
	if len(er.GateLog) != 1 || er.GateLog[0].Approvers[0] != "alice" {
		t.Fatalf("expected approver alice recorded, got %+v", er.GateLog)
	}
}

func TestEnforce_HumanApprovalBypassAttemptFailsWithPolicyViolation(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	ch := intervention.NewMemApprovalChannel("ops-channel")
	gates := []intervention.Gate{intervention.HumanApprovalGate{Channel: ch, Deadline: time.Second}}
	ctx := intervention.WithBypassAttempt(context.Background())
	_, err := iv.Enforce(ctx, approvedResult(), gates)
	if err == nil {
		t.Fatal("expected a PolicyViolation error")
	}
}

func TestEnforce_MultiApproveRequiresNOfM(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	a := intervention.NewMemApprovalChannel("a")
	b := intervention.NewMemApprovalChannel("b")
	c := intervention.NewMemApprovalChannel("c")
	go a.Resolve(true, "a")
	go b.Resolve(true, "b")
	go c.Resolve(false, "c")
	gates := []intervention.Gate{
		intervention.MultiApproveGate{Channels: []intervention.ApprovalChannel{a, b, c}, Required: 2, Deadline: time.Second},
	}
	er, err := iv.Enforce(context.Background(), approvedResult(), gates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !er.Applied {
		t.Fatalf("expected 2-of-3 to satisfy Required=2, got %+v", er.GateLog)
	}
}

func TestEnforce_PauseGateYieldsPendingAndHaltsSequence(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	signal := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	gates := []intervention.Gate{intervention.PauseGate{Condition: "manual-resume", Signal: signal}}
	er, err := iv.Enforce(ctx, approvedResult(), gates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if er.Applied {
		t.Fatal("expected applied=false while paused")
	}
	last := er.AuditTrail[len(er.AuditTrail)-1]
	if last.Action != "enforcement_paused" {
		t.Fatalf("expected enforcement_paused, got %q", last.Action)
	}
}

func TestVerifyAuditTrail_DetectsTamperedEntry(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	er, err := iv.Enforce(context.Background(), approvedResult(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	er.AuditTrail[0].Actor = "tampered"
	ok, brokenAt := intervention.VerifyAuditTrail(*er)
	if ok || brokenAt != 0 {
		t.Fatalf("expected tamper detected at index 0, got ok=%v index=%d", ok, brokenAt)
	}
}

func TestNoThreshold_SingleEntryAppliedTrue(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	er, err := iv.NoThreshold()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !er.Applied || len(er.AuditTrail) != 1 || er.AuditTrail[0].Action != "no_threshold" {
		t.Fatalf("expected a single applied no_threshold entry, got %+v", er)
	}
}

func TestPauseSignal_ResumeUnblocksExactlyOnce(t *testing.T) {
	sig := intervention.NewPauseSignal()
	done := make(chan struct{})
	go func() {
		<-sig.C()
		close(done)
	}()
	sig.Resume()
	sig.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Resume to unblock the waiter")
	}
}

func TestRollback_FailedApplicationRecordsRollbackComplete(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	er, err := iv.Enforce(context.Background(), approvedResult(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := iv.Rollback(context.Background(), er, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	if !er.RolledBack {
		t.Fatal("expected rolled_back=true after a successful rollback attempt")
	}
	last := er.AuditTrail[len(er.AuditTrail)-1]
	if last.Action != "rollback_complete" {
		t.Fatalf("expected rollback_complete, got %q", last.Action)
	}
	ok, _ := intervention.VerifyAuditTrail(*er)
	if !ok {
		t.Fatal("expected the extended chain to remain valid")
	}
}

func TestShortCircuit_SingleEntryAuditTrail(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	er, err := iv.ShortCircuit(deliberation.DeliberationResult{Decision: deliberation.Reject, AuditHash: "xyz"}, "enforcement_blocked_by_deliberation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if er.Applied || er.RolledBack || len(er.GateLog) != 0 {
		t.Fatalf("expected applied=false rolled_back=false gate_log=[], got %+v", er)
	}
	if len(er.AuditTrail) != 1 || er.AuditTrail[0].Action != "enforcement_blocked_by_deliberation" {
		t.Fatalf("expected a single enforcement_blocked_by_deliberation entry, got %+v", er.AuditTrail)
	}
	if er.AuditTrail[0].PreviousHash != hashchain.GenesisHash {
		t.Fatalf("expected the single entry to start at genesis, got %q", er.AuditTrail[0].PreviousHash)
	}
}

func TestRollback_FailedAttemptRecordsRollbackFailed(t *testing.T) {
	iv := intervention.New(zap.NewNop())
	er, err := iv.Enforce(context.Background(), approvedResult(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := iv.Rollback(context.Background(), er, func(ctx context.Context) error { return errors.New("disk full") }); err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	if er.RolledBack {
		t.Fatal("expected rolled_back=false after a failed rollback attempt")
	}
	last := er.AuditTrail[len(er.AuditTrail)-1]
	if last.Action != "rollback_failed" {
		t.Fatalf("expected rollback_failed, got %q", last.Action)
	}
}
