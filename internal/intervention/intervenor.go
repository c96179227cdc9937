package intervention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/circuiterr"
	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/hashchain"
	"github.com/octoreflex/govcircuit/internal/observability"
)

// Intervenor walks an ordered gate list for one DeliberationResult, appending
// a hash-chained AuditEntry at every transition and applying rollback when
// the host reports application failure out of band.
type Intervenor struct {
	logger  *zap.Logger
	budget  *Budget
	metrics *observability.Metrics
}

// New builds an Intervenor with no enforcement-throughput limit.
func New(logger *zap.Logger) *Intervenor {
	return &Intervenor{logger: logger}
}

// WithBudget attaches a Budget that Enforce consumes from before running any
// gate, so a burst of high-impact decisions cannot exceed what the budget
// allows regardless of how quickly their gates would otherwise resolve.
func (iv *Intervenor) WithBudget(budget *Budget) *Intervenor {
	iv.budget = budget
	return iv
}

// WithMetrics attaches a Prometheus metrics sink; gate evaluations,
// rollbacks, and audit chain length are reported to it from that point on.
func (iv *Intervenor) WithMetrics(metrics *observability.Metrics) *Intervenor {
	iv.metrics = metrics
	return iv
}

// Enforce processes gates strictly in order against result. Upon any
// non-Approved gate, remaining gates are skipped. The returned
// EnforcementResult's AuditTrail always begins at hashchain.GenesisHash and
// forms a valid chain.
func (iv *Intervenor) Enforce(ctx context.Context, result deliberation.DeliberationResult, gates []Gate) (*EnforcementResult, error) {
	var trail []AuditEntry
	append1 := func(action, actor string, details map[string]any) error {
		entry, err := iv.nextEntry(trail, action, actor, details)
		if err != nil {
			return err
		}
		trail = append(trail, entry)
		return nil
	}

	if err := append1("enforcement_start", "intervenor", map[string]any{"decision": string(result.Decision), "gates": len(gates)}); err != nil {
		return nil, err
	}

	if iv.budget != nil && !iv.budget.ConsumeForDecision(result.Decision) {
		if err := append1("enforcement_blocked", "intervenor", map[string]any{"reason": "budget_exhausted"}); err != nil {
			return nil, err
		}
		return iv.finish(result, []GateResult{}, trail, false, false)
	}

	gateLog := make([]GateResult, 0, len(gates))
	for _, gate := range gates {
		if err := append1("gate_start", "intervenor", map[string]any{"gate_type": gate.Type()}); err != nil {
			return nil, err
		}

		gr, err := gate.Evaluate(ctx)
		if err != nil {
			if circuiterr.Is(err, circuiterr.KindPolicyViolation) {
				return nil, err
			}
			return nil, circuiterr.Wrap(circuiterr.KindInvalidArgument, "intervention", "evaluate gate "+gate.Type(), err)
		}
		gateLog = append(gateLog, gr)
		if iv.metrics != nil {
			iv.metrics.GatesProcessedTotal.WithLabelValues(gr.GateType, string(gr.Status)).Inc()
		}

		if err := append1("gate_check", "intervenor", map[string]any{"gate_type": gr.GateType, "status": string(gr.Status), "approvers": gr.Approvers}); err != nil {
			return nil, err
		}

		if gr.Status != StatusApproved {
			action := "enforcement_blocked"
			if gr.Status == StatusPending {
				action = "enforcement_paused"
			}
			if err := append1(action, "intervenor", map[string]any{"gate_type": gr.GateType, "status": string(gr.Status)}); err != nil {
				return nil, err
			}
			return iv.finish(result, gateLog, trail, false, false)
		}
	}

	if err := append1("enforcement_applied", "intervenor", map[string]any{}); err != nil {
		return nil, err
	}
	return iv.finish(result, gateLog, trail, true, false)
}

// ShortCircuit builds an EnforcementResult for a DeliberationResult that
// never reaches gate processing at all (Reject/Defer, per the Circuit's
// decision-to-gate mapping): a single-entry audit trail recording action at
// genesis, applied=false, rolled_back=false, gate_log=[].
func (iv *Intervenor) ShortCircuit(result deliberation.DeliberationResult, action string) (*EnforcementResult, error) {
	entry, err := iv.nextEntry(nil, action, "intervenor", map[string]any{"decision": string(result.Decision)})
	if err != nil {
		return nil, err
	}
	return iv.finish(result, []GateResult{}, []AuditEntry{entry}, false, false)
}

// NoThreshold builds the EnforcementResult for a circuit invocation that
// short-circuits before Deliberation ever runs (no event reached Warning
// severity): a single "no_threshold" audit entry at genesis, applied=true
// since nothing was ever gated.
func (iv *Intervenor) NoThreshold() (*EnforcementResult, error) {
	entry, err := iv.nextEntry(nil, "no_threshold", "intervenor", map[string]any{})
	if err != nil {
		return nil, err
	}
	return iv.finish(deliberation.DeliberationResult{}, []GateResult{}, []AuditEntry{entry}, true, false)
}

// Rollback is invoked by the host when application of an already-Applied
// EnforcementResult fails out of band. It appends rollback_start, then
// rollback_complete or rollback_failed per attempt's outcome, and updates
// er.RolledBack/er.ResultHash in place.
func (iv *Intervenor) Rollback(ctx context.Context, er *EnforcementResult, attempt func(ctx context.Context) error) error {
	if !er.Applied {
		return circuiterr.New(circuiterr.KindInvalidArgument, "intervention", "rollback requested on an enforcement that was never applied")
	}

	entry, err := iv.nextEntry(er.AuditTrail, "rollback_start", "intervenor", map[string]any{})
	if err != nil {
		return err
	}
	er.AuditTrail = append(er.AuditTrail, entry)

	rollbackErr := attempt(ctx)
	action := "rollback_complete"
	details := map[string]any{}
	if rollbackErr != nil {
		action = "rollback_failed"
		details["error"] = rollbackErr.Error()
	}
	entry, err = iv.nextEntry(er.AuditTrail, action, "intervenor", details)
	if err != nil {
		return err
	}
	er.AuditTrail = append(er.AuditTrail, entry)
	er.RolledBack = rollbackErr == nil
	if iv.metrics != nil {
		outcome := "success"
		if !er.RolledBack {
			outcome = "failed"
		}
		iv.metrics.RollbacksTotal.WithLabelValues(outcome).Inc()
	}

	hash, err := er.recomputeHash()
	if err != nil {
		return circuiterr.Wrap(circuiterr.KindInvalidArgument, "intervention", "compute result hash after rollback", err)
	}
	er.ResultHash = hash
	return nil
}

func (iv *Intervenor) finish(result deliberation.DeliberationResult, gateLog []GateResult, trail []AuditEntry, applied, rolledBack bool) (*EnforcementResult, error) {
	er := EnforcementResult{
		DecisionHash: result.AuditHash,
		Applied:      applied,
		RolledBack:   rolledBack,
		GateLog:      gateLog,
		AuditTrail:   trail,
	}
	hash, err := er.recomputeHash()
	if err != nil {
		return nil, circuiterr.Wrap(circuiterr.KindInvalidArgument, "intervention", "compute result hash", err)
	}
	er.ResultHash = hash
	iv.logger.Debug("intervention: enforcement complete",
		zap.Bool("applied", er.Applied), zap.Int("gate_log", len(er.GateLog)), zap.Int("audit_trail", len(er.AuditTrail)))
	if iv.metrics != nil {
		iv.metrics.AuditChainLength.Set(float64(len(er.AuditTrail)))
	}
	return &er, nil
}

func (iv *Intervenor) nextEntry(trail []AuditEntry, action, actor string, details map[string]any) (AuditEntry, error) {
	now := time.Now().UTC()
	content := auditEntryContent{Timestamp: now, Action: action, Actor: actor, Details: details}

	var linked hashchain.Entry
	var err error
	if len(trail) == 0 {
		linked, err = hashchain.First(content)
	} else {
		prev := trail[len(trail)-1]
		linked, err = hashchain.Append(content, hashchain.Entry{PreviousHash: prev.PreviousHash, EntryHash: prev.EntryHash})
	}
	if err != nil {
		return AuditEntry{}, circuiterr.Wrap(circuiterr.KindIntegrityError, "intervention", "compute audit entry hash", err)
	}
	return AuditEntry{
		Timestamp:    now,
		Action:       action,
		Actor:        actor,
		Details:      details,
		PreviousHash: linked.PreviousHash,
		EntryHash:    linked.EntryHash,
	}, nil
}
