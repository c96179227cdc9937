package intervention

import (
	"context"
	"fmt"
	"time"

	"github.com/octoreflex/govcircuit/internal/circuiterr"
)

// bypassContextKey is the context key a caller must never set on a production path;
// its presence is treated as an attempt to short-circuit HumanApproval and
// fails closed with PolicyViolation. It exists so the "no code path bypasses
// HumanApproval" invariant has something concrete to test against.
type bypassContextKey struct{}

// WithBypassAttempt marks ctx as attempting to bypass human approval. No
// production caller should ever do this; it exists for policy-violation
// testing.
func WithBypassAttempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassContextKey{}, true)
}

func isBypassAttempt(ctx context.Context) bool {
	v, _ := ctx.Value(bypassContextKey{}).(bool)
	return v
}

// Gate is one link in the Intervenor's ordered enforcement chain.
type Gate interface {
	Type() string
	Evaluate(ctx context.Context) (GateResult, error)
}

// HumanApprovalGate blocks on an ApprovalChannel until a response or its
// deadline.
type HumanApprovalGate struct {
	Channel  ApprovalChannel
	Deadline time.Duration
}

func (g HumanApprovalGate) Type() string { return "HumanApproval" }

func (g HumanApprovalGate) Evaluate(ctx context.Context) (GateResult, error) {
	if isBypassAttempt(ctx) {
		return GateResult{}, circuiterr.New(circuiterr.KindPolicyViolation, "intervention", "human approval cannot be bypassed")
	}
	if g.Channel == nil {
		return GateResult{}, circuiterr.New(circuiterr.KindInvalidArgument, "intervention", "HumanApproval gate requires a channel")
	}

	deadline := g.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	approved, approver, err := g.Channel.RequestApproval(waitCtx, g.Channel.ID())
	now := time.Now().UTC()
	if err != nil {
		return GateResult{
			GateType:  g.Type(),
			Status:    StatusTimeout,
			Approvers: []string{},
			Details:   map[string]any{"channel": g.Channel.ID(), "error": err.Error()},
			Timestamp: now,
		}, nil
	}
	status := StatusRejected
	approvers := []string{}
	if approved {
		status = StatusApproved
		approvers = []string{approver}
	}
	return GateResult{
		GateType:  g.Type(),
		Status:    status,
		Approvers: approvers,
		Details:   map[string]any{"channel": g.Channel.ID()},
		Timestamp: now,
	}, nil
}

// TimeoutGate bounds total enforcement latency: Rejected if deadline has
// already elapsed relative to Since, else Approved and the sequence
// continues.
type TimeoutGate struct {
	Since   time.Time
	Timeout time.Duration
}

func (g TimeoutGate) Type() string { return "Timeout" }

func (g TimeoutGate) Evaluate(ctx context.Context) (GateResult, error) {
	elapsed := time.Since(g.Since)
	status := StatusApproved
	if elapsed >= g.Timeout {
		status = StatusRejected
	}
	return GateResult{
		GateType:  g.Type(),
		Status:    status,
		Approvers: []string{},
		Details:   map[string]any{"elapsed_ms": elapsed.Milliseconds(), "bound_ms": g.Timeout.Milliseconds()},
		Timestamp: time.Now().UTC(),
	}, nil
}

// MultiApproveGate requires Required distinct approvals out of its
// Channels population.
type MultiApproveGate struct {
	Channels []ApprovalChannel
	Required int
	Deadline time.Duration
}

func (g MultiApproveGate) Type() string { return "MultiApprove" }

func (g MultiApproveGate) Evaluate(ctx context.Context) (GateResult, error) {
	if isBypassAttempt(ctx) {
		return GateResult{}, circuiterr.New(circuiterr.KindPolicyViolation, "intervention", "multi-approve cannot be bypassed")
	}
	if g.Required < 1 || g.Required > len(g.Channels) {
		return GateResult{}, circuiterr.New(circuiterr.KindInvalidArgument, "intervention", fmt.Sprintf("MultiApprove requires 1<=N<=%d, got %d", len(g.Channels), g.Required))
	}

	deadline := g.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		approved bool
		approver string
		err      error
	}
	results := make(chan outcome, len(g.Channels))
	for _, ch := range g.Channels {
		ch := ch
		go func() {
			approved, approver, err := ch.RequestApproval(waitCtx, ch.ID())
			results <- outcome{approved: approved, approver: approver, err: err}
		}()
	}

	approvers := []string{}
	remaining := len(g.Channels)
	for remaining > 0 {
		select {
		case r := <-results:
			remaining--
			if r.err != nil {
				continue
			}
			if !r.approved {
				return GateResult{
					GateType:  g.Type(),
					Status:    StatusRejected,
					Approvers: approvers,
					Details:   map[string]any{"required": g.Required, "rejected_by": r.approver},
					Timestamp: time.Now().UTC(),
				}, nil
			}
			approvers = append(approvers, r.approver)
			if len(approvers) >= g.Required {
				return GateResult{
					GateType:  g.Type(),
					Status:    StatusApproved,
					Approvers: approvers,
					Details:   map[string]any{"required": g.Required},
					Timestamp: time.Now().UTC(),
				}, nil
			}
			if len(approvers)+remaining < g.Required {
				return GateResult{
					GateType:  g.Type(),
					Status:    StatusRejected,
					Approvers: approvers,
					Details:   map[string]any{"required": g.Required, "reason": "cannot reach required approvals"},
					Timestamp: time.Now().UTC(),
				}, nil
			}
		case <-waitCtx.Done():
			return GateResult{
				GateType:  g.Type(),
				Status:    StatusTimeout,
				Approvers: approvers,
				Details:   map[string]any{"required": g.Required},
				Timestamp: time.Now().UTC(),
			}, nil
		}
	}
	return GateResult{
		GateType:  g.Type(),
		Status:    StatusRejected,
		Approvers: approvers,
		Details:   map[string]any{"required": g.Required, "reason": "population exhausted"},
		Timestamp: time.Now().UTC(),
	}, nil
}

// ConditionCheckGate evaluates named predicates against a registry.
// Approved iff every predicate passes.
type ConditionCheckGate struct {
	Predicates []string
	Registry   PredicateRegistry
}

func (g ConditionCheckGate) Type() string { return "ConditionCheck" }

func (g ConditionCheckGate) Evaluate(ctx context.Context) (GateResult, error) {
	if g.Registry == nil {
		return GateResult{}, circuiterr.New(circuiterr.KindInvalidArgument, "intervention", "ConditionCheck gate requires a predicate registry")
	}
	failed := []string{}
	for _, name := range g.Predicates {
		holds, err := g.Registry.Check(name)
		if err != nil || !holds {
			failed = append(failed, name)
		}
	}
	status := StatusApproved
	if len(failed) > 0 {
		status = StatusRejected
	}
	return GateResult{
		GateType:  g.Type(),
		Status:    status,
		Approvers: []string{},
		Details:   map[string]any{"predicates": g.Predicates, "failed": failed},
		Timestamp: time.Now().UTC(),
	}, nil
}

// PauseGate halts the gate sequence until Signal fires. Evaluate blocks on
// Signal or ctx cancellation: it reports Approved (resumed) when Signal fires
// and Pending when ctx is done first. It never resolves on its own.
type PauseGate struct {
	Condition string
	Signal    <-chan struct{}
}

func (g PauseGate) Type() string { return "Pause" }

func (g PauseGate) Evaluate(ctx context.Context) (GateResult, error) {
	select {
	case <-g.Signal:
		return GateResult{
			GateType:  g.Type(),
			Status:    StatusApproved,
			Approvers: []string{},
			Details:   map[string]any{"condition": g.Condition, "resumed": true},
			Timestamp: time.Now().UTC(),
		}, nil
	case <-ctx.Done():
		return GateResult{
			GateType:  g.Type(),
			Status:    StatusPending,
			Approvers: []string{},
			Details:   map[string]any{"condition": g.Condition, "resumed": false},
			Timestamp: time.Now().UTC(),
		}, nil
	}
}
