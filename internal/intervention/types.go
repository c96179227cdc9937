// Package intervention implements the Intervenor: ordered gate processing
// over a DeliberationResult, a chained audit trail, and rollback semantics.
// The abstract ApprovalChannel/PredicateRegistry dependencies and their
// mutex-protected in-memory implementations are grounded on operator.Server's
// StateRegistry/MemRegistry split — an external, injected dependency the
// core never bypasses, backed by a thread-safe in-process default.
package intervention

import (
	"time"

	"github.com/octoreflex/govcircuit/internal/hashchain"
)

// GateStatus is the outcome of evaluating one gate.
type GateStatus string

const (
	StatusApproved GateStatus = "Approved"
	StatusRejected GateStatus = "Rejected"
	StatusTimeout  GateStatus = "Timeout"
	StatusPending  GateStatus = "Pending"
)

// GateResult is the recorded outcome of one gate evaluation.
type GateResult struct {
	GateType  string         `json:"gate_type"`
	Status    GateStatus     `json:"status"`
	Approvers []string       `json:"approvers"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditEntry is one link in the Intervenor's enforcement hash chain.
type AuditEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"`
	Actor        string         `json:"actor"`
	Details      map[string]any `json:"details"`
	PreviousHash string         `json:"previous_hash"`
	EntryHash    string         `json:"entry_hash"`
}

type auditEntryContent struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details"`
}

func (e AuditEntry) content() auditEntryContent {
	return auditEntryContent{Timestamp: e.Timestamp, Action: e.Action, Actor: e.Actor, Details: e.Details}
}

// ChainLink implements hashchain.Linked.
func (e AuditEntry) ChainLink() (previousHash, entryHash string, payload any) {
	return e.PreviousHash, e.EntryHash, e.content()
}

// EnforcementResult is the Intervenor's output for one DeliberationResult.
type EnforcementResult struct {
	DecisionHash string       `json:"decision_hash"`
	Applied      bool         `json:"applied"`
	RolledBack   bool         `json:"rolled_back"`
	GateLog      []GateResult `json:"gate_log"`
	AuditTrail   []AuditEntry `json:"audit_trail"`
	ResultHash   string       `json:"result_hash"`
}

type resultContent struct {
	DecisionHash string       `json:"decision_hash"`
	Applied      bool         `json:"applied"`
	RolledBack   bool         `json:"rolled_back"`
	GateLog      []GateResult `json:"gate_log"`
	AuditTrail   []AuditEntry `json:"audit_trail"`
}

func (r EnforcementResult) recomputeHash() (string, error) {
	return hashchain.ShortHash(resultContent{
		DecisionHash: r.DecisionHash,
		Applied:      r.Applied,
		RolledBack:   r.RolledBack,
		GateLog:      r.GateLog,
		AuditTrail:   r.AuditTrail,
	}, 16)
}

// linkedChain adapts an []AuditEntry to []hashchain.Linked for Verify.
func linkedChain(entries []AuditEntry) []hashchain.Linked {
	out := make([]hashchain.Linked, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return out
}

// VerifyAuditTrail recomputes and checks every entry_hash/previous_hash link
// in an EnforcementResult's audit trail.
func VerifyAuditTrail(r EnforcementResult) (bool, int) {
	return hashchain.Verify(linkedChain(r.AuditTrail))
}
