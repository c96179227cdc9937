// Package detection evaluates measured metrics against configured
// thresholds and emits ThresholdEvents. Severity tiering and the
// sequential highest-tier-first evaluation are grounded on the teacher's
// escalation severity table; the filename-entropy metric is grounded on its
// Shannon-entropy anomaly signal.
package detection

import (
	"fmt"
	"time"

	"github.com/octoreflex/govcircuit/internal/circuiterr"
	"github.com/octoreflex/govcircuit/internal/hashchain"
)

// Metric names spec.md's data model recognizes without host registration.
const (
	MetricFileCount       = "file-count"
	MetricDirectoryDepth  = "directory-depth"
	MetricFilenameEntropy = "filename-entropy"
	MetricSelfReference   = "self-reference"
	MetricGrowthRate      = "growth-rate"
	MetricReflexPattern   = "reflex-pattern"
	MetricCustom          = "custom"
)

// ThresholdEvent is a detected threshold crossing.
type ThresholdEvent struct {
	Metric    string         `json:"metric"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Target    string         `json:"target"`
	Details   map[string]any `json:"details"`
	EventHash string         `json:"event_hash"`
}

// eventContent is the subset of ThresholdEvent fields hashed to produce
// EventHash; it deliberately excludes EventHash itself.
type eventContent struct {
	Metric    string         `json:"metric"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Target    string         `json:"target"`
	Details   map[string]any `json:"details"`
}

// RecomputeHash recomputes the 16-hex event_hash from e's other fields. It
// is the verification half of the "identical fields -> identical hash"
// invariant: callers compare the result against e.EventHash.
func (e ThresholdEvent) RecomputeHash() (string, error) {
	return hashchain.ShortHash(eventContent{
		Metric:    e.Metric,
		Value:     e.Value,
		Threshold: e.Threshold,
		Severity:  e.Severity,
		Timestamp: e.Timestamp,
		Target:    e.Target,
		Details:   e.Details,
	}, 16)
}

func newEvent(metric string, value, threshold float64, severity Severity, target string, details map[string]any) (ThresholdEvent, error) {
	ev := ThresholdEvent{
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Target:    target,
		Details:   details,
	}
	hash, err := ev.RecomputeHash()
	if err != nil {
		return ThresholdEvent{}, fmt.Errorf("detection: hash event: %w", err)
	}
	ev.EventHash = hash
	return ev, nil
}

// invalidArgument wraps an invalid-input condition as the taxonomy's
// InvalidArgument kind, stage "detection".
func invalidArgument(msg string) error {
	return circuiterr.New(circuiterr.KindInvalidArgument, "detection", msg)
}
