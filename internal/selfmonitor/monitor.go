package selfmonitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/circuit"
	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/eventbus"
)

// Metric names the self-monitor's own Detector recognizes. These never pass
// through config.Validate's builtin-name check since the self-monitor
// constructs its Detector directly, bypassing YAML-sourced configuration.
const (
	MetricLinesPerModule    = "self.lines-per-module"
	MetricUntestedRatio     = "self.untested-function-ratio"
	MetricDocImplDrift      = "self.doc-impl-drift"
	MetricDependencyCount   = "self.dependency-count"
	MetricSelfModification  = "self.self-modification-patterns"
	MetricGateBypassAttempt = "self.gate-bypass-attempts"
)

// Thresholds configures the boundary each repo metric is evaluated against.
// New uses the fields as given; a zero field does not fall back to
// DefaultThresholds, and the Detector emits no event for that metric.
type Thresholds struct {
	LinesPerModule    float64
	UntestedRatio     float64
	DocImplDriftFiles float64
	DependencyCount   float64
	SelfModification  float64
	GateBypass        float64
}

// DefaultThresholds mirrors the example thresholds spec.md gives for ordinary
// detection metrics, scaled to repository-health signals.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LinesPerModule:    800,
		UntestedRatio:     0.3,
		DocImplDriftFiles: 1,
		DependencyCount:   20,
		SelfModification:  1,
		GateBypass:        1,
	}
}

// SelfMonitor applies the circuit to its own repository: it scans the source
// tree with ScanRepo, evaluates the resulting RepoMetrics against configured
// thresholds with an ordinary detection.Detector, and publishes any
// resulting ThresholdEvents to the host's event bus exactly as any other
// detector would.
type SelfMonitor struct {
	logger   *zap.Logger
	root     string
	detector *detection.Detector
	bus      *eventbus.Bus
	circuit  *circuit.Circuit
}

// New builds a SelfMonitor rooted at root (the module's source tree), using
// thresholds to configure its internal Detector. bus may be nil, in which
// case detected events are returned from Check but not published. c (the
// circuit self-reconfiguration is subject to) may also be nil if self-
// reconfiguration proposals are never expected.
func New(logger *zap.Logger, root string, thresholds Thresholds, bus *eventbus.Bus, c *circuit.Circuit) *SelfMonitor {
	metrics := []config.MetricConfig{
		{Name: MetricLinesPerModule, Threshold: thresholds.LinesPerModule, Enabled: true},
		{Name: MetricUntestedRatio, Threshold: thresholds.UntestedRatio, Enabled: true},
		{Name: MetricDocImplDrift, Threshold: thresholds.DocImplDriftFiles, Enabled: true},
		{Name: MetricDependencyCount, Threshold: thresholds.DependencyCount, Enabled: true},
		{Name: MetricSelfModification, Threshold: thresholds.SelfModification, Enabled: true},
		{Name: MetricGateBypassAttempt, Threshold: thresholds.GateBypass, Enabled: true},
	}
	return &SelfMonitor{
		logger:   logger,
		root:     root,
		detector: detection.New(logger, metrics),
		bus:      bus,
		circuit:  c,
	}
}

// Check scans the repository and evaluates every collected metric against
// its threshold, returning every ThresholdEvent produced (possibly none). A
// non-nil bus receives one "threshold.detected" publication per event.
func (m *SelfMonitor) Check() (RepoMetrics, []detection.ThresholdEvent, error) {
	metrics, err := ScanRepo(m.root)
	if err != nil {
		return metrics, nil, fmt.Errorf("selfmonitor: scan %q: %w", m.root, err)
	}

	var maxLines int
	for _, lines := range metrics.LinesPerModule {
		if lines > maxLines {
			maxLines = lines
		}
	}

	readings := []struct {
		metric string
		value  float64
		detail map[string]any
	}{
		{MetricLinesPerModule, float64(maxLines), map[string]any{"modules": len(metrics.LinesPerModule)}},
		{MetricUntestedRatio, metrics.UntestedFunctionRatio, map[string]any{"untested": metrics.UntestedFunctions, "total": metrics.TotalFunctions}},
		{MetricDocImplDrift, float64(len(metrics.DocImplDriftFiles)), map[string]any{"files": metrics.DocImplDriftFiles}},
		{MetricDependencyCount, float64(metrics.DependencyCount), map[string]any{}},
		{MetricSelfModification, float64(len(metrics.SelfModificationPatterns)), map[string]any{"patterns": metrics.SelfModificationPatterns}},
		{MetricGateBypassAttempt, float64(len(metrics.GateBypassAttempts)), map[string]any{"commits": metrics.GateBypassAttempts}},
	}

	var events []detection.ThresholdEvent
	for _, r := range readings {
		ev, err := m.detector.Evaluate(r.metric, m.root, r.value, r.detail)
		if err != nil {
			return metrics, events, fmt.Errorf("selfmonitor: evaluate %q: %w", r.metric, err)
		}
		if ev == nil {
			continue
		}
		events = append(events, *ev)
		if m.bus != nil {
			if _, err := m.bus.Publish("threshold.detected", ev, "selfmonitor"); err != nil {
				m.logger.Warn("selfmonitor: publish threshold.detected failed", zap.Error(err))
			}
		}
	}
	return metrics, events, nil
}

// ConfigChangeProposal describes a pending edit to the self-monitor's own
// configuration: which thresholds would change and to what.
type ConfigChangeProposal struct {
	Field    string
	OldValue float64
	NewValue float64
}

// ProposeConfigChange runs proposal through the circuit the self-monitor is
// itself subject to, per spec.md's requirement that modifying the self-
// monitor's own configuration is not exempt from governance. It returns the
// circuit's Result unmodified; the caller is responsible for actually
// applying the change if and only if the result enforces it.
func (m *SelfMonitor) ProposeConfigChange(ctx context.Context, proposal ConfigChangeProposal) (*circuit.Result, error) {
	if m.circuit == nil {
		return nil, fmt.Errorf("selfmonitor: no circuit configured to gate self-reconfiguration")
	}
	delta := proposal.NewValue - proposal.OldValue
	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	return m.circuit.Run(ctx, circuit.Proposal{
		Target: "selfmonitor.config." + proposal.Field,
		Readings: []circuit.MetricReading{
			{
				Metric: MetricSelfModification,
				Value:  1,
				Details: map[string]any{
					"field":     proposal.Field,
					"old_value": proposal.OldValue,
					"new_value": proposal.NewValue,
					"delta":     magnitude,
				},
			},
		},
	})
}
