package detection

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/observability"
)

// Detector evaluates measured metric values against configured thresholds
// and emits ThresholdEvents. One Detector instance is shared across
// invocations within a process; it holds no per-invocation state — growth-rate
// momentum is passed in explicitly by the host on each call (see
// EvaluateGrowthRate), never read back from any Detector-owned store.
type Detector struct {
	logger     *zap.Logger
	thresholds map[string]float64
	enabled    map[string]bool
	metrics    *observability.Metrics
}

// New builds a Detector from the configured metric set.
func New(logger *zap.Logger, metrics []config.MetricConfig) *Detector {
	d := &Detector{
		logger:     logger,
		thresholds: make(map[string]float64, len(metrics)),
		enabled:    make(map[string]bool, len(metrics)),
	}
	for _, m := range metrics {
		d.thresholds[m.Name] = m.Threshold
		d.enabled[m.Name] = m.Enabled
	}
	return d
}

// WithMetrics attaches a Prometheus metrics sink; every ThresholdEvent
// emitted from that point on increments it by metric and severity.
func (d *Detector) WithMetrics(metrics *observability.Metrics) *Detector {
	d.metrics = metrics
	return d
}

// Evaluate checks value for metric against its configured threshold and
// returns a ThresholdEvent if value crosses into at least the Info band
// (value >= 0.64*threshold). It returns (nil, nil) — not an error — when the
// metric is configured but the value doesn't cross any boundary; that is
// the expected common case, not a failure.
func (d *Detector) Evaluate(metric, target string, value float64, details map[string]any) (*ThresholdEvent, error) {
	threshold, known := d.thresholds[metric]
	if !known {
		return nil, invalidArgument(fmt.Sprintf("unconfigured metric %q", metric))
	}
	if !d.enabled[metric] {
		return nil, nil
	}

	severity, crossed := classify(value, threshold)
	if !crossed {
		return nil, nil
	}

	ev, err := newEvent(metric, value, threshold, severity, target, details)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("detection: threshold crossed",
		zap.String("metric", metric),
		zap.String("target", target),
		zap.Float64("value", value),
		zap.Float64("threshold", threshold),
		zap.String("severity", string(severity)))
	if d.metrics != nil {
		d.metrics.ThresholdEventsTotal.WithLabelValues(metric, string(severity)).Inc()
	}
	return &ev, nil
}

// EvaluateGrowthRate evaluates the growth-rate metric, optionally blending
// in a caller-supplied prior observation for momentum smoothing. prior is
// host-managed: the Detector does not persist or retrieve it, per the
// resolved Open Question on growth-rate momentum.
func (d *Detector) EvaluateGrowthRate(target string, value float64, prior *float64, details map[string]any) (*ThresholdEvent, error) {
	effective := value
	if prior != nil {
		const momentumWeight = 0.3
		effective = (1-momentumWeight)*value + momentumWeight*(*prior)
	}
	if details == nil {
		details = map[string]any{}
	}
	details["raw_value"] = value
	if prior != nil {
		details["prior_observation"] = *prior
	}
	return d.Evaluate(MetricGrowthRate, target, effective, details)
}
