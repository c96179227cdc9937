package circuit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/circuiterr"
	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/deliberation"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/eventbus"
	"github.com/octoreflex/govcircuit/internal/intervention"
	"github.com/octoreflex/govcircuit/internal/observability"
	"github.com/octoreflex/govcircuit/internal/simulation"
)

// Topic names published to the event bus at each stage boundary (§6's exact
// topic namespace). A nil bus (tests, one-off tooling) simply skips every
// publish below.
const (
	TopicThresholdDetected  = "threshold.detected"
	TopicSimulationComplete = "simulation.complete"
	TopicDeliberationDone   = "deliberation.complete"
	TopicInterventionDone   = "intervention.complete"
	TopicCircuitComplete    = "circuit.complete"
	TopicCircuitCancelled   = "circuit.cancelled"
)

// Circuit wires the four stages together for repeated invocation against a
// fixed configuration. One Circuit is single-threaded and cooperative within
// one Run call; multiple Circuits may run concurrently (§5).
type Circuit struct {
	logger *zap.Logger

	detector    *detection.Detector
	simulator   *simulation.Simulator
	deliberator *deliberation.Deliberator
	intervenor  *intervention.Intervenor
	bus         *eventbus.Bus
	metrics     *observability.Metrics

	providers       []deliberation.VoteProvider
	template        config.TemplateConfig
	providerTimeout time.Duration

	predicateRegistry intervention.PredicateRegistry
	humanChannel      intervention.ApprovalChannel
	pauseSignal       *intervention.PauseSignal
	gateTimeout       time.Duration
}

// New builds a Circuit from its fully-wired stage components and the
// deliberation/gate dependencies a live invocation needs. bus may be nil, in
// which case Run never publishes (used by tests and one-off tooling that
// don't need a replayable event log).
func New(
	logger *zap.Logger,
	detector *detection.Detector,
	simulator *simulation.Simulator,
	deliberator *deliberation.Deliberator,
	intervenor *intervention.Intervenor,
	bus *eventbus.Bus,
	providers []deliberation.VoteProvider,
	template config.TemplateConfig,
	providerTimeout time.Duration,
	predicateRegistry intervention.PredicateRegistry,
	humanChannel intervention.ApprovalChannel,
	pauseSignal *intervention.PauseSignal,
	gateTimeout time.Duration,
) *Circuit {
	return &Circuit{
		logger:            logger,
		detector:          detector,
		simulator:         simulator,
		deliberator:       deliberator,
		intervenor:        intervenor,
		bus:               bus,
		providers:         providers,
		template:          template,
		providerTimeout:   providerTimeout,
		predicateRegistry: predicateRegistry,
		humanChannel:      humanChannel,
		pauseSignal:       pauseSignal,
		gateTimeout:       gateTimeout,
	}
}

// WithMetrics attaches a Prometheus metrics sink; every completed invocation
// increments CircuitInvocationsTotal by its final decision from that point on.
func (c *Circuit) WithMetrics(metrics *observability.Metrics) *Circuit {
	c.metrics = metrics
	return c
}

// publish is a nil-safe wrapper around bus.Publish; Run calls it at every
// stage boundary named in §6's topic namespace.
func (c *Circuit) publish(topic string, payload any) {
	if c.bus == nil {
		return
	}
	if _, err := c.bus.Publish(topic, payload, "circuit"); err != nil {
		c.logger.Warn("circuit: publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Run carries proposal through Detection, Simulation, Deliberation, and
// Intervention in strict order, returning the assembled Result. Cancellation
// observed at a stage boundary truncates the result at the last completed
// stage with Cancelled=true, per §5.
func (c *Circuit) Run(ctx context.Context, proposal Proposal) (*Result, error) {
	start := time.Now()
	prog := newProgress()

	// --- Detection ---
	prog.advance(PhaseDetection)
	var events []detection.ThresholdEvent
	for _, r := range proposal.Readings {
		ev, err := c.detector.Evaluate(r.Metric, proposal.Target, r.Value, r.Details)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	selected, hasEvent := selectHighestSeverity(events)
	if !hasEvent || !selected.Severity.AtLeastWarning() {
		enforcement, err := c.intervenor.NoThreshold()
		if err != nil {
			return nil, err
		}
		result := &Result{Enforcement: enforcement, DurationMs: elapsedMs(start)}
		c.publish(TopicCircuitComplete, result)
		c.recordInvocation(result)
		return result, nil
	}
	c.publish(TopicThresholdDetected, selected)

	if ctx.Err() != nil {
		result := &Result{Event: &selected, Cancelled: true, DurationMs: elapsedMs(start)}
		c.publish(TopicCircuitCancelled, result)
		return result, nil
	}

	// --- Simulation ---
	prog.advance(PhaseSimulation)
	prediction, err := c.simulator.Run(selected, simulation.ModelDefault, nil, simulation.DefaultRuns)
	if err != nil {
		return nil, err
	}
	c.publish(TopicSimulationComplete, prediction)

	if ctx.Err() != nil {
		result := &Result{Event: &selected, Prediction: prediction, Cancelled: true, DurationMs: elapsedMs(start)}
		c.publish(TopicCircuitCancelled, result)
		return result, nil
	}

	// --- Deliberation ---
	prog.advance(PhaseDeliberation)
	result, err := c.deliberator.Deliberate(ctx, selected, *prediction, c.providers, c.template, c.providerTimeout)
	if err != nil {
		return nil, err
	}
	c.publish(TopicDeliberationDone, result)

	if ctx.Err() != nil {
		res := &Result{Event: &selected, Prediction: prediction, Deliberation: result, Cancelled: true, DurationMs: elapsedMs(start)}
		c.publish(TopicCircuitCancelled, res)
		return res, nil
	}

	// --- Intervention ---
	prog.advance(PhaseIntervention)
	enforcement, err := c.enforce(ctx, *result)
	if err != nil {
		return nil, err
	}
	c.publish(TopicInterventionDone, enforcement)

	prog.advance(PhaseDone)
	final := &Result{
		Event:        &selected,
		Prediction:   prediction,
		Deliberation: result,
		Enforcement:  enforcement,
		DurationMs:   elapsedMs(start),
	}
	c.publish(TopicCircuitComplete, final)
	c.recordInvocation(final)
	return final, nil
}

// recordInvocation increments CircuitInvocationsTotal by the invocation's
// final decision: the Deliberation decision if one was reached, or
// "no_threshold" for a trivial short-circuit.
func (c *Circuit) recordInvocation(result *Result) {
	if c.metrics == nil {
		return
	}
	decision := "no_threshold"
	if result.Deliberation != nil {
		decision = string(result.Deliberation.Decision)
	}
	c.metrics.CircuitInvocationsTotal.WithLabelValues(decision).Inc()
}

// enforce maps result.Decision to gate composition (§4.6) and invokes the
// Intervenor accordingly.
func (c *Circuit) enforce(ctx context.Context, result deliberation.DeliberationResult) (*intervention.EnforcementResult, error) {
	switch result.Decision {
	case deliberation.Proceed:
		return c.intervenor.Enforce(ctx, result, []intervention.Gate{})
	case deliberation.Conditional:
		gates := []intervention.Gate{
			intervention.ConditionCheckGate{Predicates: result.Conditions, Registry: c.predicateRegistry},
			intervention.HumanApprovalGate{Channel: c.humanChannel, Deadline: c.gateTimeout},
		}
		return c.intervenor.Enforce(ctx, result, gates)
	case deliberation.Pause:
		gates := []intervention.Gate{
			intervention.PauseGate{Condition: "manual-resume", Signal: c.pauseSignal.C()},
		}
		return c.intervenor.Enforce(ctx, result, gates)
	case deliberation.Reject:
		return c.intervenor.ShortCircuit(result, "enforcement_blocked_by_deliberation")
	case deliberation.Defer:
		return c.intervenor.ShortCircuit(result, "enforcement_deferred")
	default:
		return nil, circuiterr.New(circuiterr.KindInvalidArgument, "circuit", "unrecognized deliberation decision "+string(result.Decision))
	}
}

// selectHighestSeverity picks the most severe event, ties broken by most
// recent timestamp, per §4.6 step 2.
func selectHighestSeverity(events []detection.ThresholdEvent) (detection.ThresholdEvent, bool) {
	if len(events) == 0 {
		return detection.ThresholdEvent{}, false
	}
	best := events[0]
	for _, ev := range events[1:] {
		if best.Severity.Less(ev.Severity) || (ev.Severity == best.Severity && ev.Timestamp.After(best.Timestamp)) {
			best = ev
		}
	}
	return best, true
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
