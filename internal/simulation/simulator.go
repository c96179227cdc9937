package simulation

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/circuiterr"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/hashchain"
	"github.com/octoreflex/govcircuit/internal/observability"
)

// DefaultRuns is the default Monte-Carlo run count when a caller doesn't
// specify one.
const DefaultRuns = 100

// ModelDefault is the only scenario-scoring model currently implemented.
const ModelDefault = "default"

// Simulator runs Monte-Carlo prediction over the fixed scenario set for one
// ThresholdEvent.
type Simulator struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New builds a Simulator.
func New(logger *zap.Logger) *Simulator {
	return &Simulator{logger: logger}
}

// WithMetrics attaches a Prometheus metrics sink; every Run call from that
// point on records its run counts and wall-clock latency.
func (s *Simulator) WithMetrics(metrics *observability.Metrics) *Simulator {
	s.metrics = metrics
	return s
}

// Run evaluates `runs` Monte-Carlo variants of event under model, using seed
// if non-nil or a seed derived deterministically from event.EventHash
// otherwise, and returns the aggregated Prediction.
func (s *Simulator) Run(event detection.ThresholdEvent, model string, seed *int64, runs int) (*Prediction, error) {
	start := time.Now()
	if s.metrics != nil {
		defer func() { s.metrics.SimulationDuration.Observe(time.Since(start).Seconds()) }()
	}
	if runs < 1 {
		return nil, circuiterr.New(circuiterr.KindInvalidArgument, "simulator", "monte_carlo_runs must be >= 1")
	}
	if model != ModelDefault {
		return nil, circuiterr.New(circuiterr.KindInvalidArgument, "simulator", "unrecognized model "+model)
	}

	effectiveSeed, err := resolveSeed(seed, event.EventHash)
	if err != nil {
		return nil, circuiterr.Wrap(circuiterr.KindInvalidArgument, "simulator", "resolve seed", err)
	}

	winCounts := make(map[Scenario]int, len(allScenarios))
	samples := make(map[Scenario][]float64, len(allScenarios))

	failed := 0
	for i := 0; i < runs; i++ {
		ok := s.evaluateRun(event, effectiveSeed, i, winCounts, samples)
		if !ok {
			failed++
		}
	}

	if s.metrics != nil {
		s.metrics.SimulationRunsTotal.Add(float64(runs))
		s.metrics.SimulationFailedRunsTotal.Add(float64(failed))
	}

	if failed*2 > runs {
		return nil, circuiterr.New(circuiterr.KindSimulationInstability, "simulator",
			"majority of Monte-Carlo runs failed").WithContext("failed", failed).WithContext("runs", runs)
	}
	successful := runs - failed

	outcomes := make([]Outcome, 0, len(allScenarios))
	for _, sc := range allScenarios {
		ss := samples[sc]
		probability := float64(winCounts[sc]) / float64(successful)
		reversibility, variance, ci := summarize(ss)
		stateHash, err := stateHash(sc, reversibility, probability)
		if err != nil {
			return nil, circuiterr.Wrap(circuiterr.KindInvalidArgument, "simulator", "compute state hash", err)
		}
		outcomes = append(outcomes, Outcome{
			Scenario:           sc,
			Probability:        probability,
			Reversibility:      reversibility,
			SideEffects:        sideEffectTags[sc],
			StateHash:          stateHash,
			ConfidenceInterval: ci,
			Variance:           variance,
		})
	}

	normalizeProbabilities(outcomes)
	sortOutcomes(outcomes)

	pred := Prediction{
		EventHash:      event.EventHash,
		Seed:           effectiveSeed,
		MonteCarloRuns: runs,
		Outcomes:       outcomes,
	}
	hash, err := pred.recomputeHash()
	if err != nil {
		return nil, circuiterr.Wrap(circuiterr.KindInvalidArgument, "simulator", "compute prediction hash", err)
	}
	pred.PredictionHash = hash

	s.logger.Debug("simulation: prediction computed",
		zap.String("event_hash", event.EventHash),
		zap.Int64("seed", effectiveSeed),
		zap.Int("runs", runs),
		zap.Int("failed", failed))

	return &pred, nil
}

// evaluateRun runs one Monte-Carlo variant: it consumes a sub-generator
// derived deterministically from (seed, i) so that results are
// order-independent under optional parallel evaluation, scores every
// scenario in the fixed allScenarios order, and records the winner plus
// every scenario's reversibility sample. Returns false if the run's
// evaluation produced a non-finite score (dropped run).
func (s *Simulator) evaluateRun(event detection.ThresholdEvent, seed int64, i int, winCounts map[Scenario]int, samples map[Scenario][]float64) bool {
	rng := rand.New(rand.NewSource(subSeed(seed, i)))

	severityWeight := severityMultiplier(event.Severity)

	var bestScenario Scenario
	bestScore := math.Inf(-1)
	runSamples := make(map[Scenario]float64, len(allScenarios))

	for _, sc := range allScenarios {
		base := baseReversibility[sc]
		noise := rng.NormFloat64() * 0.05
		reversibility := clamp01(base + noise)

		structural := rng.Float64() * severityWeight
		score := reversibility - sideEffectPenalty[sc] + 0.1*structural

		if math.IsNaN(score) || math.IsInf(score, 0) {
			return false
		}

		runSamples[sc] = reversibility
		if score > bestScore {
			bestScore = score
			bestScenario = sc
		}
	}

	winCounts[bestScenario]++
	for sc, v := range runSamples {
		samples[sc] = append(samples[sc], v)
	}
	return true
}

func severityMultiplier(sev detection.Severity) float64 {
	switch sev {
	case detection.SeverityEmergency:
		return 1.0
	case detection.SeverityCritical:
		return 0.75
	case detection.SeverityWarning:
		return 0.5
	default:
		return 0.25
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// summarize computes the mean, sample variance, and (5th, 95th) percentile
// confidence interval of a reversibility sample set.
func summarize(samples []float64) (mean, variance float64, ci [2]float64) {
	n := len(samples)
	if n == 0 {
		return 0, 0, [2]float64{0, 0}
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / float64(n)

	if n > 1 {
		var sq float64
		for _, v := range samples {
			d := v - mean
			sq += d * d
		}
		variance = sq / float64(n-1)
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)
	ci[0] = percentile(sorted, 0.05)
	ci[1] = percentile(sorted, 0.95)
	return mean, variance, ci
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	idx := int(p * float64(n-1))
	return sorted[idx]
}

// normalizeProbabilities scales outcomes' probabilities to sum exactly to
// 1.0, assigning any rounding residual to the currently highest-probability
// outcome.
func normalizeProbabilities(outcomes []Outcome) {
	var sum float64
	for _, o := range outcomes {
		sum += o.Probability
	}
	if sum == 0 {
		return
	}
	maxIdx := 0
	for i, o := range outcomes {
		outcomes[i].Probability = o.Probability / sum
		if outcomes[i].Probability > outcomes[maxIdx].Probability {
			maxIdx = i
		}
	}
	var normalizedSum float64
	for _, o := range outcomes {
		normalizedSum += o.Probability
	}
	outcomes[maxIdx].Probability += 1.0 - normalizedSum
}

// sortOutcomes sorts outcomes descending by probability, tie-broken by
// descending reversibility, then by ascending lexicographic scenario name.
func sortOutcomes(outcomes []Outcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Probability != outcomes[j].Probability {
			return outcomes[i].Probability > outcomes[j].Probability
		}
		if outcomes[i].Reversibility != outcomes[j].Reversibility {
			return outcomes[i].Reversibility > outcomes[j].Reversibility
		}
		return outcomes[i].Scenario < outcomes[j].Scenario
	})
}

func stateHash(sc Scenario, reversibility, probability float64) (string, error) {
	return hashchain.ShortHash(struct {
		Scenario      Scenario
		Reversibility float64
		Probability   float64
	}{sc, reversibility, probability}, 16)
}

// resolveSeed returns seed if non-nil, else derives one deterministically
// from the first 16 hex characters of eventHash (itself a 16-hex digest, so
// the whole string parses directly as a uint64).
func resolveSeed(seed *int64, eventHash string) (int64, error) {
	if seed != nil {
		return *seed, nil
	}
	v, err := strconv.ParseUint(eventHash, 16, 64)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// subSeed derives a deterministic per-run seed from (seed, i) so that
// parallel evaluation of different runs is order-independent.
func subSeed(seed int64, i int) int64 {
	h := fnv.New64a()
	var buf [16]byte
	putInt64(buf[0:8], seed)
	putInt64(buf[8:16], int64(i))
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
