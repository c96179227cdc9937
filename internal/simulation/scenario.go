package simulation

// Scenario is one candidate response to a ThresholdEvent.
type Scenario string

const (
	ScenarioReorganize        Scenario = "reorganize"
	ScenarioPartialReorganize Scenario = "partial-reorganize"
	ScenarioDefer             Scenario = "defer"
	ScenarioRollback          Scenario = "rollback"
	ScenarioIncremental       Scenario = "incremental"
)

// allScenarios is the fixed evaluation order used in the PRNG consumption
// sequence — the same fixed order for every run so that run i's random draws
// line up identically regardless of how many scenarios a future extension
// might add.
var allScenarios = []Scenario{
	ScenarioReorganize,
	ScenarioPartialReorganize,
	ScenarioDefer,
	ScenarioRollback,
	ScenarioIncremental,
}

// baseReversibility is each scenario's nominal reversibility before
// per-run perturbation, grounded on the control law's per-state defender
// utility table: a rollback is maximally reversible, a full reorganize is
// not.
var baseReversibility = map[Scenario]float64{
	ScenarioReorganize:        0.20,
	ScenarioPartialReorganize: 0.50,
	ScenarioDefer:             0.90,
	ScenarioRollback:          0.95,
	ScenarioIncremental:       0.65,
}

// sideEffectTags are the static side-effect tags each scenario carries.
var sideEffectTags = map[Scenario][]string{
	ScenarioReorganize:        {"filesystem-mutation", "bulk-change"},
	ScenarioPartialReorganize: {"filesystem-mutation"},
	ScenarioDefer:             {},
	ScenarioRollback:          {"state-revert"},
	ScenarioIncremental:       {"filesystem-mutation", "low-risk"},
}

// sideEffectPenalty is the scoring penalty applied for a scenario's side
// effects: more and heavier tags lower its score relative to safer options.
var sideEffectPenalty = map[Scenario]float64{
	ScenarioReorganize:        0.6,
	ScenarioPartialReorganize: 0.3,
	ScenarioDefer:             0.0,
	ScenarioRollback:          0.05,
	ScenarioIncremental:       0.2,
}
