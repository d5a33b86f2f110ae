// Package railcore wires the Network Model, State Tracker, Tick Engine,
// Detection Engine, Feature Engine, Predictor, Resolution Normalizer, Judge
// and Context Patcher into a single-logical-writer-per-tick core.
package railcore

import "github.com/tracktitans/railcore/config"

// Scenario, Config and friends are re-exported from the config package so
// callers can write railcore.Config without a second import — the types
// themselves live in config so the Tick Engine can depend on them without
// importing this package's Core façade.
type (
	Scenario           = config.Scenario
	ConflictThresholds = config.ConflictThresholds
	Config             = config.Config
)

const (
	ScenarioNormal     = config.ScenarioNormal
	ScenarioRushHour   = config.ScenarioRushHour
	ScenarioDisruption = config.ScenarioDisruption
	ScenarioStressTest = config.ScenarioStressTest
)

// DefaultConfig returns the configuration for the given scenario with every
// other field set to its documented default.
func DefaultConfig(scenario Scenario) Config { return config.DefaultConfig(scenario) }
