// Package config defines the single configuration document that drives one
// simulation run. It is kept separate from the root railcore package so
// that the Tick Engine (and other components) can depend on it without
// creating an import cycle back through the railcore.Core façade.
package config

// Scenario parameterizes the tick engine's stochastic behaviour.
type Scenario string

const (
	ScenarioNormal     Scenario = "normal"
	ScenarioRushHour   Scenario = "rush_hour"
	ScenarioDisruption Scenario = "disruption"
	ScenarioStressTest Scenario = "stress_test"
)

// ConflictThresholds carries the severity-escalation thresholds used by the
// Detection Engine's excessive-delay rule.
type ConflictThresholds struct {
	ExcessiveDelayMediumSec float64 `json:"excessive_delay_medium_sec"`
	ExcessiveDelayHighSec   float64 `json:"excessive_delay_high_sec"`
}

// Config is the single configuration document driving one simulation run.
type Config struct {
	TickIntervalSeconds float64  `json:"tick_interval_seconds"`
	MaxTicks            int      `json:"max_ticks"`
	Scenario            Scenario `json:"scenario"`
	RandomSeed          int64    `json:"random_seed"`

	DelayProbability    float64 `json:"delay_probability"`
	SpeedVariation      float64 `json:"speed_variation"`
	TrainSpawnRate      float64 `json:"train_spawn_rate"`
	MaxActiveTrains     int     `json:"max_active_trains"`
	MaxDelaySeconds     float64 `json:"max_delay_seconds"`
	IncidentProbability float64 `json:"incident_probability"`

	PredictionHorizonMinMin float64 `json:"prediction_horizon_min_min"`
	PredictionHorizonMinMax float64 `json:"prediction_horizon_min_max"`

	TriggerDelayThresholdSec   float64 `json:"trigger_delay_threshold_sec"`
	TriggerCongestionThreshold float64 `json:"trigger_congestion_threshold"`
	ContinuousIntervalSec      float64 `json:"continuous_interval_sec"`

	ConflictThresholds ConflictThresholds `json:"conflict_thresholds"`
}

// scenarioBaseline captures the per-scenario stochastic baselines named in
// spec.md §4.C.
type scenarioBaseline struct {
	delayProbability    float64
	trainSpawnRate      float64
	incidentProbability float64
	maxActiveTrains     int
	maxDelaySeconds     float64
	speedVariation      float64
}

var scenarioBaselines = map[Scenario]scenarioBaseline{
	ScenarioNormal:     {0.1, 0.3, 0.05, 50, 600, 0.2},
	ScenarioRushHour:   {0.2, 0.6, 0.08, 80, 600, 0.2},
	ScenarioDisruption: {0.4, 0.3, 0.3, 50, 1200, 0.2},
	ScenarioStressTest: {0.3, 0.8, 0.15, 100, 600, 0.2},
}

// DefaultConfig returns the configuration for the given scenario with every
// other field set to its documented default.
func DefaultConfig(scenario Scenario) Config {
	b, ok := scenarioBaselines[scenario]
	if !ok {
		b = scenarioBaselines[ScenarioNormal]
		scenario = ScenarioNormal
	}
	return Config{
		TickIntervalSeconds: 10,
		MaxTicks:            0,
		Scenario:            scenario,
		RandomSeed:          0,
		DelayProbability:    b.delayProbability,
		SpeedVariation:      b.speedVariation,
		TrainSpawnRate:      b.trainSpawnRate,
		MaxActiveTrains:     b.maxActiveTrains,
		MaxDelaySeconds:     b.maxDelaySeconds,
		IncidentProbability: b.incidentProbability,

		PredictionHorizonMinMin: 5,
		PredictionHorizonMinMax: 30,

		TriggerDelayThresholdSec:   120,
		TriggerCongestionThreshold: 0.8,
		ContinuousIntervalSec:      60,

		ConflictThresholds: ConflictThresholds{
			ExcessiveDelayMediumSec: 300,
			ExcessiveDelayHighSec:   600,
		},
	}
}
