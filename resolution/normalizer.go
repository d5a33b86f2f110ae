// Package resolution implements the Resolution Normalizer (§4.G) and Judge
// (§4.H): projecting heterogeneous proposals onto one scoring schema and
// ranking them with an external LLM over a fairness-constrained prompt.
package resolution

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	log "gopkg.in/inconshreveable/log15.v2"
)

var logger log.Logger

func InitializeLogger(parent log.Logger) { logger = parent.New("module", "resolution") }

func init() { logger = log.New("module", "resolution") }

// NormalizedResolution is the canonical schema every proposal format is
// projected into before ranking.
type NormalizedResolution struct {
	ResolutionID         string
	SourceAgent          string
	StrategyName         string
	Actions              []string
	ExpectedOutcome      string
	Reasoning            string
	SafetyScore          float64
	EfficiencyScore      float64
	FeasibilityScore     float64
	OverallFitness       float64
	EstimatedDelayMin    float64
	AffectedTrains       []string
	SideEffects          []string
	AlgorithmType        string
	RawData              map[string]interface{}
}

// VerboseProposal is the historical/hybrid proposal shape: narrative
// reasoning plus self-scored metrics.
type VerboseProposal struct {
	ResolutionID               string
	StrategyName                string
	ActionSteps                 []string
	ExpectedOutcome             string
	Reasoning                   string
	SafetyScore                 *float64
	EfficiencyScore              *float64
	FeasibilityScore             *float64
	ConfidenceScore               *float64
	EstimatedDelayReductionSec   *float64
	AffectedTrains               []string
	SideEffects                   []string
	SourceType                    string
	Raw                            map[string]interface{}
}

// OptimizerMetrics is the terse optimizer output's metrics block.
type OptimizerMetrics struct {
	Fitness             float64
	TotalDelayMin       float64
	OriginalDelayMin    *float64
	NumActions          int
	PassengerImpact     float64
	PropagationDepth    int
	RecoverySmoothness  float64
}

// Normalizer projects both proposal shapes onto NormalizedResolution.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

var condensationKeywords = []string{"safety", "optimization", "constraint", "algorithm", "effective", "proven"}

// NormalizeVerbose condenses reasoning to at most two key sentences and
// keeps the proposal's self-reported scores verbatim.
func (n *Normalizer) NormalizeVerbose(p VerboseProposal) NormalizedResolution {
	delaySec := 0.0
	if p.EstimatedDelayReductionSec != nil {
		delaySec = math.Abs(*p.EstimatedDelayReductionSec)
	}
	return NormalizedResolution{
		ResolutionID:      p.ResolutionID,
		SourceAgent:       "Agent 1 (Hybrid/Historical)",
		StrategyName:      p.StrategyName,
		Actions:           p.ActionSteps,
		ExpectedOutcome:   p.ExpectedOutcome,
		Reasoning:         condenseReasoning(p.Reasoning),
		SafetyScore:       orDefault(p.SafetyScore, 0.5),
		EfficiencyScore:   orDefault(p.EfficiencyScore, 0.5),
		FeasibilityScore:  orDefault(p.FeasibilityScore, 0.5),
		OverallFitness:    orDefault(p.ConfidenceScore, 0.5),
		EstimatedDelayMin: delaySec / 60.0,
		AffectedTrains:    p.AffectedTrains,
		SideEffects:       p.SideEffects,
		AlgorithmType:     orDefaultStr(p.SourceType, "hybrid"),
		RawData:           p.Raw,
	}
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// condenseReasoning keeps at most the first two sentences whose text
// mentions one of the condensation keywords.
func condenseReasoning(reasoning string) string {
	sentences := strings.Split(reasoning, ". ")
	var keyPoints []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, kw := range condensationKeywords {
			if strings.Contains(lower, kw) {
				keyPoints = append(keyPoints, s)
				break
			}
		}
	}
	if len(keyPoints) > 2 {
		keyPoints = keyPoints[:2]
	}
	if len(keyPoints) == 0 {
		return ""
	}
	return strings.Join(keyPoints, ". ") + "."
}

// NormalizeOptimizer objectively scores a terse optimizer proposal instead
// of trusting self-reported numbers, per spec.md §4.G(2).
func (n *Normalizer) NormalizeOptimizer(solverName string, m OptimizerMetrics, actions []string) NormalizedResolution {
	original := m.TotalDelayMin * 1.1
	if m.OriginalDelayMin != nil {
		original = *m.OriginalDelayMin
	}
	efficiency := efficiencyScore(m.TotalDelayMin, original)
	safety := safetyScore(solverName, m)
	feasibility := feasibilityScore(solverName, m)
	reasoning := enhancedReasoning(solverName, m, actions)
	outcome := enhancedOutcome(solverName, m, original, actions)

	return NormalizedResolution{
		ResolutionID:      fmt.Sprintf("agent2_%s", solverName),
		SourceAgent:       "Agent 2 (Mathematical Solver)",
		StrategyName:      professionalName(solverName),
		Actions:           actions,
		ExpectedOutcome:   outcome,
		Reasoning:         reasoning,
		SafetyScore:       safety,
		EfficiencyScore:   efficiency,
		FeasibilityScore:  feasibility,
		OverallFitness:    m.Fitness,
		EstimatedDelayMin: m.TotalDelayMin,
		AffectedTrains:    extractTrainsFromActions(actions),
		SideEffects:       inferSideEffects(m, actions),
		AlgorithmType:     "optimization_" + solverName,
		RawData:           nil,
	}
}

// efficiencyScore maps delay improvement to a [0,1] scale; 50% improvement
// maps to 0.75.
func efficiencyScore(finalDelay, originalDelay float64) float64 {
	if originalDelay == 0 {
		return 0.5
	}
	improvement := (originalDelay - finalDelay) / originalDelay
	score := 0.5 + improvement*0.5
	return clamp01(score)
}

var safetyBaseline = map[string]float64{
	"lns": 0.90, "simulated_annealing": 0.85, "genetic_algorithm": 0.85,
	"nsga2": 0.88, "greedy": 0.80,
}

func safetyScore(solverName string, m OptimizerMetrics) float64 {
	base, ok := safetyBaseline[solverName]
	if !ok {
		base = 0.80
	}
	if m.PropagationDepth == 0 {
		base += 0.05
	}
	if m.RecoverySmoothness > 0.9 {
		base += 0.05
	}
	return math.Min(1.0, base)
}

var feasibilityBaseline = map[string]float64{
	"greedy": 0.90, "lns": 0.85, "simulated_annealing": 0.80,
	"genetic_algorithm": 0.80, "nsga2": 0.75,
}

func feasibilityScore(solverName string, m OptimizerMetrics) float64 {
	base, ok := feasibilityBaseline[solverName]
	if !ok {
		base = 0.75
	}
	feasibility := base - float64(m.NumActions)*0.05
	if m.Fitness > 0.7 {
		feasibility += 0.05
	}
	return clamp01(feasibility)
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

var solverDescriptions = map[string]string{
	"genetic_algorithm": "Uses evolutionary optimization with population-based search to " +
		"balance multiple objectives simultaneously. Proven effective for " +
		"multi-constraint railway scheduling with mutation and crossover operators " +
		"ensuring solution diversity while converging to optimal tradeoffs.",
	"simulated_annealing": "Employs probabilistic hill-climbing with controlled randomness to " +
		"escape local optima. Temperature-based acceptance criterion allows " +
		"exploration of solution space while gradually focusing on high-quality regions, " +
		"particularly effective for tightly-constrained railway networks.",
	"lns": "Large Neighborhood Search systematically destroys and repairs solution " +
		"components while maintaining feasibility constraints. Iterative refinement " +
		"ensures both local optimality and global solution quality, with proven " +
		"effectiveness in real-time railway rescheduling scenarios.",
	"nsga2": "Multi-objective evolutionary algorithm using Pareto dominance to " +
		"simultaneously optimize conflicting goals (delay vs safety vs capacity). " +
		"Non-dominated sorting ensures balanced solutions across all objectives, " +
		"with crowding distance maintaining solution diversity.",
	"greedy": "Fast constructive heuristic making locally optimal decisions at each step. " +
		"Low computational overhead enables real-time deployment while maintaining " +
		"acceptable solution quality. Particularly effective when immediate response " +
		"is critical and solution space is well-structured.",
}

func enhancedReasoning(solverName string, m OptimizerMetrics, actions []string) string {
	base, ok := solverDescriptions[solverName]
	if !ok {
		base = fmt.Sprintf("Mathematical optimization using %s algorithm.", strings.ReplaceAll(solverName, "_", " "))
	}
	if m.RecoverySmoothness > 0 {
		base += fmt.Sprintf(" Achieves %.1f%% recovery smoothness, minimizing operational disruption and maintaining schedule integrity.", m.RecoverySmoothness*100)
	}
	base += fmt.Sprintf(" Implements %d coordinated action(s) with verified constraint satisfaction and operational feasibility.", len(actions))
	return base
}

func enhancedOutcome(solverName string, m OptimizerMetrics, originalDelay float64, actions []string) string {
	improvementPct := 0.0
	if originalDelay > 0 {
		improvementPct = (originalDelay - m.TotalDelayMin) / originalDelay * 100
	}
	outcome := fmt.Sprintf("Reduces total system delay to %.1f minutes (improvement of %.1f%% from baseline). ", m.TotalDelayMin, improvementPct)
	outcome += "Resolves headway violation through coordinated speed adjustments while maintaining safety constraints and operational feasibility. "
	if m.PassengerImpact > 0 {
		outcome += fmt.Sprintf("Affects %.0f passengers with minimal service disruption.", m.PassengerImpact)
	}
	return outcome
}

var professionalNames = map[string]string{
	"genetic_algorithm":   "Multi-Objective Evolutionary Optimization",
	"simulated_annealing": "Probabilistic Annealing Optimization",
	"lns":                 "Large Neighborhood Search Refinement",
	"nsga2":               "Pareto-Optimal Multi-Criteria Solution",
	"greedy":              "Fast Constructive Heuristic",
}

func professionalName(solverName string) string {
	if name, ok := professionalNames[solverName]; ok {
		return name
	}
	return strings.Title(strings.ReplaceAll(solverName, "_", " "))
}

var trainIDPattern = regexp.MustCompile(`[A-Z]+_\d+`)

func extractTrainsFromActions(actions []string) []string {
	set := map[string]bool{}
	for _, a := range actions {
		for _, m := range trainIDPattern.FindAllString(a, -1) {
			set[m] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func inferSideEffects(m OptimizerMetrics, actions []string) []string {
	var effects []string
	if m.PropagationDepth > 0 {
		effects = append(effects, fmt.Sprintf("Affects %d downstream train(s)", m.PropagationDepth))
	} else {
		effects = append(effects, "Minimal cascading effects (isolated resolution)")
	}
	if m.PassengerImpact > 1500 {
		effects = append(effects, fmt.Sprintf("High passenger impact (%.0f affected)", m.PassengerImpact))
	} else if m.PassengerImpact > 0 {
		effects = append(effects, fmt.Sprintf("Moderate passenger impact (%.0f affected)", m.PassengerImpact))
	}
	if len(actions) > 2 {
		effects = append(effects, "Requires coordination of multiple simultaneous actions")
	} else {
		effects = append(effects, "Simple implementation with minimal coordination overhead")
	}
	if m.RecoverySmoothness < 0.9 {
		effects = append(effects, "May require additional schedule adjustments")
	}
	return effects
}
