package server

import (
	"fmt"

	"github.com/tracktitans/railcore/detection"
	"github.com/tracktitans/railcore/resolution"
)

// candidatesForConflict proposes a small, fixed menu of normalized
// resolutions for one conflict — concrete candidate actions for a live
// problem, expressed against conflicts/resolutions instead of
// routes/signals. Every candidate here is built through the Normalizer so
// its scores are derived, not author-asserted.
func candidatesForConflict(n *resolution.Normalizer, c detection.Conflict) []resolution.NormalizedResolution {
	switch c.Type {
	case "headway_violation", "edge_overcapacity":
		return []resolution.NormalizedResolution{
			n.NormalizeOptimizer("greedy", resolution.OptimizerMetrics{
				Fitness: 0.78, TotalDelayMin: 4, NumActions: 1,
				PassengerImpact: 180, PropagationDepth: 0, RecoverySmoothness: 0.92,
			}, []string{fmt.Sprintf("Reduce speed by 20%% on %s", c.Location)}),
			n.NormalizeOptimizer("lns", resolution.OptimizerMetrics{
				Fitness: 0.85, TotalDelayMin: 6, NumActions: len(c.InvolvedTrains),
				PassengerImpact: 240, PropagationDepth: 1, RecoverySmoothness: 0.88,
			}, holdAllButFirst(c.InvolvedTrains)),
		}
	case "station_overcapacity":
		return []resolution.NormalizedResolution{
			n.NormalizeOptimizer("greedy", resolution.OptimizerMetrics{
				Fitness: 0.72, TotalDelayMin: 3, NumActions: 1,
				PassengerImpact: 120, PropagationDepth: 0, RecoverySmoothness: 0.9,
			}, []string{fmt.Sprintf("Extend dwell time at %s by 5 minutes", c.Location)}),
		}
	case "blocking_incident":
		return []resolution.NormalizedResolution{
			n.NormalizeOptimizer("simulated_annealing", resolution.OptimizerMetrics{
				Fitness: 0.65, TotalDelayMin: 12, NumActions: len(c.InvolvedTrains),
				PassengerImpact: 400, PropagationDepth: 2, RecoverySmoothness: 0.7,
			}, haltAll(c.InvolvedTrains)),
		}
	case "excessive_delay":
		return []resolution.NormalizedResolution{
			n.NormalizeOptimizer("greedy", resolution.OptimizerMetrics{
				Fitness: 0.8, TotalDelayMin: 2, NumActions: 1,
				PassengerImpact: 60, PropagationDepth: 0, RecoverySmoothness: 0.95,
			}, []string{fmt.Sprintf("Apply speed restriction for train %s to recover schedule", firstOr(c.InvolvedTrains, ""))}),
		}
	default:
		return nil
	}
}

func holdAllButFirst(trains []string) []string {
	var out []string
	for i, t := range trains {
		if i == 0 {
			continue
		}
		out = append(out, fmt.Sprintf("Hold train %s at current station", t))
	}
	if len(out) == 0 && len(trains) > 0 {
		out = append(out, fmt.Sprintf("Reduce speed by 15%% for train %s", trains[0]))
	}
	return out
}

func haltAll(trains []string) []string {
	var out []string
	for _, t := range trains {
		out = append(out, fmt.Sprintf("Halt train %s until incident clears", t))
	}
	return out
}

func firstOr(ss []string, def string) string {
	if len(ss) == 0 {
		return def
	}
	return ss[0]
}
