package resolution

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNormalizeOptimizerBoundedness(t *testing.T) {
	Convey("Given terse optimizer metrics", t, func() {
		n := NewNormalizer()
		m := OptimizerMetrics{Fitness: 0.82, TotalDelayMin: 4.2, NumActions: 2, PropagationDepth: 0, RecoverySmoothness: 0.95, PassengerImpact: 1800}
		res := n.NormalizeOptimizer("lns", m, []string{"Reduce speed of REG_3053 by 10%", "Hold FR_8821"})

		Convey("all normalized scores lie in [0,1]", func() {
			So(res.SafetyScore, ShouldBeBetweenOrEqual, 0, 1)
			So(res.EfficiencyScore, ShouldBeBetweenOrEqual, 0, 1)
			So(res.FeasibilityScore, ShouldBeBetweenOrEqual, 0, 1)
		})

		Convey("safety gets both zero-propagation and smoothness bonuses applied", func() {
			So(res.SafetyScore, ShouldEqual, 1.0) // 0.90 + 0.05 + 0.05 clamped to 1
		})

		Convey("affected trains are extracted from the action text", func() {
			So(res.AffectedTrains, ShouldResemble, []string{"FR_8821", "REG_3053"})
		})
	})
}

func TestEfficiencyMonotoneInDelayReduction(t *testing.T) {
	Convey("efficiency is monotone non-decreasing in (original-final) delay", t, func() {
		lo := efficiencyScore(9.0, 10.0)  // small improvement
		hi := efficiencyScore(5.0, 10.0)  // larger improvement
		So(hi, ShouldBeGreaterThan, lo)
		So(efficiencyScore(0, 0), ShouldEqual, 0.5)
	})
}

func TestCondenseReasoningKeepsAtMostTwoKeyedSentences(t *testing.T) {
	Convey("Given verbose reasoning with keyword and filler sentences", t, func() {
		reasoning := "This is filler text with nothing relevant. " +
			"Safety is the top priority here. " +
			"The optimization converges quickly. " +
			"More filler with no keywords. " +
			"This proven algorithm respects every constraint."

		Convey("condenseReasoning keeps at most two keyworded sentences", func() {
			out := condenseReasoning(reasoning)
			So(out, ShouldContainSubstring, "Safety is the top priority")
			So(out, ShouldNotContainSubstring, "filler")
			So(out, ShouldNotContainSubstring, "proven")
		})
	})
}

func TestParseRankingsThreeTierExtraction(t *testing.T) {
	resolutions := []NormalizedResolution{
		{ResolutionID: "a", StrategyName: "A"},
		{ResolutionID: "b", StrategyName: "B"},
	}
	fenced := "Here is my answer:\n```json\n[{\"rank\":1,\"resolution_number\":2,\"overall_score\":90,\"safety_rating\":9,\"efficiency_rating\":8,\"feasibility_rating\":8,\"robustness_rating\":7,\"justification\":\"good\"}]\n```\nThanks."
	anyFence := "```\n[{\"rank\":1,\"resolution_number\":1,\"overall_score\":80,\"safety_rating\":8,\"efficiency_rating\":8,\"feasibility_rating\":8,\"robustness_rating\":8,\"justification\":\"ok\"}]\n```"
	raw := "blah blah [{\"rank\":1,\"resolution_number\":1,\"overall_score\":70,\"safety_rating\":7,\"efficiency_rating\":7,\"feasibility_rating\":7,\"robustness_rating\":7,\"justification\":\"fine\"}] trailing"
	malformed := "no json here at all"

	Convey("fenced ```json wins first", t, func() {
		out, err := parseRankings(fenced, resolutions, 3)
		So(err, ShouldBeNil)
		So(out[0].FullResolution.ResolutionID, ShouldEqual, "b")
	})
	Convey("any fenced block is the second tier", t, func() {
		out, err := parseRankings(anyFence, resolutions, 3)
		So(err, ShouldBeNil)
		So(out[0].FullResolution.ResolutionID, ShouldEqual, "a")
	})
	Convey("a raw top-level array is the third tier", t, func() {
		out, err := parseRankings(raw, resolutions, 3)
		So(err, ShouldBeNil)
		So(out[0].FullResolution.ResolutionID, ShouldEqual, "a")
	})
	Convey("malformed output fails loudly", t, func() {
		_, err := parseRankings(malformed, resolutions, 3)
		So(err, ShouldNotBeNil)
	})
}

// Scenario 5 groundwork: a verbose proposal's self-reported scores reach the
// normalized schema unchanged, so its verbosity alone does not alter the
// score vector the judge sees.
func TestNormalizeRankSymmetry(t *testing.T) {
	Convey("Given a verbose proposal with self-reported scores", t, func() {
		n := NewNormalizer()
		safety, efficiency, feasibility := 0.9, 0.8, 0.7
		verbose := n.NormalizeVerbose(VerboseProposal{
			ResolutionID: "v1", StrategyName: "Historical Fix",
			ActionSteps: []string{"slow REG_1"}, Reasoning: "Safety is preserved via proven constraint checks.",
			SafetyScore: &safety, EfficiencyScore: &efficiency, FeasibilityScore: &feasibility,
		})

		Convey("its normalized scores equal the self-reported ones", func() {
			So(verbose.SafetyScore, ShouldEqual, safety)
			So(verbose.EfficiencyScore, ShouldEqual, efficiency)
			So(verbose.FeasibilityScore, ShouldEqual, feasibility)
		})
	})
}
