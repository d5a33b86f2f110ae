package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tracktitans/railcore/rerrors"
)

// ConflictContext is the conflict summary rendered once at the top of the
// judge's prompt.
type ConflictContext struct {
	Summary  string
	Location string
	Trains   []string
}

// Ranking is one parsed, enriched entry of the judge's output.
type Ranking struct {
	Rank              int
	ResolutionNumber  int
	OverallScore      float64
	SafetyRating      float64
	EfficiencyRating  float64
	FeasibilityRating float64
	RobustnessRating  float64
	Justification     string
	FullResolution    NormalizedResolution
}

// rawRanking mirrors the judge's parsed JSON array entries before
// enrichment with the full resolution.
type rawRanking struct {
	Rank              int     `json:"rank"`
	ResolutionNumber  int     `json:"resolution_number"`
	OverallScore      float64 `json:"overall_score"`
	SafetyRating      float64 `json:"safety_rating"`
	EfficiencyRating  float64 `json:"efficiency_rating"`
	FeasibilityRating float64 `json:"feasibility_rating"`
	RobustnessRating  float64 `json:"robustness_rating"`
	Justification     string  `json:"justification"`
}

// DefaultJudgeTimeout is the bounded timeout on the judge's LLM call (§5).
const DefaultJudgeTimeout = 120 * time.Second

// Judge ranks normalized resolutions using an external LLM over a
// fairness-constrained prompt. It must be called outside any tick-critical
// path and must never hold the State Tracker's write lock (§5).
type Judge struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewJudge builds a Judge using the given API key. model defaults to Haiku
// when empty — cheap and sufficient for a structured-ranking task.
func NewJudge(apiKey string, model anthropic.Model) *Judge {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	return &Judge{client: client, model: model}
}

// RankResolutions builds the evaluation prompt, calls the LLM at low
// temperature, and parses the top-K ranked resolutions with their full
// normalized data attached. Malformed output fails loudly rather than
// silently picking a resolution.
func (j *Judge) RankResolutions(ctx context.Context, resolutions []NormalizedResolution, cc ConflictContext, topK int) ([]Ranking, error) {
	if topK <= 0 {
		topK = 3
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultJudgeTimeout)
	defer cancel()

	prompt := buildEvaluationPrompt(resolutions, cc, topK)

	msg, err := j.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       j.model,
		MaxTokens:   2000,
		Temperature: anthropic.Float(0.1),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, rerrors.New(rerrors.KindExternalGenerator, "resolution.Judge.RankResolutions", err)
	}

	text := extractText(msg)
	return parseRankings(text, resolutions, topK)
}

func extractText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func buildEvaluationPrompt(resolutions []NormalizedResolution, cc ConflictContext, topK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert railway operations judge evaluating conflict resolution strategies.\n\n")
	fmt.Fprintf(&b, "**CONFLICT CONTEXT:**\n- Type: %s\n- Location: %s\n- Affected Trains: %s\n\n",
		cc.Summary, cc.Location, strings.Join(cc.Trains, ", "))
	fmt.Fprintf(&b, "**YOUR TASK:**\nEvaluate the following %d resolution strategies objectively and rank the TOP %d.\n\n", len(resolutions), topK)
	b.WriteString("**EVALUATION CRITERIA (Equal Weight):**\n")
	b.WriteString("1. **Safety** (30%): Does it maintain operational safety and prevent cascading failures?\n")
	b.WriteString("2. **Efficiency** (30%): How effectively does it reduce delays and restore normal operations?\n")
	b.WriteString("3. **Feasibility** (25%): Can it be implemented quickly with available infrastructure?\n")
	b.WriteString("4. **Robustness** (15%): How well does it handle uncertainty and side effects?\n\n")
	b.WriteString("**IMPORTANT GUIDELINES:**\n")
	b.WriteString("- Mathematical optimization solutions are AS VALID as hybrid/historical approaches\n")
	b.WriteString("- Simpler solutions with fewer actions are OFTEN feasible in practice\n")
	b.WriteString("- Lower delay metrics indicate BETTER performance\n")
	b.WriteString("- Judge based on OBJECTIVE CRITERIA, not on verbosity of explanation\n\n")
	b.WriteString("---\n\n**RESOLUTIONS TO EVALUATE:**\n")

	for i, res := range resolutions {
		fmt.Fprintf(&b, "\n### Resolution %d: %s\n", i+1, res.StrategyName)
		fmt.Fprintf(&b, "**Source:** %s\n**Algorithm Type:** %s\n\n", res.SourceAgent, res.AlgorithmType)
		b.WriteString("**Actions:**\n")
		for j, a := range res.Actions {
			fmt.Fprintf(&b, "  %d. %s\n", j+1, a)
		}
		fmt.Fprintf(&b, "\n**Expected Outcome:**\n%s\n\n", res.ExpectedOutcome)
		fmt.Fprintf(&b, "**Technical Reasoning:**\n%s\n\n", res.Reasoning)
		fmt.Fprintf(&b, "**Quantitative Metrics:**\n- Overall Fitness/Confidence: %.3f\n- Safety Score: %.3f\n- Efficiency Score: %.3f\n- Feasibility Score: %.3f\n- Estimated Delay: %.1f minutes\n- Affected Trains: %d\n\n",
			res.OverallFitness, res.SafetyScore, res.EfficiencyScore, res.FeasibilityScore, res.EstimatedDelayMin, len(res.AffectedTrains))
		b.WriteString("**Side Effects:**\n")
		if len(res.SideEffects) == 0 {
			b.WriteString("  - None identified\n")
		}
		for _, e := range res.SideEffects {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
		b.WriteString("\n---\n")
	}

	fmt.Fprintf(&b, "\n**OUTPUT FORMAT:**\nReturn ONLY a JSON array with your top %d ranked resolutions:\n", topK)
	b.WriteString(`
[
  {
    "rank": 1,
    "resolution_number": <1-N>,
    "overall_score": <0-100>,
    "safety_rating": <0-10>,
    "efficiency_rating": <0-10>,
    "feasibility_rating": <0-10>,
    "robustness_rating": <0-10>,
    "justification": "<2-3 sentence explanation focusing on objective strengths>"
  }
]

**CRITICAL:** Base your judgment on OBJECTIVE PERFORMANCE METRICS and PRACTICAL VIABILITY, not on how detailed the explanation is.
`)
	return b.String()
}

var (
	fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedAnyBlock  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	rawJSONArray    = regexp.MustCompile(`(?s)\[.*\]`)
)

// extractJSON applies the 3-tier extraction strategy, in order: fenced
// ```json block, any fenced block, first top-level JSON array.
func extractJSON(text string) (string, error) {
	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	if m := fencedAnyBlock.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	if m := rawJSONArray.FindString(text); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("resolution: could not find JSON in judge response")
}

// parseRankings parses the judge's textual output and enriches each
// ranking with its full normalized resolution. Malformed output is a hard
// failure — no silent fallback ranking is ever produced.
func parseRankings(text string, resolutions []NormalizedResolution, topK int) ([]Ranking, error) {
	jsonStr, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var raws []rawRanking
	if err := json.Unmarshal([]byte(jsonStr), &raws); err != nil {
		return nil, fmt.Errorf("resolution: invalid JSON from judge: %w", err)
	}
	if len(raws) > topK {
		raws = raws[:topK]
	}
	out := make([]Ranking, 0, len(raws))
	for _, r := range raws {
		idx := r.ResolutionNumber - 1
		if idx < 0 || idx >= len(resolutions) {
			logger.Warn("judge referenced an invalid resolution_number, skipping", "resolution_number", r.ResolutionNumber)
			continue
		}
		out = append(out, Ranking{
			Rank:              r.Rank,
			ResolutionNumber:  r.ResolutionNumber,
			OverallScore:      r.OverallScore,
			SafetyRating:      r.SafetyRating,
			EfficiencyRating:  r.EfficiencyRating,
			FeasibilityRating: r.FeasibilityRating,
			RobustnessRating:  r.RobustnessRating,
			Justification:     r.Justification,
			FullResolution:    resolutions[idx],
		})
	}
	return out, nil
}
