// Package patcher implements the Context Patcher: it interprets a chosen
// resolution's actions into value-level updates on the Network Model,
// applies them against a scratch copy, and validates that the model's
// schema is preserved exactly before committing.
package patcher

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/rerrors"
	"github.com/tracktitans/railcore/resolution"
	log "gopkg.in/inconshreveable/log15.v2"
)

var logger log.Logger

func InitializeLogger(parent log.Logger) { logger = parent.New("module", "patcher") }

func init() { logger = log.New("module", "patcher") }

// DefaultInterpreterTimeout bounds the interpreter's LLM call (§5).
const DefaultInterpreterTimeout = 120 * time.Second

// FieldUpdate is one value-level mutation on an existing field.
type FieldUpdate struct {
	Field     string             `json:"field"`
	Operation network.Operation  `json:"operation"`
	Value     float64            `json:"value"`
	Reason    string             `json:"reason"`
}

// RailUpdate targets every rail between Source and Target.
type RailUpdate struct {
	Source  string        `json:"source"`
	Target  string        `json:"target"`
	Updates []FieldUpdate `json:"updates"`
}

// TrainUpdate targets one train by ID.
type TrainUpdate struct {
	TrainID string        `json:"train_id"`
	Updates []FieldUpdate `json:"updates"`
}

// GlobalUpdate applies to every rail on the route of every affected train.
type GlobalUpdate struct {
	Parameter   string            `json:"parameter"`
	Operation   network.Operation `json:"operation"`
	Value       float64           `json:"value"`
	Description string            `json:"description"`
	AffectedTrains []string       `json:"affected_trains"`
}

// Instructions is the interpreter's translated action set.
type Instructions struct {
	RailUpdates   []RailUpdate   `json:"rail_updates"`
	TrainUpdates  []TrainUpdate  `json:"train_updates"`
	GlobalUpdates []GlobalUpdate `json:"global_updates"`
}

// Patcher owns the LLM interpreter client and the keyword fallback.
type Patcher struct {
	client *anthropic.Client
	model  anthropic.Model
}

func New(apiKey string, model anthropic.Model) *Patcher {
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	return &Patcher{client: anthropic.NewClient(option.WithAPIKey(apiKey)), model: model}
}

// Apply interprets res's actions, applies the resulting instructions to a
// clone of net, validates structural identity, and returns the new network
// only on success. On any structural deviation the updated model is
// discarded and an error returned — no partial writes are retained.
func (p *Patcher) Apply(ctx context.Context, net *network.Network, res resolution.NormalizedResolution) (*network.Network, error) {
	instr, err := p.interpret(ctx, res.Actions)
	if err != nil {
		logger.Warn("interpreter failed, falling back to keyword rules", "error", err)
		instr = keywordFallback(res.Actions)
	}

	clone, err := net.Clone()
	if err != nil {
		return nil, fmt.Errorf("patcher: clone failed: %w", err)
	}

	if err := applyInstructions(clone, instr, res.AffectedTrains); err != nil {
		return nil, fmt.Errorf("patcher: apply failed: %w", err)
	}

	if err := checkStructure(net, clone); err != nil {
		return nil, rerrors.New(rerrors.KindStructure, "patcher.Apply", err)
	}

	return clone, nil
}

func (p *Patcher) interpret(ctx context.Context, actions []string) (Instructions, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultInterpreterTimeout)
	defer cancel()

	prompt := buildInterpreterPrompt(actions)
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       p.model,
		MaxTokens:   1500,
		Temperature: anthropic.Float(0.0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Instructions{}, rerrors.New(rerrors.KindExternalGenerator, "patcher.interpret", err)
	}

	text := extractText(msg)
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return Instructions{}, err
	}
	var instr Instructions
	if err := json.Unmarshal([]byte(jsonStr), &instr); err != nil {
		return Instructions{}, fmt.Errorf("patcher: invalid JSON from interpreter: %w", err)
	}
	return instr, nil
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

func buildInterpreterPrompt(actions []string) string {
	var b strings.Builder
	b.WriteString("Translate each of the following railway-dispatch actions into update instructions ")
	b.WriteString("of the exact JSON shape {rail_updates:[{source,target,updates:[{field,operation,value,reason}]}], ")
	b.WriteString("train_updates:[{train_id,updates:[...]}], global_updates:[{parameter,operation,value,description,affected_trains}]}. ")
	b.WriteString("operation is one of set, multiply, add, subtract, keep_same. Return ONLY the JSON object.\n\nActions:\n")
	for i, a := range actions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a)
	}
	return b.String()
}

var (
	fencedJSONObj = regexp.MustCompile(`(?s)` + "```json" + `\s*(\{.*?\})\s*` + "```")
	fencedAnyObj  = regexp.MustCompile("(?s)```\\s*(\\{.*?\\})\\s*```")
	rawJSONObj    = regexp.MustCompile(`(?s)\{.*\}`)
)

func extractJSONObject(text string) (string, error) {
	if m := fencedJSONObj.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	if m := fencedAnyObj.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	if m := rawJSONObj.FindString(text); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("patcher: could not find JSON in interpreter response")
}

// keywordFallback translates action text into instructions using the
// literal phrase matches ported from the original's rule-based fallback,
// tried in priority order, case-insensitively.
func keywordFallback(actions []string) Instructions {
	var instr Instructions
	for _, action := range actions {
		lower := strings.ToLower(action)
		switch {
		case strings.Contains(lower, "reduce speed"):
			pct := extractPercent(lower)
			instr.GlobalUpdates = append(instr.GlobalUpdates, GlobalUpdate{
				Parameter: "max_speed_kmh", Operation: network.OpMultiply, Value: 1 - pct,
				Description: "reduce speed by " + action,
			})
		case strings.Contains(lower, "extend dwell"), strings.Contains(lower, "extend travel"):
			instr.GlobalUpdates = append(instr.GlobalUpdates, GlobalUpdate{
				Parameter: "travel_time_min", Operation: network.OpAdd, Value: 1.5,
				Description: "extend dwell/travel: " + action,
			})
		case strings.Contains(lower, "speed restriction"), strings.Contains(lower, "speed limit"):
			instr.GlobalUpdates = append(instr.GlobalUpdates, GlobalUpdate{
				Parameter: "max_speed_kmh", Operation: network.OpSet, Value: 80,
				Description: "speed restriction: " + action,
			})
		}
	}
	return instr
}

var percentPattern = regexp.MustCompile(`(\d+(\.\d+)?)\s*%`)

func extractPercent(lower string) float64 {
	m := percentPattern.FindStringSubmatch(lower)
	if m == nil {
		return 0.1
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0.1
	}
	return v / 100
}

// applyInstructions writes rail/train/global updates onto net via its
// single SetField primitive.
func applyInstructions(net *network.Network, instr Instructions, affectedTrains []string) error {
	for _, ru := range instr.RailUpdates {
		for i, r := range net.Rails {
			if r.Source != ru.Source || r.Target != ru.Target {
				continue
			}
			for _, u := range ru.Updates {
				path := fmt.Sprintf("rails[%d].%s", i, u.Field)
				if err := net.SetField(path, u.Operation, u.Value); err != nil {
					return err
				}
			}
		}
	}
	for _, tu := range instr.TrainUpdates {
		for i, t := range net.Trains {
			if t.TrainID != tu.TrainID {
				continue
			}
			for _, u := range tu.Updates {
				path := fmt.Sprintf("trains[%d].%s", i, u.Field)
				if err := net.SetField(path, u.Operation, u.Value); err != nil {
					return err
				}
			}
		}
	}
	for _, gu := range instr.GlobalUpdates {
		trains := gu.AffectedTrains
		if len(trains) == 0 {
			trains = affectedTrains
		}
		railIdxs := railsForTrains(net, trains)
		for _, i := range railIdxs {
			path := fmt.Sprintf("rails[%d].%s", i, gu.Parameter)
			if err := net.SetField(path, gu.Operation, gu.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// railsForTrains returns, for every affected train, the index of every
// rail covering a consecutive route-stop pair on its route, matched
// direction-insensitively.
func railsForTrains(net *network.Network, trainIDs []string) []int {
	seen := map[int]bool{}
	for _, id := range trainIDs {
		tr, _ := net.TrainByID(id)
		if tr == nil {
			continue
		}
		for i := 0; i+1 < len(tr.Route); i++ {
			a, b := tr.Route[i].StationName, tr.Route[i+1].StationName
			for idx, r := range net.Rails {
				if (r.Source == a && r.Target == b) || (r.Source == b && r.Target == a) {
					seen[idx] = true
				}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	return out
}

// checkStructure is the recursive same-type/same-keys/same-list-length
// validation ported from the original's check_structure, applied to the
// two networks' JSON representations.
func checkStructure(orig, updated *network.Network) error {
	a, err := orig.Snapshot()
	if err != nil {
		return err
	}
	b, err := updated.Snapshot()
	if err != nil {
		return err
	}
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return err
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return err
	}
	return compareStructure(av, bv, "$")
}

func compareStructure(orig, upd interface{}, path string) error {
	switch o := orig.(type) {
	case map[string]interface{}:
		u, ok := upd.(map[string]interface{})
		if !ok {
			return fmt.Errorf("type mismatch at %s", path)
		}
		if len(o) != len(u) {
			return fmt.Errorf("key count differs at %s", path)
		}
		for k, ov := range o {
			uv, ok := u[k]
			if !ok {
				return fmt.Errorf("missing key %q at %s", k, path)
			}
			if err := compareStructure(ov, uv, path+"."+k); err != nil {
				return err
			}
		}
		for k := range u {
			if _, ok := o[k]; !ok {
				return fmt.Errorf("extra key %q at %s", k, path)
			}
		}
	case []interface{}:
		u, ok := upd.([]interface{})
		if !ok {
			return fmt.Errorf("type mismatch at %s", path)
		}
		if len(o) != len(u) {
			return fmt.Errorf("list length differs at %s: %d vs %d", path, len(o), len(u))
		}
		for i := range o {
			if err := compareStructure(o[i], u[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if _, ok := upd.(map[string]interface{}); ok {
			return fmt.Errorf("type mismatch at %s", path)
		}
		if _, ok := upd.([]interface{}); ok {
			return fmt.Errorf("type mismatch at %s", path)
		}
	}
	return nil
}
