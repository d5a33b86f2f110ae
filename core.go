package railcore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tracktitans/railcore/config"
	"github.com/tracktitans/railcore/detection"
	"github.com/tracktitans/railcore/feature"
	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/patcher"
	"github.com/tracktitans/railcore/prediction"
	"github.com/tracktitans/railcore/resolution"
	"github.com/tracktitans/railcore/tick"
	"github.com/tracktitans/railcore/tracker"
	log "gopkg.in/inconshreveable/log15.v2"
)

// headwayWindowSec bounds how far back the headway rule looks for a prior
// edge entry on the same rail; generous relative to any realistic
// min_headway_sec value.
const headwayWindowSec = 600

var logger log.Logger

func InitializeLogger(parent log.Logger) { logger = parent.New("module", "railcore") }

func init() { logger = log.New("module", "railcore") }

// Core wires the State Tracker, Tick Engine, Detection Engine, Predictor,
// Resolution Normalizer/Judge and Context Patcher together per §5's
// single-logical-writer-per-tick model: Tick holds exclusive write access to
// the tracker for the duration of one tick; detection runs afterward against
// the now-stable read view, and the Predictor runs on demand through the
// PredictionsFor* methods; Judge and Context Patcher
// calls never hold the tracker's write lock and run outside the tick path.
type Core struct {
	cfg config.Config

	// writeMu serializes calls into Tick — the single logical writer.
	writeMu sync.Mutex

	tk        *tracker.Tracker
	tickEng   *tick.Engine
	detectEng *detection.Engine
	predictor *prediction.Predictor
	normalizer *resolution.Normalizer
	judge     *resolution.Judge
	patcher   *patcher.Patcher

	conflictsMu sync.RWMutex
	conflicts   []detection.Conflict

	tickCount int
}

// New builds a Core bound to a freshly loaded network. apiKey is used for
// both the Judge and the Context Patcher's interpreter, per §5's "outside
// the tick-critical path" rule for LLM calls.
func New(cfg config.Config, net *network.Network, apiKey string) *Core {
	tk := tracker.New(net)
	predCfg := prediction.Config{
		TriggerDelayThresholdSec:   cfg.TriggerDelayThresholdSec,
		TriggerCongestionThreshold: cfg.TriggerCongestionThreshold,
		ContinuousIntervalSec:      cfg.ContinuousIntervalSec,
		HorizonMin:                 cfg.PredictionHorizonMinMax,
	}
	return &Core{
		cfg:        cfg,
		tk:         tk,
		tickEng:    tick.New(cfg, tk),
		detectEng:  detection.New(cfg.ConflictThresholds.ExcessiveDelayMediumSec, cfg.ConflictThresholds.ExcessiveDelayHighSec),
		predictor:  prediction.New(predCfg, nil, nil),
		normalizer: resolution.NewNormalizer(),
		judge:      resolution.NewJudge(apiKey, anthropic.ModelClaude3_5HaikuLatest),
		patcher:    patcher.New(apiKey, anthropic.ModelClaude3_5HaikuLatest),
	}
}

// Tick advances the simulation one step, then runs detection against the
// resulting stable view. It does not run the Predictor; predictions are
// produced only by PredictionsForTrain/Station/Region. Apart from
// ApplyResolution's network swap, it is the only method that mutates the
// tracker; callers must not call it concurrently with itself (writeMu
// enforces this even if they do).
func (c *Core) Tick() (tick.ChangeRecord, []detection.Conflict) {
	c.writeMu.Lock()
	rec := c.tickEng.Tick()
	c.tickCount++
	now := time.Now()
	entries := c.tickEng.RecentEdgeEntries(headwayWindowSec)
	found := c.detectEng.Evaluate(c.tk, now, entries)
	c.writeMu.Unlock()

	c.conflictsMu.Lock()
	c.conflicts = append(c.conflicts, found...)
	c.conflictsMu.Unlock()

	return rec, found
}

// GetState returns the current network snapshot for a read-only consumer
// (e.g. the server's WebSocket broadcast).
func (c *Core) GetState() *network.Network {
	return c.tk.Network()
}

// Time returns the simulated elapsed time in seconds.
func (c *Core) Time() float64 {
	return c.tk.Time()
}

// PredictionsForTrain runs the Predictor for one train if any smart trigger
// fires, never blocking the tick path (it only takes the tracker's read
// lock via tk.Network()).
func (c *Core) PredictionsForTrain(trainID string, now time.Time) (prediction.Prediction, bool) {
	if !c.predictor.ShouldPredict(c.tk, trainID, now) {
		return prediction.Prediction{}, false
	}
	return c.predictor.Predict(c.tk, trainID, now), true
}

// PredictionsForStation runs the Predictor for every train currently
// occupying the named station.
func (c *Core) PredictionsForStation(stationName string, now time.Time) []prediction.Prediction {
	var out []prediction.Prediction
	net := c.tk.Network()
	st, _ := net.StationByName(stationName)
	if st == nil {
		return nil
	}
	for _, id := range st.CurrentTrains {
		if p, ok := c.PredictionsForTrain(id, now); ok {
			out = append(out, p)
		}
	}
	return out
}

// PredictionsForRegion runs the Predictor for every active train whose
// current station or edge-target station belongs to region.
func (c *Core) PredictionsForRegion(region string, now time.Time) []prediction.Prediction {
	var out []prediction.Prediction
	net := c.tk.Network()
	inRegion := map[string]bool{}
	for _, st := range net.Stations {
		if st.Region == region {
			inRegion[st.Name] = true
		}
	}
	for _, tr := range net.Trains {
		if !tr.Active {
			continue
		}
		loc := tr.CurrentStation
		if loc == "" {
			loc = tr.CurrentEdgeTarget
		}
		if !inRegion[loc] {
			continue
		}
		if p, ok := c.PredictionsForTrain(tr.TrainID, now); ok {
			out = append(out, p)
		}
	}
	return out
}

// RankResolutions normalizes candidate resolutions and asks the Judge to
// rank the top-K, for an already-identified conflict. This never holds the
// tracker's write lock.
func (c *Core) RankResolutions(ctx context.Context, candidates []resolution.NormalizedResolution, cc resolution.ConflictContext, topK int) ([]resolution.Ranking, error) {
	return c.judge.RankResolutions(ctx, candidates, cc, topK)
}

// ApplyResolution interprets and applies a chosen resolution's actions via
// the Context Patcher, then swaps the tracker onto the newly patched
// network only if structural identity held. It briefly takes the tracker's
// write lock only for the swap itself, not for the (potentially slow) LLM
// interpretation.
func (c *Core) ApplyResolution(ctx context.Context, res resolution.NormalizedResolution) error {
	current := c.tk.Network()
	patched, err := c.patcher.Apply(ctx, current, res)
	if err != nil {
		return fmt.Errorf("railcore: apply resolution: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.tk.ReplaceNetwork(patched)
	return nil
}

// SaveConflicts writes every conflict recorded so far to filename as JSON.
// An empty filename derives one from the current tick count.
func (c *Core) SaveConflicts(filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("conflicts_tick_%d.json", c.tickCount)
	}
	c.conflictsMu.RLock()
	data, err := json.MarshalIndent(c.conflicts, "", "  ")
	c.conflictsMu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("railcore: marshal conflicts: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("railcore: write conflicts file: %w", err)
	}
	return filename, nil
}

// Conflicts returns every conflict recorded so far.
func (c *Core) Conflicts() []detection.Conflict {
	c.conflictsMu.RLock()
	defer c.conflictsMu.RUnlock()
	return append([]detection.Conflict(nil), c.conflicts...)
}

// StartSimulation runs up to cfg.MaxTicks ticks (or forever if MaxTicks is
// 0) at cfg.TickIntervalSeconds real-time pacing, invoking onTick after
// every step. It blocks until ctx is cancelled or MaxTicks is reached.
func (c *Core) StartSimulation(ctx context.Context, onTick func(tick.ChangeRecord, []detection.Conflict)) error {
	pace := time.Duration(c.cfg.TickIntervalSeconds * float64(time.Second))
	if pace <= 0 {
		pace = time.Second
	}
	ticker := time.NewTicker(pace)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rec, conflicts := c.Tick()
			if onTick != nil {
				onTick(rec, conflicts)
			}
			if c.cfg.MaxTicks > 0 && c.tickCount >= c.cfg.MaxTicks {
				return nil
			}
		}
	}
}

// BuildFeatures exposes the Feature Engine directly for callers (e.g. an
// offline training/export path) that need a raw feature vector without
// going through the Predictor's trigger gating.
func (c *Core) BuildFeatures(trainID string, now time.Time, horizonMin float64) feature.Vector {
	return feature.Build(c.tk, trainID, now, horizonMin)
}
