// Package detection implements the Detection Engine: a fixed set of
// deterministic rules evaluated against the State Tracker after every tick.
package detection

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
	log "gopkg.in/inconshreveable/log15.v2"
)

var logger log.Logger

func InitializeLogger(parent log.Logger) { logger = parent.New("module", "detection") }

func init() { logger = log.New("module", "detection") }

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Source string

const (
	SourceDetection Source = "detection"
	SourcePrediction Source = "prediction"
)

type LocationType string

const (
	LocationStation LocationType = "station"
	LocationEdge    LocationType = "edge"
)

// Conflict is an immutable, emitted value. Once constructed it is never
// mutated.
type Conflict struct {
	ConflictID          string       `json:"conflict_id"`
	Source              Source       `json:"source"`
	Type                string       `json:"type"`
	Severity            Severity     `json:"severity"`
	Probability         float64      `json:"probability"`
	Location            string       `json:"location"`
	LocationType        LocationType `json:"location_type"`
	InvolvedTrains      []string     `json:"involved_trains"`
	Explanation         string       `json:"explanation"`
	Timestamp           time.Time    `json:"timestamp"`
	PredictionHorizonMin *float64    `json:"prediction_horizon_min,omitempty"`
	RuleTriggered       string       `json:"rule_triggered,omitempty"`
	Suggestions         []string     `json:"suggestions,omitempty"`
	// ReemissionCount is how many ticks (including this one) have now
	// produced the same (rule, location, sorted involved_trains) key. 1 on
	// first emission, 2 on the next tick it still holds, and so on.
	ReemissionCount int `json:"reemission_count"`
}

func dedupKey(rule, location string, trains []string) string {
	sorted := append([]string(nil), trains...)
	sort.Strings(sorted)
	return rule + "|" + location + "|" + strings.Join(sorted, ",")
}

// Statistics are the Detection Engine's cumulative counters, grounded on
// server/metrics.go's rolling-counter idiom.
type Statistics struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"by_type"`
	BySeverity  map[string]int `json:"by_severity"`
	Reemissions int            `json:"reemissions"`
}

// Engine evaluates the fixed rule set. A rule panic/error is caught,
// logged and skipped — no rule failure halts the tick.
type Engine struct {
	ExcessiveDelayMediumSec float64
	ExcessiveDelayHighSec   float64

	seen       map[string]int // dedup key -> re-emission count, across ticks
	stats      Statistics
	nextID     int
}

func New(excessiveDelayMediumSec, excessiveDelayHighSec float64) *Engine {
	return &Engine{
		ExcessiveDelayMediumSec: excessiveDelayMediumSec,
		ExcessiveDelayHighSec:   excessiveDelayHighSec,
		seen:                    make(map[string]int),
		stats:                   Statistics{ByType: map[string]int{}, BySeverity: map[string]int{}},
	}
}

type rule struct {
	name string
	fn   func(e *Engine, tk *tracker.Tracker) []Conflict
}

var rules = []rule{
	{"station_overcapacity", (*Engine).stationOvercapacity},
	{"edge_overcapacity", (*Engine).edgeOvercapacity},
	{"blocking_incident", (*Engine).blockingIncident},
	{"excessive_delay", (*Engine).excessiveDelay},
}

// Evaluate runs every rule against the tracker's current state and returns
// this tick's conflicts, deduplicated by (rule, location, sorted trains).
// departureLog carries this run's edge-entry timestamps so the headway rule
// can compare successive entries per rail.
func (e *Engine) Evaluate(tk *tracker.Tracker, now time.Time, departureLog []DepartureEvent) (conflicts []Conflict) {
	var found []Conflict
	for _, r := range rules {
		found = append(found, e.runRuleSafely(r, tk)...)
	}
	headway := rule{"headway_violation", func(e *Engine, tk *tracker.Tracker) []Conflict { return e.headwayRule(tk, departureLog) }}
	found = append(found, e.runRuleSafely(headway, tk)...)
	thisTick := map[string]bool{}
	for _, c := range found {
		key := dedupKey(c.RuleTriggered, c.Location, c.InvolvedTrains)
		if thisTick[key] {
			continue
		}
		thisTick[key] = true

		c.Timestamp = now
		e.nextID++
		c.ConflictID = fmt.Sprintf("CONFLICT_%d", e.nextID)

		e.seen[key]++
		c.ReemissionCount = e.seen[key]
		if e.seen[key] > 1 {
			e.stats.Reemissions++
		}

		e.stats.Total++
		e.stats.ByType[c.Type]++
		e.stats.BySeverity[string(c.Severity)]++
		conflicts = append(conflicts, c)
	}
	return conflicts
}

func (e *Engine) runRuleSafely(r rule, tk *tracker.Tracker) (out []Conflict) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("rule panicked, skipping", "rule", r.name, "recovered", rec)
			out = nil
		}
	}()
	return r.fn(e, tk)
}

func (e *Engine) stationOvercapacity(tk *tracker.Tracker) []Conflict {
	var out []Conflict
	for _, st := range tk.Network().Stations {
		if len(st.CurrentTrains) <= st.MaxTrainsAtOnce {
			continue
		}
		sev := SeverityHigh
		if st.BlockingBehavior == network.BlockingHard {
			sev = SeverityCritical
		}
		out = append(out, Conflict{
			Source:         SourceDetection,
			Type:           "station_overcapacity",
			Severity:       sev,
			Probability:    1.0,
			Location:       st.Name,
			LocationType:   LocationStation,
			InvolvedTrains: append([]string(nil), st.CurrentTrains...),
			Explanation:    fmt.Sprintf("station %s holds %d trains, exceeding max %d", st.Name, len(st.CurrentTrains), st.MaxTrainsAtOnce),
			RuleTriggered:  "station_overcapacity",
		})
	}
	return out
}

func (e *Engine) edgeOvercapacity(tk *tracker.Tracker) []Conflict {
	var out []Conflict
	for _, r := range tk.Network().Rails {
		if r.CurrentLoad <= r.Capacity {
			continue
		}
		loc := r.Source + "->" + r.Target
		out = append(out, Conflict{
			Source:        SourceDetection,
			Type:          "edge_overcapacity",
			Severity:      SeverityHigh,
			Probability:   1.0,
			Location:      loc,
			LocationType:  LocationEdge,
			Explanation:   fmt.Sprintf("edge %s load %d exceeds capacity %d", loc, r.CurrentLoad, r.Capacity),
			RuleTriggered: "edge_overcapacity",
		})
	}
	return out
}

// DepartureEvent records a train entering a directed edge, fed in by the
// tick engine so the headway rule can compare successive entries.
type DepartureEvent struct {
	TrainID string
	Source  string
	Target  string
	At      time.Time
}

func (e *Engine) headwayRule(tk *tracker.Tracker, departureLog []DepartureEvent) []Conflict {
	byEdge := map[string][]DepartureEvent{}
	for _, d := range departureLog {
		key := d.Source + "->" + d.Target
		byEdge[key] = append(byEdge[key], d)
	}
	var out []Conflict
	for _, r := range tk.Network().Rails {
		key := r.Source + "->" + r.Target
		if evs, ok := byEdge[key]; ok {
			out = append(out, HeadwayCheck(r, evs)...)
		}
	}
	return out
}

// HeadwayCheck evaluates the headway rule for one edge given its ordered
// entry timestamps and the rail's min_headway_sec, used directly by the
// tick pipeline which has access to the rail record.
func HeadwayCheck(rail network.Rail, entries []DepartureEvent) []Conflict {
	var out []Conflict
	sort.Slice(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	for i := 1; i < len(entries); i++ {
		gap := entries[i].At.Sub(entries[i-1].At).Seconds()
		if gap < rail.MinHeadwaySec {
			loc := rail.Source + "->" + rail.Target
			out = append(out, Conflict{
				Source:         SourceDetection,
				Type:           "headway_violation",
				Severity:       SeverityHigh,
				Probability:    1.0,
				Location:       loc,
				LocationType:   LocationEdge,
				InvolvedTrains: []string{entries[i-1].TrainID, entries[i].TrainID},
				Explanation:    fmt.Sprintf("trains %s and %s entered %s %.0fs apart, below min headway %.0fs", entries[i-1].TrainID, entries[i].TrainID, loc, gap, rail.MinHeadwaySec),
				RuleTriggered:  "headway_violation",
			})
		}
	}
	return out
}

func (e *Engine) blockingIncident(tk *tracker.Tracker) []Conflict {
	var out []Conflict
	for _, st := range tk.Network().Stations {
		if len(st.CurrentTrains) == 0 {
			continue
		}
		for _, inc := range st.ActiveIncidents {
			if !inc.IsBlocking {
				continue
			}
			out = append(out, Conflict{
				Source:         SourceDetection,
				Type:           "blocking_incident",
				Severity:       SeverityCritical,
				Probability:    1.0,
				Location:       st.Name,
				LocationType:   LocationStation,
				InvolvedTrains: append([]string(nil), st.CurrentTrains...),
				Explanation:    fmt.Sprintf("blocking incident %s active at %s", inc.IncidentID, st.Name),
				RuleTriggered:  "blocking_incident",
			})
		}
	}
	for _, r := range tk.Network().Rails {
		occupants := trainsOnEdge(tk, r)
		if len(occupants) == 0 {
			continue
		}
		for _, inc := range r.ActiveIncidents {
			if !inc.IsBlocking {
				continue
			}
			loc := r.Source + "->" + r.Target
			out = append(out, Conflict{
				Source:         SourceDetection,
				Type:           "blocking_incident",
				Severity:       SeverityCritical,
				Probability:    1.0,
				Location:       loc,
				LocationType:   LocationEdge,
				InvolvedTrains: occupants,
				Explanation:    fmt.Sprintf("blocking incident %s active on %s", inc.IncidentID, loc),
				RuleTriggered:  "blocking_incident",
			})
		}
	}
	return out
}

func trainsOnEdge(tk *tracker.Tracker, r network.Rail) []string {
	var out []string
	for _, tr := range tk.Network().Trains {
		if tr.CurrentPositionType == network.PositionEdge && tr.CurrentEdgeSource == r.Source && tr.CurrentEdgeTarget == r.Target {
			out = append(out, tr.TrainID)
		}
	}
	return out
}

func (e *Engine) excessiveDelay(tk *tracker.Tracker) []Conflict {
	var out []Conflict
	for _, tr := range tk.Network().Trains {
		if tr.DelaySeconds < e.ExcessiveDelayMediumSec {
			continue
		}
		if tr.CurrentPositionType != network.PositionStation {
			continue
		}
		st, _ := tk.Network().StationByName(tr.CurrentStation)
		if st == nil || st.MaxTrainsAtOnce <= 0 {
			continue
		}
		sev := SeverityMedium
		if tr.DelaySeconds >= e.ExcessiveDelayHighSec {
			sev = SeverityHigh
		}
		out = append(out, Conflict{
			Source:         SourceDetection,
			Type:           "excessive_delay",
			Severity:       sev,
			Probability:    1.0,
			Location:       st.Name,
			LocationType:   LocationStation,
			InvolvedTrains: []string{tr.TrainID},
			Explanation:    fmt.Sprintf("train %s delayed %.0fs at capacity-constrained station %s", tr.TrainID, tr.DelaySeconds, st.Name),
			RuleTriggered:  "excessive_delay",
		})
	}
	return out
}

// Stats returns the engine's cumulative statistics.
func (e *Engine) Stats() Statistics { return e.stats }
