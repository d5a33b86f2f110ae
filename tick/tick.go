// Package tick implements the Tick Engine: the seven-step, seedable
// per-tick algorithm that drives the State Tracker forward one discrete
// step at a time.
package tick

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/tracktitans/railcore/config"
	"github.com/tracktitans/railcore/detection"
	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
	log "gopkg.in/inconshreveable/log15.v2"
)

var logger log.Logger

func InitializeLogger(parent log.Logger) { logger = parent.New("module", "tick") }

func init() { logger = log.New("module", "tick") }

// ChangeRecord is the observable per-tick outcome, in the §4.C step order.
type ChangeRecord struct {
	Tick              int      `json:"tick"`
	Time              float64  `json:"time"`
	Departures        []string `json:"departures"`
	Arrivals          []string `json:"arrivals"`
	DelaysAdded       []string `json:"delays_added"`
	SpeedChanges      []string `json:"speed_changes"`
	TrainsSpawned     []string `json:"trains_spawned"`
	IncidentsStarted  []string `json:"incidents_started"`
	IncidentsResolved []string `json:"incidents_resolved"`
	Weather           string   `json:"weather"`
}

// Engine drives the tracker forward tick by tick. All stochastic choices
// flow through its single seeded *rand.Rand — never math/rand's package
// level funcs, never wall-clock entropy.
type Engine struct {
	cfg      config.Config
	tk       *tracker.Tracker
	rng      *rand.Rand
	tickNum  int
	incAge   map[string]int
	roster   []string // inactive train IDs not yet spawned
	nextIncID int
	edgeEntries []detection.DepartureEvent
	forcedWeather *tracker.Weather
}

// ForceWeather pins the network-wide weather to w on every subsequent tick,
// overriding step 2's random weather draw after it runs (the draw still
// consumes its rng calls, so a forced and an unforced run seeded alike stay
// aligned on every other stochastic decision). Used for dispatcher-directed
// weather overrides and for comparing otherwise-identical runs under a
// fixed weather condition.
func (e *Engine) ForceWeather(w tracker.Weather) { e.forcedWeather = &w }

// epoch anchors simulated seconds to a fixed wall-clock instant so
// DepartureEvent timestamps are orderable without touching real time.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// New builds a tick engine bound to tk, seeded from cfg.RandomSeed. Trains
// present in tk's network with Active==false at construction time form the
// spawn roster (§4.C step 7).
func New(cfg config.Config, tk *tracker.Tracker) *Engine {
	e := &Engine{
		cfg:    cfg,
		tk:     tk,
		rng:    rand.New(rand.NewSource(cfg.RandomSeed)),
		incAge: make(map[string]int),
	}
	for _, tr := range tk.Network().Trains {
		if !tr.Active {
			e.roster = append(e.roster, tr.TrainID)
		}
	}
	return e
}

func weatherFactor(w tracker.Weather) float64 {
	switch w {
	case tracker.WeatherSnow, tracker.WeatherStorm, tracker.WeatherFog:
		return 0.8
	case tracker.WeatherRain:
		return 0.95
	default:
		return 1.0
	}
}

// Tick advances simulated time by one tick_interval_seconds and runs the
// seven-step algorithm. Order is contractual.
func (e *Engine) Tick() ChangeRecord {
	e.tickNum++
	rec := ChangeRecord{Tick: e.tickNum}

	// Step 1: advance clock.
	newTime := e.tk.Time() + e.cfg.TickIntervalSeconds
	e.tk.UpdateTime(newTime)
	rec.Time = newTime

	// Step 2: weather update, 5% probability per tick.
	incidentProbability := e.cfg.IncidentProbability
	if e.rng.Float64() < 0.05 {
		weathers := []tracker.Weather{tracker.WeatherClear, tracker.WeatherRain, tracker.WeatherSnow, tracker.WeatherStorm, tracker.WeatherFog}
		w := weathers[e.rng.Intn(len(weathers))]
		e.tk.UpdateWeather(w)
	}
	if e.forcedWeather != nil {
		e.tk.UpdateWeather(*e.forcedWeather)
	}
	w := e.tk.Weather()
	if w == tracker.WeatherSnow || w == tracker.WeatherStorm {
		incidentProbability *= 1.5
	}
	rec.Weather = string(w)

	// Step 3: incident lifecycle.
	for _, ref := range e.tk.AllActiveIncidents() {
		id := ref.Incident.IncidentID
		age := e.incAge[id]
		e.incAge[id] = age + 1
		resolveProb := 0.05 + 0.01*float64(age)
		if e.rng.Float64() < resolveProb {
			e.tk.ResolveIncident(id)
			delete(e.incAge, id)
			rec.IncidentsResolved = append(rec.IncidentsResolved, id)
		}
	}

	// Step 4: incident spawn.
	if e.rng.Float64() < incidentProbability {
		e.spawnIncident(&rec)
	}

	// Step 5: per-active-train step.
	for _, tr := range e.tk.Network().Trains {
		if !tr.Active {
			continue
		}
		e.stepTrain(tr.TrainID, w, &rec)
	}

	// Step 6: delay injection.
	if e.rng.Float64() < e.cfg.DelayProbability {
		e.injectDelay(&rec)
	}

	// Step 7: spawn.
	if len(activeTrainIDs(e.tk)) < e.cfg.MaxActiveTrains && e.rng.Float64() < 0.2*e.cfg.TrainSpawnRate {
		e.spawnTrain(&rec)
	}

	return rec
}

// RecentEdgeEntries returns edge-entry events within windowSec of the
// current simulated time, for the Detection Engine's headway rule, and
// prunes older entries from the engine's own log.
func (e *Engine) RecentEdgeEntries(windowSec float64) []detection.DepartureEvent {
	cutoff := epoch.Add(time.Duration(e.tk.Time()-windowSec) * time.Second)
	kept := e.edgeEntries[:0]
	for _, ev := range e.edgeEntries {
		if ev.At.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	e.edgeEntries = kept
	return append([]detection.DepartureEvent(nil), kept...)
}

func activeTrainIDs(tk *tracker.Tracker) []string {
	var out []string
	for _, tr := range tk.Network().Trains {
		if tr.Active {
			out = append(out, tr.TrainID)
		}
	}
	return out
}

func (e *Engine) spawnIncident(rec *ChangeRecord) {
	net := e.tk.Network()
	severity := 20 + e.rng.Float64()*(95-20)
	e.nextIncID++
	id := fmt.Sprintf("INC_%d", e.nextIncID)
	inc := network.Incident{
		IncidentID: id,
		Type:       network.IncidentTypes[e.rng.Intn(len(network.IncidentTypes))],
		Severity:   severity,
		IsBlocking: severity > 70,
	}
	if e.rng.Float64() < 0.7 {
		if len(net.Rails) == 0 {
			return
		}
		rail := net.Rails[e.rng.Intn(len(net.Rails))]
		if err := e.tk.AddIncidentToEdge(rail.Source, rail.Target, inc); err != nil {
			logger.Warn("spawn incident on edge failed", "error", err)
			return
		}
	} else {
		if len(net.Stations) == 0 {
			return
		}
		st := net.Stations[e.rng.Intn(len(net.Stations))]
		if err := e.tk.AddIncidentToStation(st.Name, inc); err != nil {
			logger.Warn("spawn incident on station failed", "error", err)
			return
		}
	}
	e.incAge[id] = 0
	rec.IncidentsStarted = append(rec.IncidentsStarted, id)
}

func (e *Engine) stepTrain(trainID string, w tracker.Weather, rec *ChangeRecord) {
	net := e.tk.Network()
	tr, _ := net.TrainByID(trainID)
	if tr == nil {
		return
	}
	switch tr.CurrentPositionType {
	case network.PositionStation:
		e.stepTrainAtStation(tr, rec)
	case network.PositionEdge:
		e.stepTrainOnEdge(tr, w, rec)
	}
}

func (e *Engine) stepTrainAtStation(tr *network.Train, rec *ChangeRecord) {
	if tr.RouteIndex+1 >= len(tr.Route) {
		return
	}
	next := tr.Route[tr.RouteIndex+1]
	rail := e.tk.GetEdge(tr.CurrentStation, next.StationName)
	if rail == nil {
		return
	}
	if hasBlockingIncident(rail.ActiveIncidents) {
		return
	}
	departProb := 0.3 + 0.3*e.cfg.TrainSpawnRate + 0.05*float64(tr.Priority)
	if e.rng.Float64() >= departProb {
		return
	}
	source := tr.CurrentStation
	if err := e.tk.TrainDepartsStation(tr.TrainID, next.StationName); err != nil {
		logger.Warn("departure failed", "train", tr.TrainID, "error", err)
		return
	}
	rec.Departures = append(rec.Departures, tr.TrainID)
	e.edgeEntries = append(e.edgeEntries, detection.DepartureEvent{
		TrainID: tr.TrainID, Source: source, Target: next.StationName,
		At: epoch.Add(time.Duration(e.tk.Time()) * time.Second),
	})
}

func (e *Engine) stepTrainOnEdge(tr *network.Train, w tracker.Weather, rec *ChangeRecord) {
	rail := e.tk.GetEdge(tr.CurrentEdgeSource, tr.CurrentEdgeTarget)
	if rail == nil {
		return
	}
	if hasBlockingIncident(rail.ActiveIncidents) {
		_ = e.tk.UpdateTrainSpeed(tr.TrainID, 0)
		return
	}
	variation := 1 + (e.rng.Float64()*2-1)*e.cfg.SpeedVariation
	speed := rail.MaxSpeedKmh * variation * weatherFactor(w) * (1 - tr.DelaySeconds/3600)
	if speed < 20 {
		speed = 20
	}
	if speed > rail.MaxSpeedKmh {
		speed = rail.MaxSpeedKmh
	}
	_ = e.tk.UpdateTrainSpeed(tr.TrainID, speed)
	rec.SpeedChanges = append(rec.SpeedChanges, tr.TrainID)

	if rail.TravelTimeMin <= 0 {
		return
	}
	progressIncrement := e.cfg.TickIntervalSeconds / (rail.TravelTimeMin * 60)
	newProgress := tr.ProgressOnEdge + progressIncrement
	if newProgress >= 1 {
		if err := e.tk.TrainExitsEdge(tr.TrainID); err != nil {
			logger.Warn("edge exit failed", "train", tr.TrainID, "error", err)
			return
		}
		target := tr.CurrentEdgeTarget
		if err := e.tk.TrainArrivesAtStation(tr.TrainID, target); err != nil {
			logger.Warn("arrival failed", "train", tr.TrainID, "error", err)
			return
		}
		net := e.tk.Network()
		if t2, _ := net.TrainByID(tr.TrainID); t2 != nil {
			t2.RouteIndex++
			if t2.RouteIndex >= len(t2.Route)-1 {
				t2.Active = false
			}
		}
		rec.Arrivals = append(rec.Arrivals, tr.TrainID)
		return
	}
	_ = e.tk.UpdateTrainPositionOnEdge(tr.TrainID, newProgress)
}

func hasBlockingIncident(incs []network.Incident) bool {
	for _, inc := range incs {
		if inc.IsBlocking {
			return true
		}
	}
	return false
}

func (e *Engine) injectDelay(rec *ChangeRecord) {
	active := activeTrainIDs(e.tk)
	if len(active) == 0 {
		return
	}
	trainID := active[e.rng.Intn(len(active))]
	added := 30 + e.rng.Float64()*(e.cfg.MaxDelaySeconds/3-30)
	net := e.tk.Network()
	tr, _ := net.TrainByID(trainID)
	if tr == nil {
		return
	}
	newDelay := tr.DelaySeconds + added
	if newDelay > e.cfg.MaxDelaySeconds {
		newDelay = e.cfg.MaxDelaySeconds
	}
	_ = e.tk.UpdateTrainDelay(trainID, newDelay)
	rec.DelaysAdded = append(rec.DelaysAdded, trainID)

	if tr.CurrentPositionType == network.PositionStation && newDelay > 180 {
		if e.rng.Float64() < 0.3 {
			_ = e.tk.SetTrainHolding(trainID, true)
		}
	}
}

func (e *Engine) spawnTrain(rec *ChangeRecord) {
	if len(e.roster) == 0 {
		return
	}
	idx := e.rng.Intn(len(e.roster))
	trainID := e.roster[idx]
	e.roster = append(e.roster[:idx], e.roster[idx+1:]...)

	net := e.tk.Network()
	tr, _ := net.TrainByID(trainID)
	if tr == nil || len(tr.Route) == 0 {
		return
	}
	tr.Active = true
	tr.Status = network.StatusOnTime
	tr.RouteIndex = 0
	tr.CurrentPositionType = network.PositionStation
	tr.CurrentStation = tr.Route[0].StationName
	if st, _ := net.StationByName(tr.CurrentStation); st != nil {
		st.CurrentTrains = append(st.CurrentTrains, trainID)
	}
	rec.TrainsSpawned = append(rec.TrainsSpawned, trainID)
}
