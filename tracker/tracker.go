// Package tracker implements the State Tracker: a consistent, mutable live
// view over the Network Model. It never evaluates rules — it only keeps the
// data-model invariants of arrivals, departures and occupancy consistent.
package tracker

import (
	"fmt"
	"sync"

	"github.com/tracktitans/railcore/network"
	log "gopkg.in/inconshreveable/log15.v2"
)

var logger log.Logger

// InitializeLogger creates the logger for the tracker package.
func InitializeLogger(parent log.Logger) {
	logger = parent.New("module", "tracker")
}

func init() {
	logger = log.New("module", "tracker")
}

// Weather is the current network-wide weather condition.
type Weather string

const (
	WeatherClear Weather = "clear"
	WeatherRain  Weather = "rain"
	WeatherSnow  Weather = "snow"
	WeatherStorm Weather = "storm"
	WeatherFog   Weather = "fog"
)

// Tracker is the single mutable live view over a *network.Network. Every
// exported method maintains the invariants of spec.md §3: arrivals append
// to the station's occupants and clear edge fields; departures decrement
// the prior edge's current_load and set the new edge.
type Tracker struct {
	mu      sync.RWMutex
	net     *network.Network
	time    float64 // simulated seconds elapsed
	weather Weather
}

// New wraps a loaded network in a Tracker.
func New(net *network.Network) *Tracker {
	return &Tracker{net: net, weather: WeatherClear}
}

// Network returns the underlying network model for read-only consumers
// (e.g. the Detection Engine, Feature Engine). The pointer is not a copy:
// the Tick Engine also writes route index, activity and spawn placement
// directly through it.
func (t *Tracker) Network() *network.Network {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net
}

// UpdateTime advances simulated time by the tick engine's clock.
func (t *Tracker) UpdateTime(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.time = seconds
}

func (t *Tracker) Time() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.time
}

// UpdateWeather sets the network-wide weather condition.
func (t *Tracker) UpdateWeather(w Weather) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weather = w
}

func (t *Tracker) Weather() Weather {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.weather
}

// TrainArrivesAtStation appends the train to the station's occupants and
// clears its edge-position fields.
func (t *Tracker) TrainArrivesAtStation(trainID, stationName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, _ := t.net.TrainByID(trainID)
	if tr == nil {
		return fmt.Errorf("tracker: unknown train %q", trainID)
	}
	st, _ := t.net.StationByName(stationName)
	if st == nil {
		return fmt.Errorf("tracker: unknown station %q", stationName)
	}
	if tr.CurrentPositionType == network.PositionEdge {
		t.clearEdgeOccupancyLocked(tr)
	}
	st.CurrentTrains = append(st.CurrentTrains, trainID)
	tr.CurrentPositionType = network.PositionStation
	tr.CurrentStation = stationName
	tr.CurrentEdgeSource = ""
	tr.CurrentEdgeTarget = ""
	tr.ProgressOnEdge = 0
	tr.CurrentSpeedKmh = 0
	if len(st.CurrentTrains) > st.MaxTrainsAtOnce && st.BlockingBehavior == network.BlockingHard {
		logger.Warn("station overcapacity on arrival", "station", stationName, "trains", len(st.CurrentTrains), "max", st.MaxTrainsAtOnce)
	}
	return nil
}

// TrainDepartsStation removes the train from the station's occupants and
// places it onto the rail toward target, incrementing the rail's load.
func (t *Tracker) TrainDepartsStation(trainID, target string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, _ := t.net.TrainByID(trainID)
	if tr == nil {
		return fmt.Errorf("tracker: unknown train %q", trainID)
	}
	source := tr.CurrentStation
	if st, _ := t.net.StationByName(source); st != nil {
		st.CurrentTrains = removeString(st.CurrentTrains, trainID)
	}
	rail, _ := t.net.RailBetween(source, target)
	if rail == nil {
		return fmt.Errorf("tracker: no rail %s -> %s", source, target)
	}
	rail.CurrentLoad++
	tr.CurrentPositionType = network.PositionEdge
	tr.CurrentStation = ""
	tr.CurrentEdgeSource = source
	tr.CurrentEdgeTarget = target
	tr.ProgressOnEdge = 0
	return nil
}

// TrainExitsEdge decrements the current rail's load and clears the train's
// edge-position fields (the caller is expected to then call
// TrainArrivesAtStation to complete the transition).
func (t *Tracker) TrainExitsEdge(trainID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, _ := t.net.TrainByID(trainID)
	if tr == nil {
		return fmt.Errorf("tracker: unknown train %q", trainID)
	}
	t.clearEdgeOccupancyLocked(tr)
	return nil
}

func (t *Tracker) clearEdgeOccupancyLocked(tr *network.Train) {
	if tr.CurrentPositionType != network.PositionEdge {
		return
	}
	if rail, _ := t.net.RailBetween(tr.CurrentEdgeSource, tr.CurrentEdgeTarget); rail != nil {
		if rail.CurrentLoad > 0 {
			rail.CurrentLoad--
		}
	}
	tr.CurrentEdgeSource = ""
	tr.CurrentEdgeTarget = ""
}

// UpdateTrainPositionOnEdge sets the train's progress along its current
// edge, in [0,1].
func (t *Tracker) UpdateTrainPositionOnEdge(trainID string, progress float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, _ := t.net.TrainByID(trainID)
	if tr == nil {
		return fmt.Errorf("tracker: unknown train %q", trainID)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	tr.ProgressOnEdge = progress
	return nil
}

// UpdateTrainSpeed sets the train's current speed in km/h.
func (t *Tracker) UpdateTrainSpeed(trainID string, kmh float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, _ := t.net.TrainByID(trainID)
	if tr == nil {
		return fmt.Errorf("tracker: unknown train %q", trainID)
	}
	tr.CurrentSpeedKmh = kmh
	return nil
}

// UpdateTrainDelay sets the train's accumulated delay in seconds and
// derives its status.
func (t *Tracker) UpdateTrainDelay(trainID string, seconds float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, _ := t.net.TrainByID(trainID)
	if tr == nil {
		return fmt.Errorf("tracker: unknown train %q", trainID)
	}
	tr.DelaySeconds = seconds
	if tr.Status != network.StatusHolding {
		if seconds > 0 {
			tr.Status = network.StatusDelayed
		} else {
			tr.Status = network.StatusOnTime
		}
	}
	return nil
}

// SetTrainHolding forces or clears a train's holding status.
func (t *Tracker) SetTrainHolding(trainID string, holding bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, _ := t.net.TrainByID(trainID)
	if tr == nil {
		return fmt.Errorf("tracker: unknown train %q", trainID)
	}
	if holding {
		tr.Status = network.StatusHolding
	} else if tr.DelaySeconds > 0 {
		tr.Status = network.StatusDelayed
	} else {
		tr.Status = network.StatusOnTime
	}
	return nil
}

// ReplaceNetwork swaps in a new network value under the write lock, used by
// the Context Patcher's apply-then-swap flow: the patched copy is built and
// structurally validated before ever reaching this call, so this is the
// only place a patch becomes visible to readers.
func (t *Tracker) ReplaceNetwork(net *network.Network) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.net = net
}

// GetEdge returns the rail between source and target, or nil.
func (t *Tracker) GetEdge(source, target string) *network.Rail {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rail, _ := t.net.RailBetween(source, target)
	return rail
}

// AddIncidentToEdge attaches a new incident to the rail between source and
// target.
func (t *Tracker) AddIncidentToEdge(source, target string, inc network.Incident) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rail, _ := t.net.RailBetween(source, target)
	if rail == nil {
		return fmt.Errorf("tracker: no rail %s -> %s", source, target)
	}
	rail.ActiveIncidents = append(rail.ActiveIncidents, inc)
	return nil
}

// AddIncidentToStation attaches a new incident to the named station.
func (t *Tracker) AddIncidentToStation(name string, inc network.Incident) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, _ := t.net.StationByName(name)
	if st == nil {
		return fmt.Errorf("tracker: unknown station %q", name)
	}
	st.ActiveIncidents = append(st.ActiveIncidents, inc)
	return nil
}

// ResolveIncident removes the incident with the given ID from every
// container in a single tick, per spec.md §3's "resolved incidents are
// removed from all containers in the same tick".
func (t *Tracker) ResolveIncident(incidentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.net.Stations {
		t.net.Stations[i].ActiveIncidents = removeIncident(t.net.Stations[i].ActiveIncidents, incidentID)
	}
	for i := range t.net.Rails {
		t.net.Rails[i].ActiveIncidents = removeIncident(t.net.Rails[i].ActiveIncidents, incidentID)
	}
}

// IncidentRef pairs an active incident with its container's kind and
// locator.
type IncidentRef struct {
	Incident    network.Incident
	StationName string // set when the incident lives on a station
	RailSource  string // set when the incident lives on a rail
	RailTarget  string
}

// AllActiveIncidents returns every currently active incident across every
// container, for the tick engine's age/resolution bookkeeping.
func (t *Tracker) AllActiveIncidents() []IncidentRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []IncidentRef
	for _, st := range t.net.Stations {
		for _, inc := range st.ActiveIncidents {
			out = append(out, IncidentRef{Incident: inc, StationName: st.Name})
		}
	}
	for _, r := range t.net.Rails {
		for _, inc := range r.ActiveIncidents {
			out = append(out, IncidentRef{Incident: inc, RailSource: r.Source, RailTarget: r.Target})
		}
	}
	return out
}

func removeIncident(incs []network.Incident, id string) []network.Incident {
	out := incs[:0]
	for _, inc := range incs {
		if inc.IncidentID != id {
			out = append(out, inc)
		}
	}
	return out
}

func removeString(ss []string, v string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
