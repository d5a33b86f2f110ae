// Package network implements the Network Model: a description of stations,
// rails (edges) and trains, loaded once from a snapshot. The State Tracker
// updates its live-state fields (occupants, loads, positions, incidents) in
// place; SetField is the value-only mutation primitive the Context Patcher
// uses.
package network

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tracktitans/railcore/rerrors"
)

// BlockingBehavior is a station's occupancy-limit policy.
type BlockingBehavior string

const (
	BlockingHard BlockingBehavior = "hard"
	BlockingSoft BlockingBehavior = "soft"
)

// RiskProfile classifies a rail's inherent risk.
type RiskProfile string

const (
	RiskLow    RiskProfile = "low"
	RiskMedium RiskProfile = "medium"
	RiskHigh   RiskProfile = "high"
)

// IncidentType enumerates the fixed incident taxonomy.
type IncidentType string

const (
	IncidentTechnical    IncidentType = "technical"
	IncidentTrespasser   IncidentType = "trespasser"
	IncidentWeather      IncidentType = "weather"
	IncidentMaintenance  IncidentType = "maintenance"
	IncidentFire         IncidentType = "fire"
	IncidentPolice       IncidentType = "police_intervention"
	IncidentOther        IncidentType = "other"
)

// IncidentTypes is the fixed, ordered type set used by the Feature Engine's
// one-hot encoding.
var IncidentTypes = []IncidentType{
	IncidentTechnical, IncidentTrespasser, IncidentWeather,
	IncidentMaintenance, IncidentFire, IncidentPolice, IncidentOther,
}

// Incident is owned by exactly one container (station or rail) for its
// active lifetime.
type Incident struct {
	IncidentID  string       `json:"incident_id"`
	Type        IncidentType `json:"type"`
	Severity    float64      `json:"severity"`
	StartTime   string       `json:"start_time"`
	IsBlocking  bool         `json:"is_blocking"`
	Description string       `json:"description"`
}

// Station is a node in the network graph.
type Station struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Region           string           `json:"region"`
	Lat              float64          `json:"lat"`
	Lon              float64          `json:"lon"`
	MaxTrainsAtOnce  int              `json:"max_trains_at_once"`
	BlockingBehavior BlockingBehavior `json:"blocking_behavior"`
	CurrentTrains    []string         `json:"current_trains"`
	ActiveIncidents  []Incident       `json:"active_incidents"`
}

// Rail is a directed or bidirectional edge between two stations.
type Rail struct {
	Source         string      `json:"source"`
	Target         string      `json:"target"`
	DistanceKm     float64     `json:"distance_km"`
	TravelTimeMin  float64     `json:"travel_time_min"`
	Capacity       int         `json:"capacity"`
	CurrentLoad    int         `json:"current_load"`
	MinHeadwaySec  float64     `json:"min_headway_sec"`
	MaxSpeedKmh    float64     `json:"max_speed_kmh"`
	Direction      string      `json:"direction"`
	Reroutable     bool        `json:"reroutable"`
	PriorityAccess bool        `json:"priority_access"`
	RiskProfile    RiskProfile `json:"risk_profile"`
	ActiveIncidents []Incident `json:"active_incidents"`
}

// RouteStop is one scheduled stop along a train's route.
type RouteStop struct {
	StationName          string  `json:"station_name"`
	StationOrder          int     `json:"station_order"`
	Lat                   float64 `json:"lat"`
	Lon                   float64 `json:"lon"`
	DistanceFromPreviousKm float64 `json:"distance_from_previous_km"`
}

// TrainType enumerates the fixed train categories.
type TrainType string

const (
	TrainRegional  TrainType = "regional"
	TrainIntercity TrainType = "intercity"
	TrainFreight   TrainType = "freight"
)

// TrainStatus is the train's current operational status.
type TrainStatus string

const (
	StatusStopped TrainStatus = "stopped"
	StatusOnTime  TrainStatus = "on_time"
	StatusDelayed TrainStatus = "delayed"
	StatusHolding TrainStatus = "holding"
)

// PositionType says whether a train currently occupies a station or an edge.
type PositionType string

const (
	PositionStation PositionType = "station"
	PositionEdge    PositionType = "edge"
	PositionUnknown PositionType = "unknown"
)

// Train owns its own progress state; the station/edge it occupies holds
// only a back-reference (train ID) for the occupation window.
type Train struct {
	TrainID            string      `json:"train_id"`
	TrainType          TrainType   `json:"train_type"`
	Priority           int         `json:"priority"`
	Route              []RouteStop `json:"route"`
	RouteIndex         int         `json:"route_index"`
	Status             TrainStatus `json:"status"`
	CurrentPositionType PositionType `json:"current_position_type"`
	CurrentStation     string      `json:"current_station"`
	CurrentEdgeSource  string      `json:"current_edge_source"`
	CurrentEdgeTarget  string      `json:"current_edge_target"`
	ProgressOnEdge     float64     `json:"progress_on_edge"`
	CurrentSpeedKmh    float64     `json:"current_speed_kmh"`
	DelaySeconds       float64     `json:"delay_seconds"`
	Active             bool        `json:"active"`
}

// Network is the closed-schema snapshot of stations, rails and trains.
// SetField never changes its shape; the State Tracker's live-state updates
// do add to and remove from the occupant and incident lists.
type Network struct {
	Trains   []Train   `json:"trains"`
	Stations []Station `json:"stations"`
	Rails    []Rail    `json:"rails"`
}

// Load parses a network snapshot. Bad input fails fast with no partial
// initialization, per spec's "bad input snapshot" error policy.
func Load(data []byte) (*Network, error) {
	var n Network
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, rerrors.New(rerrors.KindBadInput, "network.Load", err)
	}
	return &n, nil
}

// Snapshot renders the network back to its exact JSON schema.
func (n *Network) Snapshot() ([]byte, error) {
	return json.Marshal(n)
}

// Clone deep-copies the network via its own JSON round-trip, used by the
// Context Patcher to apply updates against a scratch copy before validating
// and swapping.
func (n *Network) Clone() (*Network, error) {
	b, err := n.Snapshot()
	if err != nil {
		return nil, err
	}
	return Load(b)
}

func (n *Network) StationByName(name string) (*Station, int) {
	for i := range n.Stations {
		if n.Stations[i].Name == name {
			return &n.Stations[i], i
		}
	}
	return nil, -1
}

func (n *Network) RailBetween(source, target string) (*Rail, int) {
	for i := range n.Rails {
		r := &n.Rails[i]
		if r.Source == source && r.Target == target {
			return r, i
		}
		if r.Direction == "bidirectional" && r.Source == target && r.Target == source {
			return r, i
		}
	}
	return nil, -1
}

func (n *Network) TrainByID(id string) (*Train, int) {
	for i := range n.Trains {
		if n.Trains[i].TrainID == id {
			return &n.Trains[i], i
		}
	}
	return nil, -1
}

// Operation is a field-level mutation kind applied by SetField.
type Operation string

const (
	OpSet      Operation = "set"
	OpMultiply Operation = "multiply"
	OpAdd      Operation = "add"
	OpSubtract Operation = "subtract"
	OpKeepSame Operation = "keep_same"
)

// SetField is the single structural-locator mutation primitive exposed by
// the Network Model. path addresses an existing scalar field, e.g.
// "rails[2].max_speed_kmh" or "trains[0].delay_seconds". No structural
// mutation (adding/removing list elements or map keys) is permitted here.
func (n *Network) SetField(path string, op Operation, value float64) error {
	if op == OpKeepSame {
		return nil
	}
	container, idx, field, err := resolvePath(path)
	if err != nil {
		return err
	}
	var target *float64
	switch container {
	case "rails":
		if idx < 0 || idx >= len(n.Rails) {
			return fmt.Errorf("network: setfield: rail index %d out of range", idx)
		}
		target, err = fieldPtr(&n.Rails[idx], field)
	case "trains":
		if idx < 0 || idx >= len(n.Trains) {
			return fmt.Errorf("network: setfield: train index %d out of range", idx)
		}
		target, err = fieldPtr(&n.Trains[idx], field)
	case "stations":
		if idx < 0 || idx >= len(n.Stations) {
			return fmt.Errorf("network: setfield: station index %d out of range", idx)
		}
		if field == "max_trains_at_once" {
			f := float64(n.Stations[idx].MaxTrainsAtOnce)
			applyOp(&f, op, value)
			n.Stations[idx].MaxTrainsAtOnce = int(f)
			return nil
		}
		target, err = fieldPtr(&n.Stations[idx], field)
	default:
		return fmt.Errorf("network: setfield: unknown container %q", container)
	}
	if err != nil {
		return err
	}
	applyOp(target, op, value)
	return nil
}

func applyOp(target *float64, op Operation, value float64) {
	switch op {
	case OpSet:
		*target = value
	case OpMultiply:
		*target = *target * value
	case OpAdd:
		*target = *target + value
	case OpSubtract:
		*target = *target - value
	}
}

// resolvePath splits "rails[2].max_speed_kmh" into ("rails", 2, "max_speed_kmh").
func resolvePath(path string) (container string, idx int, field string, err error) {
	open := strings.IndexByte(path, '[')
	close := strings.IndexByte(path, ']')
	dot := strings.IndexByte(path, '.')
	if open < 0 || close < 0 || dot < 0 || close < open || dot < close {
		return "", 0, "", fmt.Errorf("network: malformed field path %q", path)
	}
	container = path[:open]
	idxStr := path[open+1 : close]
	idx, err = strconv.Atoi(idxStr)
	if err != nil {
		return "", 0, "", fmt.Errorf("network: malformed field path %q: %w", path, err)
	}
	field = path[dot+1:]
	return container, idx, field, nil
}

// fieldPtr returns an addressable pointer to a known numeric field of the
// given value by name. Only fields that legitimately accept value-update
// operations per spec.md §4.I are supported.
func fieldPtr(v interface{}, field string) (*float64, error) {
	switch obj := v.(type) {
	case *Rail:
		switch field {
		case "max_speed_kmh":
			return &obj.MaxSpeedKmh, nil
		case "travel_time_min":
			return &obj.TravelTimeMin, nil
		case "min_headway_sec":
			return &obj.MinHeadwaySec, nil
		case "distance_km":
			return &obj.DistanceKm, nil
		}
	case *Train:
		switch field {
		case "delay_seconds":
			return &obj.DelaySeconds, nil
		case "current_speed_kmh":
			return &obj.CurrentSpeedKmh, nil
		case "progress_on_edge":
			return &obj.ProgressOnEdge, nil
		}
	}
	return nil, fmt.Errorf("network: field %q not mutable on %T", field, v)
}
