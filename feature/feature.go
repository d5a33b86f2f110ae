// Package feature implements the Feature Engine: it builds a fixed-schema,
// fixed-order feature vector for a (train, network) pair at time t.
package feature

import (
	"hash/fnv"
	"time"

	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
)

// peakHours is the fixed set of peak hours named in spec.md §4.E.
var peakHours = map[int]bool{7: true, 8: true, 9: true, 17: true, 18: true, 19: true}

// majorHubs is the known set of disproportionately busy stations.
var majorHubs = map[string]bool{
	"MILANO CENTRALE": true,
	"ROMA TERMINI":    true,
	"TORINO PORTA NUOVA": true,
}

// IsMajorHub reports whether name is in the known major-hub set.
func IsMajorHub(name string) bool { return majorHubs[name] }

// Names is the feature vector's fixed, ordered field list — the saved
// training order that Build must reproduce exactly.
var Names = buildNames()

func buildNames() []string {
	names := []string{
		"hour_of_day", "day_of_week", "is_weekend", "is_peak_hour",
		"current_delay_sec", "delay_category",
		"is_major_hub", "station_hash",
	}
	for _, it := range network.IncidentTypes {
		names = append(names, "incident_type_"+string(it))
	}
	names = append(names, "network_hour_delay_avg", "competing_trains_estimate")
	names = append(names, "estimated_speed_kmh", "progress_factor")
	return names
}

// Vector is the fixed-order feature slice, indexed by position in Names.
type Vector []float64

// delayCategory buckets current_delay_sec at the documented thresholds.
func delayCategory(delaySec float64) float64 {
	switch {
	case delaySec >= 600:
		return 3
	case delaySec >= 300:
		return 2
	case delaySec >= 120:
		return 1
	default:
		return 0
	}
}

func stableHash(name string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return float64(h.Sum32()%100) / 100
}

// Build assembles the feature vector for train at time now, observing
// network state through tk. horizon is accepted for call-site symmetry with
// the predictor but does not change the feature schema. Missing values are
// zero.
func Build(tk *tracker.Tracker, trainID string, now time.Time, horizonMin float64) Vector {
	net := tk.Network()
	tr, _ := net.TrainByID(trainID)
	v := make(Vector, len(Names))
	if tr == nil {
		return v
	}

	hour := now.Hour()
	dow := int(now.Weekday())
	v[0] = float64(hour)
	v[1] = float64(dow)
	if dow == 0 || dow == 6 {
		v[2] = 1
	}
	if peakHours[hour] {
		v[3] = 1
	}

	v[4] = tr.DelaySeconds
	v[5] = delayCategory(tr.DelaySeconds)

	stationName := tr.CurrentStation
	if stationName == "" {
		stationName = tr.CurrentEdgeTarget
	}
	if IsMajorHub(stationName) {
		v[6] = 1
	}
	v[7] = stableHash(stationName)

	incidentBase := 8
	activeTypes := incidentTypesAt(net, tr)
	for i, it := range network.IncidentTypes {
		if activeTypes[it] {
			v[incidentBase+i] = 1
		}
	}

	afterIncidents := incidentBase + len(network.IncidentTypes)
	v[afterIncidents] = networkHourDelayAvg(net, hour)
	v[afterIncidents+1] = competingTrainsEstimate(net, tr)

	v[afterIncidents+2] = tr.CurrentSpeedKmh
	v[afterIncidents+3] = tr.ProgressOnEdge

	return v
}

func incidentTypesAt(net *network.Network, tr *network.Train) map[network.IncidentType]bool {
	out := map[network.IncidentType]bool{}
	if tr.CurrentPositionType == network.PositionStation {
		if st, _ := net.StationByName(tr.CurrentStation); st != nil {
			for _, inc := range st.ActiveIncidents {
				out[inc.Type] = true
			}
		}
	}
	if tr.CurrentPositionType == network.PositionEdge {
		if r, _ := net.RailBetween(tr.CurrentEdgeSource, tr.CurrentEdgeTarget); r != nil {
			for _, inc := range r.ActiveIncidents {
				out[inc.Type] = true
			}
		}
	}
	return out
}

// networkHourDelayAvg proxies network-wide congestion for the current hour
// as the mean delay across all trains (a stand-in for a true hourly
// historical average, which the offline training pipeline owns).
func networkHourDelayAvg(net *network.Network, hour int) float64 {
	if len(net.Trains) == 0 {
		return 0
	}
	var sum float64
	for _, t := range net.Trains {
		sum += t.DelaySeconds
	}
	return sum / float64(len(net.Trains))
}

// competingTrainsEstimate approximates how many other trains are converging
// on the same station as tr.
func competingTrainsEstimate(net *network.Network, tr *network.Train) float64 {
	target := tr.CurrentStation
	if target == "" {
		target = tr.CurrentEdgeTarget
	}
	if target == "" {
		return 0
	}
	count := 0.0
	for _, other := range net.Trains {
		if other.TrainID == tr.TrainID {
			continue
		}
		if other.CurrentStation == target || other.CurrentEdgeTarget == target {
			count++
		}
	}
	return count
}
