package server

import (
	"net/http"
	"strings"
	"time"
)

// GET /api/stations — every station with its current occupancy.
func serveStations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, core.GetState().Stations)
}

// GET /api/stations/{name}/trains — trains currently occupying one station.
func serveStationTrains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/stations/"), "/trains")
	st, _ := core.GetState().StationByName(name)
	if st == nil {
		http.Error(w, "station not found", http.StatusNotFound)
		return
	}
	writeJSON(w, st.CurrentTrains)
}

// GET /api/rails — every rail with its current load and capacity.
func serveRails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, core.GetState().Rails)
}

// GET /api/trains — every train in the network.
func serveTrains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, core.GetState().Trains)
}

// GET /api/trains/{id} — one train by ID.
func serveTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/trains/")
	tr, _ := core.GetState().TrainByID(id)
	if tr == nil {
		http.Error(w, "train not found", http.StatusNotFound)
		return
	}
	writeJSON(w, tr)
}

// GET /api/conflicts — every conflict recorded since startup.
func serveConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, core.Conflicts())
}

// GET /api/predictions/train/{id}
func servePredictionsForTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/predictions/train/")
	p, ok := core.PredictionsForTrain(id, time.Now())
	if !ok {
		writeJSON(w, []string{})
		return
	}
	writeJSON(w, p)
}

// GET /api/predictions/station/{name}
func servePredictionsForStation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/predictions/station/")
	writeJSON(w, core.PredictionsForStation(name, time.Now()))
}

// GET /api/predictions/region/{region}
func servePredictionsForRegion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	region := strings.TrimPrefix(r.URL.Path, "/api/predictions/region/")
	writeJSON(w, core.PredictionsForRegion(region, time.Now()))
}

// GET /api/systems/overview — a single-call dashboard summary over
// stations/rails/trains/conflicts.
func serveSystemOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	net := core.GetState()
	activeTrains := 0
	for _, t := range net.Trains {
		if t.Active {
			activeTrains++
		}
	}
	railLoad, railCapacity := 0, 0
	for _, rail := range net.Rails {
		railLoad += rail.CurrentLoad
		railCapacity += rail.Capacity
	}
	util := 0.0
	if railCapacity > 0 {
		util = float64(railLoad) * 100.0 / float64(railCapacity)
	}
	resp := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"running":   simRunning,
		"tick_time": core.Time(),
		"totals": map[string]interface{}{
			"stations": len(net.Stations),
			"rails":    len(net.Rails),
			"trains":   map[string]int{"total": len(net.Trains), "active": activeTrains},
			"conflicts_recorded": len(core.Conflicts()),
		},
		"occupancy": map[string]interface{}{
			"rail_load":     railLoad,
			"rail_capacity": railCapacity,
			"utilization":   util,
		},
	}
	writeJSON(w, resp)
}

func installHTTPAPI() {
	http.HandleFunc("/api/stations", serveStations)
	http.HandleFunc("/api/stations/", serveStationTrains)
	http.HandleFunc("/api/rails", serveRails)
	http.HandleFunc("/api/trains", serveTrains)
	http.HandleFunc("/api/trains/", serveTrain)
	http.HandleFunc("/api/conflicts", serveConflicts)
	http.HandleFunc("/api/predictions/train/", servePredictionsForTrain)
	http.HandleFunc("/api/predictions/station/", servePredictionsForStation)
	http.HandleFunc("/api/predictions/region/", servePredictionsForRegion)
	http.HandleFunc("/api/systems/overview", serveSystemOverview)
	http.HandleFunc("/api/analytics/kpis", serveKPI)
	http.HandleFunc("/api/analytics/historical", serveKPIHistorical)
	http.HandleFunc("/api/simulation/whatif", serveWhatIf)
	http.HandleFunc("/api/simulation/restart", serveSimulationRestart)
	http.HandleFunc("/api/resolutions", serveResolutions)
	http.HandleFunc("/api/audit/logs", serveAuditLogs)
	http.HandleFunc("/api/audit/stream", serveAuditStream)
}
