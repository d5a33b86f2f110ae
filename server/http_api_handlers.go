package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// GET /api/analytics/kpis?timeRange=1h|6h|1d|1w|1m
func serveKPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rangeParam := r.URL.Query().Get("timeRange")
	var dur time.Duration
	switch rangeParam {
	case "1h":
		dur = time.Hour
	case "6h":
		dur = 6 * time.Hour
	case "1d":
		dur = 24 * time.Hour
	case "1w":
		dur = 7 * 24 * time.Hour
	case "1m":
		dur = 30 * 24 * time.Hour
	default:
		dur = 24 * time.Hour
	}
	agg, trend := aggregateKPIs(dur)
	resp := map[string]interface{}{
		"timeRange": rangeParam,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"kpis": map[string]interface{}{
			"punctuality":      agg.punctuality,
			"averageDelay":     agg.averageDelay,
			"p90Delay":         agg.p90Delay,
			"throughput":       agg.throughput,
			"utilization":      agg.utilization,
			"acceptanceRate":   agg.acceptanceRate,
			"openConflicts":    agg.openConflicts,
			"mttrConflict":     agg.mttrConflict,
			"headwayAdherence": agg.headwayAdherence,
			"headwayBreaches":  agg.headwayBreaches,
			"efficiency":       agg.efficiency,
			"performance":      agg.performance,
		},
		"trends": map[string]interface{}{
			"punctuality":      map[string]interface{}{"change": trend.punctuality, "direction": trendDirection(trend.punctuality)},
			"averageDelay":     map[string]interface{}{"change": trend.averageDelay, "direction": trendDirection(-trend.averageDelay)},
			"p90Delay":         map[string]interface{}{"change": trend.p90Delay, "direction": trendDirection(-trend.p90Delay)},
			"throughput":       map[string]interface{}{"change": trend.throughput, "direction": trendDirectionFloat(float64(trend.throughput))},
			"utilization":      map[string]interface{}{"change": trend.utilization, "direction": trendDirection(trend.utilization)},
			"acceptanceRate":   map[string]interface{}{"change": trend.acceptanceRate, "direction": trendDirection(trend.acceptanceRate)},
			"openConflicts":    map[string]interface{}{"change": float64(trend.openConflicts), "direction": trendDirectionFloat(float64(-trend.openConflicts))},
			"headwayAdherence": map[string]interface{}{"change": trend.headwayAdherence, "direction": trendDirection(trend.headwayAdherence)},
		},
	}
	writeJSON(w, resp)
}

func trendDirection(v float64) string {
	if v >= 0 {
		return "UP"
	}
	return "DOWN"
}

func trendDirectionFloat(v float64) string {
	if v >= 0 {
		return "UP"
	}
	return "DOWN"
}

// GET /api/analytics/historical?metric=punctuality&period=hourly
func serveKPIHistorical(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metric := r.URL.Query().Get("metric")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "hourly"
	}
	metrics.mu.RLock()
	snaps := append([]kpiSnapshot{}, metrics.snapshots...)
	metrics.mu.RUnlock()
	series := make([]map[string]interface{}, 0, len(snaps))
	for _, s := range snaps {
		v := 0.0
		switch metric {
		case "punctuality":
			v = s.punctuality
		case "delay", "averageDelay":
			v = s.averageDelay
		case "p90", "p90Delay":
			v = s.p90Delay
		case "throughput":
			v = float64(s.throughput)
		case "utilization":
			v = s.utilization
		case "acceptanceRate":
			v = s.acceptanceRate
		case "openConflicts":
			v = float64(s.openConflicts)
		case "headwayAdherence":
			v = s.headwayAdherence
		case "headwayBreaches":
			v = float64(s.headwayBreaches)
		default:
			v = s.performance
		}
		series = append(series, map[string]interface{}{"t": s.ts.Format(time.RFC3339), "v": v})
	}
	writeJSON(w, map[string]interface{}{"metric": metric, "period": period, "series": series})
}

// POST /api/simulation/whatif — a lightweight projection over the current
// rolling KPIs, standing in for a full scenario solve.
func serveWhatIf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	agg, _ := aggregateKPIs(24 * time.Hour)
	net := core.GetState()
	busiest := ""
	busiestUtil := 0.0
	for _, rail := range net.Rails {
		if rail.Capacity == 0 {
			continue
		}
		u := float64(rail.CurrentLoad) / float64(rail.Capacity)
		if u > busiestUtil {
			busiestUtil = u
			busiest = rail.Source + "->" + rail.Target
		}
	}
	resp := map[string]interface{}{
		"scenarioId": "scenario_" + time.Now().UTC().Format("20060102150405"),
		"predictions": map[string]interface{}{
			"throughput":   float64(agg.throughput) * 1.05,
			"averageDelay": agg.averageDelay * 1.1,
			"utilization":  agg.utilization * 1.02,
			"bottlenecks":  []string{busiest},
			"recommendations": []string{
				"Consider staggering departures on the busiest rail segment",
				"Review headway thresholds for segments near capacity",
			},
		},
		"confidence": 0.75,
	}
	writeJSON(w, resp)
}

// GET /api/resolutions — the HTTP mirror of the "resolutions" WebSocket
// object's "list" action, for clients that poll instead of subscribing.
func serveResolutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resMu.RLock()
	out := make([]*pendingResolution, 0, len(pending))
	for _, p := range pending {
		out = append(out, p)
	}
	resMu.RUnlock()
	writeJSON(w, map[string]interface{}{"items": out})
}

// POST /api/simulation/restart?autoStart=1 — rebuilds Core from the initial
// network snapshot captured at startup, mirroring the WebSocket "restart"
// action for HTTP-only clients.
func serveSimulationRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := restartSimulation(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("autoStart") == "1" {
		startSimulationLoop()
	}
	writeJSON(w, map[string]interface{}{"status": "OK"})
}

// GET /api/audit/logs?sinceId=123&limit=200
func serveAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	sinceParam := q.Get("sinceId")
	limitParam := q.Get("limit")
	var sinceID int64
	var err error
	if sinceParam != "" {
		sinceID, err = strconv.ParseInt(sinceParam, 10, 64)
		if err != nil {
			http.Error(w, "Bad sinceId", http.StatusBadRequest)
			return
		}
	}
	limit := 200
	if limitParam != "" {
		if l, err2 := strconv.Atoi(limitParam); err2 == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	writeJSON(w, map[string]interface{}{"items": audits.getSince(sinceID, limit)})
}

// GET /api/audit/stream (Server-Sent Events)
func serveAuditStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch := audits.subscribe()
	defer audits.unsubscribe(ch)
	w.Write([]byte(":ok\n\n"))
	flusher.Flush()
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	enc := json.NewEncoder(w)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("event: audit\ndata: "))
			enc.Encode(e)
			w.Write([]byte("\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-ticker.C:
			w.Write([]byte(":hb\n\n"))
			flusher.Flush()
		}
	}
}
