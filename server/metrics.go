package server

import (
	"sort"
	"sync"
	"time"

	"github.com/tracktitans/railcore/detection"
	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tick"
)

// Defaults/tuning for realtime KPIs: rolling windows driven off conflict
// and tick events.
const (
	defaultDelayWindow      = 60 * time.Minute
	defaultThroughputWindow = 60 * time.Minute
	defaultAcceptanceWindow = 120 * time.Minute
)

type kpiSnapshot struct {
	ts               time.Time
	punctuality      float64
	averageDelay     float64
	p90Delay         float64
	throughput       int
	utilization      float64
	acceptanceRate   float64
	openConflicts    int
	mttrConflict     float64
	headwayAdherence float64
	headwayBreaches  int
	efficiency       float64
	performance      float64
}

type departureEvent struct{ ts time.Time }
type delayPoint struct {
	ts      time.Time
	minutes float64
}

type metricsState struct {
	mu sync.RWMutex

	delays     []delayPoint
	departures []departureEvent

	headwayBreaches []time.Time

	conflictFirstSeen   map[string]time.Time
	resolutionDurations []time.Duration

	accepted  []time.Time
	overrides []time.Time
	ignored   []time.Time

	snapshots []kpiSnapshot
}

var metrics = &metricsState{conflictFirstSeen: make(map[string]time.Time)}

// updateMetricsFromTick folds one tick's change record and the resulting
// network state into the rolling counters: every departure feeds
// throughput, every delayed active train feeds the delay/p90 series.
func updateMetricsFromTick(rec tick.ChangeRecord, net *network.Network) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	now := time.Now().UTC()
	for range rec.Departures {
		metrics.departures = append(metrics.departures, departureEvent{ts: now})
	}
	trimDeparturesLocked()
	for _, tr := range net.Trains {
		if !tr.Active || tr.DelaySeconds <= 0 {
			continue
		}
		metrics.delays = append(metrics.delays, delayPoint{ts: now, minutes: tr.DelaySeconds / 60.0})
	}
	trimDelaysLocked()
}

// updateMetricsFromConflict tracks a conflict's first-seen time for MTTR and
// counts headway breaches separately, since they drive their own adherence
// KPI.
func updateMetricsFromConflict(c detection.Conflict) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	now := time.Now().UTC()
	if _, ok := metrics.conflictFirstSeen[c.ConflictID]; !ok {
		metrics.conflictFirstSeen[c.ConflictID] = now
	}
	if c.Type == "headway_violation" {
		metrics.headwayBreaches = append(metrics.headwayBreaches, now)
		trimHeadwayBreachesLocked()
	}
}

// updateMetricsFromResolutionOutcome records an accept/reject/override
// response to a pending resolution and, on acceptance, closes out the
// conflict's MTTR window.
func updateMetricsFromResolutionOutcome(conflictID string, outcome string) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	now := time.Now().UTC()
	switch outcome {
	case "accepted":
		metrics.accepted = append(metrics.accepted, now)
		if first, ok := metrics.conflictFirstSeen[conflictID]; ok {
			metrics.resolutionDurations = append(metrics.resolutionDurations, now.Sub(first))
			delete(metrics.conflictFirstSeen, conflictID)
		}
	case "rejected":
		metrics.ignored = append(metrics.ignored, now)
	case "overridden":
		metrics.overrides = append(metrics.overrides, now)
	}
	trimResolutionDurationsLocked()
}

func trimDeparturesLocked() {
	cutoff := time.Now().UTC().Add(-defaultThroughputWindow)
	i := 0
	for ; i < len(metrics.departures); i++ {
		if metrics.departures[i].ts.After(cutoff) {
			break
		}
	}
	metrics.departures = append([]departureEvent{}, metrics.departures[i:]...)
}

func trimDelaysLocked() {
	cutoff := time.Now().UTC().Add(-defaultDelayWindow)
	i := 0
	for ; i < len(metrics.delays); i++ {
		if metrics.delays[i].ts.After(cutoff) {
			break
		}
	}
	metrics.delays = append([]delayPoint{}, metrics.delays[i:]...)
}

func trimHeadwayBreachesLocked() {
	cutoff := time.Now().UTC().Add(-defaultThroughputWindow)
	i := 0
	for ; i < len(metrics.headwayBreaches); i++ {
		if metrics.headwayBreaches[i].After(cutoff) {
			break
		}
	}
	metrics.headwayBreaches = append([]time.Time{}, metrics.headwayBreaches[i:]...)
}

func trimResolutionDurationsLocked() {
	const maxKeep = 500
	if len(metrics.resolutionDurations) > maxKeep {
		metrics.resolutionDurations = metrics.resolutionDurations[len(metrics.resolutionDurations)-maxKeep:]
	}
}

// takeSnapshot computes one point-in-time KPI reading from the live network
// state plus the rolling counters above.
func takeSnapshot() {
	if core == nil {
		return
	}
	net := core.GetState()

	metrics.mu.Lock()
	defer metrics.mu.Unlock()

	railLoad, railCapacity := 0, 0
	for _, rail := range net.Rails {
		railLoad += rail.CurrentLoad
		railCapacity += rail.Capacity
	}
	util := 0.0
	if railCapacity > 0 {
		util = float64(railLoad) * 100.0 / float64(railCapacity)
	}

	cutoff := time.Now().UTC().Add(-defaultThroughputWindow)
	tp := 0
	for _, d := range metrics.departures {
		if d.ts.After(cutoff) {
			tp++
		}
	}

	activeTrains, onTime := 0, 0
	for _, tr := range net.Trains {
		if !tr.Active {
			continue
		}
		activeTrains++
		if tr.DelaySeconds <= 0 {
			onTime++
		}
	}
	punctuality := 100.0
	if activeTrains > 0 {
		punctuality = float64(onTime) * 100.0 / float64(activeTrains)
	}

	avgDelay, p90 := 0.0, 0.0
	if len(metrics.delays) > 0 {
		sum := 0.0
		vals := make([]float64, 0, len(metrics.delays))
		for _, d := range metrics.delays {
			sum += d.minutes
			vals = append(vals, d.minutes)
		}
		avgDelay = sum / float64(len(metrics.delays))
		sort.Float64s(vals)
		idx := int(0.9*float64(len(vals)-1) + 0.5)
		if idx < 0 {
			idx = 0
		}
		if idx >= len(vals) {
			idx = len(vals) - 1
		}
		p90 = vals[idx]
	}

	responded := len(metrics.accepted) + len(metrics.overrides) + len(metrics.ignored)
	accRate := 0.0
	if responded > 0 {
		accRate = float64(len(metrics.accepted)) * 100.0 / float64(responded)
	}

	mttr := 0.0
	if len(metrics.resolutionDurations) > 0 {
		sum := 0.0
		for _, d := range metrics.resolutionDurations {
			sum += d.Minutes()
		}
		mttr = sum / float64(len(metrics.resolutionDurations))
	}

	hwBreaches := len(metrics.headwayBreaches)
	headwayAdherence := 100.0
	if tp > 0 {
		headwayAdherence = 100.0 * float64(tp-hwBreaches) / float64(tp)
		if headwayAdherence < 0 {
			headwayAdherence = 0
		}
	}

	efficiency := 100.0 - avgDelay
	if efficiency < 0 {
		efficiency = 0
	}
	performance := (0.5*punctuality + 0.3*float64(tp) + 0.2*util) / 2.0

	snap := kpiSnapshot{
		ts:               time.Now().UTC(),
		punctuality:      punctuality,
		averageDelay:     avgDelay,
		p90Delay:         p90,
		throughput:       tp,
		utilization:      util,
		acceptanceRate:   accRate,
		openConflicts:    len(metrics.conflictFirstSeen),
		mttrConflict:     mttr,
		headwayAdherence: headwayAdherence,
		headwayBreaches:  hwBreaches,
		efficiency:       efficiency,
		performance:      performance,
	}
	metrics.snapshots = append(metrics.snapshots, snap)
	if len(metrics.snapshots) > 1440 {
		metrics.snapshots = metrics.snapshots[len(metrics.snapshots)-1440:]
	}
}

func startMetricsTicker() {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		for range ticker.C {
			takeSnapshot()
		}
	}()
}

func aggregateKPIs(rangeDur time.Duration) (kpiSnapshot, kpiSnapshot) {
	metrics.mu.RLock()
	defer metrics.mu.RUnlock()
	if len(metrics.snapshots) == 0 {
		return kpiSnapshot{ts: time.Now().UTC()}, kpiSnapshot{}
	}
	cutoff := time.Now().UTC().Add(-rangeDur)
	var agg kpiSnapshot
	aggCount := 0
	for _, s := range metrics.snapshots {
		if s.ts.Before(cutoff) {
			continue
		}
		agg.punctuality += s.punctuality
		agg.averageDelay += s.averageDelay
		agg.p90Delay += s.p90Delay
		agg.throughput += s.throughput
		agg.utilization += s.utilization
		agg.acceptanceRate += s.acceptanceRate
		agg.openConflicts += s.openConflicts
		agg.mttrConflict += s.mttrConflict
		agg.headwayAdherence += s.headwayAdherence
		agg.headwayBreaches += s.headwayBreaches
		agg.efficiency += s.efficiency
		agg.performance += s.performance
		aggCount++
	}
	if aggCount > 0 {
		agg.punctuality /= float64(aggCount)
		agg.averageDelay /= float64(aggCount)
		agg.p90Delay /= float64(aggCount)
		agg.utilization /= float64(aggCount)
		agg.acceptanceRate /= float64(aggCount)
		agg.mttrConflict /= float64(aggCount)
		agg.headwayAdherence /= float64(aggCount)
		agg.efficiency /= float64(aggCount)
		agg.performance /= float64(aggCount)
	}
	if len(metrics.snapshots) < 10 {
		return agg, kpiSnapshot{}
	}
	n := len(metrics.snapshots)
	w := n / 10
	if w < 1 {
		w = 1
	}
	cur := averageSlice(metrics.snapshots[n-w:])
	prevStart := n - 2*w
	if prevStart < 0 {
		prevStart = 0
	}
	prev := averageSlice(metrics.snapshots[prevStart : n-w])
	trend := kpiSnapshot{
		punctuality:      cur.punctuality - prev.punctuality,
		averageDelay:     cur.averageDelay - prev.averageDelay,
		p90Delay:         cur.p90Delay - prev.p90Delay,
		throughput:       cur.throughput - prev.throughput,
		utilization:      cur.utilization - prev.utilization,
		acceptanceRate:   cur.acceptanceRate - prev.acceptanceRate,
		openConflicts:    cur.openConflicts - prev.openConflicts,
		mttrConflict:     cur.mttrConflict - prev.mttrConflict,
		headwayAdherence: cur.headwayAdherence - prev.headwayAdherence,
		headwayBreaches:  cur.headwayBreaches - prev.headwayBreaches,
		efficiency:       cur.efficiency - prev.efficiency,
		performance:      cur.performance - prev.performance,
	}
	return agg, trend
}

func averageSlice(ss []kpiSnapshot) kpiSnapshot {
	var a kpiSnapshot
	if len(ss) == 0 {
		return a
	}
	for _, s := range ss {
		a.punctuality += s.punctuality
		a.averageDelay += s.averageDelay
		a.p90Delay += s.p90Delay
		a.throughput += s.throughput
		a.utilization += s.utilization
		a.acceptanceRate += s.acceptanceRate
		a.openConflicts += s.openConflicts
		a.mttrConflict += s.mttrConflict
		a.headwayAdherence += s.headwayAdherence
		a.headwayBreaches += s.headwayBreaches
		a.efficiency += s.efficiency
		a.performance += s.performance
	}
	n := float64(len(ss))
	a.punctuality /= n
	a.averageDelay /= n
	a.p90Delay /= n
	a.utilization /= n
	a.acceptanceRate /= n
	a.mttrConflict /= n
	a.headwayAdherence /= n
	a.efficiency /= n
	a.performance /= n
	return a
}
