package server

import (
	"strconv"
	"sync"
	"time"

	"github.com/tracktitans/railcore/detection"
	"github.com/tracktitans/railcore/resolution"
	"github.com/tracktitans/railcore/tick"
)

// AuditEntry represents a single audit log item sent to FE.
type AuditEntry struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Event     string                 `json:"event"`
	Category  string                 `json:"category"`
	Severity  string                 `json:"severity"`
	Object    map[string]interface{} `json:"object"`
	Details   map[string]interface{} `json:"details"`
}

type auditState struct {
	mu          sync.RWMutex
	entries     []AuditEntry
	capacity    int
	nextID      int64
	subscribers map[chan AuditEntry]bool
}

var audits = &auditState{}

func init() {
	audits.capacity = 1000
	audits.entries = make([]AuditEntry, 0, audits.capacity)
	audits.subscribers = make(map[chan AuditEntry]bool)
}

func (a *auditState) append(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	entry.ID = strconv.FormatInt(a.nextID, 10)
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if len(a.entries) == a.capacity {
		copy(a.entries[0:], a.entries[1:])
		a.entries[len(a.entries)-1] = entry
	} else {
		a.entries = append(a.entries, entry)
	}
	for ch := range a.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (a *auditState) subscribe() chan AuditEntry {
	ch := make(chan AuditEntry, 256)
	a.mu.Lock()
	a.subscribers[ch] = true
	a.mu.Unlock()
	return ch
}

func (a *auditState) unsubscribe(ch chan AuditEntry) {
	a.mu.Lock()
	delete(a.subscribers, ch)
	a.mu.Unlock()
	close(ch)
}

// getSince returns up to limit entries with ID strictly greater than sinceID.
func (a *auditState) getSince(sinceID int64, limit int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AuditEntry, 0, limit)
	for i := 0; i < len(a.entries); i++ {
		id, _ := strconv.ParseInt(a.entries[i].ID, 10, 64)
		if id > sinceID {
			out = append(out, a.entries[i])
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// recordAuditFromTick logs every notable change a tick produced: departures,
// arrivals, incidents started and incidents resolved. Chatty per-tick-clock noise (the
// teacher's ClockEvent equivalent) is intentionally not logged here.
func recordAuditFromTick(rec tick.ChangeRecord) {
	for _, id := range rec.Departures {
		audits.append(AuditEntry{
			Event: "TRAIN_DEPARTED", Category: "train", Severity: "INFO",
			Object:  map[string]interface{}{"train_id": id},
			Details: map[string]interface{}{"tick": rec.Tick, "time": rec.Time},
		})
	}
	for _, id := range rec.Arrivals {
		audits.append(AuditEntry{
			Event: "TRAIN_ARRIVED", Category: "train", Severity: "INFO",
			Object:  map[string]interface{}{"train_id": id},
			Details: map[string]interface{}{"tick": rec.Tick, "time": rec.Time},
		})
	}
	for _, id := range rec.IncidentsStarted {
		audits.append(AuditEntry{
			Event: "INCIDENT_STARTED", Category: "incident", Severity: "WARN",
			Object:  map[string]interface{}{"incident_id": id},
			Details: map[string]interface{}{"tick": rec.Tick, "time": rec.Time},
		})
	}
	for _, id := range rec.IncidentsResolved {
		audits.append(AuditEntry{
			Event: "INCIDENT_RESOLVED", Category: "incident", Severity: "INFO",
			Object:  map[string]interface{}{"incident_id": id},
			Details: map[string]interface{}{"tick": rec.Tick, "time": rec.Time},
		})
	}
}

// recordAuditFromConflict logs a conflict the Detection (or Prediction)
// Engine surfaced this tick.
func recordAuditFromConflict(c detection.Conflict) {
	sev := "INFO"
	switch c.Severity {
	case detection.SeverityHigh:
		sev = "WARN"
	case detection.SeverityCritical:
		sev = "CRITICAL"
	}
	audits.append(AuditEntry{
		Event: "CONFLICT_DETECTED", Category: "conflict", Severity: sev,
		Object: map[string]interface{}{
			"conflict_id": c.ConflictID,
			"type":        c.Type,
			"location":    c.Location,
		},
		Details: map[string]interface{}{
			"rule_triggered":  c.RuleTriggered,
			"involved_trains": c.InvolvedTrains,
			"explanation":     c.Explanation,
		},
	})
}

// recordAuditFromResolution logs the outcome of applying a chosen
// resolution via the Context Patcher.
func recordAuditFromResolution(res resolution.NormalizedResolution, err error) {
	sev := "INFO"
	event := "RESOLUTION_APPLIED"
	details := map[string]interface{}{"strategy": res.StrategyName}
	if err != nil {
		sev = "WARN"
		event = "RESOLUTION_FAILED"
		details["error"] = err.Error()
	}
	audits.append(AuditEntry{
		Event: event, Category: "resolution", Severity: sev,
		Object:  map[string]interface{}{"resolution_id": res.ResolutionID},
		Details: details,
	})
}
