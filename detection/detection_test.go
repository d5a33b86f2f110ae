package detection

import (
	"testing"
	"time"

	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
	. "github.com/smartystreets/goconvey/convey"
)

// Scenario 1: capacity trip. MILANO CENTRALE max_trains_at_once=1, hard
// blocking; TEST_1 then TEST_2 arrive. Expect exactly one critical
// station-overcapacity conflict listing both trains.
func TestCapacityTripScenario(t *testing.T) {
	Convey("Given a hard-blocking station over its limit", t, func() {
		net := &network.Network{
			Stations: []network.Station{
				{Name: "MILANO CENTRALE", MaxTrainsAtOnce: 1, BlockingBehavior: network.BlockingHard,
					CurrentTrains: []string{"TEST_1", "TEST_2"}},
			},
		}
		tk := tracker.New(net)
		eng := New(300, 600)

		Convey("exactly one critical conflict is emitted naming both trains", func() {
			conflicts := eng.Evaluate(tk, time.Now(), nil)
			var hits []Conflict
			for _, c := range conflicts {
				if c.Type == "station_overcapacity" {
					hits = append(hits, c)
				}
			}
			So(len(hits), ShouldEqual, 1)
			So(hits[0].Severity, ShouldEqual, SeverityCritical)
			So(hits[0].InvolvedTrains, ShouldContain, "TEST_1")
			So(hits[0].InvolvedTrains, ShouldContain, "TEST_2")
		})
	})
}

// Scenario 2: headway trip. Edge MI_CENTRALE->MI_LAMBRATE min_headway_sec=180.
// Train A enters at t, train B enters at t+50s. Expect a headway violation.
func TestHeadwayTripScenario(t *testing.T) {
	Convey("Given two trains entering the same edge 50s apart with a 180s min headway", t, func() {
		rail := network.Rail{Source: "MI_CENTRALE", Target: "MI_LAMBRATE", MinHeadwaySec: 180}
		base := time.Now()
		entries := []DepartureEvent{
			{TrainID: "A", Source: rail.Source, Target: rail.Target, At: base},
			{TrainID: "B", Source: rail.Source, Target: rail.Target, At: base.Add(50 * time.Second)},
		}

		Convey("a headway-violation conflict is produced", func() {
			conflicts := HeadwayCheck(rail, entries)
			So(len(conflicts), ShouldEqual, 1)
			So(conflicts[0].Type, ShouldEqual, "headway_violation")
			So(conflicts[0].InvolvedTrains, ShouldResemble, []string{"A", "B"})
		})
	})
}

func TestBlockingIncidentConflict(t *testing.T) {
	Convey("Given an occupied station with a blocking incident", t, func() {
		net := &network.Network{
			Stations: []network.Station{
				{Name: "S1", MaxTrainsAtOnce: 5, BlockingBehavior: network.BlockingSoft,
					CurrentTrains:   []string{"T1"},
					ActiveIncidents: []network.Incident{{IncidentID: "I1", IsBlocking: true, Severity: 90}}},
			},
		}
		tk := tracker.New(net)
		eng := New(300, 600)

		Convey("a critical blocking_incident conflict is emitted", func() {
			conflicts := eng.Evaluate(tk, time.Now(), nil)
			found := false
			for _, c := range conflicts {
				if c.Type == "blocking_incident" {
					found = true
					So(c.Severity, ShouldEqual, SeverityCritical)
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}

func TestExcessiveDelayEscalation(t *testing.T) {
	Convey("Given a train delayed past the high threshold at a station", t, func() {
		net := &network.Network{
			Stations: []network.Station{{Name: "S1", MaxTrainsAtOnce: 2, BlockingBehavior: network.BlockingSoft}},
			Trains: []network.Train{{
				TrainID: "T1", CurrentPositionType: network.PositionStation, CurrentStation: "S1", DelaySeconds: 650,
			}},
		}
		tk := tracker.New(net)
		eng := New(300, 600)

		Convey("severity escalates to high", func() {
			conflicts := eng.Evaluate(tk, time.Now(), nil)
			found := false
			for _, c := range conflicts {
				if c.Type == "excessive_delay" {
					found = true
					So(c.Severity, ShouldEqual, SeverityHigh)
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}

func TestRulePanicIsIsolated(t *testing.T) {
	Convey("Given a nil tracker network would make a rule panic", t, func() {
		eng := New(300, 600)
		tk := tracker.New(nil)

		Convey("Evaluate still returns without panicking", func() {
			So(func() { eng.Evaluate(tk, time.Now(), nil) }, ShouldNotPanic)
		})
	})
}
