package railcore

import (
	"os"
	"testing"
	"time"

	"github.com/tracktitans/railcore/network"
	. "github.com/smartystreets/goconvey/convey"
)

func sampleNetwork() *network.Network {
	return &network.Network{
		Stations: []network.Station{
			{Name: "A", MaxTrainsAtOnce: 5, BlockingBehavior: network.BlockingSoft},
			{Name: "B", MaxTrainsAtOnce: 5, BlockingBehavior: network.BlockingSoft},
		},
		Rails: []network.Rail{
			{Source: "A", Target: "B", Capacity: 5, MinHeadwaySec: 180, MaxSpeedKmh: 120, TravelTimeMin: 5, Direction: "forward"},
		},
		Trains: []network.Train{
			{
				TrainID: "T1", Active: true, CurrentPositionType: network.PositionStation, CurrentStation: "A",
				Route:    []network.RouteStop{{StationName: "A"}, {StationName: "B"}},
				Priority: 2,
			},
		},
	}
}

func TestCoreTickAdvancesStateAndRecordsConflicts(t *testing.T) {
	Convey("Given a Core wired over a small network", t, func() {
		cfg := DefaultConfig(ScenarioNormal)
		cfg.RandomSeed = 11
		cfg.TrainSpawnRate = 1.0
		core := New(cfg, sampleNetwork(), "")

		Convey("Tick advances simulated time by one tick interval and records its conflicts", func() {
			rec, found := core.Tick()
			So(rec.Tick, ShouldEqual, 1)
			So(core.Time(), ShouldEqual, cfg.TickIntervalSeconds)
			So(core.Conflicts(), ShouldHaveLength, len(found))
		})
	})
}

func TestCorePredictionsForStationOnlyCoversOccupants(t *testing.T) {
	Convey("Given a station with no trains", t, func() {
		cfg := DefaultConfig(ScenarioNormal)
		core := New(cfg, sampleNetwork(), "")

		Convey("PredictionsForStation on an empty station returns nothing", func() {
			preds := core.PredictionsForStation("B", time.Now())
			So(preds, ShouldBeEmpty)
		})

		Convey("PredictionsForStation on an unknown station returns nothing", func() {
			preds := core.PredictionsForStation("NOPE", time.Now())
			So(preds, ShouldBeEmpty)
		})
	})
}

func TestCoreSaveConflictsWritesJSON(t *testing.T) {
	Convey("Given a Core that has ticked a few times", t, func() {
		cfg := DefaultConfig(ScenarioDisruption)
		cfg.RandomSeed = 3
		core := New(cfg, sampleNetwork(), "")
		for i := 0; i < 5; i++ {
			core.Tick()
		}

		Convey("SaveConflicts writes a readable file and cleans up after itself", func() {
			name, err := core.SaveConflicts("")
			So(err, ShouldBeNil)
			defer os.Remove(name)
			data, err := os.ReadFile(name)
			So(err, ShouldBeNil)
			So(len(data), ShouldBeGreaterThan, 0)
		})
	})
}
