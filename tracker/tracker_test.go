package tracker

import (
	"testing"

	"github.com/tracktitans/railcore/network"
	. "github.com/smartystreets/goconvey/convey"
)

func sampleNetwork() *network.Network {
	return &network.Network{
		Stations: []network.Station{
			{ID: "S1", Name: "MILANO CENTRALE", MaxTrainsAtOnce: 1, BlockingBehavior: network.BlockingHard},
			{ID: "S2", Name: "MI_LAMBRATE", MaxTrainsAtOnce: 2, BlockingBehavior: network.BlockingSoft},
		},
		Rails: []network.Rail{
			{Source: "MILANO CENTRALE", Target: "MI_LAMBRATE", Capacity: 2, MinHeadwaySec: 180, MaxSpeedKmh: 120, TravelTimeMin: 6},
		},
		Trains: []network.Train{
			{TrainID: "TEST_1", CurrentPositionType: network.PositionStation, CurrentStation: "MILANO CENTRALE", Active: true},
			{TrainID: "TEST_2", CurrentPositionType: network.PositionStation, CurrentStation: "MILANO CENTRALE", Active: true},
		},
	}
}

func TestDepartureAndArrival(t *testing.T) {
	Convey("Given a tracker over a two-station network", t, func() {
		tk := New(sampleNetwork())

		Convey("departure increments the rail load and clears the station slot", func() {
			err := tk.TrainDepartsStation("TEST_1", "MI_LAMBRATE")
			So(err, ShouldBeNil)
			rail := tk.GetEdge("MILANO CENTRALE", "MI_LAMBRATE")
			So(rail.CurrentLoad, ShouldEqual, 1)
			st, _ := tk.Network().StationByName("MILANO CENTRALE")
			So(st.CurrentTrains, ShouldNotContain, "TEST_1")
		})

		Convey("arrival appends to the target station and clears edge fields", func() {
			So(tk.TrainDepartsStation("TEST_1", "MI_LAMBRATE"), ShouldBeNil)
			So(tk.TrainArrivesAtStation("TEST_1", "MI_LAMBRATE"), ShouldBeNil)
			tr, _ := tk.Network().TrainByID("TEST_1")
			So(tr.CurrentPositionType, ShouldEqual, network.PositionStation)
			So(tr.CurrentEdgeSource, ShouldEqual, "")
			rail := tk.GetEdge("MILANO CENTRALE", "MI_LAMBRATE")
			So(rail.CurrentLoad, ShouldEqual, 0)
		})

		Convey("both trains arriving trips hard-blocking overcapacity at the source station", func() {
			So(tk.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"), ShouldBeNil)
			So(tk.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"), ShouldBeNil)
			st, _ := tk.Network().StationByName("MILANO CENTRALE")
			So(len(st.CurrentTrains), ShouldBeGreaterThan, st.MaxTrainsAtOnce)
		})
	})
}

func TestDelayAndHoldingStatus(t *testing.T) {
	Convey("Given a tracker", t, func() {
		tk := New(sampleNetwork())

		Convey("positive delay sets status delayed", func() {
			So(tk.UpdateTrainDelay("TEST_1", 200), ShouldBeNil)
			tr, _ := tk.Network().TrainByID("TEST_1")
			So(tr.Status, ShouldEqual, network.StatusDelayed)
		})

		Convey("holding overrides delay-derived status until cleared", func() {
			So(tk.SetTrainHolding("TEST_1", true), ShouldBeNil)
			tr, _ := tk.Network().TrainByID("TEST_1")
			So(tr.Status, ShouldEqual, network.StatusHolding)
			So(tk.UpdateTrainDelay("TEST_1", 50), ShouldBeNil)
			So(tr.Status, ShouldEqual, network.StatusHolding)
		})
	})
}
