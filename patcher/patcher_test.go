package patcher

import (
	"testing"

	"github.com/tracktitans/railcore/network"
	. "github.com/smartystreets/goconvey/convey"
)

func sampleNetwork() *network.Network {
	return &network.Network{
		Stations: []network.Station{
			{Name: "MILANO CENTRALE", MaxTrainsAtOnce: 4},
			{Name: "ROMA TERMINI", MaxTrainsAtOnce: 4},
		},
		Rails: []network.Rail{
			{Source: "MILANO CENTRALE", Target: "ROMA TERMINI", MaxSpeedKmh: 160, TravelTimeMin: 120, MinHeadwaySec: 180, Capacity: 2},
		},
		Trains: []network.Train{
			{
				TrainID: "REG_3053",
				Route: []network.RouteStop{
					{StationName: "MILANO CENTRALE", StationOrder: 0},
					{StationName: "ROMA TERMINI", StationOrder: 1},
				},
			},
		},
	}
}

func TestKeywordFallbackReduceSpeed(t *testing.T) {
	Convey("Given a reduce-speed action naming a percentage", t, func() {
		instr := keywordFallback([]string{"Reduce speed of REG_3053 by 20%"})

		Convey("a global update multiplies max_speed_kmh by the complement", func() {
			So(len(instr.GlobalUpdates), ShouldEqual, 1)
			So(instr.GlobalUpdates[0].Parameter, ShouldEqual, "max_speed_kmh")
			So(instr.GlobalUpdates[0].Operation, ShouldEqual, network.OpMultiply)
			So(instr.GlobalUpdates[0].Value, ShouldAlmostEqual, 0.8, 1e-9)
		})
	})
}

func TestApplyInstructionsPreservesStructure(t *testing.T) {
	Convey("Given a network and a global speed-reduction instruction", t, func() {
		net := sampleNetwork()
		instr := Instructions{
			GlobalUpdates: []GlobalUpdate{
				{Parameter: "max_speed_kmh", Operation: network.OpMultiply, Value: 0.8, AffectedTrains: []string{"REG_3053"}},
			},
		}

		Convey("applying it mutates only the targeted rail's value, never the schema", func() {
			before, _ := net.Snapshot()
			err := applyInstructions(net, instr, nil)
			So(err, ShouldBeNil)
			So(net.Rails[0].MaxSpeedKmh, ShouldAlmostEqual, 128, 1e-9)

			after, _ := net.Snapshot()
			So(len(after), ShouldBeGreaterThan, 0)
			So(before, ShouldNotResemble, after)
			So(checkStructure(sampleNetwork(), net), ShouldBeNil)
		})
	})
}

func TestCheckStructureDetectsDriftAndAcceptsValueOnlyChanges(t *testing.T) {
	Convey("Given a baseline network", t, func() {
		orig := sampleNetwork()

		Convey("a value-only clone passes structural validation", func() {
			clone, _ := orig.Clone()
			clone.Rails[0].MaxSpeedKmh = 100
			So(checkStructure(orig, clone), ShouldBeNil)
		})

		Convey("removing a train from the clone fails validation", func() {
			clone, _ := orig.Clone()
			clone.Trains = clone.Trains[:0]
			So(checkStructure(orig, clone), ShouldNotBeNil)
		})

		Convey("removing a route stop fails validation (list length must match)", func() {
			clone, _ := orig.Clone()
			clone.Trains[0].Route = clone.Trains[0].Route[:1]
			So(checkStructure(orig, clone), ShouldNotBeNil)
		})
	})
}

func TestKeepSameInstructionsYieldByteIdenticalSnapshot(t *testing.T) {
	Convey("Given a resolution whose only action resolves to keep_same updates", t, func() {
		net := sampleNetwork()
		before, _ := net.Snapshot()

		instr := Instructions{
			RailUpdates: []RailUpdate{
				{Source: "MILANO CENTRALE", Target: "ROMA TERMINI", Updates: []FieldUpdate{
					{Field: "max_speed_kmh", Operation: network.OpKeepSame, Value: 999},
				}},
			},
			TrainUpdates: []TrainUpdate{
				{TrainID: "REG_3053", Updates: []FieldUpdate{
					{Field: "delay_seconds", Operation: network.OpKeepSame, Value: 999},
				}},
			},
		}

		Convey("the patched snapshot is byte-identical to the input", func() {
			err := applyInstructions(net, instr, nil)
			So(err, ShouldBeNil)

			after, _ := net.Snapshot()
			So(string(after), ShouldEqual, string(before))
		})
	})
}

func TestEmptyInstructionsYieldByteIdenticalSnapshot(t *testing.T) {
	Convey("Given a resolution that translates to no updates at all", t, func() {
		net := sampleNetwork()
		before, _ := net.Snapshot()

		Convey("the patched snapshot is byte-identical to the input", func() {
			err := applyInstructions(net, Instructions{}, nil)
			So(err, ShouldBeNil)

			after, _ := net.Snapshot()
			So(string(after), ShouldEqual, string(before))
		})
	})
}

func TestRailsForTrainsMatchesConsecutiveRouteStops(t *testing.T) {
	Convey("Given a train routed MILANO -> ROMA", t, func() {
		net := sampleNetwork()

		Convey("railsForTrains resolves the single covering rail", func() {
			idxs := railsForTrains(net, []string{"REG_3053"})
			So(idxs, ShouldResemble, []int{0})
		})

		Convey("an unknown train resolves to no rails", func() {
			idxs := railsForTrains(net, []string{"NOPE_1"})
			So(idxs, ShouldBeEmpty)
		})
	})
}

func TestExtractJSONObjectThreeTiers(t *testing.T) {
	Convey("fenced json wins first", t, func() {
		out, err := extractJSONObject("```json\n{\"rail_updates\":[]}\n```")
		So(err, ShouldBeNil)
		So(out, ShouldContainSubstring, "rail_updates")
	})
	Convey("any fenced block is the second tier", t, func() {
		out, err := extractJSONObject("```\n{\"train_updates\":[]}\n```")
		So(err, ShouldBeNil)
		So(out, ShouldContainSubstring, "train_updates")
	})
	Convey("a raw object is the third tier", t, func() {
		out, err := extractJSONObject("here: {\"global_updates\":[]} done")
		So(err, ShouldBeNil)
		So(out, ShouldContainSubstring, "global_updates")
	})
	Convey("malformed output fails loudly", t, func() {
		_, err := extractJSONObject("no json here")
		So(err, ShouldNotBeNil)
	})
}
