package network

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleSnapshot = `{
	"trains": [{"train_id":"TEST_1","train_type":"regional","priority":1,"route":[],"route_index":0,"status":"on_time","current_position_type":"station","current_station":"MILANO CENTRALE","progress_on_edge":0,"current_speed_kmh":0,"delay_seconds":0,"active":true}],
	"stations": [{"id":"S1","name":"MILANO CENTRALE","region":"lombardy","lat":45.48,"lon":9.2,"max_trains_at_once":1,"blocking_behavior":"hard","current_trains":["TEST_1"],"active_incidents":[]}],
	"rails": [{"source":"MILANO CENTRALE","target":"MI_LAMBRATE","distance_km":5,"travel_time_min":6,"capacity":2,"current_load":0,"min_headway_sec":180,"max_speed_kmh":120,"direction":"forward","reroutable":false,"priority_access":false,"risk_profile":"low","active_incidents":[]}]
}`

func TestLoadAndSnapshotRoundTrip(t *testing.T) {
	Convey("Given a snapshot", t, func() {
		n, err := Load([]byte(sampleSnapshot))
		So(err, ShouldBeNil)

		Convey("it round-trips through Snapshot without changing shape", func() {
			out, err := n.Snapshot()
			So(err, ShouldBeNil)
			n2, err := Load(out)
			So(err, ShouldBeNil)
			So(len(n2.Trains), ShouldEqual, len(n.Trains))
			So(len(n2.Stations), ShouldEqual, len(n.Stations))
			So(len(n2.Rails), ShouldEqual, len(n.Rails))
		})

		Convey("SetField multiply mutates only the targeted scalar", func() {
			err := n.SetField("rails[0].max_speed_kmh", OpMultiply, 0.8)
			So(err, ShouldBeNil)
			So(n.Rails[0].MaxSpeedKmh, ShouldEqual, 96)
		})

		Convey("SetField keep_same is a no-op", func() {
			before := n.Rails[0].MaxSpeedKmh
			err := n.SetField("rails[0].max_speed_kmh", OpKeepSame, 999)
			So(err, ShouldBeNil)
			So(n.Rails[0].MaxSpeedKmh, ShouldEqual, before)
		})

		Convey("SetField rejects out-of-range index", func() {
			err := n.SetField("rails[9].max_speed_kmh", OpSet, 1)
			So(err, ShouldNotBeNil)
		})

		Convey("Clone is independent of the original", func() {
			clone, err := n.Clone()
			So(err, ShouldBeNil)
			So(clone.SetField("rails[0].max_speed_kmh", OpSet, 1), ShouldBeNil)
			So(n.Rails[0].MaxSpeedKmh, ShouldNotEqual, clone.Rails[0].MaxSpeedKmh)
		})
	})
}

func TestLoadBadInputFailsFast(t *testing.T) {
	Convey("Given malformed JSON", t, func() {
		_, err := Load([]byte("{not json"))
		Convey("Load fails fast", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
