package feature

import (
	"testing"
	"time"

	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDelayCategoryThresholds(t *testing.T) {
	Convey("delay_category buckets at the documented second thresholds", t, func() {
		So(delayCategory(0), ShouldEqual, 0)
		So(delayCategory(119), ShouldEqual, 0)
		So(delayCategory(120), ShouldEqual, 1)
		So(delayCategory(299), ShouldEqual, 1)
		So(delayCategory(300), ShouldEqual, 2)
		So(delayCategory(599), ShouldEqual, 2)
		So(delayCategory(600), ShouldEqual, 3)
	})
}

func TestBuildFixedOrderAndMissingIsZero(t *testing.T) {
	Convey("Given a tracker with one train at a major hub", t, func() {
		net := &network.Network{
			Stations: []network.Station{{Name: "MILANO CENTRALE", MaxTrainsAtOnce: 3}},
			Trains: []network.Train{{
				TrainID: "T1", CurrentPositionType: network.PositionStation,
				CurrentStation: "MILANO CENTRALE", DelaySeconds: 150,
			}},
		}
		tk := tracker.New(net)

		Convey("Build returns a vector matching len(Names) with is_major_hub set", func() {
			v := Build(tk, "T1", time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), 15)
			So(len(v), ShouldEqual, len(Names))
			So(v[indexOf("is_major_hub")], ShouldEqual, 1)
			So(v[indexOf("is_peak_hour")], ShouldEqual, 1)
			So(v[indexOf("delay_category")], ShouldEqual, 1)
		})

		Convey("an unknown train yields an all-zero vector rather than an error", func() {
			v := Build(tk, "NOPE", time.Now(), 15)
			for _, f := range v {
				So(f, ShouldEqual, 0)
			}
		})
	})
}

func indexOf(name string) int {
	for i, n := range Names {
		if n == name {
			return i
		}
	}
	return -1
}
