package prediction

import (
	"testing"
	"time"

	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBucketThresholds(t *testing.T) {
	Convey("risk bucket is a pure function of probability", t, func() {
		So(Bucket(0), ShouldEqual, BucketSafe)
		So(Bucket(0.29), ShouldEqual, BucketSafe)
		So(Bucket(0.3), ShouldEqual, BucketLowRisk)
		So(Bucket(0.49), ShouldEqual, BucketLowRisk)
		So(Bucket(0.5), ShouldEqual, BucketHighRisk)
		So(Bucket(0.8), ShouldEqual, BucketHighRisk)
		So(Bucket(0.81), ShouldEqual, BucketCritical)
		So(Bucket(1), ShouldEqual, BucketCritical)
	})
}

func TestTriggerOnDelayThreshold(t *testing.T) {
	Convey("Given a train delayed past the trigger threshold", t, func() {
		net := &network.Network{
			Trains: []network.Train{{TrainID: "T1", DelaySeconds: 150, CurrentPositionType: network.PositionStation, CurrentStation: "S1"}},
			Stations: []network.Station{{Name: "S1", MaxTrainsAtOnce: 10}},
		}
		tk := tracker.New(net)
		p := New(Config{TriggerDelayThresholdSec: 120, TriggerCongestionThreshold: 0.8, HorizonMin: 15}, nil, nil)

		Convey("ShouldPredict fires", func() {
			So(p.ShouldPredict(tk, "T1", time.Now()), ShouldBeTrue)
		})
	})
}

func TestHeuristicFallbackWhenNoClassifier(t *testing.T) {
	Convey("Given no loaded classifier", t, func() {
		net := &network.Network{
			Trains: []network.Train{{TrainID: "T1", DelaySeconds: 600, CurrentPositionType: network.PositionStation, CurrentStation: "S1"}},
			Stations: []network.Station{{Name: "S1", MaxTrainsAtOnce: 10}},
		}
		tk := tracker.New(net)
		p := New(Config{TriggerDelayThresholdSec: 120, HorizonMin: 15}, nil, nil)

		Convey("Predict returns a bounded probability via the heuristic", func() {
			pred := p.Predict(tk, "T1", time.Now())
			So(pred.Probability, ShouldBeBetweenOrEqual, 0, 1)
		})
	})
}

func TestBatchAggregation(t *testing.T) {
	Convey("Given predictions across buckets", t, func() {
		preds := []Prediction{
			{TrainID: "A", Probability: 0.1, Bucket: BucketSafe},
			{TrainID: "B", Probability: 0.6, Bucket: BucketHighRisk},
			{TrainID: "C", Probability: 0.9, Bucket: BucketCritical},
		}
		Convey("network risk is the mean and rosters are split by bucket", func() {
			res := Batch(preds)
			So(res.NetworkRisk, ShouldAlmostEqual, (0.1+0.6+0.9)/3, 1e-9)
			So(res.HighRiskTrains, ShouldResemble, []string{"B"})
			So(res.CriticalTrains, ShouldResemble, []string{"C"})
		})
	})
}
