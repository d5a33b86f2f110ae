package tick

import (
	"testing"

	"github.com/tracktitans/railcore/config"
	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
	. "github.com/smartystreets/goconvey/convey"
)

func twoStationNet() *network.Network {
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
				Route: []network.RouteStop{{StationName: "A"}, {StationName: "B"}},
				Priority: 2,
			},
		},
	}
}

func runTicks(seed int64, n int) []ChangeRecord {
	cfg := config.DefaultConfig(config.ScenarioNormal)
	cfg.RandomSeed = seed
	cfg.TrainSpawnRate = 1.0 // force departures to actually happen in tests
	tk := tracker.New(twoStationNet())
	eng := New(cfg, tk)
	var out []ChangeRecord
	for i := 0; i < n; i++ {
		out = append(out, eng.Tick())
	}
	return out
}

func TestDeterminism(t *testing.T) {
	Convey("Given identical seed, scenario and snapshot", t, func() {
		a := runTicks(42, 20)
		b := runTicks(42, 20)

		Convey("the sequence of change records is identical", func() {
			So(len(a), ShouldEqual, len(b))
			for i := range a {
				So(a[i], ShouldResemble, b[i])
			}
		})
	})
}

func TestBlockingIncidentFreezesProgress(t *testing.T) {
	Convey("Given a train mid-edge with a blocking incident", t, func() {
		net := twoStationNet()
		net.Trains[0].CurrentPositionType = network.PositionEdge
		net.Trains[0].CurrentEdgeSource = "A"
		net.Trains[0].CurrentEdgeTarget = "B"
		net.Trains[0].ProgressOnEdge = 0.3
		net.Rails[0].ActiveIncidents = []network.Incident{{IncidentID: "I1", Severity: 90, IsBlocking: true}}

		cfg := config.DefaultConfig(config.ScenarioNormal)
		cfg.RandomSeed = 7
		tk := tracker.New(net)
		eng := New(cfg, tk)

		Convey("progress_on_edge does not increase and speed is zero", func() {
			eng.Tick()
			tr, _ := tk.Network().TrainByID("T1")
			So(tr.ProgressOnEdge, ShouldEqual, 0.3)
			So(tr.CurrentSpeedKmh, ShouldEqual, 0)
		})
	})
}

func TestWeatherFactor(t *testing.T) {
	Convey("Weather factors match the documented coupling", t, func() {
		So(weatherFactor(tracker.WeatherSnow), ShouldEqual, 0.8)
		So(weatherFactor(tracker.WeatherStorm), ShouldEqual, 0.8)
		So(weatherFactor(tracker.WeatherFog), ShouldEqual, 0.8)
		So(weatherFactor(tracker.WeatherRain), ShouldEqual, 0.95)
		So(weatherFactor(tracker.WeatherClear), ShouldEqual, 1.0)
	})
}

// chainNet is a five-station chain long enough that one train takes most
// of a 100-tick run to cross it, giving many edge-speed samples per run.
func chainNet() *network.Network {
	stations := []string{"A", "B", "C", "D", "E"}
	net := &network.Network{}
	var route []network.RouteStop
	for _, s := range stations {
		net.Stations = append(net.Stations, network.Station{Name: s, MaxTrainsAtOnce: 5, BlockingBehavior: network.BlockingSoft})
		route = append(route, network.RouteStop{StationName: s})
	}
	for i := 0; i+1 < len(stations); i++ {
		net.Rails = append(net.Rails, network.Rail{
			Source: stations[i], Target: stations[i+1],
			Capacity: 5, MinHeadwaySec: 180, MaxSpeedKmh: 120, TravelTimeMin: 5, Direction: "forward",
		})
	}
	net.Trains = []network.Train{{
		TrainID: "T1", Active: true, CurrentPositionType: network.PositionStation, CurrentStation: "A",
		Route: route, Priority: 2,
	}}
	return net
}

// meanObservedSpeed runs n ticks under the given weather and returns the
// mean current_speed_kmh sampled over every tick any train was on an edge.
func meanObservedSpeed(seed int64, n int, w tracker.Weather) float64 {
	cfg := config.DefaultConfig(config.ScenarioNormal)
	cfg.RandomSeed = seed
	cfg.TrainSpawnRate = 1.0
	tk := tracker.New(chainNet())
	eng := New(cfg, tk)
	eng.ForceWeather(w)

	var sum float64
	var count int
	for i := 0; i < n; i++ {
		eng.Tick()
		for _, tr := range tk.Network().Trains {
			if tr.CurrentPositionType == network.PositionEdge && tr.CurrentSpeedKmh > 0 {
				sum += tr.CurrentSpeedKmh
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func TestWeatherCouplingOverHundredTicks(t *testing.T) {
	Convey("Given identically seeded 100-tick runs differing only by forced weather", t, func() {
		snowMean := meanObservedSpeed(123, 100, tracker.WeatherSnow)
		clearMean := meanObservedSpeed(123, 100, tracker.WeatherClear)

		Convey("the snow run's mean observed speed is below 0.85x the clear run's", func() {
			So(snowMean, ShouldBeGreaterThan, 0)
			So(clearMean, ShouldBeGreaterThan, 0)
			So(snowMean, ShouldBeLessThan, 0.85*clearMean)
		})
	})
}
