// Package prediction implements the Predictor: smart-trigger gating,
// feature scaling, classifier scoring (or a heuristic fallback), and risk
// bucketing.
package prediction

import (
	"math"
	"time"

	"github.com/tracktitans/railcore/feature"
	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tracker"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	log "gopkg.in/inconshreveable/log15.v2"
)

var logger log.Logger

func InitializeLogger(parent log.Logger) { logger = parent.New("module", "prediction") }

func init() { logger = log.New("module", "prediction") }

// RiskBucket is a pure function of probability at the documented thresholds.
type RiskBucket string

const (
	BucketSafe     RiskBucket = "safe"
	BucketLowRisk  RiskBucket = "low_risk"
	BucketHighRisk RiskBucket = "high_risk"
	BucketCritical RiskBucket = "critical"
)

// Bucket classifies p into the fixed risk buckets.
func Bucket(p float64) RiskBucket {
	switch {
	case p < 0.3:
		return BucketSafe
	case p < 0.5:
		return BucketLowRisk
	case p <= 0.8:
		return BucketHighRisk
	default:
		return BucketCritical
	}
}

// Scaler z-score standardizes a feature vector using per-feature mean/std
// saved at training time, via gonum/stat.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// Fit computes per-feature mean/std over a batch of training vectors,
// mirroring what the offline scikit-learn StandardScaler produces, using
// gonum/stat instead of hand-rolled accumulation.
func Fit(samples []feature.Vector) *Scaler {
	if len(samples) == 0 {
		return nil
	}
	n := len(samples[0])
	mean := make([]float64, n)
	std := make([]float64, n)
	col := make([]float64, len(samples))
	for j := 0; j < n; j++ {
		for i, s := range samples {
			col[i] = s[j]
		}
		mean[j], std[j] = stat.MeanStdDev(col, nil)
		// MeanStdDev is the sample (n-1) estimate; StandardScaler divides by n.
		std[j] *= math.Sqrt(float64(len(col)-1) / float64(len(col)))
		if std[j] == 0 {
			std[j] = 1
		}
	}
	return &Scaler{Mean: mean, Std: std}
}

func (s *Scaler) transform(v feature.Vector) *mat.VecDense {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = (f - s.Mean[i]) / s.Std[i]
	}
	return mat.NewVecDense(len(out), out)
}

// Classifier is a loaded linear (logistic) model: weight vector + bias,
// standing in for the offline-trained artifact (§1: model training is out
// of scope; only scoring a loaded artifact is).
type Classifier struct {
	Weights *mat.VecDense
	Bias    float64
}

// Score returns the classifier's probability for a standardized feature
// vector.
func (c *Classifier) Score(x *mat.VecDense) float64 {
	dot := mat.Dot(c.Weights, x)
	return sigmoid(dot + c.Bias)
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

// Config carries the predictor's trigger thresholds (mirrors railcore.Config
// fields relevant to this package, kept decoupled to avoid an import cycle).
type Config struct {
	TriggerDelayThresholdSec   float64
	TriggerCongestionThreshold float64
	ContinuousIntervalSec      float64
	HorizonMin                 float64
}

// Predictor applies smart triggers and scores triggered trains.
type Predictor struct {
	cfg        Config
	scaler     *Scaler
	classifier *Classifier
	lastRun    time.Time
}

// New builds a predictor. scaler/classifier may be nil, in which case
// Predict falls back to the documented heuristic and the predictor logs a
// warning once per call rather than blocking.
func New(cfg Config, scaler *Scaler, classifier *Classifier) *Predictor {
	return &Predictor{cfg: cfg, scaler: scaler, classifier: classifier}
}

// Prediction is one per-train prediction result.
type Prediction struct {
	TrainID             string
	Probability         float64
	Bucket              RiskBucket
	PredictedConflictType string
	PredictedTime       time.Time
	PredictedLocation   string
	ContributingFactors []string
	Confidence          float64
}

// ShouldPredict reports whether any smart trigger fires for trainID, or the
// continuous cadence is due.
func (p *Predictor) ShouldPredict(tk *tracker.Tracker, trainID string, now time.Time) bool {
	net := tk.Network()
	tr, _ := net.TrainByID(trainID)
	if tr == nil {
		return false
	}
	if tr.DelaySeconds > p.cfg.TriggerDelayThresholdSec {
		return true
	}
	if occupancyRatio(net, tr) > p.cfg.TriggerCongestionThreshold {
		return true
	}
	if onFinalEdgeIntoMajorHub(tr) {
		return true
	}
	if p.cfg.ContinuousIntervalSec > 0 {
		if p.lastRun.IsZero() || now.Sub(p.lastRun).Seconds() >= p.cfg.ContinuousIntervalSec {
			return true
		}
	}
	return false
}

func occupancyRatio(net *network.Network, tr *network.Train) float64 {
	name := tr.CurrentStation
	if name == "" {
		return 0
	}
	st, _ := net.StationByName(name)
	if st == nil || st.MaxTrainsAtOnce == 0 {
		return 0
	}
	return float64(len(st.CurrentTrains)) / float64(st.MaxTrainsAtOnce)
}

func onFinalEdgeIntoMajorHub(tr *network.Train) bool {
	if tr.CurrentPositionType != network.PositionEdge {
		return false
	}
	if tr.RouteIndex+1 != len(tr.Route)-1 {
		return false
	}
	return feature.IsMajorHub(tr.CurrentEdgeTarget)
}

// Predict scores one train and returns a Prediction. It does not check the
// smart triggers itself: call sites are expected to check ShouldPredict
// first.
func (p *Predictor) Predict(tk *tracker.Tracker, trainID string, now time.Time) Prediction {
	p.lastRun = now
	net := tk.Network()
	tr, _ := net.TrainByID(trainID)
	vec := feature.Build(tk, trainID, now, p.cfg.HorizonMin)

	var prob float64
	if p.classifier != nil && p.scaler != nil {
		x := p.scaler.transform(vec)
		prob = p.classifier.Score(x)
	} else {
		logger.Warn("no classifier loaded, using heuristic fallback", "train", trainID)
		prob = heuristicProbability(tr, occupancyRatio(net, tr))
	}

	loc := trainLocation(tr)
	return Prediction{
		TrainID:             trainID,
		Probability:         prob,
		Bucket:              Bucket(prob),
		PredictedConflictType: "congestion",
		PredictedTime:       now.Add(time.Duration(p.cfg.HorizonMin) * time.Minute),
		PredictedLocation:   loc,
		ContributingFactors: topFactors(vec),
		Confidence:          completeness(vec),
	}
}

func trainLocation(tr *network.Train) string {
	if tr == nil {
		return ""
	}
	if tr.CurrentPositionType == network.PositionStation {
		return tr.CurrentStation
	}
	return tr.CurrentEdgeTarget
}

// heuristicProbability combines delay, hub-proximity and congestion into a
// bounded [0,1] probability when no classifier artifact is loaded.
func heuristicProbability(tr *network.Train, occupancy float64) float64 {
	if tr == nil {
		return 0
	}
	delayTerm := math.Min(tr.DelaySeconds/600, 1) * 0.5
	hubTerm := 0.0
	if onFinalEdgeIntoMajorHub(tr) {
		hubTerm = 0.3
	}
	congestionTerm := math.Min(occupancy, 1) * 0.2
	p := delayTerm + hubTerm + congestionTerm
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}

// topFactors names the features with the largest absolute values, as a
// stand-in for per-feature model contribution (true contribution requires
// the trained model's coefficients, which are opaque to this package).
func topFactors(v feature.Vector) []string {
	type kv struct {
		name string
		val  float64
	}
	var kvs []kv
	for i, f := range v {
		kvs = append(kvs, kv{feature.Names[i], math.Abs(f)})
	}
	// simple partial selection of the top 3 by absolute value
	top := make([]string, 0, 3)
	for len(top) < 3 && len(kvs) > 0 {
		best := 0
		for i := 1; i < len(kvs); i++ {
			if kvs[i].val > kvs[best].val {
				best = i
			}
		}
		if kvs[best].val > 0 {
			top = append(top, kvs[best].name)
		}
		kvs = append(kvs[:best], kvs[best+1:]...)
	}
	return top
}

// completeness derives a confidence scalar from how many features are
// non-zero (feature completeness), per §4.F.
func completeness(v feature.Vector) float64 {
	if len(v) == 0 {
		return 0
	}
	nonZero := 0
	for _, f := range v {
		if f != 0 {
			nonZero++
		}
	}
	return float64(nonZero) / float64(len(v))
}

// BatchResult aggregates network-wide risk across a batch of predictions.
type BatchResult struct {
	NetworkRisk   float64
	HighRiskTrains []string
	CriticalTrains []string
}

// Batch aggregates predictions into network-risk and risk-bucket rosters.
func Batch(preds []Prediction) BatchResult {
	var sum float64
	var res BatchResult
	for _, p := range preds {
		sum += p.Probability
		switch p.Bucket {
		case BucketHighRisk:
			res.HighRiskTrains = append(res.HighRiskTrains, p.TrainID)
		case BucketCritical:
			res.CriticalTrains = append(res.CriticalTrains, p.TrainID)
		}
	}
	if len(preds) > 0 {
		res.NetworkRisk = sum / float64(len(preds))
	}
	return res
}
