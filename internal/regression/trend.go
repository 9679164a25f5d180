package regression

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// slopeThreshold is the minimum absolute OLS slope for a series to count as
// directional rather than stable.
const slopeThreshold = 0.1

// Sample is one timestamped metric observation.
type Sample struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Value     float64   `json:"value" yaml:"value"`
}

// Direction characterizes the slope of a metric over a window.
type Direction string

const (
	TrendImproving Direction = "improving"
	TrendStable    Direction = "stable"
	TrendDegrading Direction = "degrading"
)

// TrendResult is the least-squares characterization of a sample series.
// Prediction is the one-step-ahead estimate with a symmetric band of plus or
// minus one volatility; Confidence is the absolute Pearson correlation
// between sample index and value.
type TrendResult struct {
	Direction   Direction `json:"direction"`
	Slope       float64   `json:"slope"`
	Intercept   float64   `json:"intercept"`
	Correlation float64   `json:"correlation"`
	Volatility  float64   `json:"volatility"`
	Prediction  float64   `json:"prediction"`
	UpperBound  float64   `json:"upper_bound"`
	LowerBound  float64   `json:"lower_bound"`
	Confidence  float64   `json:"confidence"`
	SampleCount int       `json:"sample_count"`
}

// AnalyzeTrend fits an ordinary least-squares line to the series (value
// against sample index) and classifies the direction. higherIsBetter flips
// the improving/degrading sense: a rising error rate degrades, a rising
// throughput improves. Fewer than two samples yields a neutral result
// rather than an error.
func AnalyzeTrend(samples []Sample, higherIsBetter bool) TrendResult {
	n := len(samples)
	if n < 2 {
		return TrendResult{Direction: TrendStable, SampleCount: n}
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, s := range samples {
		xs[i] = float64(i)
		ys[i] = s.Value
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	corr := stat.Correlation(xs, ys, nil)
	if math.IsNaN(corr) {
		// A flat series has zero variance and an undefined correlation.
		corr = 0
	}
	volatility := stat.PopStdDev(ys, nil)

	prediction := slope*float64(n) + intercept

	return TrendResult{
		Direction:   classify(slope, higherIsBetter),
		Slope:       slope,
		Intercept:   intercept,
		Correlation: corr,
		Volatility:  volatility,
		Prediction:  prediction,
		UpperBound:  prediction + volatility,
		LowerBound:  prediction - volatility,
		Confidence:  math.Abs(corr),
		SampleCount: n,
	}
}

func classify(slope float64, higherIsBetter bool) Direction {
	if math.Abs(slope) <= slopeThreshold {
		return TrendStable
	}
	rising := slope > 0
	if rising == higherIsBetter {
		return TrendImproving
	}
	return TrendDegrading
}
