package agewatch

import (
	"math"
	"sort"
	"time"
)

// TimeSeriesData is a single resource column of a series.
type TimeSeriesData struct {
	Timestamps []int64
	Values     []float64
}

// ForecastPoint is a predicted value with its uncertainty band.
type ForecastPoint struct {
	Timestamp  int64
	Value      float64
	LowerBound float64
	UpperBound float64
}

// ResourceForecast holds the observed series, the in-sample fit and the
// out-of-sample predictions for one target resource.
type ResourceForecast struct {
	Resource    Resource
	Timestamps  []int64
	Observed    []float64
	Fitted      []float64
	Predictions []ForecastPoint

	// RMSE is the root mean squared error of the fit.
	RMSE float64
	// MAE is the mean absolute error of the fit.
	MAE float64
}

// Forecast is the result of a trained model, one entry per target in
// resource column order.
type Forecast struct {
	Model     ModelKind
	Resources []ResourceForecast
}

// For returns the forecast of r, if r was a target.
func (f *Forecast) For(r Resource) (ResourceForecast, bool) {
	for _, rf := range f.Resources {
		if rf.Resource == r {
			return rf, true
		}
	}
	return ResourceForecast{}, false
}

// Targets lists the forecast resources.
func (f *Forecast) Targets() []Resource {
	out := make([]Resource, len(f.Resources))
	for i, rf := range f.Resources {
		out[i] = rf.Resource
	}
	return out
}

// SmoothingConfig configures the statistical decomposition.
type SmoothingConfig struct {
	// SeasonalPeriods is the number of samples in a season.
	SeasonalPeriods int `yaml:"seasonal_periods"`

	// Alpha is the smoothing parameter for level (0-1).
	Alpha float64 `yaml:"alpha"`

	// Beta is the smoothing parameter for trend (0-1).
	Beta float64 `yaml:"beta"`

	// Gamma is the smoothing parameter for seasonality (0-1).
	Gamma float64 `yaml:"gamma"`
}

// DefaultSmoothingConfig returns default decomposition parameters.
func DefaultSmoothingConfig() SmoothingConfig {
	return SmoothingConfig{
		SeasonalPeriods: 12,
		Alpha:           0.5,
		Beta:            0.1,
		Gamma:           0.1,
	}
}

func (c SmoothingConfig) normalized() SmoothingConfig {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		c.Alpha = 0.5
	}
	if c.Beta < 0 || c.Beta >= 1 {
		c.Beta = 0.1
	}
	if c.Gamma < 0 || c.Gamma >= 1 {
		c.Gamma = 0.1
	}
	if c.SeasonalPeriods < 0 {
		c.SeasonalPeriods = 0
	}
	return c
}

// decomposition is the statistical part of a series: level, trend and an
// additive seasonal profile, plus the one-step-ahead fitted values.
type decomposition struct {
	fitted   []float64
	level    float64
	trend    float64
	seasonal []float64
	n        int
}

// project returns the statistical forecast h steps past the last sample.
func (d decomposition) project(h int) float64 {
	v := d.level + float64(h)*d.trend
	if m := len(d.seasonal); m > 0 {
		v += d.seasonal[(d.n+h-1)%m]
	}
	return v
}

// decompose fits additive Holt-Winters smoothing to values.
//
//	L_t = α(Y_t - S_{t-m}) + (1-α)(L_{t-1} + T_{t-1})
//	T_t = β(L_t - L_{t-1}) + (1-β)T_{t-1}
//	S_t = γ(Y_t - L_t) + (1-γ)S_{t-m}
//
// Fewer than two complete seasons fall back to Holt's double exponential
// smoothing, which has no seasonal term.
func decompose(values []float64, cfg SmoothingConfig) decomposition {
	cfg = cfg.normalized()
	m := cfg.SeasonalPeriods
	if m < 2 || len(values) < 2*m {
		return holt(values, cfg)
	}

	level := mean(values[:m])
	trend := (mean(values[m:2*m]) - level) / float64(m)

	seasonal := make([]float64, m)
	for i := 0; i < m; i++ {
		seasonal[i] = values[i] - level
	}

	fitted := make([]float64, len(values))
	for i := 0; i < m; i++ {
		fitted[i] = level + seasonal[i]
	}

	for i := m; i < len(values); i++ {
		idx := i % m
		fitted[i] = level + trend + seasonal[idx]

		prevLevel := level
		level = cfg.Alpha*(values[i]-seasonal[idx]) + (1-cfg.Alpha)*(prevLevel+trend)
		trend = cfg.Beta*(level-prevLevel) + (1-cfg.Beta)*trend
		seasonal[idx] = cfg.Gamma*(values[i]-level) + (1-cfg.Gamma)*seasonal[idx]
	}

	return decomposition{fitted: fitted, level: level, trend: trend, seasonal: seasonal, n: len(values)}
}

func holt(values []float64, cfg SmoothingConfig) decomposition {
	fitted := make([]float64, len(values))
	if len(values) == 0 {
		return decomposition{fitted: fitted}
	}
	level := values[0]
	trend := 0.0
	if len(values) > 1 {
		trend = values[1] - values[0]
	}
	fitted[0] = level

	for i := 1; i < len(values); i++ {
		fitted[i] = level + trend

		prevLevel := level
		level = cfg.Alpha*values[i] + (1-cfg.Alpha)*(prevLevel+trend)
		trend = cfg.Beta*(level-prevLevel) + (1-cfg.Beta)*trend
	}

	return decomposition{fitted: fitted, level: level, trend: trend, n: len(values)}
}

// Helper functions

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(actual, fitted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sumSq := 0.0
	for i, a := range actual {
		diff := a - fitted[i]
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(actual)))
}

func rmse(actual, fitted []float64) float64 {
	return stdDev(actual, fitted)
}

func mae(actual, fitted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sum := 0.0
	for i, a := range actual {
		sum += math.Abs(a - fitted[i])
	}
	return sum / float64(len(actual))
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// estimateInterval returns the median spacing of timestamps, or one second
// when there are not enough samples to tell.
func estimateInterval(timestamps []int64) int64 {
	if len(timestamps) < 2 {
		return int64(time.Second)
	}

	sorted := make([]int64, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	intervals := make([]int64, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals[i-1] = sorted[i] - sorted[i-1]
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })
	if iv := intervals[len(intervals)/2]; iv > 0 {
		return iv
	}
	return int64(time.Second)
}
