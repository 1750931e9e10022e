package agewatch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// ModelKind identifies a forecasting model. The set is closed.
type ModelKind string

const (
	// ModelMovingAverage is the rolling-mean baseline.
	ModelMovingAverage ModelKind = "ma"
	// ModelHybridLSTM combines smoothing decomposition with an LSTM on the residual.
	ModelHybridLSTM ModelKind = "h_lstm"
)

// ModelKinds lists every known model kind.
var ModelKinds = []ModelKind{ModelMovingAverage, ModelHybridLSTM}

// ParseModelKind resolves a model name. Unknown names yield a ConfigError
// matching ErrUnknownModel.
func ParseModelKind(name string) (ModelKind, error) {
	switch ModelKind(strings.ToLower(strings.TrimSpace(name))) {
	case ModelMovingAverage:
		return ModelMovingAverage, nil
	case ModelHybridLSTM:
		return ModelHybridLSTM, nil
	}
	return "", newConfigError("model", fmt.Sprintf("%q is not one of ma, h_lstm", name), ErrUnknownModel)
}

// LSTMConfig configures the residual sequence model of h_lstm.
type LSTMConfig struct {
	// Lookback is the number of past residuals fed to the network.
	Lookback int `yaml:"lookback"`
	// Hidden is the hidden state size.
	Hidden int `yaml:"hidden"`
	// Ridge is the L2 penalty of the readout fit.
	Ridge float64 `yaml:"ridge"`
}

// ModelConfig holds the hyperparameters of every model kind.
type ModelConfig struct {
	// Horizon is the number of steps forecast past the last sample.
	Horizon int `yaml:"horizon"`

	// Window is the moving-average window in samples.
	Window int `yaml:"window"`

	// Smoothing configures the statistical decomposition of h_lstm.
	Smoothing SmoothingConfig `yaml:"smoothing"`

	// LSTM configures the residual model of h_lstm.
	LSTM LSTMConfig `yaml:"lstm"`

	// Seed fixes the random initialization of h_lstm. With Seed == 0 a
	// time-based seed is drawn and results differ between runs.
	Seed int64 `yaml:"seed"`

	// BoundSigma is the width of the prediction band in standard deviations
	// of the in-sample error; the band widens with sqrt(h).
	BoundSigma float64 `yaml:"bound_sigma"`
}

// DefaultModelConfig returns default model hyperparameters.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Horizon:    10,
		Window:     10,
		Smoothing:  DefaultSmoothingConfig(),
		LSTM:       LSTMConfig{Lookback: 8, Hidden: 16, Ridge: 1e-3},
		Seed:       42,
		BoundSigma: 3.0,
	}
}

func (c ModelConfig) normalized() ModelConfig {
	d := DefaultModelConfig()
	if c.Horizon <= 0 {
		c.Horizon = d.Horizon
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.LSTM.Lookback <= 0 {
		c.LSTM.Lookback = d.LSTM.Lookback
	}
	if c.LSTM.Hidden <= 0 {
		c.LSTM.Hidden = d.LSTM.Hidden
	}
	if c.LSTM.Ridge <= 0 {
		c.LSTM.Ridge = d.LSTM.Ridge
	}
	if c.BoundSigma <= 0 {
		c.BoundSigma = d.BoundSigma
	}
	c.Smoothing = c.Smoothing.normalized()
	return c
}

// Model is a forecasting strategy. Predict and PlotResults fail with
// ErrModelNotTrained until Train has succeeded.
type Model interface {
	Kind() ModelKind
	// Train fits one sub-model per target. All columns of series are
	// available; targets selects which ones are forecast.
	Train(ctx context.Context, series *Series, targets []Resource) error
	// Predict forecasts horizon steps past the last sample.
	Predict(horizon int) (*Forecast, error)
	// PlotResults hands observed vs. predicted values to r.
	PlotResults(r ResultRenderer) error
}

// NewModel constructs the model for kind. This is the only place that
// branches on the model kind.
func NewModel(kind ModelKind, cfg ModelConfig) (Model, error) {
	cfg = cfg.normalized()
	switch kind {
	case ModelMovingAverage:
		return newMovingAverageModel(cfg), nil
	case ModelHybridLSTM:
		if cfg.Seed == 0 {
			cfg.Seed = time.Now().UnixNano()
		}
		return newHybridLSTMModel(cfg), nil
	}
	return nil, newConfigError("model", fmt.Sprintf("%q is not one of ma, h_lstm", kind), ErrUnknownModel)
}

// targetFit projects a fitted target past its last sample.
type targetFit interface {
	project(horizon int) []float64
}

// fitFunc fits one column and returns its one-step-ahead fitted values.
type fitFunc func(ctx context.Context, values []float64) ([]float64, targetFit, error)

type fittedTarget struct {
	rf   ResourceForecast
	fit  targetFit
	step int64
}

// baseModel carries the state shared by every model kind: fitted targets
// and the forecast computed right after training.
type baseModel struct {
	kind ModelKind
	cfg  ModelConfig
	fit  fitFunc

	mu       sync.RWMutex
	targets  []fittedTarget
	forecast *Forecast
}

func (b *baseModel) Kind() ModelKind { return b.kind }

// Train fits every target and replaces any previous fit only on success.
func (b *baseModel) Train(ctx context.Context, series *Series, targets []Resource) error {
	if err := series.Validate(2); err != nil {
		return err
	}
	if len(targets) == 0 {
		return newConfigError("resources", "no target resources", nil)
	}

	ts := series.Timestamps()
	step := estimateInterval(ts)
	fitted := make([]fittedTarget, 0, len(targets))
	for _, r := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		observed := series.Values(r)
		values, fit, err := b.fit(ctx, observed)
		if err != nil {
			return fmt.Errorf("%s: %w", r, err)
		}
		if !allFinite(values) {
			return fmt.Errorf("%s: %w", r, ErrFitDiverged)
		}
		fitted = append(fitted, fittedTarget{
			rf: ResourceForecast{
				Resource:   r,
				Timestamps: ts,
				Observed:   observed,
				Fitted:     values,
				RMSE:       rmse(observed, values),
				MAE:        mae(observed, values),
			},
			fit:  fit,
			step: step,
		})
	}

	forecast, err := buildForecast(b.kind, fitted, b.cfg.Horizon, b.cfg.BoundSigma)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.targets = fitted
	b.forecast = forecast
	b.mu.Unlock()
	return nil
}

func (b *baseModel) Predict(horizon int) (*Forecast, error) {
	if horizon <= 0 {
		return nil, newConfigError("horizon", "must be positive", nil)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.targets == nil {
		return nil, ErrModelNotTrained
	}
	return buildForecast(b.kind, b.targets, horizon, b.cfg.BoundSigma)
}

func (b *baseModel) PlotResults(r ResultRenderer) error {
	b.mu.RLock()
	forecast := b.forecast
	b.mu.RUnlock()
	if forecast == nil {
		return ErrModelNotTrained
	}
	return r.Render(ChartFromForecast(forecast))
}

func buildForecast(kind ModelKind, targets []fittedTarget, horizon int, sigma float64) (*Forecast, error) {
	out := &Forecast{Model: kind, Resources: make([]ResourceForecast, 0, len(targets))}
	for _, t := range targets {
		values := t.fit.project(horizon)
		if !allFinite(values) {
			return nil, fmt.Errorf("%s: %w", t.rf.Resource, ErrFitDiverged)
		}
		rf := t.rf
		last := rf.Timestamps[len(rf.Timestamps)-1]
		rf.Predictions = make([]ForecastPoint, horizon)
		for i, v := range values {
			width := sigma * rf.RMSE * math.Sqrt(float64(i+1))
			rf.Predictions[i] = ForecastPoint{
				Timestamp:  last + int64(i+1)*t.step,
				Value:      clampPercent(v),
				LowerBound: clampPercent(v - width),
				UpperBound: clampPercent(v + width),
			}
		}
		out.Resources = append(out.Resources, rf)
	}
	return out, nil
}
