package agewatch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ForecastingEngine binds one series, one model and one resource selector
// for the lifetime of a run. The model handle is owned exclusively by the
// engine.
type ForecastingEngine struct {
	series   *Series
	selector ResourceSelector
	model    Model
	horizon  int
	logger   *slog.Logger
}

// NewForecastingEngine validates its inputs in order: the model name
// first, so an unknown model fails before the series is looked at, then the
// series, then the selector.
func NewForecastingEngine(series *Series, modelName string, selector ResourceSelector, cfg ModelConfig, logger *slog.Logger) (*ForecastingEngine, error) {
	kind, err := ParseModelKind(modelName)
	if err != nil {
		return nil, err
	}
	if err := series.Validate(2); err != nil {
		return nil, err
	}
	if selector.Len() == 0 {
		return nil, newConfigError("resources", "no target resources selected", nil)
	}
	model, err := NewModel(kind, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ForecastingEngine{
		series:   series,
		selector: selector,
		model:    model,
		horizon:  cfg.normalized().Horizon,
		logger:   logger,
	}, nil
}

// Model returns the model handle.
func (e *ForecastingEngine) Model() Model { return e.model }

// Series returns the training series.
func (e *ForecastingEngine) Series() *Series { return e.series }

// Train fits the model on the whole series with the selected resources as
// targets. Data and configuration errors are returned as is; any other
// failure is an ExecutionError.
func (e *ForecastingEngine) Train(ctx context.Context) error {
	kind := string(e.model.Kind())
	targets := e.selector.Resources()
	e.logger.Info("training model", "model", kind, "targets", e.selector.String(), "samples", e.series.Len())

	start := time.Now()
	err := e.model.Train(ctx, e.series, targets)
	elapsed := time.Since(start)
	trainDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		e.logger.Error("training failed", "model", kind, "err", err)
		if errors.Is(err, ErrData) || errors.Is(err, ErrConfig) {
			return err
		}
		return newExecutionError("train", err)
	}

	if f, ferr := e.Forecast(); ferr == nil {
		for _, rf := range f.Resources {
			fitRMSE.WithLabelValues(kind, string(rf.Resource)).Set(rf.RMSE)
			e.logger.Debug("fit", "model", kind, "resource", rf.Resource, "rmse", rf.RMSE, "mae", rf.MAE)
		}
	}
	e.logger.Info("training finished", "model", kind, "duration", elapsed)
	return nil
}

// Forecast returns the forecast of the trained model at the configured
// horizon.
func (e *ForecastingEngine) Forecast() (*Forecast, error) {
	return e.model.Predict(e.horizon)
}

// Predict forecasts horizon steps past the last sample.
func (e *ForecastingEngine) Predict(horizon int) (*Forecast, error) {
	return e.model.Predict(horizon)
}

// Render hands the results of the trained model to r.
func (e *ForecastingEngine) Render(r ResultRenderer) error {
	return e.model.PlotResults(r)
}
