package agewatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/agewatch/agewatch/internal/neural"
)

// hybridLSTMModel splits each target into a smoothing decomposition
// (level, trend, season) and a residual. The residual is standardized and
// modeled by a small LSTM; the forecast is the statistical projection plus
// the recursively predicted residual.
type hybridLSTMModel struct {
	*baseModel
}

func newHybridLSTMModel(cfg ModelConfig) *hybridLSTMModel {
	m := &hybridLSTMModel{baseModel: &baseModel{kind: ModelHybridLSTM, cfg: cfg}}
	m.fit = m.fitColumn
	return m
}

func (m *hybridLSTMModel) fitColumn(ctx context.Context, values []float64) ([]float64, targetFit, error) {
	dec := decompose(values, m.cfg.Smoothing)

	residual := make([]float64, len(values))
	for i, v := range values {
		residual[i] = v - dec.fitted[i]
	}
	mu := mean(residual)
	sd := stdDev(residual, constant(mu, len(residual)))
	if sd < 1e-9 {
		sd = 1
	}
	z := make([]float64, len(residual))
	for i, r := range residual {
		z[i] = (r - mu) / sd
	}

	fit := &hybridFit{dec: dec, mu: mu, sd: sd}
	fitted := make([]float64, len(values))
	copy(fitted, dec.fitted)

	net := neural.New(neural.Config{
		Lookback: m.cfg.LSTM.Lookback,
		Hidden:   m.cfg.LSTM.Hidden,
		Ridge:    m.cfg.LSTM.Ridge,
		Seed:     m.cfg.Seed,
	})
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	switch err := net.Fit(z); {
	case errors.Is(err, neural.ErrInsufficientData):
		// Too short for one window: the decomposition stands alone
		return fitted, fit, nil
	case errors.Is(err, neural.ErrDiverged):
		return nil, nil, ErrFitDiverged
	case err != nil:
		return nil, nil, fmt.Errorf("residual model: %w", err)
	}

	L := net.Lookback()
	for i := L; i < len(values); i++ {
		p, err := net.Predict(z[i-L : i])
		if err != nil {
			return nil, nil, err
		}
		fitted[i] += p*sd + mu
	}

	fit.net = net
	fit.window = make([]float64, L)
	copy(fit.window, z[len(z)-L:])
	return fitted, fit, nil
}

// hybridFit is a trained target of h_lstm.
type hybridFit struct {
	dec    decomposition
	net    *neural.LSTM
	window []float64 // Last standardized residuals
	mu, sd float64
}

func (f *hybridFit) project(horizon int) []float64 {
	out := make([]float64, horizon)
	var window []float64
	if f.net != nil {
		window = make([]float64, len(f.window))
		copy(window, f.window)
	}
	for h := range out {
		v := f.dec.project(h + 1)
		if window != nil {
			p, err := f.net.Predict(window)
			if err != nil {
				p = 0
			}
			v += p*f.sd + f.mu
			window = append(window[1:], p)
		}
		out[h] = v
	}
	return out
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
