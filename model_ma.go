package agewatch

import "context"

// movingAverageModel forecasts each target with the mean of the last
// Window observations. It has no learned parameters and is deterministic.
type movingAverageModel struct {
	*baseModel
}

func newMovingAverageModel(cfg ModelConfig) *movingAverageModel {
	m := &movingAverageModel{baseModel: &baseModel{kind: ModelMovingAverage, cfg: cfg}}
	m.fit = m.fitColumn
	return m
}

// fitColumn computes the one-step-ahead rolling mean: the fitted value at
// i is the mean of the Window samples before i. The first sample has no
// history and is fitted by itself.
func (m *movingAverageModel) fitColumn(_ context.Context, values []float64) ([]float64, targetFit, error) {
	w := m.cfg.Window
	fitted := make([]float64, len(values))
	fitted[0] = values[0]
	for i := 1; i < len(values); i++ {
		start := i - w
		if start < 0 {
			start = 0
		}
		fitted[i] = mean(values[start:i])
	}

	if w > len(values) {
		w = len(values)
	}
	tail := make([]float64, w)
	copy(tail, values[len(values)-w:])
	return fitted, maFit{tail: tail}, nil
}

// maFit extends its window with its own predictions.
type maFit struct {
	tail []float64
}

func (f maFit) project(horizon int) []float64 {
	window := make([]float64, len(f.tail))
	copy(window, f.tail)
	out := make([]float64, horizon)
	for h := range out {
		p := mean(window)
		out[h] = p
		window = append(window[1:], p)
	}
	return out
}
