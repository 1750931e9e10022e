// Package neural implements the small recurrent network used to model
// forecast residuals.
package neural

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientData is returned when the series is shorter than one window.
	ErrInsufficientData = errors.New("insufficient data for lookback window")

	// ErrDiverged is returned when the readout fit produces non-finite weights.
	ErrDiverged = errors.New("readout fit diverged")

	// ErrNotTrained is returned by Predict before Fit.
	ErrNotTrained = errors.New("network not trained")
)

// Config configures an LSTM.
type Config struct {
	// Lookback is the number of past values in each input window.
	Lookback int
	// Hidden is the hidden state size.
	Hidden int
	// Ridge is the L2 penalty of the readout.
	Ridge float64
	// Seed initializes the recurrent weights.
	Seed int64
	// Scale bounds the initial weights to [-Scale, Scale]. Default: 0.5.
	Scale float64
}

// LSTM is a single-layer LSTM with one input feature. The gate weights are
// drawn once from Seed and kept fixed; Fit learns a linear readout from the
// final hidden state by ridge regression, so training is a closed-form
// solve and the network is reproducible for a given seed.
type LSTM struct {
	cfg Config

	Wf, Wi, Wc, Wo [][]float64 // Forget, input, cell, output gate weights
	bf, bi, bc, bo []float64   // Biases

	readout []float64 // Hidden weights followed by the bias
	trained bool
}

// New creates an untrained network.
func New(cfg Config) *LSTM {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 8
	}
	if cfg.Hidden <= 0 {
		cfg.Hidden = 16
	}
	if cfg.Ridge <= 0 {
		cfg.Ridge = 1e-3
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 0.5
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	cols := 1 + cfg.Hidden
	m := &LSTM{
		cfg: cfg,
		Wf:  randomMatrix(rng, cfg.Hidden, cols, cfg.Scale),
		Wi:  randomMatrix(rng, cfg.Hidden, cols, cfg.Scale),
		Wc:  randomMatrix(rng, cfg.Hidden, cols, cfg.Scale),
		Wo:  randomMatrix(rng, cfg.Hidden, cols, cfg.Scale),
		bf:  make([]float64, cfg.Hidden),
		bi:  make([]float64, cfg.Hidden),
		bc:  make([]float64, cfg.Hidden),
		bo:  make([]float64, cfg.Hidden),
	}
	// Forget gate bias of 1 keeps early inputs in the cell state
	for i := range m.bf {
		m.bf[i] = 1.0
	}
	return m
}

// Lookback returns the input window length.
func (m *LSTM) Lookback() int { return m.cfg.Lookback }

// Trained reports whether Fit has succeeded.
func (m *LSTM) Trained() bool { return m.trained }

// Fit learns to predict series[t] from series[t-Lookback:t] for every t.
func (m *LSTM) Fit(series []float64) error {
	L := m.cfg.Lookback
	n := len(series) - L
	if n < 1 {
		return ErrInsufficientData
	}

	design := mat.NewDense(n, m.cfg.Hidden+1, nil)
	target := make([]float64, n)
	for t := L; t < len(series); t++ {
		row := append(m.hidden(series[t-L:t]), 1)
		design.SetRow(t-L, row)
		target[t-L] = series[t]
	}

	w, err := ridgeSolve(design, target, m.cfg.Ridge*float64(n))
	if err != nil {
		return fmt.Errorf("readout fit: %w", err)
	}
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrDiverged
		}
	}
	m.readout = w
	m.trained = true
	return nil
}

// Predict returns the next value after window. Only the last Lookback
// values of window are used.
func (m *LSTM) Predict(window []float64) (float64, error) {
	if !m.trained {
		return 0, ErrNotTrained
	}
	if len(window) > m.cfg.Lookback {
		window = window[len(window)-m.cfg.Lookback:]
	}
	h := m.hidden(window)
	out := m.readout[len(h)]
	for i, v := range h {
		out += m.readout[i] * v
	}
	return out, nil
}

// hidden runs the window through the cell from a zero state and returns
// the final hidden state.
func (m *LSTM) hidden(window []float64) []float64 {
	cellState := make([]float64, m.cfg.Hidden)
	hiddenState := make([]float64, m.cfg.Hidden)
	combined := make([]float64, 1+m.cfg.Hidden)

	for _, x := range window {
		combined[0] = x
		copy(combined[1:], hiddenState)

		ft := applyGate(m.Wf, m.bf, combined, sigmoid) // Forget gate
		it := applyGate(m.Wi, m.bi, combined, sigmoid) // Input gate
		ct := applyGate(m.Wc, m.bc, combined, math.Tanh)
		ot := applyGate(m.Wo, m.bo, combined, sigmoid) // Output gate

		// c_t = f_t * c_{t-1} + i_t * c~_t
		for i := range cellState {
			cellState[i] = ft[i]*cellState[i] + it[i]*ct[i]
		}
		// h_t = o_t * tanh(c_t)
		for i := range hiddenState {
			hiddenState[i] = ot[i] * math.Tanh(cellState[i])
		}
	}
	return hiddenState
}

func applyGate(W [][]float64, b, input []float64, activation func(float64) float64) []float64 {
	result := make([]float64, len(W))
	for i := range W {
		sum := b[i]
		for j := range input {
			sum += W[i][j] * input[j]
		}
		result[i] = activation(sum)
	}
	return result
}

func randomMatrix(rng *rand.Rand, rows, cols int, scale float64) [][]float64 {
	matrix := make([][]float64, rows)
	for i := range matrix {
		matrix[i] = make([]float64, cols)
		for j := range matrix[i] {
			matrix[i][j] = (rng.Float64() - 0.5) * 2 * scale
		}
	}
	return matrix
}

func sigmoid(x float64) float64 {
	if x < -500 {
		return 0
	}
	if x > 500 {
		return 1
	}
	return 1.0 / (1.0 + math.Exp(-x))
}

var errSingular = errors.New("readout system is not positive definite")

// ridgeSolve returns w minimizing |Xw - y|² + penalty·|w|², solving the
// normal equations (XᵀX + penalty·I) w = Xᵀy with a Cholesky factorization.
func ridgeSolve(x *mat.Dense, y []float64, penalty float64) ([]float64, error) {
	_, cols := x.Dims()

	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	for i := 0; i < cols; i++ {
		gram.SetSym(i, i, gram.At(i, i)+penalty)
	}
	var rhs mat.VecDense
	rhs.MulVec(x.T(), mat.NewVecDense(len(y), y))

	var chol mat.Cholesky
	if !chol.Factorize(&gram) {
		return nil, errSingular
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, &w), nil
}
