package classifier

import (
	"fmt"
	"math"

	"email-classifier/internal/hparams"
	"email-classifier/internal/sparse"
)

type logisticSpec struct{}

func (logisticSpec) Kind() Kind { return KindLogistic }

func (logisticSpec) Hyperparameters() hparams.Grid {
	return hparams.Grid{
		"C":        {0.1, 1.0, 10.0},
		"max_iter": {100, 200},
	}
}

func (logisticSpec) Estimator(p hparams.Params) (Model, error) {
	if err := checkKeys(p, "C", "max_iter", "tol"); err != nil {
		return nil, err
	}
	m := &Logistic{}
	var err error
	if m.C, err = p.Float("C", 1.0); err != nil {
		return nil, err
	}
	if m.MaxIter, err = p.Int("max_iter", 100); err != nil {
		return nil, err
	}
	if m.Tol, err = p.Float("tol", 1e-4); err != nil {
		return nil, err
	}
	if m.C <= 0 {
		return nil, fmt.Errorf("C must be positive, got %v", m.C)
	}
	if m.MaxIter <= 0 {
		return nil, fmt.Errorf("max_iter must be positive, got %d", m.MaxIter)
	}
	return m, nil
}

// Logistic is an L2-regularised logistic regression fitted by full-batch
// gradient descent with a step size derived from the loss's Lipschitz bound.
type Logistic struct {
	C       float64
	MaxIter int
	Tol     float64

	linear
}

func (m *Logistic) Name() string { return "LogisticRegression" }

func (m *Logistic) Params() hparams.Params {
	return hparams.Params{"C": m.C, "max_iter": m.MaxIter, "tol": m.Tol}
}

func (m *Logistic) Fitted() bool { return m.fitted() }

func (m *Logistic) State() State { return m.state(KindLogistic, m.Params()) }

func (m *Logistic) Fit(X *sparse.Matrix, y []string) error {
	return m.fitLinear(X, y, func(t []float64) ([]float64, float64) {
		return m.solve(X, t)
	})
}

func (m *Logistic) Predict(X *sparse.Matrix) ([]string, error) { return m.predict(X) }

func (m *Logistic) PredictProba(X *sparse.Matrix) ([][]float64, error) {
	return m.predictProba(X)
}

// solve minimises (1/n) sum log(1+exp(-t_i (w.x_i + b))) + ||w||^2 / (2Cn).
func (m *Logistic) solve(X *sparse.Matrix, t []float64) ([]float64, float64) {
	n, d := X.Shape()
	nf := float64(n)
	lambda := 1 / (m.C * nf)

	maxSq := 0.0
	for i := 0; i < n; i++ {
		r := X.Row(i).Norm()
		maxSq = math.Max(maxSq, r*r)
	}
	step := 1 / (0.25*(maxSq+1) + lambda)

	w := make([]float64, d)
	var b float64
	grad := make([]float64, d)
	for iter := 0; iter < m.MaxIter; iter++ {
		for j := range grad {
			grad[j] = lambda * w[j]
		}
		var gb float64
		for i := 0; i < n; i++ {
			row := X.Row(i)
			margin := t[i] * (row.Dot(w) + b)
			// d/dz log(1+exp(-t z)) = -t * sigmoid(-t z)
			g := -t[i] * sigmoid(-margin) / nf
			for k, j := range row.Indices {
				grad[j] += g * row.Values[k]
			}
			gb += g
		}

		var norm float64
		for j := range w {
			w[j] -= step * grad[j]
			norm = math.Max(norm, math.Abs(grad[j]))
		}
		b -= step * gb
		if math.Max(norm, math.Abs(gb)) < m.Tol {
			break
		}
	}
	return w, b
}
