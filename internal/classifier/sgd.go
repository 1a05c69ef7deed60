package classifier

import (
	"fmt"
	"math"
	"math/rand"

	"email-classifier/internal/apperr"
	"email-classifier/internal/hparams"
	"email-classifier/internal/sparse"
)

const (
	lossHinge   = "hinge"
	lossLogLoss = "log_loss"

	// epochs without improvement larger than tol before stopping
	sgdNoChange = 5
)

type sgdSpec struct{}

func (sgdSpec) Kind() Kind { return KindSGD }

func (sgdSpec) Hyperparameters() hparams.Grid {
	return hparams.Grid{
		"loss":     {lossHinge, lossLogLoss},
		"alpha":    {0.0001, 0.001},
		"max_iter": {1000, 2000},
		"tol":      {1e-3, 1e-4},
	}
}

func (sgdSpec) Estimator(p hparams.Params) (Model, error) {
	if err := checkKeys(p, "loss", "alpha", "max_iter", "tol", "random_state"); err != nil {
		return nil, err
	}
	m := &SGD{}
	var err error
	if m.Loss, err = p.String("loss", lossHinge); err != nil {
		return nil, err
	}
	switch m.Loss {
	case lossHinge, lossLogLoss:
	case "log":
		m.Loss = lossLogLoss
	default:
		return nil, fmt.Errorf("unsupported loss %q", m.Loss)
	}
	if m.Alpha, err = p.Float("alpha", 0.0001); err != nil {
		return nil, err
	}
	if m.MaxIter, err = p.Int("max_iter", 1000); err != nil {
		return nil, err
	}
	if m.Tol, err = p.Float("tol", 1e-3); err != nil {
		return nil, err
	}
	seed, err := p.Int("random_state", 42)
	if err != nil {
		return nil, err
	}
	m.Seed = int64(seed)
	if m.Alpha <= 0 {
		return nil, fmt.Errorf("alpha must be positive, got %v", m.Alpha)
	}
	if m.MaxIter <= 0 {
		return nil, fmt.Errorf("max_iter must be positive, got %d", m.MaxIter)
	}
	return m, nil
}

// SGD is a linear model trained by stochastic gradient descent with L2
// regularisation and learning rate 1/(1+alpha*t).
type SGD struct {
	Loss    string
	Alpha   float64
	MaxIter int
	Tol     float64
	Seed    int64

	linear
}

func (m *SGD) Name() string { return "SGDClassifier" }

func (m *SGD) Params() hparams.Params {
	return hparams.Params{
		"loss":         m.Loss,
		"alpha":        m.Alpha,
		"max_iter":     m.MaxIter,
		"tol":          m.Tol,
		"random_state": int(m.Seed),
	}
}

func (m *SGD) Fitted() bool { return m.fitted() }

func (m *SGD) State() State { return m.state(KindSGD, m.Params()) }

func (m *SGD) Fit(X *sparse.Matrix, y []string) error {
	return m.fitLinear(X, y, func(t []float64) ([]float64, float64) {
		return m.solve(X, t)
	})
}

func (m *SGD) Predict(X *sparse.Matrix) ([]string, error) { return m.predict(X) }

// PredictProba is only defined for the log_loss objective.
func (m *SGD) PredictProba(X *sparse.Matrix) ([][]float64, error) {
	if m.Loss != lossLogLoss {
		return nil, fmt.Errorf("%s with loss=%s: %w", m.Name(), m.Loss, apperr.ErrProbabilityUnsupported)
	}
	return m.predictProba(X)
}

// lossGrad returns the loss and its derivative with respect to the score.
func (m *SGD) lossGrad(score, target float64) (float64, float64) {
	margin := score * target
	if m.Loss == lossHinge {
		if margin < 1 {
			return 1 - margin, -target
		}
		return 0, 0
	}
	return logLoss(margin), -target * sigmoid(-margin)
}

func (m *SGD) solve(X *sparse.Matrix, t []float64) ([]float64, float64) {
	n, d := X.Shape()
	rng := rand.New(rand.NewSource(m.Seed))

	// w = scale * v keeps the L2 shrink O(1) per step
	v := make([]float64, d)
	scale := 1.0
	var b float64
	step := 0

	best := math.Inf(1)
	noChange := 0
	for epoch := 0; epoch < m.MaxIter; epoch++ {
		var total float64
		for _, i := range rng.Perm(n) {
			row := X.Row(i)
			eta := 1 / (1 + m.Alpha*float64(step))
			step++

			score := scale*row.Dot(v) + b
			loss, g := m.lossGrad(score, t[i])
			total += loss

			scale *= math.Max(1-eta*m.Alpha, 1e-6)
			if g != 0 {
				f := -eta * g / scale
				for k, j := range row.Indices {
					v[j] += f * row.Values[k]
				}
				b -= eta * g
			}
			if scale < 1e-9 {
				for j := range v {
					v[j] *= scale
				}
				scale = 1
			}
		}

		avg := total / float64(n)
		if avg > best-m.Tol {
			noChange++
		} else {
			noChange = 0
		}
		if avg < best {
			best = avg
		}
		if noChange >= sgdNoChange {
			break
		}
	}

	for j := range v {
		v[j] *= scale
	}
	return v, b
}
