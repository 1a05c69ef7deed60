package classifier

import (
	"fmt"
	"math"
	"sort"

	"email-classifier/internal/apperr"
	"email-classifier/internal/sparse"
)

// linear holds the fitted weights shared by both families. Two classes use a
// single weight vector scoring classes[1]; more classes use one-vs-rest.
type linear struct {
	classes   []string
	coef      [][]float64
	intercept []float64
}

func restoreLinear(s State) linear {
	l := linear{
		classes:   append([]string(nil), s.Classes...),
		intercept: append([]float64(nil), s.Intercept...),
	}
	for _, c := range s.Coef {
		l.coef = append(l.coef, append([]float64(nil), c...))
	}
	return l
}

func (l *linear) validate() error {
	if len(l.classes) == 0 {
		return fmt.Errorf("no classes")
	}
	want := len(l.classes)
	if want <= 2 {
		want = 1
	}
	if len(l.classes) == 1 {
		want = 0
	}
	if len(l.coef) != want || len(l.intercept) != want {
		return fmt.Errorf("expected %d weight vectors for %d classes, got %d", want, len(l.classes), len(l.coef))
	}
	return nil
}

func (l *linear) fitted() bool { return len(l.classes) > 0 }

// Classes returns the fitted labels in sorted order.
func (l *linear) Classes() []string { return append([]string(nil), l.classes...) }

func (l *linear) state(kind Kind, params map[string]any) State {
	s := State{Kind: kind, Params: params, Classes: l.Classes(), Intercept: append([]float64(nil), l.intercept...)}
	for _, c := range l.coef {
		s.Coef = append(s.Coef, append([]float64(nil), c...))
	}
	return s
}

// uniqueSorted returns the distinct labels of y in sorted order.
func uniqueSorted(y []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, label := range y {
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// binaryTargets encodes y as +1 for positive and -1 otherwise.
func binaryTargets(y []string, positive string) []float64 {
	t := make([]float64, len(y))
	for i, label := range y {
		if label == positive {
			t[i] = 1
		} else {
			t[i] = -1
		}
	}
	return t
}

func checkFitInput(X *sparse.Matrix, y []string) error {
	n, _ := X.Shape()
	if n == 0 {
		return fmt.Errorf("cannot fit on zero samples")
	}
	if n != len(y) {
		return fmt.Errorf("X has %d rows but y has %d labels", n, len(y))
	}
	return nil
}

// fitLinear trains one binary problem per weight vector with solve.
func (l *linear) fitLinear(X *sparse.Matrix, y []string, solve func(t []float64) ([]float64, float64)) error {
	if err := checkFitInput(X, y); err != nil {
		return err
	}
	classes := uniqueSorted(y)
	fresh := linear{classes: classes}
	switch len(classes) {
	case 1:
	case 2:
		w, b := solve(binaryTargets(y, classes[1]))
		fresh.coef = [][]float64{w}
		fresh.intercept = []float64{b}
	default:
		for _, c := range classes {
			w, b := solve(binaryTargets(y, c))
			fresh.coef = append(fresh.coef, w)
			fresh.intercept = append(fresh.intercept, b)
		}
	}
	*l = fresh
	return nil
}

func (l *linear) checkWidth(X *sparse.Matrix) error {
	if !l.fitted() {
		return apperr.ErrNotFitted
	}
	if len(l.coef) > 0 {
		if _, cols := X.Shape(); cols != len(l.coef[0]) {
			return fmt.Errorf("X has %d features, model expects %d", cols, len(l.coef[0]))
		}
	}
	return nil
}

// decision returns one score per weight vector for every row.
func (l *linear) decision(X *sparse.Matrix) [][]float64 {
	n, _ := X.Shape()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := X.Row(i)
		scores := make([]float64, len(l.coef))
		for k, w := range l.coef {
			scores[k] = row.Dot(w) + l.intercept[k]
		}
		out[i] = scores
	}
	return out
}

func (l *linear) predict(X *sparse.Matrix) ([]string, error) {
	if err := l.checkWidth(X); err != nil {
		return nil, err
	}
	scores := l.decision(X)
	out := make([]string, len(scores))
	for i, s := range scores {
		switch len(l.classes) {
		case 1:
			out[i] = l.classes[0]
		case 2:
			if s[0] > 0 {
				out[i] = l.classes[1]
			} else {
				out[i] = l.classes[0]
			}
		default:
			best := 0
			for k := range s {
				if s[k] > s[best] {
					best = k
				}
			}
			out[i] = l.classes[best]
		}
	}
	return out, nil
}

// predictProba maps decision scores through the logistic function. With more
// than two classes the one-vs-rest probabilities are normalised to sum to one.
func (l *linear) predictProba(X *sparse.Matrix) ([][]float64, error) {
	if err := l.checkWidth(X); err != nil {
		return nil, err
	}
	scores := l.decision(X)
	out := make([][]float64, len(scores))
	for i, s := range scores {
		switch len(l.classes) {
		case 1:
			out[i] = []float64{1}
		case 2:
			p := sigmoid(s[0])
			out[i] = []float64{1 - p, p}
		default:
			probs := make([]float64, len(s))
			var sum float64
			for k, z := range s {
				probs[k] = sigmoid(z)
				sum += probs[k]
			}
			for k := range probs {
				probs[k] /= sum
			}
			out[i] = probs
		}
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// logLoss is log(1+exp(-m)) computed without overflow.
func logLoss(m float64) float64 {
	if m > 18 {
		return math.Exp(-m)
	}
	if m < -18 {
		return -m
	}
	return math.Log1p(math.Exp(-m))
}
