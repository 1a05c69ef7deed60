// Package classifier supplies the linear text classifiers and the
// hyperparameter grids the trainer searches over them.
package classifier

import (
	"fmt"
	"strings"

	"email-classifier/internal/apperr"
	"email-classifier/internal/hparams"
	"email-classifier/internal/sparse"
)

// Kind selects a classifier family.
type Kind string

const (
	KindSGD      Kind = "sgd"
	KindLogistic Kind = "logistic"
)

// ParseKind matches s case-insensitively against the supported kinds.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSGD:
		return KindSGD, nil
	case KindLogistic:
		return KindLogistic, nil
	}
	return "", &apperr.UnsupportedTypeError{Category: "classifier", Type: s}
}

// Model is a trainable classifier over sparse features. Labels are kept as
// strings; Classes returns them in sorted order, which is also the column
// order of PredictProba.
type Model interface {
	Name() string
	Fit(X *sparse.Matrix, y []string) error
	Predict(X *sparse.Matrix) ([]string, error)
	PredictProba(X *sparse.Matrix) ([][]float64, error)
	Classes() []string
	Params() hparams.Params
	Fitted() bool
	State() State
}

// Spec describes a classifier family: how to build an untrained model and
// which hyperparameters to search.
type Spec interface {
	Kind() Kind
	// Estimator returns an untrained model with defaults overlaid by params.
	Estimator(params hparams.Params) (Model, error)
	Hyperparameters() hparams.Grid
}

// New returns the Spec for kind.
func New(kind Kind) (Spec, error) {
	switch kind {
	case KindSGD:
		return sgdSpec{}, nil
	case KindLogistic:
		return logisticSpec{}, nil
	}
	return nil, &apperr.UnsupportedTypeError{Category: "classifier", Type: string(kind)}
}

// Get parses name and returns its Spec.
func Get(name string) (Spec, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return New(kind)
}

// State is the persisted form of a fitted model.
type State struct {
	Kind      Kind           `json:"kind"`
	Params    hparams.Params `json:"params"`
	Classes   []string       `json:"classes"`
	Coef      [][]float64    `json:"coef"`
	Intercept []float64      `json:"intercept"`
}

// FromState restores a fitted model.
func FromState(s State) (Model, error) {
	spec, err := New(s.Kind)
	if err != nil {
		return nil, err
	}
	m, err := spec.Estimator(s.Params)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", s.Kind, err)
	}
	lin := restoreLinear(s)
	if err := lin.validate(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", s.Kind, err)
	}
	switch mm := m.(type) {
	case *SGD:
		mm.linear = lin
	case *Logistic:
		mm.linear = lin
	}
	return m, nil
}

func checkKeys(p hparams.Params, allowed ...string) error {
	for k := range p {
		ok := false
		for _, a := range allowed {
			if k == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("unknown parameter %q", k)
		}
	}
	return nil
}
