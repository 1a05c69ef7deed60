// Package estimator pairs a vectorizer with a classifier so both are always
// fitted, persisted and applied together.
package estimator

import (
	"fmt"

	"email-classifier/internal/classifier"
	"email-classifier/internal/vectorizer"
)

// Pipeline is the two-stage text classifier: vectorizer then model.
type Pipeline struct {
	Vectorizer vectorizer.Vectorizer
	Model      classifier.Model
}

// New wraps an unfitted or fitted pair.
func New(v vectorizer.Vectorizer, m classifier.Model) *Pipeline {
	return &Pipeline{Vectorizer: v, Model: m}
}

// Fitted reports whether both stages are fitted.
func (p *Pipeline) Fitted() bool {
	return p.Vectorizer.Fitted() && p.Model.Fitted()
}

// Fit fits the vectorizer on docs then the model on the resulting features.
func (p *Pipeline) Fit(docs []string, labels []string) error {
	X, err := p.Vectorizer.FitTransform(docs)
	if err != nil {
		return fmt.Errorf("fit %s: %w", p.Vectorizer.Name(), err)
	}
	if err := p.Model.Fit(X, labels); err != nil {
		return fmt.Errorf("fit %s: %w", p.Model.Name(), err)
	}
	return nil
}

// Predict transforms docs with the fitted vectorizer and predicts labels.
func (p *Pipeline) Predict(docs []string) ([]string, error) {
	X, err := p.Vectorizer.Transform(docs)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	return p.Model.Predict(X)
}

// PredictProba returns class probabilities ordered like Classes.
func (p *Pipeline) PredictProba(docs []string) ([][]float64, error) {
	X, err := p.Vectorizer.Transform(docs)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	return p.Model.PredictProba(X)
}

// Classes returns the model's labels.
func (p *Pipeline) Classes() []string {
	return p.Model.Classes()
}

// String names both stages, e.g. "TfidfVectorizer+LogisticRegression".
func (p *Pipeline) String() string {
	return p.Vectorizer.Name() + "+" + p.Model.Name()
}
