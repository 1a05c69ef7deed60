package pipeline

import (
	"context"
	"errors"

	"email-classifier/internal/apperr"
	"email-classifier/internal/artifact"
	"email-classifier/internal/estimator"

	"go.uber.org/zap"
)

// InferenceResult holds one prediction per input document. Confidences is
// nil unless requested.
type InferenceResult struct {
	Predictions []string  `json:"predictions"`
	Confidences []float64 `json:"confidences,omitempty"`
}

// Inference predicts with an already fitted pipeline. It never fits and is
// safe for concurrent use.
type Inference struct {
	model  *estimator.Pipeline
	meta   *artifact.Metadata
	logger *zap.Logger
}

// NewInference wraps a fitted model.
func NewInference(model *estimator.Pipeline, logger *zap.Logger) (*Inference, error) {
	if model == nil || !model.Fitted() {
		return nil, &apperr.InferenceError{Err: apperr.ErrNotFitted}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inference{model: model, meta: &artifact.Metadata{}, logger: logger}, nil
}

// InferenceFromArtifact wraps a model restored from a combined artifact.
func InferenceFromArtifact(model *estimator.Pipeline, meta *artifact.Metadata, logger *zap.Logger) (*Inference, error) {
	inf, err := NewInference(model, logger)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		inf.meta = meta
	}
	return inf, nil
}

func (i *Inference) Kind() Kind { return KindInference }

func (i *Inference) Describe() string { return i.model.String() }

// Metadata describes the artifact the model came from.
func (i *Inference) Metadata() artifact.Metadata { return *i.meta }

// Classes returns the labels the model predicts.
func (i *Inference) Classes() []string { return i.model.Classes() }

// Run predicts docs. With includeConfidence each prediction is paired with
// the highest class probability; models without probability estimates
// then fail with apperr.ErrProbabilityUnsupported.
func (i *Inference) Run(ctx context.Context, docs []string, includeConfidence bool) (*InferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &apperr.InferenceError{Err: err}
	}
	if len(docs) == 0 {
		return &InferenceResult{Predictions: []string{}}, nil
	}
	pred, err := i.model.Predict(docs)
	if err != nil {
		return nil, i.fail(err)
	}
	res := &InferenceResult{Predictions: pred}
	if !includeConfidence {
		return res, nil
	}

	proba, err := i.model.PredictProba(docs)
	if err != nil {
		return nil, i.fail(err)
	}
	res.Confidences = make([]float64, len(proba))
	for n, row := range proba {
		for _, p := range row {
			if p > res.Confidences[n] {
				res.Confidences[n] = p
			}
		}
	}
	return res, nil
}

func (i *Inference) fail(err error) error {
	if !errors.Is(err, apperr.ErrProbabilityUnsupported) {
		i.logger.Error("Inference failed", zap.String("model", i.model.String()), zap.Error(err))
	}
	return &apperr.InferenceError{Err: err}
}
