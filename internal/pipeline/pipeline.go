// Package pipeline orchestrates training and inference runs over a
// vectorizer+classifier pair.
package pipeline

import (
	"context"
	"strings"

	"email-classifier/internal/apperr"
	"email-classifier/internal/tracking"
)

// Kind selects a pipeline.
type Kind string

const (
	KindTraining  Kind = "training"
	KindInference Kind = "inference"
)

// ParseKind resolves a pipeline kind case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTraining:
		return KindTraining, nil
	case KindInference:
		return KindInference, nil
	}
	return "", &apperr.UnsupportedTypeError{Category: "pipeline", Type: s}
}

// Pipeline is implemented by *Training and *Inference.
type Pipeline interface {
	Kind() Kind
	// Describe names the vectorizer and classifier the pipeline runs.
	Describe() string
}

// Tracker is the experiment tracker a training run logs to.
type Tracker interface {
	tracking.RunStarter
	EnsureExperiment(ctx context.Context, name string) (string, error)
	LogParams(ctx context.Context, runID string, params map[string]string) error
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error
	LogArtifact(ctx context.Context, run *tracking.Run, path string, data []byte) error
	BestMetric(ctx context.Context, experimentID, metric, excludeRunID string) (float64, bool, error)
}
