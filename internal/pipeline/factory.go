package pipeline

import (
	"context"
	"fmt"
	"strings"

	"email-classifier/internal/apperr"
	"email-classifier/internal/artifact"
	"email-classifier/internal/classifier"
	"email-classifier/internal/config"
	"email-classifier/internal/estimator"
	"email-classifier/internal/tracking"
	"email-classifier/internal/trainer"
	"email-classifier/internal/vectorizer"

	"go.uber.org/zap"
)

// Factory builds pipelines from a configuration. The zero value talks to the
// configured tracking server and uses its model registry for artifacts.
type Factory struct {
	// NewTracker connects to a tracking endpoint.
	NewTracker func(endpoint string) Tracker
	// NewStore picks the artifact store for a tracker. When nil the tracker's
	// model registry is used.
	NewStore func(t Tracker) (artifact.Store, error)
	// Models caches artifacts loaded for inference. Optional.
	Models *artifact.Cache
	// SearchWorkers bounds concurrent grid-search candidates. Zero uses the
	// trainer default.
	SearchWorkers int
	Logger        *zap.Logger
}

func (f *Factory) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func (f *Factory) tracker(cfg *config.Config) Tracker {
	endpoint := strings.TrimRight(cfg.Tracking.EndpointURI, "/")
	if f.NewTracker != nil {
		return f.NewTracker(endpoint)
	}
	return tracking.NewClient(endpoint, tracking.WithLogger(f.logger()))
}

func (f *Factory) store(t Tracker) (artifact.Store, error) {
	if f.NewStore != nil {
		return f.NewStore(t)
	}
	reg, ok := t.(artifact.Registry)
	if !ok {
		return nil, fmt.Errorf("tracker %T has no model registry", t)
	}
	return artifact.NewRegistryStore(reg, f.logger()), nil
}

// ModelRef is the artifact a configuration promotes to and serves from.
func ModelRef(cfg *config.Config) artifact.Ref {
	return artifact.Ref{Name: cfg.Tracking.Model.Name, Stage: cfg.Tracking.Model.Stage}
}

// Get returns the pipeline of the given kind, matched case-insensitively.
func (f *Factory) Get(ctx context.Context, kind Kind, cfg *config.Config) (Pipeline, error) {
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindTraining:
		t, err := f.Training(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindInference:
		i, err := f.Inference(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return i, nil
	}
	return nil, &apperr.UnsupportedTypeError{Category: "pipeline", Type: string(kind)}
}

// Training builds fresh vectorizer and classifier prototypes and makes sure
// the experiment exists.
func (f *Factory) Training(ctx context.Context, cfg *config.Config, opts ...TrainingOption) (*Training, error) {
	v, err := vectorizer.New(cfg.VectorizerKind(), cfg.VectorizerParams())
	if err != nil {
		return nil, err
	}
	spec, err := classifier.New(cfg.ClassifierKind())
	if err != nil {
		return nil, err
	}
	t := f.tracker(cfg)
	store, err := f.store(t)
	if err != nil {
		return nil, err
	}

	tc := TrainingConfig{
		ExperimentName:  cfg.Tracking.ExperimentName,
		LogBestAccuracy: cfg.Tracking.LogBestAccuracy,
		Model:           ModelRef(cfg),
		RunName:         fmt.Sprintf("%s-%s", cfg.Project.Name, cfg.Project.Version),
	}
	// An empty experiment name is reported by the run itself.
	if tc.ExperimentName != "" {
		if tc.ExperimentID, err = t.EnsureExperiment(ctx, tc.ExperimentName); err != nil {
			return nil, fmt.Errorf("prepare experiment %q: %w", tc.ExperimentName, err)
		}
	}

	trainerOpts := []trainer.Option{trainer.WithParams(cfg.ClassifierParams())}
	if f.SearchWorkers > 0 {
		trainerOpts = append(trainerOpts, trainer.WithWorkers(f.SearchWorkers))
	}
	all := append([]TrainingOption{WithLogger(f.logger()), WithTrainerOptions(trainerOpts...)}, opts...)
	return NewTraining(v, spec, t, store, tc, all...), nil
}

// Inference loads the configured artifact, through Models when set.
func (f *Factory) Inference(ctx context.Context, cfg *config.Config) (*Inference, error) {
	store, err := f.store(f.tracker(cfg))
	if err != nil {
		return nil, err
	}
	ref := ModelRef(cfg)
	var (
		model *estimator.Pipeline
		meta  *artifact.Metadata
	)
	if f.Models != nil {
		model, meta, err = f.Models.Load(ctx, store, ref)
	} else {
		model, meta, err = store.Load(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", ref, err)
	}
	f.logger().Info("Inference model loaded",
		zap.String("model", ref.String()),
		zap.String("version", meta.Version),
		zap.String("run_id", meta.RunID))
	return InferenceFromArtifact(model, meta, f.logger())
}
