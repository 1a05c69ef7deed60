package service

import (
	"context"
	"fmt"
	"sync"

	"email-classifier/internal/artifact"
	"email-classifier/internal/cache"
	"email-classifier/internal/config"
	"email-classifier/internal/dataset"
	"email-classifier/internal/metrics"
	"email-classifier/internal/pipeline"

	"go.uber.org/zap"
)

// InferenceLoader loads the serving model for a configuration.
// *pipeline.Factory implements it.
type InferenceLoader interface {
	Inference(ctx context.Context, cfg *config.Config) (*pipeline.Inference, error)
}

// Classifier serves predictions for the model named by one configuration
// file. The model is loaded on first use and replaced by Reload.
type Classifier struct {
	configPath  string
	configs     *config.Cache
	loader      InferenceLoader
	models      *artifact.Cache
	predictions cache.PredictionCache
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu        sync.RWMutex
	inference *pipeline.Inference
	version   string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModelCache sets the artifact cache Reload invalidates. It should be
// the one the loader reads through.
func WithModelCache(c *artifact.Cache) Option {
	return func(s *Classifier) { s.models = c }
}

// WithPredictionCache caches predictions per model version.
func WithPredictionCache(c cache.PredictionCache) Option {
	return func(s *Classifier) { s.predictions = c }
}

// WithMetrics records predictions and cache use.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Classifier) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Classifier) { s.logger = l }
}

// NewClassifier returns a classifier for the configuration at configPath.
func NewClassifier(configPath string, configs *config.Cache, loader InferenceLoader, opts ...Option) *Classifier {
	s := &Classifier{
		configPath:  configPath,
		configs:     configs,
		loader:      loader,
		predictions: cache.Nop{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify predicts the label of one email body.
func (s *Classifier) Classify(ctx context.Context, body string) (*cache.Prediction, error) {
	inf, version, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	key := cache.Key(version, body)
	if p, ok, err := s.predictions.Get(ctx, key); err != nil {
		s.logger.Warn("Prediction cache read failed", zap.String("cache", s.predictions.Name()), zap.Error(err))
	} else if ok {
		s.cacheResult(true)
		return p, nil
	}
	s.cacheResult(false)

	res, err := inf.Run(ctx, []string{body}, true)
	if err != nil {
		return nil, err
	}
	label := res.Predictions[0]
	code, err := dataset.EncodeLabel(label)
	if err != nil {
		return nil, fmt.Errorf("encode predicted label: %w", err)
	}
	p := &cache.Prediction{Prediction: code, Label: label, Confidence: res.Confidences[0]}

	if err := s.predictions.Set(ctx, key, p); err != nil {
		s.logger.Warn("Prediction cache write failed", zap.String("cache", s.predictions.Name()), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.Predictions.WithLabelValues(label).Inc()
		s.metrics.Confidence.Observe(p.Confidence)
	}
	return p, nil
}

// Reload re-reads the configuration and the model, dropping cached
// predictions of the previous model.
func (s *Classifier) Reload(ctx context.Context) (*pipeline.Inference, error) {
	s.configs.Invalidate(s.configPath)
	cfg, err := s.configs.Load(s.configPath)
	if err != nil {
		return nil, err
	}
	if s.models != nil {
		s.models.Invalidate(pipeline.ModelRef(cfg))
	}
	inf, err := s.loader.Inference(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.predictions.Clear(ctx); err != nil {
		s.logger.Warn("Failed to clear prediction cache", zap.Error(err))
	}

	s.mu.Lock()
	s.inference, s.version = inf, modelVersion(inf.Metadata())
	s.mu.Unlock()
	s.logger.Info("Serving model reloaded", zap.String("model", inf.Describe()), zap.String("version", s.version))
	return inf, nil
}

// Model returns the metadata of the loaded model, if any.
func (s *Classifier) Model() (artifact.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inference == nil {
		return artifact.Metadata{}, false
	}
	return s.inference.Metadata(), true
}

func (s *Classifier) current(ctx context.Context) (*pipeline.Inference, string, error) {
	s.mu.RLock()
	inf, version := s.inference, s.version
	s.mu.RUnlock()
	if inf != nil {
		return inf, version, nil
	}

	cfg, err := s.configs.Load(s.configPath)
	if err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inference == nil {
		if s.inference, err = s.loader.Inference(ctx, cfg); err != nil {
			return nil, "", err
		}
		s.version = modelVersion(s.inference.Metadata())
	}
	return s.inference, s.version, nil
}

func (s *Classifier) cacheResult(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.WithLabelValues(s.predictions.Name()).Inc()
	} else {
		s.metrics.CacheMisses.WithLabelValues(s.predictions.Name()).Inc()
	}
}

func modelVersion(meta artifact.Metadata) string {
	switch {
	case meta.Version != "":
		return meta.Name + "@" + meta.Version
	case meta.RunID != "":
		return meta.Name + "@" + meta.RunID
	}
	return meta.Name
}
