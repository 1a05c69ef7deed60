package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"email-classifier/internal/apperr"
	"email-classifier/internal/artifact"
	"email-classifier/internal/classifier"
	"email-classifier/internal/dataset"
	"email-classifier/internal/estimator"
	"email-classifier/internal/tracking"
	"email-classifier/internal/trainer"
	"email-classifier/internal/vectorizer"

	"go.uber.org/zap"
)

// State is a step of a training run.
type State string

const (
	StateIdle       State = "idle"
	StateSplitting  State = "splitting"
	StateTraining   State = "training"
	StateEvaluating State = "evaluating"
	StateTracking   State = "tracking"
	StatePromoting  State = "promoting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Observer is called on every state transition of a run.
type Observer func(from, to State)

// MetricAccuracy is the metric promotion compares runs by.
const MetricAccuracy = "accuracy"

var errNoExperiment = errors.New("tracking.experiment_name must not be empty")

// TrainingConfig describes where a training run is tracked and promoted.
type TrainingConfig struct {
	ExperimentName  string
	ExperimentID    string
	RunName         string
	LogBestAccuracy bool
	Model           artifact.Ref
	TestFraction    float64
	Seed            int64
}

// TrainingResult is the outcome of a successful run.
type TrainingResult struct {
	RunID        string
	Model        *estimator.Pipeline
	Evaluation   *trainer.Evaluation
	Search       *trainer.SearchResult
	Promoted     bool
	PreviousBest float64
}

// Training fits, evaluates, tracks and conditionally promotes a model. A
// Training value runs one training at a time.
type Training struct {
	vectorizer  vectorizer.Vectorizer
	spec        classifier.Spec
	trainerOpts []trainer.Option
	tracker     Tracker
	store       artifact.Store
	cfg         TrainingConfig
	logger      *zap.Logger
	observers   []Observer

	running sync.Mutex
	mu      sync.Mutex
	state   State
}

// TrainingOption configures a Training pipeline.
type TrainingOption func(*Training)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) TrainingOption {
	return func(t *Training) { t.logger = l }
}

// WithObserver registers o for state transitions.
func WithObserver(o Observer) TrainingOption {
	return func(t *Training) { t.observers = append(t.observers, o) }
}

// WithTrainerOptions passes options to the grid-search trainer.
func WithTrainerOptions(opts ...trainer.Option) TrainingOption {
	return func(t *Training) { t.trainerOpts = append(t.trainerOpts, opts...) }
}

// NewTraining returns an idle training pipeline. v is a prototype and is
// never fitted itself.
func NewTraining(v vectorizer.Vectorizer, spec classifier.Spec, tracker Tracker, store artifact.Store, cfg TrainingConfig, opts ...TrainingOption) *Training {
	if cfg.TestFraction == 0 {
		cfg.TestFraction = dataset.DefaultTestFraction
	}
	if cfg.Seed == 0 {
		cfg.Seed = dataset.DefaultSeed
	}
	t := &Training{
		vectorizer: v,
		spec:       spec,
		tracker:    tracker,
		store:      store,
		cfg:        cfg,
		logger:     zap.NewNop(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Training) Kind() Kind { return KindTraining }

func (t *Training) Describe() string {
	return t.vectorizer.Name() + "+" + classifierName(t.spec)
}

// State returns the current state.
func (t *Training) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Observe registers o for state transitions of later runs.
func (t *Training) Observe(o Observer) {
	t.running.Lock()
	defer t.running.Unlock()
	t.observers = append(t.observers, o)
}

func (t *Training) transition(to State) {
	t.mu.Lock()
	from := t.state
	t.state = to
	t.mu.Unlock()
	t.logger.Debug("Training state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	for _, o := range t.observers {
		o(from, to)
	}
}

func classifierName(spec classifier.Spec) string {
	m, err := spec.Estimator(nil)
	if err != nil {
		return string(spec.Kind())
	}
	return m.Name()
}

// Run trains on docs/labels. Every failure moves the run to StateFailed and
// is returned as *apperr.TrainingError naming the state it failed in.
func (t *Training) Run(ctx context.Context, docs, labels []string) (*TrainingResult, error) {
	t.running.Lock()
	defer t.running.Unlock()

	t.mu.Lock()
	t.state = StateIdle
	t.mu.Unlock()

	res, err := t.execute(ctx, docs, labels)
	if err != nil {
		failed := t.State()
		t.transition(StateFailed)
		t.logger.Error("Training run failed", zap.String("state", string(failed)), zap.Error(err))
		return nil, &apperr.TrainingError{State: string(failed), Err: err}
	}
	t.transition(StateDone)
	t.logger.Info("Training run finished",
		zap.String("run_id", res.RunID),
		zap.Float64("accuracy", res.Evaluation.Accuracy),
		zap.Bool("promoted", res.Promoted))
	return res, nil
}

func (t *Training) execute(ctx context.Context, docs, labels []string) (*TrainingResult, error) {
	t.transition(StateSplitting)
	if strings.TrimSpace(t.cfg.ExperimentName) == "" {
		return nil, errNoExperiment
	}
	if len(docs) != len(labels) {
		return nil, fmt.Errorf("%d documents but %d labels", len(docs), len(labels))
	}
	ds := make(dataset.Dataset, len(docs))
	for i := range docs {
		ds[i] = dataset.Row{Body: docs[i], Label: labels[i]}
	}
	train, test, err := dataset.Split(ds, t.cfg.TestFraction, t.cfg.Seed)
	if err != nil {
		return nil, err
	}
	t.logger.Info("Dataset split", zap.Int("train", len(train)), zap.Int("test", len(test)))

	t.transition(StateTraining)
	opts := append([]trainer.Option{trainer.WithLogger(t.logger)}, t.trainerOpts...)
	model, search, err := trainer.New(t.vectorizer, t.spec, opts...).Train(ctx, train.Bodies(), train.Labels())
	if err != nil {
		return nil, err
	}

	t.transition(StateEvaluating)
	eval, err := trainer.Evaluate(model, test.Bodies(), test.Labels())
	if err != nil {
		return nil, err
	}
	t.logger.Info("Model evaluated", zap.Float64("accuracy", eval.Accuracy))

	res := &TrainingResult{Model: model, Evaluation: eval, Search: search}

	t.transition(StateTracking)
	experimentID := t.cfg.ExperimentID
	if experimentID == "" {
		if experimentID, err = t.tracker.EnsureExperiment(ctx, t.cfg.ExperimentName); err != nil {
			return nil, err
		}
	}
	runName := t.cfg.RunName
	if runName == "" {
		runName = model.String()
	}
	err = tracking.WithRun(ctx, t.tracker, experimentID, runName, t.logger, func(run *tracking.Run) error {
		res.RunID = run.ID
		if err := t.track(ctx, run, res, len(train), len(test)); err != nil {
			return err
		}
		t.transition(StatePromoting)
		return t.promote(ctx, experimentID, run, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (t *Training) track(ctx context.Context, run *tracking.Run, res *TrainingResult, nTrain, nTest int) error {
	params := map[string]string{
		"vectorizer": res.Model.Vectorizer.Name(),
		"classifier": res.Model.Model.Name(),
		"cv_folds":   fmt.Sprint(res.Search.Folds),
	}
	for k, v := range res.Search.BestParams {
		params[k] = fmt.Sprint(v)
	}
	if err := t.tracker.LogParams(ctx, run.ID, params); err != nil {
		return err
	}

	weighted := res.Evaluation.Report.WeightedAvg
	metrics := map[string]float64{
		MetricAccuracy:  res.Evaluation.Accuracy,
		"precision":     weighted.Precision,
		"recall":        weighted.Recall,
		"f1_score":      weighted.F1,
		"cv_best_score": res.Search.BestScore,
		"train_size":    float64(nTrain),
		"test_size":     float64(nTest),
	}
	if err := t.tracker.LogMetrics(ctx, run.ID, metrics); err != nil {
		return err
	}

	files, err := reportFiles(res.Evaluation, res.Search)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := t.tracker.LogArtifact(ctx, run, f.name, f.data); err != nil {
			return err
		}
	}
	return nil
}

// promote persists the model unless log_best_accuracy is set and an earlier
// run of the experiment scored at least as well.
func (t *Training) promote(ctx context.Context, experimentID string, run *tracking.Run, res *TrainingResult) error {
	unlock := promotions.lock(experimentID)
	defer unlock()

	acc := res.Evaluation.Accuracy
	if t.cfg.LogBestAccuracy {
		best, _, err := t.tracker.BestMetric(ctx, experimentID, MetricAccuracy, run.ID)
		if err != nil {
			return fmt.Errorf("read best accuracy: %w", err)
		}
		res.PreviousBest = best
		if acc <= best {
			t.logger.Info("Model not promoted; previous run is at least as accurate",
				zap.Float64("accuracy", acc), zap.Float64("best_accuracy", best))
			return nil
		}
	}

	meta := artifact.Metadata{
		Name:      t.cfg.Model.Name,
		RunID:     run.ID,
		Accuracy:  acc,
		Metrics:   map[string]float64{"f1_score": res.Evaluation.Report.WeightedAvg.F1},
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.Save(ctx, t.cfg.Model, run, res.Model, meta); err != nil {
		return fmt.Errorf("persist model: %w", err)
	}
	res.Promoted = true
	return nil
}

// keyedMutex serialises promotions per experiment within the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var promotions = &keyedMutex{locks: make(map[string]*sync.Mutex)}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
