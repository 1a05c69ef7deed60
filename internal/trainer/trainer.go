// Package trainer fits a vectorizer+classifier pipeline by exhaustive grid
// search with stratified cross-validation and evaluates the winner.
package trainer

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"email-classifier/internal/classifier"
	"email-classifier/internal/estimator"
	"email-classifier/internal/hparams"
	"email-classifier/internal/vectorizer"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultFolds = 5

// Candidate is the cross-validation outcome of one grid point.
type Candidate struct {
	Params     hparams.Params `json:"params"`
	FoldScores []float64      `json:"fold_scores"`
	MeanScore  float64        `json:"mean_score"`
	StdScore   float64        `json:"std_score"`
}

// SearchResult summarises a grid search.
type SearchResult struct {
	BestParams hparams.Params `json:"best_params"`
	BestScore  float64        `json:"best_score"`
	BestIndex  int            `json:"best_index"`
	Candidates []Candidate    `json:"candidates"`
	Folds      int            `json:"folds"`
	Duration   time.Duration  `json:"duration"`
}

// Trainer searches the classifier's hyperparameter grid for a given
// vectorizer configuration.
type Trainer struct {
	vectorizer vectorizer.Vectorizer
	spec       classifier.Spec
	fixed      hparams.Params
	grid       hparams.Grid
	folds      int
	workers    int
	logger     *zap.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithParams fixes estimator parameters. A fixed parameter that is also in
// the grid narrows that grid axis to the fixed value.
func WithParams(p hparams.Params) Option {
	return func(t *Trainer) { t.fixed = p.Clone() }
}

// WithGrid replaces the classifier's default grid.
func WithGrid(g hparams.Grid) Option {
	return func(t *Trainer) { t.grid = g }
}

// WithFolds sets the number of cross-validation folds.
func WithFolds(k int) Option {
	return func(t *Trainer) { t.folds = k }
}

// WithWorkers bounds how many candidates are evaluated concurrently.
func WithWorkers(n int) Option {
	return func(t *Trainer) { t.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// New returns a Trainer. v is used as a prototype and is never fitted itself.
func New(v vectorizer.Vectorizer, spec classifier.Spec, opts ...Option) *Trainer {
	t := &Trainer{
		vectorizer: v,
		spec:       spec,
		fixed:      hparams.Params{},
		folds:      defaultFolds,
		workers:    runtime.GOMAXPROCS(0),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.grid == nil {
		t.grid = spec.Hyperparameters()
	}
	t.grid = t.grid.Narrow(t.fixed)
	if t.workers < 1 {
		t.workers = 1
	}
	return t
}

// Grid returns the grid that Train searches.
func (t *Trainer) Grid() hparams.Grid { return t.grid }

// Train scores every grid point by mean cross-validated accuracy, then refits
// the best one on all of docs. Ties go to the earliest point in grid order.
// ctx is checked before each candidate starts.
func (t *Trainer) Train(ctx context.Context, docs, labels []string) (*estimator.Pipeline, *SearchResult, error) {
	if len(docs) != len(labels) {
		return nil, nil, fmt.Errorf("train: %d documents but %d labels", len(docs), len(labels))
	}
	start := time.Now()

	folds, err := stratifiedKFold(labels, t.folds)
	if err != nil {
		return nil, nil, fmt.Errorf("train: %w", err)
	}

	combos := t.grid.Combinations()
	t.logger.Info("Starting grid search",
		zap.String("vectorizer", t.vectorizer.Name()),
		zap.String("classifier", string(t.spec.Kind())),
		zap.Int("candidates", len(combos)),
		zap.Int("folds", len(folds)),
		zap.Int("samples", len(docs)))

	candidates := make([]Candidate, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, combo := range combos {
		i, params := i, t.fixed.Merge(combo)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := t.crossValidate(params, docs, labels, folds)
			if err != nil {
				return fmt.Errorf("candidate %v: %w", params, err)
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("grid search: %w", err)
	}

	best := 0
	for i, c := range candidates {
		if c.MeanScore > candidates[best].MeanScore {
			best = i
		}
	}

	model, err := t.fit(candidates[best].Params, docs, labels)
	if err != nil {
		return nil, nil, fmt.Errorf("refit best candidate: %w", err)
	}

	result := &SearchResult{
		BestParams: candidates[best].Params,
		BestScore:  candidates[best].MeanScore,
		BestIndex:  best,
		Candidates: candidates,
		Folds:      len(folds),
		Duration:   time.Since(start),
	}
	t.logger.Info("Grid search finished",
		zap.Any("best_params", result.BestParams),
		zap.Float64("best_score", result.BestScore),
		zap.Duration("duration", result.Duration))
	return model, result, nil
}

func (t *Trainer) fit(params hparams.Params, docs, labels []string) (*estimator.Pipeline, error) {
	m, err := t.spec.Estimator(params)
	if err != nil {
		return nil, err
	}
	p := estimator.New(t.vectorizer.Clone(), m)
	if err := p.Fit(docs, labels); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *Trainer) crossValidate(params hparams.Params, docs, labels []string, folds []fold) (Candidate, error) {
	scores := make(stats.Float64Data, 0, len(folds))
	for _, f := range folds {
		p, err := t.fit(params, pick(docs, f.train), pick(labels, f.train))
		if err != nil {
			return Candidate{}, err
		}
		pred, err := p.Predict(pick(docs, f.test))
		if err != nil {
			return Candidate{}, err
		}
		scores = append(scores, Accuracy(pick(labels, f.test), pred))
	}
	mean, err := stats.Mean(scores)
	if err != nil {
		return Candidate{}, err
	}
	std, err := stats.StandardDeviationPopulation(scores)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{Params: params, FoldScores: scores, MeanScore: mean, StdScore: std}, nil
}
