package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"email-classifier/internal/apperr"
	"email-classifier/internal/config"
	"email-classifier/internal/dataset"
	"email-classifier/internal/metrics"
	"email-classifier/internal/models"
	"email-classifier/internal/notify"
	"email-classifier/internal/pipeline"
	"email-classifier/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("training queue is full")
	ErrQueueClosed = errors.New("training queue is shut down")
	ErrEmptyPath   = errors.New("config_path must not be empty")
)

// stageLoading marks failures before the training pipeline starts.
const stageLoading = "loading"

// TrainingBuilder builds a training pipeline for a configuration.
// *pipeline.Factory implements it.
type TrainingBuilder interface {
	Training(ctx context.Context, cfg *config.Config, opts ...pipeline.TrainingOption) (*pipeline.Training, error)
}

// Queue runs training jobs on a fixed set of workers. Job state is persisted
// so it can be queried while and after a job runs.
type Queue struct {
	repo     repository.JobRepository
	configs  *config.Cache
	builder  TrainingBuilder
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	onDone   []func(*models.Job)
	workers  int

	pending chan string
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent training jobs.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithNotifier sets where finished jobs are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithMetrics records job outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// OnDone registers fn to run after every finished job.
func OnDone(fn func(*models.Job)) Option {
	return func(q *Queue) { q.onDone = append(q.onDone, fn) }
}

// NewQueue returns a queue holding up to size pending jobs.
func NewQueue(repo repository.JobRepository, configs *config.Cache, builder TrainingBuilder, size int, opts ...Option) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		repo:     repo,
		configs:  configs,
		builder:  builder,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
		workers:  1,
		pending:  make(chan string, size),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a pending job for configPath and schedules it.
func (q *Queue) Enqueue(ctx context.Context, configPath string) (*models.Job, error) {
	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		return nil, ErrEmptyPath
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}

	job := &models.Job{
		ID:         uuid.New().String(),
		ConfigPath: configPath,
		Status:     models.JobPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := q.repo.Create(ctx, job); err != nil {
		q.mu.Unlock()
		return nil, err
	}

	select {
	case q.pending <- job.ID:
		q.mu.Unlock()
	default:
		q.mu.Unlock()
		q.finish(ctx, job, stageLoading, ErrQueueFull)
		return nil, ErrQueueFull
	}
	q.logger.Info("Training job queued", zap.String("job_id", job.ID), zap.String("config_path", configPath))
	return job, nil
}

// Get returns the job with id.
func (q *Queue) Get(ctx context.Context, id string) (*models.Job, error) {
	return q.repo.Get(ctx, id)
}

// List returns up to limit jobs, newest first.
func (q *Queue) List(ctx context.Context, limit int) ([]*models.Job, error) {
	return q.repo.List(ctx, limit)
}

// Start launches the workers. Jobs left unfinished by a previous process
// are marked failed first. Workers stop when ctx is done or after Shutdown
// once the pending jobs are drained.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return nil
	}
	if _, err := q.repo.FailUnfinished(ctx, "interrupted by restart"); err != nil {
		return err
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	q.logger.Info("Training queue started", zap.Int("workers", q.workers))
	return nil
}

// Shutdown stops accepting jobs and waits for the workers to drain the
// queue, or until ctx is done.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("Training queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context, worker int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-q.pending:
			if !ok {
				return
			}
			q.process(ctx, worker, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, worker int, id string) {
	logger := q.logger.With(zap.String("job_id", id), zap.Int("worker", worker))
	job, err := q.repo.Get(ctx, id)
	if err != nil {
		logger.Error("Failed to load queued job", zap.Error(err))
		return
	}

	started := time.Now().UTC()
	job.Status = models.JobRunning
	job.StartedAt = &started
	if err := q.repo.Update(ctx, job); err != nil {
		logger.Error("Failed to mark job running", zap.Error(err))
	}
	logger.Info("Training job started", zap.String("config_path", job.ConfigPath))

	stage, err := q.train(ctx, job, logger)
	if q.metrics != nil {
		q.metrics.TrainingSeconds.Observe(time.Since(started).Seconds())
	}
	q.finish(ctx, job, stage, err)
}

// train runs the pipeline for job and returns the stage it ended in.
func (q *Queue) train(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
	cfg, err := q.configs.Load(job.ConfigPath)
	if err != nil {
		return stageLoading, err
	}
	loader, err := dataset.NewLoader(cfg.FileType(), cfg.Columns(), logger)
	if err != nil {
		return stageLoading, err
	}
	ds, err := dataset.LoadAndPreprocess(loader, cfg.Data.FilePath, dataset.NewBalancer())
	if err != nil {
		return stageLoading, err
	}
	if len(ds) == 0 {
		return stageLoading, &apperr.DataLoadError{Path: cfg.Data.FilePath, Err: errors.New("no rows left after balancing")}
	}

	training, err := q.builder.Training(ctx, cfg, pipeline.WithLogger(logger), pipeline.WithObserver(func(_, to pipeline.State) {
		if to == pipeline.StateFailed {
			return
		}
		job.Stage = string(to)
		if err := q.repo.Update(ctx, job); err != nil {
			logger.Warn("Failed to record job stage", zap.String("stage", job.Stage), zap.Error(err))
		}
	}))
	if err != nil {
		return stageLoading, err
	}

	res, err := training.Run(ctx, ds.Bodies(), ds.Labels())
	if err != nil {
		var te *apperr.TrainingError
		if errors.As(err, &te) {
			return te.State, err
		}
		return job.Stage, err
	}
	acc := res.Evaluation.Accuracy
	job.Accuracy = &acc
	job.Promoted = res.Promoted
	job.RunID = res.RunID
	if q.metrics != nil {
		q.metrics.ModelAccuracy.WithLabelValues(cfg.Tracking.Model.Name).Set(acc)
	}
	return string(pipeline.StateDone), nil
}

func (q *Queue) finish(ctx context.Context, job *models.Job, stage string, err error) {
	completed := time.Now().UTC()
	job.Stage = stage
	job.CompletedAt = &completed
	job.Status = models.JobSucceeded
	if err != nil {
		job.Status = models.JobFailed
		job.ErrorMessage = err.Error()
	}
	// Record the outcome even when ctx is already cancelled by shutdown.
	if uerr := q.repo.Update(context.WithoutCancel(ctx), job); uerr != nil {
		q.logger.Error("Failed to record job result", zap.String("job_id", job.ID), zap.Error(uerr))
	}

	if err != nil {
		q.logger.Error("Training job failed", zap.String("job_id", job.ID), zap.String("stage", stage), zap.Error(err))
	} else {
		q.logger.Info("Training job succeeded", zap.String("job_id", job.ID), zap.Bool("promoted", job.Promoted))
	}
	if q.metrics != nil {
		q.metrics.TrainingJobs.WithLabelValues(string(job.Status)).Inc()
	}
	if nerr := q.notifier.JobFinished(context.WithoutCancel(ctx), job); nerr != nil {
		q.logger.Warn("Failed to notify about job", zap.String("job_id", job.ID), zap.Error(nerr))
	}
	for _, fn := range q.onDone {
		fn(job)
	}
}
