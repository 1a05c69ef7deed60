package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"email-classifier/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned when no job has the requested ID.
var ErrJobNotFound = errors.New("job not found")

// JobRepository stores training jobs.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// List returns the newest jobs first. A non-positive limit lists all.
	List(ctx context.Context, limit int) ([]*models.Job, error)
	// FailUnfinished marks pending and running jobs failed, for jobs lost
	// with a previous process.
	FailUnfinished(ctx context.Context, reason string) (int64, error)
}

type jobRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB, logger *zap.Logger) JobRepository {
	return &jobRepository{db: db, logger: logger}
}

const jobColumns = `id, config_path, status, stage, accuracy, promoted, run_id, error_message, created_at, started_at, completed_at`

func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO training_jobs (` + jobColumns + `)
		VALUES (:id, :config_path, :status, :stage, :accuracy, :promoted, :run_id, :error_message, :created_at, :started_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		r.logger.Error("Failed to create job", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *jobRepository) Update(ctx context.Context, job *models.Job) error {
	query := `UPDATE training_jobs SET
		status = :status, stage = :stage, accuracy = :accuracy, promoted = :promoted, run_id = :run_id,
		error_message = :error_message, started_at = :started_at, completed_at = :completed_at
		WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, job)
	if err != nil {
		r.logger.Error("Failed to update job", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	query := r.db.Rebind(`SELECT ` + jobColumns + ` FROM training_jobs WHERE id = ?`)
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

func (r *jobRepository) List(ctx context.Context, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM training_jobs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	jobs := []*models.Job{}
	if err := r.db.SelectContext(ctx, &jobs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	query := r.db.Rebind(`UPDATE training_jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE status IN (?, ?)`)
	res, err := r.db.ExecContext(ctx, query,
		models.JobFailed, reason, time.Now().UTC(), models.JobPending, models.JobRunning)
	if err != nil {
		return 0, fmt.Errorf("fail unfinished jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("Marked unfinished jobs as failed", zap.Int64("count", n))
	}
	return n, nil
}
