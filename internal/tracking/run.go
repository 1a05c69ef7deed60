package tracking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RunStarter opens and closes run scopes.
type RunStarter interface {
	StartRun(ctx context.Context, experimentID, runName string) (*Run, error)
	EndRun(ctx context.Context, runID string, status RunStatus) error
}

// WithRun opens a run, calls fn, and always ends the run: FINISHED when fn
// succeeds and FAILED otherwise. The run is ended even if ctx was cancelled
// while fn ran.
func WithRun(ctx context.Context, t RunStarter, experimentID, runName string, logger *zap.Logger, fn func(*Run) error) error {
	run, err := t.StartRun(ctx, experimentID, runName)
	if err != nil {
		return err
	}
	logger.Info("Tracking run started", zap.String("run_id", run.ID), zap.String("experiment_id", experimentID))

	fnErr := fn(run)

	status := RunFinished
	if fnErr != nil {
		status = RunFailed
	}
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	endErr := t.EndRun(endCtx, run.ID, status)
	if endErr != nil {
		logger.Error("Failed to end tracking run", zap.String("run_id", run.ID), zap.Error(endErr))
	} else {
		logger.Info("Tracking run ended", zap.String("run_id", run.ID), zap.String("status", string(status)))
	}
	return errors.Join(fnErr, endErr)
}
