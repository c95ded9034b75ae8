package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/text3d-worker/internal/logging"
	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/storage"
)

// jobRunner holds the bookkeeping shared by both pipelines
type jobRunner struct {
	store    storage.JobStore
	notifier Notifier
	logger   *log.Logger
}

func (r *jobRunner) jobLogger(jobID string) *log.Logger {
	l := r.logger
	if l == nil {
		l = log.Default()
	}
	return logging.ForJob(l, jobID)
}

// fail marks the job FAILED, tells the client and returns a non-retryable
// error wrapping cause. Bookkeeping runs even if ctx is already done.
func (r *jobRunner) fail(ctx context.Context, job *models.JobPayload, msg string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg = models.Truncate(msg, models.MaxErrorLength)
	logger := r.jobLogger(job.JobID)

	if err := r.store.UpdateJobStatus(ctx, job.JobID, models.JobStatusFailed, msg, ""); err != nil {
		logger.Error("failed to mark job failed", "err", err)
	}
	r.sendProgress(ctx, job.JobID, 100, models.JobStatusFailed, msg)
	if err := r.notifier.Post(ctx, job.ConnectionID, models.ErrorNotice(msg)); err != nil {
		logger.Warn("failed to notify client", "conn", job.ConnectionID, "err", err)
	}

	if cause == nil {
		return fmt.Errorf("job %s failed: %s: %w", job.JobID, msg, asynq.SkipRetry)
	}
	return fmt.Errorf("job %s failed: %w: %w", job.JobID, cause, asynq.SkipRetry)
}

// complete marks the job COMPLETED with the asset URL
func (r *jobRunner) complete(ctx context.Context, job *models.JobPayload, url string, notice models.Notification) error {
	if err := r.store.UpdateJobStatus(ctx, job.JobID, models.JobStatusCompleted, "", url); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	r.sendProgress(ctx, job.JobID, 100, models.JobStatusCompleted, "Processing complete")
	if err := r.notifier.Post(ctx, job.ConnectionID, notice); err != nil {
		r.jobLogger(job.JobID).Warn("failed to notify client", "conn", job.ConnectionID, "err", err)
	}
	return nil
}

func (r *jobRunner) sendProgress(ctx context.Context, jobID string, progress float64, status models.JobStatus, message string) {
	update := models.ProgressUpdate{
		JobID:        jobID,
		Status:       status,
		Progress:     progress,
		CurrentStage: message,
		Message:      message,
		Timestamp:    time.Now(),
	}
	if err := r.notifier.PublishProgress(ctx, update); err != nil {
		r.jobLogger(jobID).Debug("progress not published", "err", err)
	}
}
