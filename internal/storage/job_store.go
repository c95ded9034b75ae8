package storage

import (
	"context"
	"errors"

	"github.com/adverant/nexus/text3d-worker/internal/models"
)

// ErrJobNotFound is returned when a job id has no record
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job records
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	// UpdateJobStatus sets the status. errMsg and modelURL are only written when non-empty.
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg, modelURL string) error
	SetPredictionID(ctx context.Context, jobID, predictionID string) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	Close() error
}
