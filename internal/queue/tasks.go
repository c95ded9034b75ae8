package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/text3d-worker/internal/models"
)

// Task types
const (
	TypeGenerate = "text3d:generate"
	TypeImage    = "text3d:image"
)

// Queue names
const (
	QueueCritical = "text3d:critical"
	QueueDefault  = "text3d:default"
	QueueLow      = "text3d:low"
)

// Queues maps each queue to its priority weight
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// DefaultTaskTimeout bounds a whole job, prediction included
const DefaultTaskTimeout = 15 * time.Minute

// TaskType returns the task type that runs jobs of kind
func TaskType(kind models.JobKind) (string, error) {
	switch kind {
	case models.JobKindModel, "":
		return TypeGenerate, nil
	case models.JobKindImage:
		return TypeImage, nil
	}
	return "", fmt.Errorf("unknown job kind %q", kind)
}

// NewJobTask builds the task for a job payload. Generation tasks are not
// retried: a failed transfer is reported to the client instead.
func NewJobTask(p *models.JobPayload) (*asynq.Task, error) {
	taskType, err := TaskType(p.Kind)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(taskType, payload,
		asynq.TaskID(p.JobID),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(DefaultTaskTimeout),
	), nil
}

// ParseJobPayload decodes a task payload
func ParseJobPayload(task *asynq.Task) (*models.JobPayload, error) {
	var p models.JobPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if p.JobID == "" {
		return nil, fmt.Errorf("job payload has no job id")
	}
	return &p, nil
}
