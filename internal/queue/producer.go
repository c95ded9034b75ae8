package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/text3d-worker/internal/models"
)

// Enqueuer is the subset of *asynq.Client used by Producer
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Producer submits jobs from the gateway
type Producer struct {
	client Enqueuer
}

// NewProducer connects to the queue at redisURL
func NewProducer(redisURL string) (*Producer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewProducerWithClient(asynq.NewClient(redisOpt)), nil
}

// NewProducerWithClient wraps an existing client
func NewProducerWithClient(client Enqueuer) *Producer {
	return &Producer{client: client}
}

// Enqueue submits the job described by p
func (p *Producer) Enqueue(ctx context.Context, payload *models.JobPayload) (*asynq.TaskInfo, error) {
	if payload.EnqueuedAt == nil {
		now := time.Now().UTC()
		payload.EnqueuedAt = &now
	}
	task, err := NewJobTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

// EnqueueGeneration submits a text-to-3D job
func (p *Producer) EnqueueGeneration(ctx context.Context, job *models.Job) (*asynq.TaskInfo, error) {
	payload := job.Payload()
	payload.Kind = models.JobKindModel
	return p.Enqueue(ctx, &payload)
}

// EnqueueImage submits a text-to-image job
func (p *Producer) EnqueueImage(ctx context.Context, job *models.Job) (*asynq.TaskInfo, error) {
	payload := job.Payload()
	payload.Kind = models.JobKindImage
	return p.Enqueue(ctx, &payload)
}

// Close releases the queue connection
func (p *Producer) Close() error {
	return p.client.Close()
}
