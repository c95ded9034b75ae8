package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/text3d-worker/internal/logging"
	"github.com/adverant/nexus/text3d-worker/internal/models"
)

// JobHandler runs one job
type JobHandler interface {
	Process(ctx context.Context, job *models.JobPayload) error
}

// RedisConsumer consumes generation jobs from the Redis queue
type RedisConsumer struct {
	server   *asynq.Server
	handlers map[string]JobHandler
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	Concurrency int
	Generation  JobHandler
	Image       JobHandler
	Logger      *log.Logger
}

// NewRedisConsumer creates a new Redis queue consumer
func NewRedisConsumer(config *RedisConsumerConfig) (*RedisConsumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues:      Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// 1min, 2min, 4min
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task %s failed: %v", task.Type(), err)
			}),
			Logger: logging.AsynqLogger{L: logger},
		},
	)

	return newRedisConsumer(server, config), nil
}

func newRedisConsumer(server *asynq.Server, config *RedisConsumerConfig) *RedisConsumer {
	handlers := map[string]JobHandler{}
	if config.Generation != nil {
		handlers[TypeGenerate] = config.Generation
	}
	if config.Image != nil {
		handlers[TypeImage] = config.Image
	}
	return &RedisConsumer{server: server, handlers: handlers}
}

// Mux returns the task router
func (rc *RedisConsumer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType := range rc.handlers {
		mux.HandleFunc(taskType, rc.handleTask)
	}
	return mux
}

// Start runs the consumer until Stop is called
func (rc *RedisConsumer) Start() error {
	log.Printf("Starting text3d worker (%d task types)...", len(rc.handlers))

	if err := rc.server.Run(rc.Mux()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	return nil
}

// Stop stops the consumer gracefully
func (rc *RedisConsumer) Stop() {
	log.Printf("Shutting down text3d worker...")
	rc.server.Shutdown()
}

func (rc *RedisConsumer) handleTask(ctx context.Context, task *asynq.Task) error {
	handler, ok := rc.handlers[task.Type()]
	if !ok {
		return fmt.Errorf("no handler for task %s: %w", task.Type(), asynq.SkipRetry)
	}

	job, err := ParseJobPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing job %s (kind: %s)", job.JobID, job.Kind)

	if err := handler.Process(ctx, job); err != nil {
		log.Printf("Job %s failed: %v", job.JobID, err)
		return err
	}

	log.Printf("Job %s completed successfully", job.JobID)
	return nil
}

// HealthCheck checks if worker is healthy
func (rc *RedisConsumer) HealthCheck() error {
	if rc.server == nil {
		return fmt.Errorf("server not initialized")
	}
	if len(rc.handlers) == 0 {
		return fmt.Errorf("no job handlers registered")
	}
	return nil
}
