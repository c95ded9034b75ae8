// Package gateway serves client WebSocket connections and job lookups.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/storage"
)

// Registry records live connections
type Registry interface {
	Register(ctx context.Context, connID, remoteAddr string) error
	Touch(ctx context.Context, connID string) error
	Remove(ctx context.Context, connID string) error
}

// JobQueue submits accepted jobs
type JobQueue interface {
	EnqueueGeneration(ctx context.Context, job *models.Job) (*asynq.TaskInfo, error)
	EnqueueImage(ctx context.Context, job *models.Job) (*asynq.TaskInfo, error)
}

// Server is the client-facing gateway
type Server struct {
	hub      *Hub
	registry Registry
	store    storage.JobStore
	queue    JobQueue
	logger   *log.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer creates a gateway
func NewServer(hub *Hub, registry Registry, store storage.JobStore, queue JobQueue, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		hub:      hub,
		registry: registry,
		store:    store,
		queue:    queue,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Handler returns the routed handler wrapped in recovery and access logging
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/images", s.handleGenerateImage).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	accessLog := s.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel}).Writer()
	h := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(r)
	return handlers.LoggingHandler(accessLog, h)
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[gateway] Starting server %v", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	return nil
}

// startJob records a PROCESSING job and queues it
func (s *Server) startJob(ctx context.Context, kind models.JobKind, prompt, connID string) (*models.Job, error) {
	job := models.NewJob(kind, prompt, connID, s.now().UTC())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	var err error
	if kind == models.JobKindImage {
		_, err = s.queue.EnqueueImage(ctx, job)
	} else {
		_, err = s.queue.EnqueueGeneration(ctx, job)
	}
	if err != nil {
		if uerr := s.store.UpdateJobStatus(ctx, job.JobID, models.JobStatusFailed, "Failed to queue job", ""); uerr != nil {
			s.logger.Error("failed to mark job failed", "job", job.JobID, "err", uerr)
		}
		return nil, err
	}
	return job, nil
}
