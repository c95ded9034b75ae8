package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/text3d-worker/internal/models"
	_ "github.com/lib/pq"
)

// PostgresJobStore keeps job records in PostgreSQL
type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore connects to PostgreSQL and creates the schema
func NewPostgresJobStore(ctx context.Context, postgresURL string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := NewPostgresJobStoreFromDB(db)
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewPostgresJobStoreFromDB wraps an open connection pool. The schema is not created.
func NewPostgresJobStoreFromDB(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (s *PostgresJobStore) initSchema(ctx context.Context) error {
	tableSchema := `
	CREATE SCHEMA IF NOT EXISTS text3d;

	CREATE TABLE IF NOT EXISTS text3d.jobs (
		job_id VARCHAR(255) PRIMARY KEY,
		status VARCHAR(50) NOT NULL,
		kind VARCHAR(50) NOT NULL,
		prompt TEXT NOT NULL,
		connection_id VARCHAR(255),
		prediction_id VARCHAR(255),
		error TEXT,
		model_url TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expiry_time TIMESTAMP NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON text3d.jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON text3d.jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_expiry_time ON text3d.jobs(expiry_time)`,
	}

	for _, stmt := range indexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}

	return nil
}

// CreateJob stores a new job record
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO text3d.jobs (job_id, status, kind, prompt, connection_id, created_at, updated_at, expiry_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		string(job.Status),
		string(job.Kind),
		job.Prompt,
		job.ConnectionID,
		job.CreatedAt,
		job.UpdatedAt,
		job.ExpiryTime,
	)
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.JobID, err)
	}
	return nil
}

// UpdateJobStatus updates job status, and error and model_url when given
func (s *PostgresJobStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg, modelURL string) error {
	query := `
		UPDATE text3d.jobs
		SET status = $2,
			error = CASE WHEN $3 <> '' THEN $3 ELSE error END,
			model_url = CASE WHEN $4 <> '' THEN $4 ELSE model_url END,
			updated_at = CURRENT_TIMESTAMP
		WHERE job_id = $1
	`

	res, err := s.db.ExecContext(ctx, query, jobID, string(status), errMsg, modelURL)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return expectRow(res, jobID)
}

// SetPredictionID records the prediction backing a job
func (s *PostgresJobStore) SetPredictionID(ctx context.Context, jobID, predictionID string) error {
	query := `UPDATE text3d.jobs SET prediction_id = $2, updated_at = CURRENT_TIMESTAMP WHERE job_id = $1`

	res, err := s.db.ExecContext(ctx, query, jobID, predictionID)
	if err != nil {
		return fmt.Errorf("failed to set prediction for job %s: %w", jobID, err)
	}
	return expectRow(res, jobID)
}

// GetJob loads a job record
func (s *PostgresJobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	query := `
		SELECT job_id, status, kind, prompt, connection_id, prediction_id, error, model_url, created_at, updated_at, expiry_time
		FROM text3d.jobs
		WHERE job_id = $1
	`

	var job models.Job
	var status, kind string
	var connectionID, predictionID, errMsg, modelURL sql.NullString
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&status,
		&kind,
		&job.Prompt,
		&connectionID,
		&predictionID,
		&errMsg,
		&modelURL,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ExpiryTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	job.Status = models.JobStatus(status)
	job.Kind = models.JobKind(kind)
	job.ConnectionID = connectionID.String
	job.PredictionID = predictionID.String
	job.Error = errMsg.String
	job.ModelURL = modelURL.String
	return &job, nil
}

// Close closes the connection pool
func (s *PostgresJobStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func expectRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}
