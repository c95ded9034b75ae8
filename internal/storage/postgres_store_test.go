package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/adverant/nexus/text3d-worker/internal/models"
)

func newMockStore(t *testing.T) (*PostgresJobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresJobStoreFromDB(db), mock
}

func TestInitSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS text3d`).WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_jobs_`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := store.initSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresCreateJob(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job := &models.Job{
		JobID:        "job-1",
		Status:       models.JobStatusProcessing,
		Kind:         models.JobKindModel,
		Prompt:       "a red chair",
		ConnectionID: "conn-1",
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiryTime:   now.Add(models.JobTTL),
	}

	mock.ExpectExec(`INSERT INTO text3d\.jobs`).
		WithArgs("job-1", "PROCESSING", "model", "a red chair", "conn-1", now, now, now.Add(24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresUpdateJobStatus(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE text3d\.jobs`).
		WithArgs("job-1", "COMPLETED", "", "https://bucket/generated-3d/job-1.glb").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE text3d\.jobs`).
		WithArgs("missing", "FAILED", "boom", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if err := store.UpdateJobStatus(ctx, "job-1", models.JobStatusCompleted, "", "https://bucket/generated-3d/job-1.glb"); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateJobStatus(ctx, "missing", models.JobStatusFailed, "boom", ""); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresSetPredictionID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE text3d\.jobs SET prediction_id`).
		WithArgs("job-1", "pred-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetPredictionID(context.Background(), "job-1", "pred-1"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresGetJob(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"job_id", "status", "kind", "prompt", "connection_id", "prediction_id", "error", "model_url", "created_at", "updated_at", "expiry_time"}

	mock.ExpectQuery(`SELECT (.+) FROM text3d\.jobs`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("job-1", "FAILED", "model", "a red chair", "conn-1", nil, "Prediction failed or canceled.", nil, now, now, now.Add(models.JobTTL)))
	mock.ExpectQuery(`SELECT (.+) FROM text3d\.jobs`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	job, err := store.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusFailed || job.PredictionID != "" || job.Error != "Prediction failed or canceled." || job.ConnectionID != "conn-1" {
		t.Errorf("job = %+v", job)
	}
	if !job.ExpiryTime.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("expiry = %v", job.ExpiryTime)
	}

	if _, err := store.GetJob(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v", err)
	}
}
