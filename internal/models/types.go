package models

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// JobKind selects the pipeline a job runs through
type JobKind string

const (
	JobKindModel JobKind = "model" // text -> point cloud / mesh -> GLB
	JobKindImage JobKind = "image" // text -> PNG
)

// JobStatus is the persisted job state
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal returns true once the job will not change further.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobTTL is how long job records are kept
const JobTTL = 24 * time.Hour

// MaxErrorLength bounds error text stored on a job or sent to a client
const MaxErrorLength = 1000

// JobPayload is the queued task body produced by the gateway
type JobPayload struct {
	JobID        string            `json:"jobId"`
	Kind         JobKind           `json:"kind"`
	Prompt       string            `json:"prompt"`
	ConnectionID string            `json:"connectionId"`
	Options      GenerationOptions `json:"options"`
	EnqueuedAt   *time.Time        `json:"enqueuedAt,omitempty"`
}

// GenerationOptions carries per-job overrides. Zero values fall back to worker config.
type GenerationOptions struct {
	ModelVersion    string `json:"modelVersion,omitempty"`    // Replicate model version
	IndexWidth      string `json:"indexWidth,omitempty"`      // "16" or "32"
	PointPrimitives *bool  `json:"pointPrimitives,omitempty"` // tag face-less meshes as POINTS
	SkipTransmit    bool   `json:"skipTransmit,omitempty"`    // upload only, do not stream frames
}

// UnmarshalJSON accepts the legacy queue body keys (job_id, connectionId)
// alongside the current ones.
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		LegacyJobID string `json:"job_id"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if p.JobID == "" {
		p.JobID = aux.LegacyJobID
	}
	if p.Kind == "" {
		p.Kind = JobKindModel
	}
	return nil
}

// Job is the persisted job record
type Job struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	Kind         JobKind   `json:"kind"`
	Prompt       string    `json:"prompt"`
	ConnectionID string    `json:"connection_id,omitempty"`
	PredictionID string    `json:"prediction_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	ModelURL     string    `json:"model_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiryTime   time.Time `json:"expiry_time"`
}

// NewJob creates a PROCESSING job record for a freshly accepted prompt.
func NewJob(kind JobKind, prompt, connectionID string, now time.Time) *Job {
	return &Job{
		JobID:        NewJobID(),
		Status:       JobStatusProcessing,
		Kind:         kind,
		Prompt:       prompt,
		ConnectionID: connectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiryTime:   now.Add(JobTTL),
	}
}

// Payload builds the queue payload for j.
func (j *Job) Payload() JobPayload {
	return JobPayload{
		JobID:        j.JobID,
		Kind:         j.Kind,
		Prompt:       j.Prompt,
		ConnectionID: j.ConnectionID,
	}
}

// ClientMessage is a message received over the WebSocket
type ClientMessage struct {
	Action string `json:"action"` // "generate" or "generate_image"
	Prompt string `json:"prompt,omitempty"`
	Text   string `json:"text,omitempty"` // image prompt field
}

// Client actions
const (
	ActionGenerate      = "generate"
	ActionGenerateImage = "generate_image"
)

// PromptText returns the prompt for the action, whichever field carried it.
func (m *ClientMessage) PromptText() string {
	if m.Prompt != "" {
		return m.Prompt
	}
	return m.Text
}

// Kind maps the action onto a job kind.
func (m *ClientMessage) Kind() (JobKind, bool) {
	switch m.Action {
	case ActionGenerate, "":
		return JobKindModel, true
	case ActionGenerateImage:
		return JobKindImage, true
	}
	return "", false
}

// Notification is a message posted to a client connection. Exactly one of
// the fields is normally set.
type Notification struct {
	StatusMessage string `json:"statusMessage,omitempty"`
	JobID         string `json:"jobId,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	FinalModelURL string `json:"finalModelUrl,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
}

// JobStartedNotice is sent once a job has been queued.
func JobStartedNotice(jobID string) Notification {
	return Notification{
		StatusMessage: "Job " + jobID + " started. We'll notify you when it's ready.",
		JobID:         jobID,
	}
}

// ErrorNotice wraps an error message for a client, truncated to MaxErrorLength.
func ErrorNotice(msg string) Notification {
	return Notification{Error: Truncate(msg, MaxErrorLength)}
}

// ProgressUpdate for WebSocket real-time updates
type ProgressUpdate struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"` // 0-100
	CurrentStage string    `json:"currentStage"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Config holds worker configuration
type Config struct {
	RedisURL          string
	PostgresURL       string
	JobStore          string // "postgres" or "dynamodb"
	DynamoTable       string
	AWSRegion         string
	S3Bucket          string
	S3Endpoint        string // optional, for S3-compatible stores
	ReplicateToken    string
	ReplicateBaseURL  string
	ModelVersion      string // Point-E
	HFToken           string
	ImageModelURL     string // Hugging Face inference endpoint
	WorkerConcurrency int
	PollInterval      time.Duration
	PredictionTimeout time.Duration
	MaxPollErrors     int
	MaxAssetSize      int64 // Bytes
	PresignTTL        time.Duration
	FrameMaxChars     int
	FrameDelay        time.Duration
	GLBIndexWidth     string
	GLBPointPrims     bool
	ListenAddr        string
	ConnectionTTL     time.Duration
	LogLevel          string
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// NewJobID generates a unique job ID
func NewJobID() string {
	return uuid.New().String()
}
