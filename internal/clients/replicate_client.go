package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/replicate/replicate-go"
)

const (
	// DefaultPollInterval is the delay between status polls
	DefaultPollInterval = 3 * time.Second
	// DefaultPredictionTimeout bounds a single Point-E run
	DefaultPredictionTimeout = 10 * time.Minute
	// DefaultMaxPollErrors is the number of consecutive poll failures tolerated
	DefaultMaxPollErrors = 5
)

// Prediction statuses reported by Replicate
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Output normalisation errors. The messages are shown to end users.
var (
	ErrNoOutput         = errors.New("No output from Replicate")
	ErrEmptyOutputList  = errors.New("Replicate returned empty list")
	ErrUnexpectedOutput = errors.New("Unexpected output format from Replicate")
)

// PredictionAPI is the subset of *replicate.Client used by the worker
type PredictionAPI interface {
	CreatePrediction(ctx context.Context, version string, input replicate.PredictionInput, webhook *replicate.Webhook, stream bool) (*replicate.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
	CancelPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
}

// PredictionError reports a prediction that ended in failed or canceled state
type PredictionError struct {
	ID     string
	Status string
	Detail string
}

func (e *PredictionError) Error() string {
	if e.Detail == "" {
		return "Prediction failed or canceled."
	}
	return fmt.Sprintf("Prediction failed or canceled: %s", e.Detail)
}

// ReplicateConfig holds configuration for the Replicate client
type ReplicateConfig struct {
	Token         string
	BaseURL       string        // Default: library default
	PollInterval  time.Duration // Default: 3s
	Timeout       time.Duration // Default: 10min
	MaxPollErrors int           // Default: 5
}

// ReplicateClient creates Point-E predictions and waits for their output
type ReplicateClient struct {
	api           PredictionAPI
	pollInterval  time.Duration
	timeout       time.Duration
	maxPollErrors int
}

// NewReplicateClient creates a client backed by the Replicate HTTP API
func NewReplicateClient(config ReplicateConfig) (*ReplicateClient, error) {
	opts := []replicate.ClientOption{replicate.WithToken(config.Token)}
	if config.BaseURL != "" {
		opts = append(opts, replicate.WithBaseURL(config.BaseURL))
	}
	api, err := replicate.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Replicate client: %w", err)
	}
	return NewReplicateClientWithAPI(api, config), nil
}

// NewReplicateClientWithAPI wraps an existing PredictionAPI
func NewReplicateClientWithAPI(api PredictionAPI, config ReplicateConfig) *ReplicateClient {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultPredictionTimeout
	}
	if config.MaxPollErrors == 0 {
		config.MaxPollErrors = DefaultMaxPollErrors
	}
	return &ReplicateClient{
		api:           api,
		pollInterval:  config.PollInterval,
		timeout:       config.Timeout,
		maxPollErrors: config.MaxPollErrors,
	}
}

// CreatePrediction starts a prediction for prompt on the given model version
func (c *ReplicateClient) CreatePrediction(ctx context.Context, version, prompt string) (*replicate.Prediction, error) {
	input := replicate.PredictionInput{"prompt": prompt}
	pred, err := c.api.CreatePrediction(ctx, version, input, nil, false)
	if err != nil {
		return nil, fmt.Errorf("Replicate error: %w", err)
	}
	if pred == nil || pred.ID == "" {
		return nil, fmt.Errorf("Replicate error: prediction created without an id")
	}
	return pred, nil
}

// WaitForPrediction polls until the prediction reaches a terminal state.
// A failed or canceled prediction is returned as *PredictionError; running
// past the timeout cancels the prediction.
func (c *ReplicateClient) WaitForPrediction(ctx context.Context, id string) (*replicate.Prediction, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	attempt := 0
	consecutiveErrors := 0

	for {
		attempt++

		pred, err := c.api.GetPrediction(pollCtx, id)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= c.maxPollErrors {
				return nil, fmt.Errorf("prediction %s polling failed after %d consecutive errors: %w", id, consecutiveErrors, err)
			}
		} else {
			consecutiveErrors = 0
			switch string(pred.Status) {
			case StatusSucceeded:
				return pred, nil
			case StatusFailed, StatusCanceled:
				return pred, &PredictionError{ID: id, Status: string(pred.Status), Detail: predictionErrorText(pred.Error)}
			}
		}

		select {
		case <-pollCtx.Done():
			if pollCtx.Err() == context.DeadlineExceeded {
				// Parent context may be fine; use a fresh one so the cancel reaches Replicate
				cancelCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
				_, _ = c.api.CancelPrediction(cancelCtx, id)
				done()
				return nil, fmt.Errorf("prediction %s timed out after %v (%d polls)", id, c.timeout, attempt)
			}
			return nil, fmt.Errorf("prediction %s polling cancelled: %w", id, pollCtx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

// Cancel asks Replicate to stop a prediction
func (c *ReplicateClient) Cancel(ctx context.Context, id string) error {
	if _, err := c.api.CancelPrediction(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel prediction %s: %w", id, err)
	}
	return nil
}

// OutputURL extracts the asset URL from a prediction output: a string is
// used as is, a list contributes its first element.
func OutputURL(output replicate.PredictionOutput) (string, error) {
	var url string
	switch v := output.(type) {
	case nil:
		return "", ErrNoOutput
	case string:
		url = v
	case []interface{}:
		if len(v) == 0 {
			return "", ErrEmptyOutputList
		}
		s, ok := v[0].(string)
		if !ok {
			return "", fmt.Errorf("%w: list of %T", ErrUnexpectedOutput, v[0])
		}
		url = s
	case []string:
		if len(v) == 0 {
			return "", ErrEmptyOutputList
		}
		url = v[0]
	default:
		return "", fmt.Errorf("%w: %T", ErrUnexpectedOutput, output)
	}

	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("%w: %q is not a URL", ErrUnexpectedOutput, url)
	}
	return url, nil
}

func predictionErrorText(v interface{}) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		return fmt.Sprintf("%v", e)
	}
}
