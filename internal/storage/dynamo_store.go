package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/adverant/nexus/text3d-worker/internal/models"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoJobStore
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoJobStore keeps job records in a DynamoDB table keyed by job_id.
// Timestamps are stored as unix seconds; expiry_time doubles as the table TTL attribute.
type DynamoJobStore struct {
	api   DynamoAPI
	table string
	now   func() time.Time
}

// NewDynamoJobStore creates a store on the given table
func NewDynamoJobStore(api DynamoAPI, table string) *DynamoJobStore {
	return &DynamoJobStore{api: api, table: table, now: time.Now}
}

// CreateJob stores a new job record
func (s *DynamoJobStore) CreateJob(ctx context.Context, job *models.Job) error {
	item := map[string]types.AttributeValue{
		"job_id":      &types.AttributeValueMemberS{Value: job.JobID},
		"status":      &types.AttributeValueMemberS{Value: string(job.Status)},
		"kind":        &types.AttributeValueMemberS{Value: string(job.Kind)},
		"prompt":      &types.AttributeValueMemberS{Value: job.Prompt},
		"created_at":  unixAttr(job.CreatedAt),
		"updated_at":  unixAttr(job.UpdatedAt),
		"expiry_time": unixAttr(job.ExpiryTime),
	}
	if job.ConnectionID != "" {
		item["connection_id"] = &types.AttributeValueMemberS{Value: job.ConnectionID}
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.JobID, err)
	}
	return nil
}

// UpdateJobStatus updates job status, and error and model_url when given
func (s *DynamoJobStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg, modelURL string) error {
	expr := "SET #s = :s, updated_at = :t"
	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: string(status)},
		":t": unixAttr(s.now()),
	}
	if errMsg != "" {
		expr += ", #e = :e"
		names["#e"] = "error"
		values[":e"] = &types.AttributeValueMemberS{Value: errMsg}
	}
	if modelURL != "" {
		expr += ", model_url = :u"
		values[":u"] = &types.AttributeValueMemberS{Value: modelURL}
	}

	return s.update(ctx, jobID, expr, names, values)
}

// SetPredictionID records the prediction backing a job
func (s *DynamoJobStore) SetPredictionID(ctx context.Context, jobID, predictionID string) error {
	return s.update(ctx, jobID, "SET prediction_id = :p, updated_at = :t", nil, map[string]types.AttributeValue{
		":p": &types.AttributeValueMemberS{Value: predictionID},
		":t": unixAttr(s.now()),
	})
}

func (s *DynamoJobStore) update(ctx context.Context, jobID, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       jobKey(jobID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(job_id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// GetJob loads a job record
func (s *DynamoJobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            jobKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrJobNotFound
	}

	item := out.Item
	return &models.Job{
		JobID:        stringAttr(item, "job_id"),
		Status:       models.JobStatus(stringAttr(item, "status")),
		Kind:         models.JobKind(stringAttr(item, "kind")),
		Prompt:       stringAttr(item, "prompt"),
		ConnectionID: stringAttr(item, "connection_id"),
		PredictionID: stringAttr(item, "prediction_id"),
		Error:        stringAttr(item, "error"),
		ModelURL:     stringAttr(item, "model_url"),
		CreatedAt:    timeAttr(item, "created_at"),
		UpdatedAt:    timeAttr(item, "updated_at"),
		ExpiryTime:   timeAttr(item, "expiry_time"),
	}, nil
}

// Close is a no-op; the SDK client holds no connections of its own
func (s *DynamoJobStore) Close() error {
	return nil
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}

func unixAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func timeAttr(item map[string]types.AttributeValue, name string) time.Time {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
