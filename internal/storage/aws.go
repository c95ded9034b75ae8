package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AWSClients holds the SDK clients built from one shared config
type AWSClients struct {
	S3       *s3.Client
	DynamoDB *dynamodb.Client
}

// NewAWSClients loads the default credential chain. A non-empty s3Endpoint
// points the S3 client at an S3-compatible store with path-style addressing.
func NewAWSClients(ctx context.Context, region, s3Endpoint string) (*AWSClients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s3Endpoint != "" {
			o.BaseEndpoint = aws.String(s3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &AWSClients{
		S3:       s3Client,
		DynamoDB: dynamodb.NewFromConfig(cfg),
	}, nil
}
