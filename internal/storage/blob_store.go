package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Object key layouts
const (
	ModelKeyFormat = "generated-3d/%s.glb"
	ImageKeyFormat = "generated/%s.png"
)

// DefaultPresignTTL is the lifetime of download links handed to clients
const DefaultPresignTTL = time.Hour

// ObjectPutter is the subset of *s3.Client used for uploads
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectPresigner is the subset of *s3.PresignClient used for download links
type ObjectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// BlobStore uploads generated assets to a bucket and issues presigned links
type BlobStore struct {
	bucket    string
	putter    ObjectPutter
	presigner ObjectPresigner
}

// NewBlobStore creates a store backed by an S3 client
func NewBlobStore(client *s3.Client, bucket string) *BlobStore {
	return NewBlobStoreWithAPI(client, s3.NewPresignClient(client), bucket)
}

// NewBlobStoreWithAPI creates a store from explicit upload and presign implementations
func NewBlobStoreWithAPI(putter ObjectPutter, presigner ObjectPresigner, bucket string) *BlobStore {
	return &BlobStore{bucket: bucket, putter: putter, presigner: presigner}
}

// ModelKey returns the object key of a job's GLB
func ModelKey(jobID string) string {
	return fmt.Sprintf(ModelKeyFormat, jobID)
}

// ImageKey returns the object key of a job's PNG
func ImageKey(jobID string) string {
	return fmt.Sprintf(ImageKeyFormat, jobID)
}

// Put uploads body under key
func (b *BlobStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := b.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for key
func (b *BlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}
