package aws

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

// S3API is the subset of the S3 client we use
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes evidence objects into a bucket
type S3Store struct {
	client func(ctx context.Context) (S3API, error)
	bucket string
}

// NewS3Store creates a store for bucket
func NewS3Store(client func(ctx context.Context) (S3API, error), bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Bucket returns the target bucket
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Put uploads data under key
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	client, err := s.client(ctx)
	if err != nil {
		return failure.Mark(fmt.Errorf("failed to load AWS config: %w", err), failure.ErrAuth)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return failure.Classify(fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err))
	}
	return nil
}
