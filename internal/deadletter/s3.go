package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives each entry as a JSON object with personal data masked.
// A sink without a bucket is a no-op.
type S3Sink struct {
	client S3API
	bucket string
}

func NewS3Sink(client S3API, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

func (s *S3Sink) Enabled() bool {
	return s != nil && s.client != nil && s.bucket != ""
}

func (s *S3Sink) Write(ctx context.Context, e Entry) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.Marshal(scrubEntry(e))
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	key := fmt.Sprintf("dead-letter/%d/%02d/%02d/%s-%s.json",
		e.CreatedAt.Year(), e.CreatedAt.Month(), e.CreatedAt.Day(), e.MessageID, e.ID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("deadletter: s3 put %s: %w", key, err)
	}
	return nil
}
