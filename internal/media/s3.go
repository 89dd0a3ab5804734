// internal/media/s3.go
package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store writes objects to an S3-compatible bucket.
type S3Store struct {
	client    *s3.Client // AWS S3 client
	bucket    string     // Bucket for media objects
	publicURL string     // Base URL objects are publicly served from
}

// NewS3Store creates an S3 store.
// It supports both AWS S3 and S3-compatible services like MinIO or R2.
// Parameters:
//   - endpoint: S3 service endpoint URL; empty uses the AWS default
//   - region: AWS region (or equivalent for S3-compatible services)
//   - bucket: S3 bucket name for media storage
//   - accessKey: Access key for authentication; empty uses the default credential chain
//   - secretKey: Secret key for authentication
//   - publicURL: Base URL objects are served from
func NewS3Store(ctx context.Context, endpoint, region, bucket, accessKey, secretKey, publicURL string) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(strings.TrimRight(endpoint, "/"))
		}
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
	})

	return &S3Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Put implements Store. A HEAD hit skips the upload since keys are content addressed.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) (string, error) {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return s.URL(key), nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public URL of key.
func (s *S3Store) URL(key string) string {
	return s.publicURL + "/" + key
}
