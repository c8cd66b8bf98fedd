package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// S3API is the subset of the S3 client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives the outcome as an object in S3.
type S3Sink struct {
	client     S3API
	bucketName string
	prefix     string
	ctx        context.Context
	now        func() time.Time
}

// S3SinkOption configures an S3Sink.
type S3SinkOption func(*S3Sink)

// WithS3Client sets a custom S3 client (useful for testing).
func WithS3Client(c S3API) S3SinkOption {
	return func(s *S3Sink) { s.client = c }
}

// WithS3Context sets the context used to load AWS configuration.
func WithS3Context(ctx context.Context) S3SinkOption {
	return func(s *S3Sink) { s.ctx = ctx }
}

// NewS3Sink creates a new S3 sink.
func NewS3Sink(bucketName, prefix string, opts ...S3SinkOption) (*S3Sink, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket name required")
	}
	s := &S3Sink{
		bucketName: bucketName,
		prefix:     strings.TrimRight(prefix, "/"),
		ctx:        context.Background(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(s.ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = s3.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *S3Sink) Name() string { return "s3" }

// Send writes the outcome as JSON.
// Key format: {prefix}/{date}/{stepName}/{unix_millis}-{stepStatus}.json
func (s *S3Sink) Send(ctx context.Context, outcome types.RunOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	now := s.now().UTC()
	key := fmt.Sprintf("%s/%s/%s/%d-%s.json",
		s.prefix, now.Format("2006-01-02"), outcome.StepName,
		now.UnixMilli(), outcome.StepStatus)
	key = strings.TrimLeft(key, "/")

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: putting outcome to S3: %w", ErrDelivery, err)
	}
	return nil
}
