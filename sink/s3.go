package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wudi/qrsheet/observability"
)

// S3Config selects the bucket and, for S3-compatible servers, the endpoint.
// Empty credentials fall back to the default AWS chain.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads documents with PutObject.
type S3 struct {
	client putObjectAPI
	bucket string
	prefix string
	logger observability.Logger
}

type S3Option func(*S3)

func WithLogger(l observability.Logger) S3Option {
	return func(s *S3) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewS3 builds a client from cfg.
func NewS3(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newS3(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

func newS3(client putObjectAPI, bucket, prefix string, opts ...S3Option) *S3 {
	s := &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: observability.NopLogger{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentLength:      aws.Int64(int64(len(data))),
		ContentType:        aws.String("application/pdf"),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", name)),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	loc := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.logger.Info("document uploaded", observability.String("location", loc), observability.Int("bytes", len(data)))
	return loc, nil
}
