package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

type S3Config struct {
	Endpoint        string
	PublicEndpoint  string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Backend stores objects in an S3 compatible bucket that is publicly
// readable, directly or through PublicEndpoint.
type S3Backend struct {
	client *s3.Client
	cfg    S3Config
	log    zerolog.Logger
}

func NewS3Backend(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	b := &S3Backend{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "s3-storage").Logger(),
	}
	b.log.Info().
		Str("bucket", cfg.Bucket).
		Str("endpoint", cfg.Endpoint).
		Bool("path_style", cfg.UsePathStyle).
		Msg("s3 storage initialized")
	return b, nil
}

func (b *S3Backend) Name() string {
	return "s3"
}

func (b *S3Backend) Put(ctx context.Context, u *Upload) (*Location, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(u.Key),
		Body:          bytes.NewReader(u.Data),
		ContentLength: aws.Int64(int64(len(u.Data))),
		ContentType:   aws.String(u.ContentType),
		CacheControl:  aws.String("public, max-age=600"),
	}
	if !u.ExpiresAt.IsZero() {
		input.Expires = aws.Time(u.ExpiresAt)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return nil, &StorageError{
			Backend:    b.Name(),
			Op:         "put",
			StatusCode: httpStatus(err),
			Err:        err,
		}
	}
	return &Location{URL: b.PublicURL(u.Key)}, nil
}

// PublicURL returns the address the provider fetches key from.
func (b *S3Backend) PublicURL(key string) string {
	if b.cfg.PublicEndpoint != "" {
		return strings.TrimRight(b.cfg.PublicEndpoint, "/") + "/" + key
	}
	if b.cfg.Endpoint != "" {
		base := strings.TrimRight(b.cfg.Endpoint, "/")
		if b.cfg.UsePathStyle {
			return base + "/" + b.cfg.Bucket + "/" + key
		}
		if scheme, host, ok := strings.Cut(base, "://"); ok {
			return scheme + "://" + b.cfg.Bucket + "." + host + "/" + key
		}
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.cfg.Bucket, b.cfg.Region, key)
}

func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
