package storage

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/config"
)

// TempImagesPath is the route the HTTP server serves local objects under.
const TempImagesPath = "/api/temp-images"

// New builds the client for the configured backend.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Client, error) {
	var (
		b   Backend
		err error
	)

	switch cfg.StorageBackend {
	case config.StorageLocal, "":
		b, err = NewLocalBackend(cfg.LocalStoragePath, cfg.PublicBaseURL+TempImagesPath, log)
	case config.StorageS3:
		b, err = NewS3Backend(ctx, S3Config{
			Endpoint:        cfg.S3Endpoint,
			PublicEndpoint:  cfg.S3PublicEndpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, log)
	case config.StorageReplicate:
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
		client := resty.New().
			SetBaseURL(cfg.ReplicateBaseURL).
			SetHeader("Authorization", "Token "+cfg.ReplicateAPIKey).
			SetTimeout(cfg.UploadTimeout)
		b = NewReplicateFilesBackend(client, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return nil, err
	}

	return NewClient(b, Options{
		MaxBytes: cfg.MaxUploadBytes,
		TTL:      cfg.UploadTTL,
		Timeout:  cfg.UploadTimeout,
	}, log), nil
}
