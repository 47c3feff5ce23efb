package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REPLICATE_API_KEY", "r8_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model != "google/nano-banana-pro" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 120 {
		t.Errorf("PollMaxAttempts = %d, want 120", cfg.PollMaxAttempts)
	}
	if cfg.PollBudget() != 10*time.Minute {
		t.Errorf("PollBudget() = %v, want 10m", cfg.PollBudget())
	}
	if cfg.TrustProxyHeaders || cfg.ExposeErrorDetail {
		t.Errorf("TrustProxyHeaders = %v, ExposeErrorDetail = %v, want both off", cfg.TrustProxyHeaders, cfg.ExposeErrorDetail)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.UploadTTL != 10*time.Minute {
		t.Errorf("UploadTTL = %v", cfg.UploadTTL)
	}
	if cfg.StorageBackend != StorageLocal || cfg.ReferenceMode != ReferenceStatic {
		t.Errorf("StorageBackend = %q, ReferenceMode = %q", cfg.StorageBackend, cfg.ReferenceMode)
	}
	if cfg.ReferenceBaseURL != "http://localhost:3001/img" {
		t.Errorf("ReferenceBaseURL = %q", cfg.ReferenceBaseURL)
	}
	if got := cfg.ReferenceURLs["newyear"]; got != "https://lbguc3zsh1uyzv3d.public.blob.vercel-storage.com/1767548913407-vay4azsocze.jpeg" {
		t.Errorf("ReferenceURLs[newyear] = %q", got)
	}
	if cfg.Addr() != ":3001" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("RequireAPIKey() error = %v", err)
	}
}

func TestLoad_ViteKeyFallback(t *testing.T) {
	t.Setenv("REPLICATE_API_KEY", "")
	t.Setenv("VITE_REPLICATE_API_KEY", " r8_vite ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReplicateAPIKey != "r8_vite" {
		t.Errorf("ReplicateAPIKey = %q, want r8_vite", cfg.ReplicateAPIKey)
	}
}

func TestLoad_MissingKeyIsDeferred(t *testing.T) {
	t.Setenv("REPLICATE_API_KEY", "")
	t.Setenv("VITE_REPLICATE_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.RequireAPIKey(); !errors.Is(err, ErrAPIKeyMissing) {
		t.Errorf("RequireAPIKey() error = %v, want ErrAPIKeyMissing", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REPLICATE_MODEL", "black-forest-labs/flux-1.1-pro")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("POLL_MAX_ATTEMPTS", "30")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("S3_BUCKET", "cards")
	t.Setenv("REFERENCE_MODE", "upload")
	t.Setenv("PUBLIC_BASE_URL", "https://cards.example.com/")
	t.Setenv("REFERENCE_URLS", "newyear:https://cdn.example.com/ny.jpeg,travel:https://cdn.example.com/tr.jpeg")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://cards.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollBudget() != time.Minute {
		t.Errorf("PollBudget() = %v, want 1m", cfg.PollBudget())
	}
	if cfg.StorageBackend != StorageS3 {
		t.Errorf("StorageBackend = %q, want s3", cfg.StorageBackend)
	}
	if cfg.ReferenceBaseURL != "https://cards.example.com/img" {
		t.Errorf("ReferenceBaseURL = %q", cfg.ReferenceBaseURL)
	}
	if len(cfg.ReferenceURLs) != 2 || cfg.ReferenceURLs["travel"] != "https://cdn.example.com/tr.jpeg" {
		t.Errorf("ReferenceURLs = %v", cfg.ReferenceURLs)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "gcs"}},
		{"s3 without bucket", map[string]string{"STORAGE_BACKEND": "s3"}},
		{"unknown reference mode", map[string]string{"REFERENCE_MODE": "magic"}},
		{"zero attempts", map[string]string{"POLL_MAX_ATTEMPTS": "0"}},
		{"bad duration", map[string]string{"POLL_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}
