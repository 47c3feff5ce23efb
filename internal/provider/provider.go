package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/manash/cardgen/pkg/models"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrAPIKeyRequired   = errors.New("API key is required")
)

// Submitter creates a billable job upstream. Calls are not idempotent.
type Submitter interface {
	Submit(ctx context.Context, req *models.GenerationRequest) (*models.JobHandle, error)
}

// StatusFetcher reports the raw state of a previously submitted job.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*models.JobSnapshot, error)
}

type Provider interface {
	Submitter
	StatusFetcher
	Name() string
}

type Config struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
	Verbose    bool
	// ResolveVersion looks up the latest version of an unpinned model before
	// submitting, instead of posting to the model endpoint directly.
	ResolveVersion bool
}

type Constructor func(cfg *Config, log zerolog.Logger) (Provider, error)

// Factory builds providers by name.
type Factory struct {
	constructors map[string]Constructor
}

func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[string]Constructor),
	}
}

func (f *Factory) Register(name string, c Constructor) {
	f.constructors[name] = c
}

func (f *Factory) New(name string, cfg *Config, log zerolog.Logger) (Provider, error) {
	c, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	if cfg == nil || cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	return c(cfg, log)
}

func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.constructors))
	for n := range f.constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
