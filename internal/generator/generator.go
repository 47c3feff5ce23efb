// Package generator composes upload, reference resolution, precheck, request
// building, submission and polling into one card generation call.
package generator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/metrics"
	"github.com/manash/cardgen/internal/poller"
	"github.com/manash/cardgen/internal/provider"
	"github.com/manash/cardgen/internal/storage"
	"github.com/manash/cardgen/internal/variant"
	"github.com/manash/cardgen/pkg/models"
)

const (
	DefaultModelID = "google/nano-banana-pro"

	// DefaultPromptTemplate wraps a style prompt so the model copies the
	// reference card's look onto the user's photo. {prompt} is replaced by
	// the style prompt.
	DefaultPromptTemplate = "The reference shows a greeting card with a person. " +
		"Make the same card with the person from my photo. " +
		"Keep the style, color grading and detail of the reference. {prompt}"
)

type ImageStore interface {
	Store(ctx context.Context, data []byte, filename, contentType string) (*storage.Object, error)
}

type Prechecker interface {
	AssertRef(ctx context.Context, ref models.ImageRef) error
}

type JobPoller interface {
	Poll(ctx context.Context, jobID string, interval time.Duration, maxAttempts int) (*models.JobResult, error)
	Check(ctx context.Context, jobID string) (*models.JobResult, error)
}

type Deps struct {
	Store      ImageStore
	References ReferenceResolver
	Checker    Prechecker
	Builder    *variant.Builder
	Submitter  provider.Submitter
	Poller     JobPoller
}

type Options struct {
	ModelID      string
	PollInterval time.Duration
	MaxAttempts  int
	// InlineFallback sends the photo as a data URI when the store fails.
	InlineFallback bool
	// PromptTemplate is applied to style prompts; an empty template uses
	// the style prompt as is.
	PromptTemplate string
}

type Service struct {
	deps Deps
	opts Options
	log  zerolog.Logger
}

func New(deps Deps, opts Options, log zerolog.Logger) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("generator: image store is required")
	case deps.References == nil:
		return nil, errors.New("generator: reference resolver is required")
	case deps.Checker == nil:
		return nil, errors.New("generator: prechecker is required")
	case deps.Submitter == nil:
		return nil, errors.New("generator: submitter is required")
	case deps.Poller == nil:
		return nil, errors.New("generator: poller is required")
	}
	if deps.Builder == nil {
		deps.Builder = variant.DefaultBuilder()
	}
	if opts.ModelID == "" {
		opts.ModelID = DefaultModelID
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = poller.DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = poller.DefaultMaxAttempts
	}

	return &Service{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "generator").Logger(),
	}, nil
}

func (s *Service) ModelID() string {
	return s.opts.ModelID
}

// GenerateCard runs the whole pipeline for one photo and returns the result
// image URL. Every failure is returned as *Error.
func (s *Service) GenerateCard(ctx context.Context, photo *models.Photo, style models.StylePreset) (string, error) {
	log := s.log.With().Str("style", style.ID).Str("model", s.opts.ModelID).Logger()
	start := time.Now()

	if err := photo.Validate(); err != nil {
		return "", s.fail(log, style, err)
	}

	user, err := s.storePhoto(ctx, log, photo)
	if err != nil {
		return "", s.fail(log, style, err)
	}

	handle, err := s.submit(ctx, log, user, style, "")
	if err != nil {
		return "", s.fail(log, style, err)
	}

	stage := time.Now()
	result, err := s.deps.Poller.Poll(ctx, handle.ID, s.opts.PollInterval, s.opts.MaxAttempts)
	metrics.RecordStage("poll", time.Since(stage).Seconds())
	if err != nil {
		return "", s.fail(log, style, err)
	}
	if err := poller.ResultError(handle.ID, result); err != nil {
		return "", s.fail(log, style, err)
	}

	metrics.RecordGeneration(style.ID, "success")
	log.Info().
		Str("job_id", handle.ID).
		Str("image_url", result.ImageURL).
		Dur("elapsed", time.Since(start)).
		Msg("card generated")
	return result.ImageURL, nil
}

// Start submits a job for an already hosted user image and returns without
// polling. An empty promptOverride uses the style prompt.
func (s *Service) Start(ctx context.Context, userImageURL string, style models.StylePreset, promptOverride string) (*models.JobHandle, error) {
	log := s.log.With().Str("style", style.ID).Str("model", s.opts.ModelID).Logger()

	ref, err := models.ParseImageRef(userImageURL)
	if err != nil {
		return nil, s.fail(log, style, err)
	}

	handle, err := s.submit(ctx, log, &Image{Ref: ref}, style, promptOverride)
	if err != nil {
		return nil, s.fail(log, style, err)
	}
	return handle, nil
}

// Check reports the normalized state of a job started earlier.
func (s *Service) Check(ctx context.Context, jobID string) (*models.JobResult, error) {
	if err := models.ValidateJobID(jobID); err != nil {
		return nil, &Error{Category: CategoryInvalidInput, Message: "Invalid input: malformed job id.", Err: err}
	}
	result, err := s.deps.Poller.Check(ctx, jobID)
	if err != nil {
		ge := Classify(err)
		s.log.Warn().Err(err).Str("job_id", jobID).Str("category", ge.Category.String()).Msg("status check failed")
		return nil, ge
	}
	return result, nil
}

func (s *Service) storePhoto(ctx context.Context, log zerolog.Logger, photo *models.Photo) (*Image, error) {
	stage := time.Now()
	obj, err := s.deps.Store.Store(ctx, photo.Data, photo.Filename, photo.ContentType)
	metrics.RecordStage("upload", time.Since(stage).Seconds())
	if err == nil {
		return &Image{Ref: models.URLRef(obj.URL), ProviderHosted: obj.ProviderHosted}, nil
	}

	// only transport failures fall back; rejected content stays rejected
	if !s.opts.InlineFallback || Classify(err).Category != CategoryStorage {
		return nil, err
	}
	log.Warn().Err(err).Msg("upload failed, sending photo inline")
	return &Image{Ref: models.InlineRef(photo.Data, photo.ContentType)}, nil
}

func (s *Service) submit(ctx context.Context, log zerolog.Logger, user *Image, style models.StylePreset, promptOverride string) (*models.JobHandle, error) {
	stage := time.Now()
	ref, err := s.deps.References.Resolve(ctx, style)
	metrics.RecordStage("reference", time.Since(stage).Seconds())
	if err != nil {
		return nil, err
	}

	stage = time.Now()
	if !user.ProviderHosted {
		if err := s.deps.Checker.AssertRef(ctx, user.Ref); err != nil {
			return nil, err
		}
	}
	var refPtr *models.ImageRef
	if ref != nil {
		if !ref.ProviderHosted {
			if err := s.deps.Checker.AssertRef(ctx, ref.Ref); err != nil {
				return nil, err
			}
		}
		refPtr = &ref.Ref
	}
	metrics.RecordStage("precheck", time.Since(stage).Seconds())

	prompt := strings.TrimSpace(promptOverride)
	if prompt == "" {
		prompt = s.stylePrompt(style)
	}

	req, err := s.deps.Builder.Build(s.opts.ModelID, user.Ref, refPtr, prompt)
	if err != nil {
		return nil, err
	}
	if refPtr != nil && req.ReferenceImage == nil {
		log.Info().Str("family", req.Family.String()).Msg("model family takes no reference, proceeding without it")
	}

	stage = time.Now()
	handle, err := s.deps.Submitter.Submit(ctx, req)
	metrics.RecordStage("submit", time.Since(stage).Seconds())
	if err != nil {
		metrics.RecordSubmission(req.Family.String(), string(Classify(err).Category))
		return nil, err
	}
	metrics.RecordSubmission(req.Family.String(), "success")

	log.Info().
		Str("job_id", handle.ID).
		Str("family", req.Family.String()).
		Str("user_image", user.Ref.Redacted()).
		Bool("reference", req.ReferenceImage != nil).
		Msg("job submitted")
	return handle, nil
}

func (s *Service) stylePrompt(style models.StylePreset) string {
	if s.opts.PromptTemplate == "" {
		return style.Prompt
	}
	if !strings.Contains(s.opts.PromptTemplate, "{prompt}") {
		return s.opts.PromptTemplate + " " + style.Prompt
	}
	return strings.ReplaceAll(s.opts.PromptTemplate, "{prompt}", style.Prompt)
}

func (s *Service) fail(log zerolog.Logger, style models.StylePreset, err error) *Error {
	ge := Classify(err)
	metrics.RecordGeneration(style.ID, ge.Category.String())

	ev := log.Error()
	if ge.Category == CategoryInvalidInput || ge.Category == CategoryCanceled {
		ev = log.Warn()
	}
	ev.Err(err).Str("category", ge.Category.String()).Msg("generation failed")
	return ge
}
