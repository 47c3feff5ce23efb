// Package replicate submits and tracks predictions on the Replicate HTTP API.
package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/provider"
	"github.com/manash/cardgen/pkg/models"
)

const (
	Name = "replicate"

	DefaultBaseURL    = "https://api.replicate.com/v1"
	defaultTimeout    = 60 * time.Second
	defaultRetryAfter = time.Second
)

type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type modelResponse struct {
	LatestVersion *struct {
		ID string `json:"id"`
	} `json:"latest_version"`
}

type apiError struct {
	Detail     string   `json:"detail"`
	Title      string   `json:"title"`
	Error      string   `json:"error"`
	RetryAfter *float64 `json:"retry_after"`
}

type Provider struct {
	client         *resty.Client
	log            zerolog.Logger
	verbose        bool
	resolveVersion bool
}

func New(cfg *provider.Config, log zerolog.Logger) (*Provider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Authorization", "Token "+cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Provider{
		client:         client,
		log:            log.With().Str("component", "replicate").Logger(),
		verbose:        cfg.Verbose,
		resolveVersion: cfg.ResolveVersion,
	}, nil
}

// Register adds the replicate constructor to f.
func Register(f *provider.Factory) {
	f.Register(Name, func(cfg *provider.Config, log zerolog.Logger) (provider.Provider, error) {
		return New(cfg, log)
	})
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Submit(ctx context.Context, req *models.GenerationRequest) (*models.JobHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	name, version := models.ParseModelID(req.ModelID)
	if version == "" && p.resolveVersion {
		version = p.latestVersion(ctx, name)
	}

	path := "/predictions"
	body := predictionRequest{Version: version, Input: req.Input}
	if version == "" {
		path = "/models/" + name + "/predictions"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	p.logRequest(http.MethodPost, path, payload)

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	p.logResponse(resp.StatusCode(), resp.Body())

	if resp.IsError() {
		return nil, submissionError(resp)
	}

	var pred predictionResponse
	if err := json.Unmarshal(resp.Body(), &pred); err != nil {
		return nil, &provider.MalformedResponseError{Op: "submit", Reason: "body is not JSON", Body: truncate(string(resp.Body()), 200)}
	}
	if pred.ID == "" {
		return nil, &provider.MalformedResponseError{Op: "submit", Reason: "missing prediction id", Body: truncate(string(resp.Body()), 200)}
	}

	status := models.JobStatus(pred.Status)
	if status == "" {
		status = models.StatusStarting
	}

	p.log.Info().
		Str("prediction_id", pred.ID).
		Str("model", req.ModelID).
		Str("family", req.Family.String()).
		Str("status", status.String()).
		Msg("prediction created")

	return &models.JobHandle{ID: pred.ID, Status: status}, nil
}

func (p *Provider) Status(ctx context.Context, jobID string) (*models.JobSnapshot, error) {
	if err := models.ValidateJobID(jobID); err != nil {
		return nil, fmt.Errorf("%w: %q", err, truncate(jobID, 64))
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		Get("/predictions/{id}")
	if err != nil {
		return nil, &provider.StatusCheckError{JobID: jobID, Err: err}
	}

	p.logResponse(resp.StatusCode(), resp.Body())

	if resp.IsError() {
		return nil, &provider.StatusCheckError{
			JobID:      jobID,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("%s", errorDetail(resp.Body())),
		}
	}

	var pred predictionResponse
	if err := json.Unmarshal(resp.Body(), &pred); err != nil {
		return nil, &provider.MalformedResponseError{Op: "status", Reason: "body is not JSON", Body: truncate(string(resp.Body()), 200)}
	}

	id := pred.ID
	if id == "" {
		id = jobID
	}

	return &models.JobSnapshot{
		ID:     id,
		Status: models.JobStatus(pred.Status),
		Output: pred.Output,
		Error:  errorText(pred.Error),
	}, nil
}

// latestVersion returns "" when the lookup fails so the caller falls back to
// the model endpoint.
func (p *Provider) latestVersion(ctx context.Context, name string) string {
	resp, err := p.client.R().
		SetContext(ctx).
		Get("/models/" + name)
	if err != nil {
		p.log.Warn().Err(err).Str("model", name).Msg("could not fetch model version, using model endpoint")
		return ""
	}

	var model modelResponse
	if resp.IsError() || json.Unmarshal(resp.Body(), &model) != nil || model.LatestVersion == nil || model.LatestVersion.ID == "" {
		p.log.Warn().Int("status", resp.StatusCode()).Str("model", name).Msg("model has no resolvable version, using model endpoint")
		return ""
	}

	p.log.Debug().Str("model", name).Str("version", model.LatestVersion.ID).Msg("resolved model version")
	return model.LatestVersion.ID
}

func submissionError(resp *resty.Response) *provider.SubmissionError {
	body := resp.Body()

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	retryAfter := defaultRetryAfter
	switch {
	case apiErr.RetryAfter != nil && *apiErr.RetryAfter > 0:
		retryAfter = time.Duration(*apiErr.RetryAfter * float64(time.Second))
	case resp.Header().Get("Retry-After") != "":
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return provider.NewSubmissionError(resp.StatusCode(), truncate(string(body), 500), errorDetail(body), retryAfter)
}

func errorDetail(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return truncate(strings.TrimSpace(string(body)), 200)
	}
	for _, s := range []string{apiErr.Detail, apiErr.Error, apiErr.Title} {
		if s != "" {
			return s
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// errorText flattens the prediction "error" field, which is usually a string
// but may be any JSON value.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (p *Provider) logRequest(method, path string, body []byte) {
	if !p.verbose {
		return
	}
	p.log.Debug().
		Str("method", method).
		Str("url", p.client.BaseURL+path).
		Str("authorization", "Token [REDACTED]").
		RawJSON("body", truncateDataURIs(body)).
		Msg("request")
}

func (p *Provider) logResponse(statusCode int, body []byte) {
	if !p.verbose {
		return
	}
	ev := p.log.Debug().Int("status", statusCode)
	if json.Valid(body) {
		ev = ev.RawJSON("body", truncateDataURIs(body))
	} else {
		ev = ev.Str("body", truncate(string(body), 500))
	}
	ev.Msg("response")
}

func truncateDataURIs(body []byte) []byte {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	data = truncateValue(data)

	result, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return result
}

func truncateValue(v any) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "data:") && len(val) > 100 {
			return val[:100] + "... [truncated]"
		}
	case map[string]any:
		for k, item := range val {
			val[k] = truncateValue(item)
		}
	case []any:
		for i, item := range val {
			val[i] = truncateValue(item)
		}
	}
	return v
}

// truncate shortens s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
