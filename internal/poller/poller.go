package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/provider"
	"github.com/manash/cardgen/pkg/models"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 120
)

var ErrJobFailed = errors.New("job did not succeed")

// PollTimeoutError is returned after maxAttempts status queries without
// reaching a terminal state.
type PollTimeoutError struct {
	JobID    string
	Attempts int
	Waited   time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s not finished after %d status checks (%s)", e.JobID, e.Attempts, e.Waited.Round(time.Second))
}

// JobFailedError is returned when the provider reports failed or canceled.
type JobFailedError struct {
	JobID   string
	Status  models.JobStatus
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s %s", e.JobID, e.Status)
	}
	return fmt.Sprintf("job %s %s: %s", e.JobID, e.Status, e.Message)
}

func (e *JobFailedError) Unwrap() error {
	return ErrJobFailed
}

// ResultError converts an unsuccessful terminal result into a JobFailedError.
func ResultError(jobID string, r *models.JobResult) error {
	if r == nil || r.Succeeded() {
		return nil
	}
	return &JobFailedError{JobID: jobID, Status: r.Status, Message: r.ErrorMessage}
}

type Option func(*Poller)

// WithRetryTransient lets transport failures and 5xx status answers consume
// an attempt instead of ending the poll. The wait after such a failure is
// the smaller of the exponential backoff and the poll interval.
func WithRetryTransient() Option {
	return func(p *Poller) {
		p.retryTransient = true
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Poller) {
		p.log = log.With().Str("component", "poller").Logger()
	}
}

// WithObserver is called with the attempt count once a poll ends.
func WithObserver(fn func(attempts int, err error)) Option {
	return func(p *Poller) {
		p.observe = fn
	}
}

type Poller struct {
	fetcher        provider.StatusFetcher
	retryTransient bool
	log            zerolog.Logger
	observe        func(int, error)

	// newTimer is replaced in tests.
	newTimer func(time.Duration) *time.Timer
}

func New(fetcher provider.StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		log:      zerolog.Nop(),
		newTimer: time.NewTimer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll queries the job until it reaches a terminal state. Exactly
// maxAttempts queries are made at most; the upstream job is never canceled.
func (p *Poller) Poll(ctx context.Context, jobID string, interval time.Duration, maxAttempts int) (*models.JobResult, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var bo backoff.BackOff
	if p.retryTransient {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = interval / 10
		eb.MaxInterval = interval
		eb.MaxElapsedTime = 0
		bo = eb
	}

	var waited time.Duration
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := p.Check(ctx, jobID)

		switch {
		case err == nil && result.Status.IsTerminal():
			p.finish(attempt, nil)
			p.log.Debug().Str("job_id", jobID).Int("attempt", attempt).Str("status", result.Status.String()).Msg("job finished")
			return result, nil
		case err == nil:
			if bo != nil {
				bo.Reset()
			}
		case bo != nil && isTransient(ctx, err):
			p.log.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("status check failed, retrying")
		default:
			p.finish(attempt, err)
			return nil, err
		}

		if attempt == maxAttempts {
			break
		}

		wait := interval
		if err != nil {
			wait = min(bo.NextBackOff(), interval)
		}
		if err := p.sleep(ctx, wait); err != nil {
			p.finish(attempt, err)
			return nil, err
		}
		waited += wait
	}

	timeout := &PollTimeoutError{JobID: jobID, Attempts: maxAttempts, Waited: waited}
	p.finish(maxAttempts, timeout)
	return nil, timeout
}

// Check performs one normalized status query. The result is not terminal
// while the job is still starting or processing.
func (p *Poller) Check(ctx context.Context, jobID string) (*models.JobResult, error) {
	snap, err := p.fetcher.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return Normalize(snap)
}

// Normalize turns a raw snapshot into a JobResult.
func Normalize(snap *models.JobSnapshot) (*models.JobResult, error) {
	if snap == nil {
		return nil, &provider.MalformedResponseError{Op: "status", Reason: "empty status snapshot"}
	}
	switch snap.Status {
	case models.StatusStarting, models.StatusProcessing:
		return &models.JobResult{Status: snap.Status}, nil
	case models.StatusFailed, models.StatusCanceled:
		msg := snap.Error
		if msg == "" {
			msg = "job " + snap.Status.String()
		}
		return &models.JobResult{Status: snap.Status, ErrorMessage: msg}, nil
	case models.StatusSucceeded:
		url, err := normalizeOutput(snap.Output)
		if err != nil {
			return nil, err
		}
		return &models.JobResult{Status: models.StatusSucceeded, ImageURL: url}, nil
	default:
		return nil, &provider.MalformedResponseError{Op: "status", Reason: fmt.Sprintf("unknown status %q", snap.Status)}
	}
}

// normalizeOutput accepts a single URL string or a list whose first element
// is a URL string.
func normalizeOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", &provider.MalformedResponseError{Op: "status", Reason: "succeeded without output"}
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return "", &provider.MalformedResponseError{Op: "status", Reason: "empty output"}
		}
		return single, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", &provider.MalformedResponseError{Op: "status", Reason: "empty output list"}
		}
		var first string
		if err := json.Unmarshal(list[0], &first); err != nil || first == "" {
			return "", &provider.MalformedResponseError{Op: "status", Reason: "first output is not a URL"}
		}
		return first, nil
	}

	return "", &provider.MalformedResponseError{Op: "status", Reason: "unexpected output shape", Body: truncate(string(raw), 200)}
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var checkErr *provider.StatusCheckError
	if errors.As(err, &checkErr) {
		return checkErr.Temporary()
	}
	return false
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	timer := p.newTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Poller) finish(attempts int, err error) {
	if p.observe != nil {
		p.observe(attempts, err)
	}
}

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
