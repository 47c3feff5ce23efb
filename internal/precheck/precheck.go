// Package precheck verifies that image URLs are fetchable before a billable
// job is submitted with them.
package precheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/security"
	"github.com/manash/cardgen/pkg/models"
)

const (
	defaultTimeout = 10 * time.Second
	maxRedirects   = 5
)

// UnreachableError reports a URL that failed the first-byte fetch. Either
// StatusCode or Err is set.
type UnreachableError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UnreachableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("URL not reachable: %s (%v)", e.URL, e.Err)
	}
	return fmt.Sprintf("URL not reachable: %s (status %d)", e.URL, e.StatusCode)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

type Option func(*Checker)

// WithPolicy rejects URLs the policy does not allow before any request is made.
func WithPolicy(p *security.Policy) Option {
	return func(c *Checker) {
		c.policy = p
	}
}

// WithHTTPClient replaces the transport client. Its redirect policy is
// replaced so every hop is validated.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		c.httpClient = client
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Checker) {
		c.log = log.With().Str("component", "precheck").Logger()
	}
}

type Checker struct {
	httpClient *http.Client
	policy     *security.Policy
	log        zerolog.Logger
}

func New(timeout time.Duration, opts ...Option) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Checker{
		httpClient: &http.Client{Timeout: timeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	client := *c.httpClient
	client.CheckRedirect = c.checkRedirect
	c.httpClient = &client
	return c
}

// checkRedirect applies the policy to every redirect target, so a public URL
// cannot bounce the fetch to an internal address.
func (c *Checker) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if err := c.policy.Validate(req.Context(), req.URL.String()); err != nil {
		c.log.Warn().Err(err).Str("url", req.URL.Redacted()).Msg("redirect rejected")
		return err
	}
	return nil
}

// AssertReachable fetches only the first byte of url and accepts any 2xx
// answer, including 206 Partial Content.
func (c *Checker) AssertReachable(ctx context.Context, url string) error {
	if err := c.policy.Validate(ctx, url); err != nil {
		return &UnreachableError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &UnreachableError{URL: url, Err: err}
	}
	req.Header.Set("Range", "bytes=0-0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("precheck failed")
		return &UnreachableError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	c.log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("precheck")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UnreachableError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// AssertRef prechecks URL refs; inline refs carry their bytes and pass.
func (c *Checker) AssertRef(ctx context.Context, ref models.ImageRef) error {
	if !ref.IsURL() {
		return nil
	}
	return c.AssertReachable(ctx, ref.String())
}
