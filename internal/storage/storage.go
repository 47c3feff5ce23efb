package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/metrics"
)

const (
	DefaultMaxBytes = 10 << 20
	DefaultTTL      = 10 * time.Minute
	DefaultTimeout  = 30 * time.Second
	DefaultPrefix   = "uploads"
)

var (
	ErrEmpty            = errors.New("image data is empty")
	ErrTooLarge         = errors.New("image exceeds maximum size")
	ErrUnsupportedType  = errors.New("content is not an image")
	ErrNotFound         = errors.New("object not found")
	ErrPruneUnsupported = errors.New("backend does not support pruning")
	ErrOpenUnsupported  = errors.New("backend does not serve objects")
)

// StorageError reports a rejected or failed store call. Validation failures
// use Op "validate".
type StorageError struct {
	Backend    string
	Op         string
	StatusCode int
	Err        error
}

func (e *StorageError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s storage %s failed with status %d: %v", e.Backend, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s storage %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Object is a stored image. ExpiresAt is the declared lifetime; removal is
// left to the backend's retention policy or to Prune.
type Object struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
	// ProviderHosted objects live on the generation provider and are only
	// fetchable with its credentials.
	ProviderHosted bool `json:"-"`
}

// Upload is validated input ready for a backend.
type Upload struct {
	Key         string
	Filename    string
	ContentType string
	Data        []byte
	ExpiresAt   time.Time
}

type Location struct {
	URL            string
	ProviderHosted bool
}

// Backend is one storage transport.
type Backend interface {
	Name() string
	Put(ctx context.Context, u *Upload) (*Location, error)
}

type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

type opener interface {
	Open(key string) (io.ReadSeekCloser, time.Time, error)
}

type Options struct {
	MaxBytes int64
	TTL      time.Duration
	Timeout  time.Duration
	Prefix   string
}

// Client validates and names uploads, then hands them to a Backend.
type Client struct {
	backend Backend
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

func NewClient(b Backend, opts Options, log zerolog.Logger) *Client {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Client{
		backend: b,
		opts:    opts,
		log:     log.With().Str("component", "storage").Str("backend", b.Name()).Logger(),
		now:     time.Now,
	}
}

func (c *Client) Backend() string {
	return c.backend.Name()
}

// WithPrefix returns a client that stores under a different key prefix.
func (c *Client) WithPrefix(prefix string) *Client {
	cp := *c
	cp.opts.Prefix = prefix
	return &cp
}

// Store persists data and returns its public location. It is never retried.
func (c *Client) Store(ctx context.Context, data []byte, filename, contentType string) (*Object, error) {
	u, err := c.prepare(data, filename, contentType)
	if err != nil {
		metrics.RecordUpload(c.backend.Name(), "rejected", 0)
		return nil, &StorageError{Backend: c.backend.Name(), Op: "validate", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := c.now()
	loc, err := c.backend.Put(ctx, u)
	if err != nil {
		metrics.RecordUpload(c.backend.Name(), "error", 0)
		c.log.Error().Err(err).Str("key", u.Key).Msg("upload failed")
		var se *StorageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &StorageError{Backend: c.backend.Name(), Op: "put", Err: err}
	}

	metrics.RecordUpload(c.backend.Name(), "success", int64(len(u.Data)))
	c.log.Info().
		Str("key", u.Key).
		Str("content_type", u.ContentType).
		Int("size", len(u.Data)).
		Dur("elapsed", c.now().Sub(start)).
		Msg("image stored")

	return &Object{
		Key:            u.Key,
		URL:            loc.URL,
		ContentType:    u.ContentType,
		Size:           int64(len(u.Data)),
		ExpiresAt:      u.ExpiresAt,
		ProviderHosted: loc.ProviderHosted,
	}, nil
}

// Prune removes objects older than olderThan on backends that keep them
// locally.
func (c *Client) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	p, ok := c.backend.(pruner)
	if !ok {
		return 0, ErrPruneUnsupported
	}
	return p.Prune(ctx, olderThan)
}

func (c *Client) Open(key string) (io.ReadSeekCloser, time.Time, error) {
	o, ok := c.backend.(opener)
	if !ok {
		return nil, time.Time{}, ErrOpenUnsupported
	}
	return o.Open(key)
}

func (c *Client) prepare(data []byte, filename, contentType string) (*Upload, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > c.opts.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, len(data), c.opts.MaxBytes)
	}

	// the declared type is only reported; the bytes decide
	detected := mimetype.Detect(data)
	ct := detected.String()
	ext := detected.Extension()
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: detected %s (declared %q)", ErrUnsupportedType, ct, contentType)
	}
	// parameters such as charset are never meaningful for images
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ext == "" {
		ext = ".img"
	}

	return &Upload{
		Key:         c.opts.Prefix + "/" + NewKeyID() + ext,
		Filename:    filename,
		ContentType: ct,
		Data:        data,
		ExpiresAt:   c.now().Add(c.opts.TTL),
	}, nil
}
