package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/security"
)

// LocalBackend keeps objects on disk. The HTTP server serves them, so the
// public URL is baseURL + "/" + key.
type LocalBackend struct {
	root    string
	baseURL string
	log     zerolog.Logger
}

func NewLocalBackend(root, baseURL string, log zerolog.Logger) (*LocalBackend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("local storage path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local storage directory: %w", err)
	}

	b := &LocalBackend{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("component", "local-storage").Logger(),
	}
	b.log.Info().Str("path", root).Str("base_url", b.baseURL).Msg("local storage initialized")
	return b, nil
}

func (b *LocalBackend) Name() string {
	return "local"
}

func (b *LocalBackend) Root() string {
	return b.root
}

func (b *LocalBackend) Put(ctx context.Context, u *Upload) (*Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := b.path(u.Key)
	if err != nil {
		return nil, &StorageError{Backend: b.Name(), Op: "put", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, u.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &Location{URL: b.baseURL + "/" + u.Key}, nil
}

func (b *LocalBackend) Open(key string) (io.ReadSeekCloser, time.Time, error) {
	full, err := b.path(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, time.Time{}, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, info.ModTime(), nil
}

// Prune deletes files last modified more than olderThan ago and returns how
// many were removed.
func (b *LocalBackend) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			b.log.Warn().Err(err).Str("path", p).Msg("failed to remove expired file")
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("prune %s: %w", b.root, err)
	}

	b.log.Info().Int("removed", removed).Dur("older_than", olderThan).Msg("pruned local storage")
	return removed, nil
}

func (b *LocalBackend) path(key string) (string, error) {
	if err := security.ValidateObjectKey(key); err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}
