// Package image reads user photos from disk and saves generated cards.
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/manash/cardgen/internal/security"
	"github.com/manash/cardgen/pkg/models"
)

const (
	DefaultMaxBytes = 10 << 20
	maxResultBytes  = 50 << 20
)

var (
	ErrNotImage = errors.New("file is not an image")
	ErrTooLarge = errors.New("file is too large")
)

// LoadPhoto reads a photo and sniffs its content type.
func LoadPhoto(path string, maxBytes int64) (*models.Photo, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, path, maxBytes)
	}
	if len(data) == 0 {
		return nil, models.ErrNoPhotoData
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotImage, path, mt.String())
	}

	return &models.Photo{
		Data:        data,
		Filename:    filepath.Base(path),
		ContentType: mt.String(),
	}, nil
}

// Saver downloads result images to disk.
type Saver struct {
	httpClient *http.Client
}

func NewSaver() *Saver {
	return &Saver{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Save downloads url into path. When path has no extension one is added
// from the sniffed content type. The written path is returned.
func (s *Saver) Save(ctx context.Context, url, path string) (string, error) {
	data, err := s.download(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}

	if filepath.Ext(path) == "" {
		path += mimetype.Detect(data).Extension()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

func (s *Saver) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxResultBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// OutputPath names a card file for style inside dir, without extension.
func OutputPath(dir, styleID string, t time.Time) string {
	name := fmt.Sprintf("card-%s-%s", security.SanitizeFilename(styleID), t.Format("20060102-150405"))
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}
