package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ReplicateFilesBackend uploads through the provider's Files API. The
// returned URLs need the provider's credentials to fetch.
type ReplicateFilesBackend struct {
	client *resty.Client
	log    zerolog.Logger
}

type replicateFile struct {
	ID   string `json:"id"`
	URLs struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// NewReplicateFilesBackend expects an authenticated client whose base URL
// points at the API root.
func NewReplicateFilesBackend(client *resty.Client, log zerolog.Logger) *ReplicateFilesBackend {
	return &ReplicateFilesBackend{
		client: client,
		log:    log.With().Str("component", "replicate-files").Logger(),
	}
}

func (b *ReplicateFilesBackend) Name() string {
	return "replicate"
}

func (b *ReplicateFilesBackend) Put(ctx context.Context, u *Upload) (*Location, error) {
	filename := u.Filename
	if filename == "" {
		filename = u.Key
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetMultipartField("content", filename, u.ContentType, bytes.NewReader(u.Data)).
		SetMultipartFormData(map[string]string{
			"type": u.ContentType,
		}).
		Post("/files")
	if err != nil {
		return nil, &StorageError{Backend: b.Name(), Op: "put", Err: err}
	}
	if resp.IsError() {
		return nil, &StorageError{
			Backend:    b.Name(),
			Op:         "put",
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("files API rejected upload: %s", truncateBody(resp.Body())),
		}
	}

	var file replicateFile
	if err := json.Unmarshal(resp.Body(), &file); err != nil {
		return nil, &StorageError{Backend: b.Name(), Op: "decode", StatusCode: resp.StatusCode(), Err: err}
	}
	if file.URLs.Get == "" {
		return nil, &StorageError{
			Backend:    b.Name(),
			Op:         "decode",
			StatusCode: resp.StatusCode(),
			Err:        errors.New("response has no urls.get"),
		}
	}

	b.log.Debug().Str("file_id", file.ID).Msg("file uploaded")
	return &Location{URL: file.URLs.Get, ProviderHosted: true}, nil
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "..."
}
