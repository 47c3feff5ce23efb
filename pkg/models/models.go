package models

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrEmptyPrompt     = errors.New("prompt cannot be empty")
	ErrNoUserImage     = errors.New("user image is required")
	ErrEmptyModelID    = errors.New("model id cannot be empty")
	ErrInvalidImageRef = errors.New("image reference must be a URL or a data URI")
	ErrNoPhotoData     = errors.New("photo data is required")
	ErrInvalidJobID    = errors.New("job id must be 1-128 letters, digits, '-' or '_'")
)

const maxJobIDLen = 128

type JobStatus string

const (
	StatusStarting   JobStatus = "starting"
	StatusProcessing JobStatus = "processing"
	StatusSucceeded  JobStatus = "succeeded"
	StatusFailed     JobStatus = "failed"
	StatusCanceled   JobStatus = "canceled"
)

func ValidStatuses() []JobStatus {
	return []JobStatus{StatusStarting, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled}
}

func (s JobStatus) IsValid() bool {
	return slices.Contains(ValidStatuses(), s)
}

// IsTerminal reports whether no further transition can occur from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

func (s JobStatus) String() string {
	return string(s)
}

type RefKind int

const (
	RefNone RefKind = iota
	RefURL
	RefInline
)

func (k RefKind) String() string {
	switch k {
	case RefURL:
		return "url"
	case RefInline:
		return "inline"
	default:
		return "none"
	}
}

// ImageRef points at an image either by fetchable URL or by an inline data
// URI. Exactly one representation is set; the zero value is invalid.
type ImageRef struct {
	kind  RefKind
	value string
}

func URLRef(u string) ImageRef {
	return ImageRef{kind: RefURL, value: strings.TrimSpace(u)}
}

// InlineRef encodes data as a base64 data URI.
func InlineRef(data []byte, contentType string) ImageRef {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	uri := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return ImageRef{kind: RefInline, value: uri}
}

// ParseImageRef tags a raw string as URL or inline based on its scheme.
func ParseImageRef(raw string) (ImageRef, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "data:"):
		return ImageRef{kind: RefInline, value: raw}, nil
	case strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		return ImageRef{kind: RefURL, value: raw}, nil
	default:
		return ImageRef{}, fmt.Errorf("%w: %q", ErrInvalidImageRef, truncate(raw, 40))
	}
}

func (r ImageRef) Kind() RefKind  { return r.kind }
func (r ImageRef) IsURL() bool    { return r.kind == RefURL && r.value != "" }
func (r ImageRef) IsInline() bool { return r.kind == RefInline && r.value != "" }
func (r ImageRef) IsZero() bool   { return r.kind == RefNone || r.value == "" }
func (r ImageRef) String() string { return r.value }

// Redacted returns a loggable form that never includes inline payload bytes.
func (r ImageRef) Redacted() string {
	if r.IsInline() {
		return fmt.Sprintf("[data URI, %d chars]", len(r.value))
	}
	return r.value
}

func (r ImageRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.value)
}

// GenerationRequest is the provider-ready description of a single job. Input
// is the exact provider input object, prompt and image fields included.
type GenerationRequest struct {
	ModelID        string
	Family         FamilyTag
	UserImage      ImageRef
	ReferenceImage *ImageRef
	Prompt         string
	Input          map[string]any
}

func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.ModelID) == "" {
		return ErrEmptyModelID
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.UserImage.IsZero() {
		return ErrNoUserImage
	}
	return nil
}

// ValidateJobID rejects ids that could change the meaning of a provider URL
// they are joined into.
func ValidateJobID(id string) error {
	if id == "" || len(id) > maxJobIDLen {
		return ErrInvalidJobID
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ErrInvalidJobID
		}
	}
	return nil
}

type JobHandle struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// JobSnapshot is one raw status observation as reported by the provider.
type JobSnapshot struct {
	ID     string
	Status JobStatus
	Output json.RawMessage
	Error  string
}

type JobResult struct {
	Status       JobStatus `json:"status"`
	ImageURL     string    `json:"image_url,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
}

func (r *JobResult) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

type Photo struct {
	Data        []byte
	Filename    string
	ContentType string
}

func (p *Photo) Validate() error {
	if p == nil || len(p.Data) == 0 {
		return ErrNoPhotoData
	}
	return nil
}

// ParseModelID splits "owner/name:version" into the model path and version.
func ParseModelID(id string) (name, version string) {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
