package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{StatusStarting, false},
		{StatusProcessing, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("JobStatus.IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   bool
	}{
		{"starting", StatusStarting, true},
		{"succeeded", StatusSucceeded, true},
		{"unknown", JobStatus("queued"), false},
		{"empty", JobStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.want {
				t.Errorf("JobStatus.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestImageRef(t *testing.T) {
	t.Run("url", func(t *testing.T) {
		ref := URLRef(" https://store/abc.jpg ")
		if !ref.IsURL() || ref.IsInline() || ref.IsZero() {
			t.Errorf("URLRef kind = %v, want url", ref.Kind())
		}
		if ref.String() != "https://store/abc.jpg" {
			t.Errorf("URLRef().String() = %q", ref.String())
		}
	})

	t.Run("inline", func(t *testing.T) {
		ref := InlineRef([]byte("abc"), "image/png")
		if !ref.IsInline() || ref.IsURL() {
			t.Errorf("InlineRef kind = %v, want inline", ref.Kind())
		}
		if ref.String() != "data:image/png;base64,YWJj" {
			t.Errorf("InlineRef().String() = %q", ref.String())
		}
		if strings.Contains(ref.Redacted(), "YWJj") {
			t.Errorf("Redacted() leaked payload: %q", ref.Redacted())
		}
	})

	t.Run("inline default content type", func(t *testing.T) {
		ref := InlineRef([]byte{1}, "")
		if !strings.HasPrefix(ref.String(), "data:image/jpeg;base64,") {
			t.Errorf("InlineRef().String() = %q", ref.String())
		}
	})

	t.Run("zero", func(t *testing.T) {
		var ref ImageRef
		if !ref.IsZero() {
			t.Error("zero ImageRef should report IsZero")
		}
		if ref.Kind().String() != "none" {
			t.Errorf("Kind() = %v, want none", ref.Kind())
		}
	})

	t.Run("marshal", func(t *testing.T) {
		b, err := json.Marshal(URLRef("https://a/b.png"))
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if string(b) != `"https://a/b.png"` {
			t.Errorf("Marshal() = %s", b)
		}
	})
}

func TestParseImageRef(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    RefKind
		wantErr bool
	}{
		{"https", "https://store/abc.jpg", RefURL, false},
		{"http", "http://localhost/a.png", RefURL, false},
		{"data uri", "data:image/png;base64,AAAA", RefInline, false},
		{"relative", "/img/newyear.jpeg", RefNone, true},
		{"empty", "", RefNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseImageRef(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseImageRef() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidImageRef) {
					t.Errorf("ParseImageRef() error = %v, want ErrInvalidImageRef", err)
				}
				return
			}
			if got.Kind() != tt.want {
				t.Errorf("ParseImageRef() kind = %v, want %v", got.Kind(), tt.want)
			}
		})
	}
}

func TestGenerationRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  GenerationRequest
		want error
	}{
		{
			name: "valid",
			req:  GenerationRequest{ModelID: "google/nano-banana-pro", Prompt: "p", UserImage: URLRef("https://a/b.jpg")},
		},
		{
			name: "missing model",
			req:  GenerationRequest{Prompt: "p", UserImage: URLRef("https://a/b.jpg")},
			want: ErrEmptyModelID,
		},
		{
			name: "blank prompt",
			req:  GenerationRequest{ModelID: "m", Prompt: "   ", UserImage: URLRef("https://a/b.jpg")},
			want: ErrEmptyPrompt,
		},
		{
			name: "no user image",
			req:  GenerationRequest{ModelID: "m", Prompt: "p"},
			want: ErrNoUserImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseModelID(t *testing.T) {
	tests := []struct {
		id          string
		wantName    string
		wantVersion string
	}{
		{"google/nano-banana-pro", "google/nano-banana-pro", ""},
		{"stability-ai/sdxl:39ed52f2", "stability-ai/sdxl", "39ed52f2"},
		{" owner/model:v1 ", "owner/model", "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			name, version := ParseModelID(tt.id)
			if name != tt.wantName || version != tt.wantVersion {
				t.Errorf("ParseModelID() = (%q, %q), want (%q, %q)", name, version, tt.wantName, tt.wantVersion)
			}
		})
	}
}

func TestPhoto_Validate(t *testing.T) {
	var nilPhoto *Photo
	if err := nilPhoto.Validate(); !errors.Is(err, ErrNoPhotoData) {
		t.Errorf("nil Photo.Validate() = %v, want ErrNoPhotoData", err)
	}
	if err := (&Photo{}).Validate(); !errors.Is(err, ErrNoPhotoData) {
		t.Errorf("empty Photo.Validate() = %v, want ErrNoPhotoData", err)
	}
	if err := (&Photo{Data: []byte{0xff}}).Validate(); err != nil {
		t.Errorf("Photo.Validate() = %v, want nil", err)
	}
}

func TestJobResult_Succeeded(t *testing.T) {
	var nilResult *JobResult
	if nilResult.Succeeded() {
		t.Error("nil JobResult should not report success")
	}
	if !(&JobResult{Status: StatusSucceeded}).Succeeded() {
		t.Error("succeeded JobResult should report success")
	}
	if (&JobResult{Status: StatusFailed}).Succeeded() {
		t.Error("failed JobResult should not report success")
	}
}

func TestValidateJobID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"pred_1", false},
		{"ufawqhfynnddngldkgtslldrkq", false},
		{"abc-DEF-123", false},
		{"", true},
		{"../account", true},
		{"x?redirect=1", true},
		{"a/b", true},
		{"a%2Fb", true},
		{"a b", true},
		{"résumé", true},
		{strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateJobID(tt.id)
			if tt.wantErr && !errors.Is(err, ErrInvalidJobID) {
				t.Errorf("ValidateJobID(%q) error = %v, want ErrInvalidJobID", tt.id, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateJobID(%q) error = %v", tt.id, err)
			}
		})
	}
}
