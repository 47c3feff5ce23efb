package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateObjectKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"upload key", "uploads/01HX3Q5V6ZQ2.jpg", nil},
		{"reference key", "references/newyear.jpeg", nil},
		{"empty", "", ErrEmptyKey},
		{"absolute", "/etc/passwd", ErrAbsolutePath},
		{"parent", "../secret.jpg", ErrPathTraversal},
		{"parent in middle", "uploads/../../etc/passwd", ErrPathTraversal},
		{"double slash", "uploads//a.jpg", ErrPathTraversal},
		{"trailing slash", "uploads/", ErrPathTraversal},
		{"backslash", "uploads\\a.jpg", ErrPathTraversal},
		{"dot segment", "./a.jpg", ErrPathTraversal},
		{"hidden file", "uploads/.env", ErrHiddenSegment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObjectKey(tt.key)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateObjectKey(%q) error = %v, wantErr nil", tt.key, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateObjectKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"style id", "newyear", "newyear"},
		{"slashes", "foo/bar.png", "foo-bar.png"},
		{"spaces", "my photo.jpg", "my_photo.jpg"},
		{"leading dots", "..hidden.png", "hidden.png"},
		{"leading hyphens", "--flag.png", "flag.png"},
		{"trailing dots", "file.png...", "file.png"},
		{"special characters", "file<name>:with*bad?chars.png", "filename-withbadchars.png"},
		{"empty", "...", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	long := strings.Repeat("a", 300)
	if got := SanitizeFilename(long); len(got) != 100 {
		t.Errorf("SanitizeFilename(long) length = %d, want 100", len(got))
	}
}
