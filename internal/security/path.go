package security

import (
	"errors"
	"path"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrEmptyKey      = errors.New("object key is empty")
	ErrHiddenSegment = errors.New("hidden path segments are not allowed")
)

// ValidateObjectKey checks a slash-separated storage key such as
// "uploads/01HX.jpg" before it is joined onto a directory or URL.
func ValidateObjectKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\") {
		return ErrAbsolutePath
	}
	if strings.ContainsAny(key, "\\\x00") {
		return ErrPathTraversal
	}

	for _, seg := range strings.Split(key, "/") {
		switch {
		case seg == "" || seg == ".":
			return ErrPathTraversal
		case seg == "..":
			return ErrPathTraversal
		case strings.HasPrefix(seg, "."):
			return ErrHiddenSegment
		}
	}

	if path.Clean(key) != key {
		return ErrPathTraversal
	}
	return nil
}

// SanitizeFilename turns an arbitrary label (a style id, an uploaded file
// name) into a safe single path segment.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", " ", "_",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
	)
	sanitized := replacer.Replace(name)
	sanitized = strings.TrimLeft(sanitized, ".-_")
	sanitized = strings.TrimRight(sanitized, ". ")

	if sanitized == "" {
		sanitized = "file"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}
