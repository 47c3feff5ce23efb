package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var (
	jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)
	pngData  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
)

type fakeBackend struct {
	mu      sync.Mutex
	uploads []*Upload
	err     error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Put(_ context.Context, u *Upload) (*Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.uploads = append(f.uploads, u)
	return &Location{URL: "https://store/" + u.Key}, nil
}

func TestClient_Store(t *testing.T) {
	fb := &fakeBackend{}
	c := NewClient(fb, Options{TTL: time.Minute}, zerolog.Nop())

	before := time.Now()
	obj, err := c.Store(context.Background(), jpegData, "me.jpg", "")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if obj.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", obj.ContentType)
	}
	if !strings.HasPrefix(obj.Key, "uploads/") || !strings.HasSuffix(obj.Key, ".jpg") {
		t.Errorf("Key = %q, want uploads/<id>.jpg", obj.Key)
	}
	if obj.URL != "https://store/"+obj.Key {
		t.Errorf("URL = %q", obj.URL)
	}
	if obj.Size != int64(len(jpegData)) {
		t.Errorf("Size = %d, want %d", obj.Size, len(jpegData))
	}
	if obj.ExpiresAt.Before(before.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want at least %v", obj.ExpiresAt, before.Add(time.Minute))
	}
	if len(fb.uploads) != 1 || fb.uploads[0].Filename != "me.jpg" {
		t.Errorf("backend uploads = %+v", fb.uploads)
	}
}

func TestClient_StoreSniffsOverDeclaredType(t *testing.T) {
	c := NewClient(&fakeBackend{}, Options{}, zerolog.Nop())

	obj, err := c.Store(context.Background(), pngData, "photo.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if obj.ContentType != "image/png" || !strings.HasSuffix(obj.Key, ".png") {
		t.Errorf("got %q %q, want sniffed png", obj.ContentType, obj.Key)
	}
}

func TestClient_StoreSniffsGenericDeclaredType(t *testing.T) {
	c := NewClient(&fakeBackend{}, Options{}, zerolog.Nop())

	for _, declared := range []string{"", "application/octet-stream", "image/png; charset=binary"} {
		obj, err := c.Store(context.Background(), jpegData, "photo", declared)
		if err != nil {
			t.Fatalf("Store(%q) error = %v", declared, err)
		}
		if obj.ContentType != "image/jpeg" {
			t.Errorf("Store(%q) ContentType = %q, want image/jpeg", declared, obj.ContentType)
		}
	}
}

func TestTruncateBody(t *testing.T) {
	body := []byte(strings.Repeat("a", 199) + "ééé")
	got := truncateBody(body)
	if got != strings.Repeat("a", 199)+"..." {
		t.Errorf("truncateBody() = %q", got)
	}
}

func TestClient_StoreRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		max  int64
		want error
	}{
		{"empty", nil, 0, ErrEmpty},
		{"too large", jpegData, 10, ErrTooLarge},
		{"not an image", []byte("hello, this is plain text"), 0, ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{}
			c := NewClient(fb, Options{MaxBytes: tt.max}, zerolog.Nop())

			_, err := c.Store(context.Background(), tt.data, "x", "image/jpeg")
			if !errors.Is(err, tt.want) {
				t.Fatalf("Store() error = %v, want %v", err, tt.want)
			}
			var se *StorageError
			if !errors.As(err, &se) || se.Op != "validate" {
				t.Errorf("error = %#v, want StorageError with Op validate", err)
			}
			if len(fb.uploads) != 0 {
				t.Error("rejected upload reached the backend")
			}
		})
	}
}

func TestClient_StoreBackendError(t *testing.T) {
	c := NewClient(&fakeBackend{err: errors.New("disk full")}, Options{}, zerolog.Nop())

	_, err := c.Store(context.Background(), jpegData, "", "")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StorageError", err)
	}
	if se.Backend != "fake" || se.Op != "put" {
		t.Errorf("StorageError = %+v", se)
	}
}

func TestClient_Unsupported(t *testing.T) {
	c := NewClient(&fakeBackend{}, Options{}, zerolog.Nop())

	if _, err := c.Prune(context.Background(), time.Hour); !errors.Is(err, ErrPruneUnsupported) {
		t.Errorf("Prune() error = %v", err)
	}
	if _, _, err := c.Open("uploads/a.jpg"); !errors.Is(err, ErrOpenUnsupported) {
		t.Errorf("Open() error = %v", err)
	}
}

func TestNewKeyID(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewKeyID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		if id != strings.ToLower(id) {
			t.Errorf("id %q is not lowercase", id)
		}
		if prev != "" && id <= prev {
			t.Errorf("id %q does not sort after %q", id, prev)
		}
		seen[id] = true
		prev = id
	}

	ts, ok := KeyTime("uploads/" + prev + ".jpg")
	if !ok {
		t.Fatal("KeyTime() could not parse generated key")
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("KeyTime() = %v, too old", ts)
	}
	if _, ok := KeyTime("uploads/not-a-ulid.jpg"); ok {
		t.Error("KeyTime() accepted an invalid key")
	}
}

func TestLocalBackend(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalBackend(dir, "http://localhost:3001/api/temp-images/", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	c := NewClient(b, Options{}, zerolog.Nop())

	obj, err := c.Store(context.Background(), jpegData, "me.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if want := "http://localhost:3001/api/temp-images/" + obj.Key; obj.URL != want {
		t.Errorf("URL = %q, want %q", obj.URL, want)
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(obj.Key)))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(onDisk) != string(jpegData) {
		t.Error("stored bytes differ")
	}

	rc, _, err := c.Open(obj.Key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != string(jpegData) {
		t.Error("opened bytes differ")
	}

	if _, _, err := c.Open("uploads/missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
	if _, _, err := c.Open("../etc/passwd"); err == nil {
		t.Error("Open() accepted a traversal key")
	}
}

func TestLocalBackend_Prune(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalBackend(dir, "http://x", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	oldPath := filepath.Join(dir, "uploads", "old.jpg")
	newPath := filepath.Join(dir, "uploads", "new.jpg")
	if err := os.MkdirAll(filepath.Dir(oldPath), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{oldPath, newPath} {
		if err := os.WriteFile(p, jpegData, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := b.Prune(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old file still present")
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Error("new file was removed")
	}
}

func TestNewLocalBackend_EmptyPath(t *testing.T) {
	if _, err := NewLocalBackend("  ", "http://x", zerolog.Nop()); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestReplicateFilesBackend(t *testing.T) {
	var gotAuth, gotName, gotType string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/files" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		file, header, err := r.FormFile("content")
		if err != nil {
			t.Errorf("FormFile(content) error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotType, _, _ = mime.ParseMediaType(header.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"file_1","urls":{"get":"https://api.replicate.com/v1/files/file_1"}}`))
	}))
	defer server.Close()

	client := resty.New().SetBaseURL(server.URL).SetHeader("Authorization", "Token r8_test")
	c := NewClient(NewReplicateFilesBackend(client, zerolog.Nop()), Options{}, zerolog.Nop())

	obj, err := c.Store(context.Background(), pngData, "card.png", "image/png")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if obj.URL != "https://api.replicate.com/v1/files/file_1" {
		t.Errorf("URL = %q", obj.URL)
	}
	if !obj.ProviderHosted {
		t.Error("ProviderHosted = false, want true")
	}
	if gotAuth != "Token r8_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotName != "card.png" || gotType != "image/png" {
		t.Errorf("part = %q %q", gotName, gotType)
	}
	if string(gotBody) != string(pngData) {
		t.Error("uploaded bytes differ")
	}
}

func TestReplicateFilesBackend_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"bad token"}`, http.StatusUnauthorized},
		{"no url", http.StatusCreated, `{"id":"file_1","urls":{}}`, http.StatusCreated},
		{"not json", http.StatusCreated, `<html>`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(NewReplicateFilesBackend(resty.New().SetBaseURL(server.URL), zerolog.Nop()), Options{}, zerolog.Nop())
			_, err := c.Store(context.Background(), pngData, "x.png", "")

			var se *StorageError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want StorageError", err)
			}
			if se.Backend != "replicate" || se.StatusCode != tt.wantStatus {
				t.Errorf("StorageError = %+v", se)
			}
		})
	}
}

func TestS3Backend(t *testing.T) {
	var gotPath, gotType, gotExpires string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotExpires = r.Header.Get("Expires")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b, err := NewS3Backend(context.Background(), S3Config{
		Endpoint:        server.URL,
		PublicEndpoint:  "https://cdn.example.com/cards",
		Region:          "us-east-1",
		Bucket:          "cards",
		AccessKeyID:     "test",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewS3Backend() error = %v", err)
	}

	c := NewClient(b, Options{}, zerolog.Nop())
	obj, err := c.Store(context.Background(), jpegData, "me.jpg", "")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if gotPath != "/cards/"+obj.Key {
		t.Errorf("path = %q, want /cards/%s", gotPath, obj.Key)
	}
	if gotType != "image/jpeg" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotExpires == "" {
		t.Error("Expires header not sent")
	}
	if string(gotBody) != string(jpegData) {
		t.Error("uploaded bytes differ")
	}
	if obj.URL != "https://cdn.example.com/cards/"+obj.Key {
		t.Errorf("URL = %q", obj.URL)
	}
}

func TestS3Backend_PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{
			name: "public endpoint",
			cfg:  S3Config{Bucket: "b", PublicEndpoint: "https://cdn.example.com/"},
			want: "https://cdn.example.com/uploads/a.jpg",
		},
		{
			name: "path style endpoint",
			cfg:  S3Config{Bucket: "b", Endpoint: "http://minio:9000", UsePathStyle: true},
			want: "http://minio:9000/b/uploads/a.jpg",
		},
		{
			name: "virtual host endpoint",
			cfg:  S3Config{Bucket: "b", Endpoint: "https://r2.example.com"},
			want: "https://b.r2.example.com/uploads/a.jpg",
		},
		{
			name: "aws default",
			cfg:  S3Config{Bucket: "b", Region: "eu-west-1"},
			want: "https://b.s3.eu-west-1.amazonaws.com/uploads/a.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &S3Backend{cfg: tt.cfg}
			if got := b.PublicURL("uploads/a.jpg"); got != tt.want {
				t.Errorf("PublicURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
