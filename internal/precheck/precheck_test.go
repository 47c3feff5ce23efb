package precheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manash/cardgen/internal/security"
	"github.com/manash/cardgen/pkg/models"
)

func TestAssertReachable(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErr    bool
		wantStatus int
	}{
		{"partial content", http.StatusPartialContent, false, 0},
		{"ok", http.StatusOK, false, 0},
		{"not found", http.StatusNotFound, true, http.StatusNotFound},
		{"forbidden", http.StatusForbidden, true, http.StatusForbidden},
		{"range not satisfiable", http.StatusRequestedRangeNotSatisfiable, true, http.StatusRequestedRangeNotSatisfiable},
		{"server error", http.StatusBadGateway, true, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %s, want GET", r.Method)
				}
				if got := r.Header.Get("Range"); got != "bytes=0-0" {
					t.Errorf("Range = %q, want bytes=0-0", got)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte{0xff})
			}))
			defer server.Close()

			err := New(time.Second).AssertReachable(context.Background(), server.URL+"/img/newyear.jpeg")
			if !tt.wantErr {
				if err != nil {
					t.Errorf("AssertReachable() error = %v", err)
				}
				return
			}

			var unreachable *UnreachableError
			if !errors.As(err, &unreachable) {
				t.Fatalf("AssertReachable() error = %v, want *UnreachableError", err)
			}
			if unreachable.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", unreachable.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestAssertReachable_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := New(time.Second).AssertReachable(context.Background(), url)

	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("AssertReachable() error = %v, want *UnreachableError", err)
	}
	if unreachable.Err == nil {
		t.Error("UnreachableError.Err should carry the transport error")
	}
}

func TestAssertReachable_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	start := time.Now()
	err := New(50 * time.Millisecond).AssertReachable(context.Background(), server.URL)
	if err == nil {
		t.Fatal("AssertReachable() expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("AssertReachable() took %v, transport timeout not applied", time.Since(start))
	}
}

func TestAssertReachable_Policy(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer server.Close()

	c := New(time.Second, WithPolicy(&security.Policy{RequireHTTPS: true}))
	err := c.AssertReachable(context.Background(), server.URL)
	if !errors.Is(err, security.ErrInvalidScheme) {
		t.Errorf("AssertReachable() error = %v, want ErrInvalidScheme", err)
	}
	if hits != 0 {
		t.Errorf("server received %d requests, want 0", hits)
	}
}

func TestAssertReachable_RedirectRevalidated(t *testing.T) {
	var internalHits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		internalHits.Add(1)
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer internal.Close()

	// same listener, reached through a host name the policy does not allow
	target := strings.Replace(internal.URL, "127.0.0.1", "localhost", 1) + "/latest/meta-data"
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}))
	defer front.Close()

	policy := &security.Policy{AllowPrivate: true, AllowedHosts: []string{"127.0.0.1"}}
	err := New(time.Second, WithPolicy(policy)).AssertReachable(context.Background(), front.URL+"/me.jpg")

	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("AssertReachable() error = %v, want *UnreachableError", err)
	}
	if !errors.Is(err, security.ErrUntrustedHost) {
		t.Errorf("AssertReachable() error = %v, want ErrUntrustedHost", err)
	}
	if n := internalHits.Load(); n != 0 {
		t.Errorf("redirect target received %d requests, want 0", n)
	}
}

func TestAssertReachable_RedirectFollowed(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer final.Close()
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/me.jpg", http.StatusFound)
	}))
	defer front.Close()

	policy := &security.Policy{AllowPrivate: true}
	if err := New(time.Second, WithPolicy(policy)).AssertReachable(context.Background(), front.URL); err != nil {
		t.Errorf("AssertReachable() error = %v", err)
	}
}

func TestAssertReachable_RedirectLoop(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/again", http.StatusFound)
	}))
	defer server.Close()

	if err := New(time.Second).AssertReachable(context.Background(), server.URL); err == nil {
		t.Fatal("AssertReachable() expected error for redirect loop")
	}
	if n := hits.Load(); n != maxRedirects {
		t.Errorf("server received %d requests, want %d", n, maxRedirects)
	}
}

func TestCheckRedirect_PrivateTarget(t *testing.T) {
	c := New(time.Second, WithPolicy(&security.Policy{}))
	via := []*http.Request{httptest.NewRequest(http.MethodGet, "https://img.example.com/me.jpg", nil)}

	for _, target := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://127.0.0.1:8080/admin",
		"http://10.0.0.5/internal.png",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if err := c.checkRedirect(req, via); !errors.Is(err, security.ErrPrivateIP) {
			t.Errorf("checkRedirect(%s) error = %v, want ErrPrivateIP", target, err)
		}
	}
}

func TestAssertRef(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(time.Second, WithHTTPClient(server.Client()))

	if err := c.AssertRef(context.Background(), models.InlineRef([]byte("x"), "image/png")); err != nil {
		t.Errorf("AssertRef(inline) error = %v, want nil", err)
	}
	if err := c.AssertRef(context.Background(), models.URLRef(server.URL)); err == nil {
		t.Error("AssertRef(404 url) expected error")
	}
}
