package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewClientDoesNotFollowRedirects(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Location", "/elsewhere")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	client := NewClient(time.Minute)
	resp, err := Get(context.Background(), client, srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302 passed through", resp.StatusCode)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
}

func TestPostFormSendsEncodedBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if got := r.Header.Get("Rest-Key"); got != "k1" {
			t.Errorf("Rest-Key = %q, want k1", got)
		}
		r.ParseForm()
		if got := r.PostForm.Get("client"); got != "lattice" {
			t.Errorf("client = %q, want lattice", got)
		}
	}))
	defer srv.Close()

	form := url.Values{}
	form.Set("client", "lattice")
	headers := http.Header{}
	headers.Set("Rest-Key", "k1")

	resp, err := PostForm(context.Background(), NewClient(time.Minute), srv.URL, form, headers)
	if err != nil {
		t.Fatalf("PostForm: %v", err)
	}
	resp.Body.Close()
}

func TestStreamToFileCreatesParentsAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "artifact.arc")

	n, err := StreamToFile(strings.NewReader("first"), path)
	if err != nil {
		t.Fatalf("StreamToFile: %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5", n)
	}

	if _, err := StreamToFile(strings.NewReader("second write"), path); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "second write" {
		t.Fatalf("contents = %q", got)
	}
}
