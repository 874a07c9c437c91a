package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"https://data.example.co.uk/exports/market.txt", "example.co.uk/market.txt"},
		{"http://feeds.dealers.example.com/", "example.com"},
		{"http://localhost:8080/feed.txt", "localhost/feed.txt"},
		{"/var/data/NewCars_20240101.txt", "NewCars_20240101.txt"},
		{"market.txt", "market.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			if got := SourceLabel(tt.location); got != tt.want {
				t.Errorf("SourceLabel(%q) = %q, want %q", tt.location, got, tt.want)
			}
		})
	}
}

func TestIsURL(t *testing.T) {
	tests := map[string]bool{
		"https://example.com/feed.txt": true,
		"http://example.com":           true,
		"ftp://example.com/feed.txt":   false,
		"/tmp/feed.txt":                false,
		"C:\\feeds\\feed.txt":          false,
		"https://":                     false,
	}
	for in, want := range tests {
		if got := IsURL(in); got != want {
			t.Errorf("IsURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpen_File(t *testing.T) {
	name := filepath.Join(t.TempDir(), "feed.txt")
	if err := os.WriteFile(name, []byte("header\nrow\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	src, err := Open(context.Background(), name, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if src.Size != 11 || src.Label != "feed.txt" {
		t.Errorf("source = size %d label %q", src.Size, src.Label)
	}
	body, _ := io.ReadAll(src)
	if string(body) != "header\nrow\n" {
		t.Errorf("body = %q", body)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), Options{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpen_URLRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "header\n")
	}))
	defer srv.Close()

	src, err := Open(context.Background(), srv.URL+"/feed.txt", Options{Retries: 3, Backoff: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if src.Size != 7 {
		t.Errorf("Size = %d, want 7", src.Size)
	}
}

func TestOpen_URLGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL, Options{Retries: 2, Backoff: time.Millisecond})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpen_URLClientErrorsNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"forbidden", http.StatusForbidden, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := Open(context.Background(), srv.URL, Options{Retries: 3, Backoff: time.Millisecond})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestOpen_InsecureTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	if _, err := Open(context.Background(), srv.URL, Options{Retries: 1}); err == nil {
		t.Error("expected certificate error without Insecure")
	}

	src, err := Open(context.Background(), srv.URL, Options{Retries: 1, Insecure: true})
	if err != nil {
		t.Fatalf("Insecure open: %v", err)
	}
	src.Close()
}
