package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestFetch(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.EscapedPath() != "/sentence-transformers/all-MiniLM-L6-v2/resolve/refs%2Fpr%2F21/tokenizer.json" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		w.Write([]byte(`{"version":"1.0"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, CacheDir: t.TempDir(), Token: "secret"}, zap.NewNop())

	path, err := client.Fetch(context.Background(), "sentence-transformers/all-MiniLM-L6-v2", "refs/pr/21", "tokenizer.json")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read fetched file: %v", err)
	}
	if string(data) != `{"version":"1.0"}` {
		t.Errorf("Unexpected content %q", data)
	}

	// Second fetch is served from the cache.
	if _, err := client.Fetch(context.Background(), "sentence-transformers/all-MiniLM-L6-v2", "refs/pr/21", "tokenizer.json"); err != nil {
		t.Fatalf("Cached fetch failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected 1 request, got %d", hits.Load())
	}
}

func TestFetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repo/resolve/main/empty.bin" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, CacheDir: t.TempDir()}, zap.NewNop())

	tests := []struct {
		name   string
		file   string
		status int
	}{
		{"unauthorized", "model.safetensors", http.StatusUnauthorized},
		{"empty body", "empty.bin", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Fetch(context.Background(), "repo", "main", tt.file)
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("Expected FetchError, got %v", err)
			}
			if fetchErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, fetchErr.StatusCode)
			}
			if _, err := os.Stat(client.CachePath("repo", "main", tt.file)); !os.IsNotExist(err) {
				t.Errorf("Expected nothing cached after failure")
			}
		})
	}
}

func TestOffline(t *testing.T) {
	client := NewClient(Config{CacheDir: t.TempDir(), Offline: true}, zap.NewNop())
	_, err := client.Fetch(context.Background(), "repo", "main", "tokenizer.json")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError in offline mode, got %v", err)
	}
}

func TestCachePath(t *testing.T) {
	client := NewClient(Config{CacheDir: "/cache"}, zap.NewNop())
	got := client.CachePath("jinaai/jina-embeddings-v2-base-en", "main", "model.safetensors")
	want := "/cache/jinaai--jina-embeddings-v2-base-en/main/model.safetensors"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
