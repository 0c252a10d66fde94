package logger

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

type buffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *buffer) Sync() error { return nil }

func (b *buffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	if _, err := New(Config{Level: "verbose", Format: "json"}); err == nil {
		t.Error("Expected error for an unknown level")
	}

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	l, err := New(Config{Level: "info", Format: "console", File: &FileConfig{Enabled: true, Path: path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("written to file")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Expected message in log file, got %q", data)
	}
}

func TestSetLevel(t *testing.T) {
	out := &buffer{}
	l, err := newWithSink(Config{Level: "warn", Format: "json"}, out)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	child := l.WithComponent("server")

	child.Info("hidden")
	if err := l.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	child.Info("shown")

	entries := out.lines(t)
	if len(entries) != 1 || entries[0]["msg"] != "shown" {
		t.Fatalf("Expected only the message after SetLevel, got %v", entries)
	}
	if entries[0]["component"] != "server" {
		t.Errorf("Expected component field, got %v", entries[0])
	}
	if l.Level() != zapcore.DebugLevel {
		t.Errorf("Expected debug level, got %s", l.Level())
	}
	if err := l.SetLevel("loud"); err == nil {
		t.Error("Expected error for an unknown level")
	}
}

func TestLogRequest(t *testing.T) {
	out := &buffer{}
	l, err := newWithSink(Config{Level: "debug", Format: "json"}, out)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/embed", strings.NewReader(`{"text":"secret phrase"}`))
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("Content-Type", "application/json")

	l.WithRequestID("req-1").LogRequest(req, 200, 42, 3*time.Millisecond)
	l.LogRequest(req, 503, 0, time.Millisecond)

	entries := out.lines(t)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first["level"] != "info" || first["request_id"] != "req-1" || first["path"] != "/embed" {
		t.Errorf("Unexpected entry %v", first)
	}
	headers, ok := first["headers"].(map[string]any)
	if !ok {
		t.Fatalf("Expected headers at debug level, got %v", first)
	}
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Errorf("Expected credentials redacted, got %v", headers)
	}
	if headers["Content-Type"] != "application/json" {
		t.Errorf("Expected content type kept, got %v", headers)
	}
	if strings.Contains(out.String(), "secret phrase") {
		t.Error("Expected request body never to be logged")
	}
	if entries[1]["level"] != "error" {
		t.Errorf("Expected 5xx logged at error, got %v", entries[1]["level"])
	}
}

func TestIsSensitiveHeader(t *testing.T) {
	tests := map[string]bool{
		"Authorization":        true,
		"Cookie":               true,
		"X-Amz-Security-Token": true,
		"Content-Type":         false,
		"X-Request-ID":         false,
	}
	for header, want := range tests {
		if got := isSensitiveHeader(header); got != want {
			t.Errorf("isSensitiveHeader(%q) = %v, want %v", header, got, want)
		}
	}
}
