// Package hub downloads model files from the Hugging Face Hub into a local
// cache directory.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://huggingface.co"
	defaultTimeout = 10 * time.Minute
)

// Config configures a Client.
type Config struct {
	BaseURL  string        `mapstructure:"base_url"`
	CacheDir string        `mapstructure:"cache_dir"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Offline  bool          `mapstructure:"offline"`
}

// FetchError reports a file that could not be made available locally.
type FetchError struct {
	Repo       string
	Revision   string
	File       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	loc := fmt.Sprintf("%s@%s/%s", e.Repo, e.Revision, e.File)
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: HTTP %d", loc, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %v", loc, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client resolves repository files to local paths, downloading on first use.
type Client struct {
	baseURL  string
	cacheDir string
	token    string
	offline  bool
	http     *http.Client
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewClient creates a Client. Empty fields fall back to defaults and the
// HF_TOKEN and HF_HOME environment variables.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("HF_TOKEN")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		cacheDir: cfg.CacheDir,
		token:    cfg.Token,
		offline:  cfg.Offline,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With(zap.String("component", "hub")),
		locks:    make(map[string]*sync.Mutex),
	}
}

// DefaultCacheDir is $HF_HOME/quackformers, or the user cache directory.
func DefaultCacheDir() string {
	if home := os.Getenv("HF_HOME"); home != "" {
		return filepath.Join(home, "quackformers")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "quackformers")
	}
	return filepath.Join(os.TempDir(), "quackformers")
}

// CachePath is where Fetch stores a file.
func (c *Client) CachePath(repo, revision, filename string) string {
	return filepath.Join(c.cacheDir, sanitize(repo), sanitize(revision), filepath.FromSlash(filename))
}

// Fetch returns the local path of filename at revision, downloading it if it
// is not cached yet.
func (c *Client) Fetch(ctx context.Context, repo, revision, filename string) (string, error) {
	path := c.CachePath(repo, revision, filename)

	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}
	if c.offline {
		return "", &FetchError{Repo: repo, Revision: revision, File: filename, Err: fmt.Errorf("not cached and offline mode is on")}
	}

	start := time.Now()
	c.logger.Info("Downloading model file",
		zap.String("repo", repo),
		zap.String("revision", revision),
		zap.String("file", filename))

	n, err := c.download(ctx, repo, revision, filename, path)
	if err != nil {
		return "", err
	}

	c.logger.Info("Model file downloaded",
		zap.String("path", path),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)))
	return path, nil
}

func (c *Client) download(ctx context.Context, repo, revision, filename, dest string) (int64, error) {
	fail := func(status int, err error) (int64, error) {
		return 0, &FetchError{Repo: repo, Revision: revision, File: filename, StatusCode: status, Err: err}
	}

	u := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, url.PathEscape(revision), filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fail(0, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(resp.StatusCode, nil)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fail(0, fmt.Errorf("failed to create cache directory: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fail(0, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fail(0, err)
	}
	if n == 0 {
		return fail(0, fmt.Errorf("empty response body"))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fail(0, err)
	}
	return n, nil
}

func (c *Client) lockFor(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[path]
	if !ok {
		l = &sync.Mutex{}
		c.locks[path] = l
	}
	return l
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "/", "--")
}
