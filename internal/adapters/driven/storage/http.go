package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.FileStorage = (*HTTPStorage)(nil)

const (
	defaultBaseURL  = "https://utfs.io/f/"
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 4 << 20
)

// HTTPStorage fetches uploads by appending the key to a public base URL.
type HTTPStorage struct {
	httpClient *http.Client
	baseURL    string
	maxBytes   int64
	maxRetries int
}

// HTTPConfig holds HTTPStorage options.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration

	// MaxBytes caps how much of a file is read. One byte past the cap is
	// returned so callers can tell an oversized file from one that fits.
	MaxBytes int64
}

// NewHTTPStorage creates a new HTTP file fetcher.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &HTTPStorage{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		maxBytes:   cfg.MaxBytes,
		maxRetries: 2,
	}
}

// Fetch downloads the file stored under key. 5xx responses are retried
// with linear backoff; 404 maps to domain.ErrNotFound.
func (s *HTTPStorage) Fetch(ctx context.Context, key string) ([]byte, error) {
	if key == "" || strings.Contains(key, "/") {
		return nil, fmt.Errorf("%w: invalid key %q", domain.ErrStorage, key)
	}
	target := s.baseURL + url.PathEscape(key)

	var resp *http.Response
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: create request: %w", domain.ErrStorage, err)
		}

		resp, err = s.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
		if resp.StatusCode < 500 || attempt == s.maxRetries {
			break
		}

		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrStorage, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrStorage, domain.ErrNotFound, key)
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrStorage, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrStorage, err)
	}
	return data, nil
}
