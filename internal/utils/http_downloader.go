package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// HTTPDownloader fetches prediction assets into memory with retry logic
type HTTPDownloader struct {
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
	timeout      time.Duration
	maxFileSize  int64 // Maximum asset size in bytes
	allowedTypes []string
}

// HTTPDownloaderConfig holds configuration for HTTP downloader
type HTTPDownloaderConfig struct {
	MaxRetries   int           // Default: 3
	RetryDelay   time.Duration // Default: 2s
	Timeout      time.Duration // Default: 2min
	MaxFileSize  int64         // Default: 256MB
	AllowedTypes []string      // Default: DefaultAssetTypes
	Client       *http.Client  // Optional, replaces the built-in client
}

// DefaultAssetTypes are the content type prefixes accepted for generated assets.
// Replicate's CDN serves Point-E output as JSON or plain text.
var DefaultAssetTypes = []string{
	"application/json",
	"application/octet-stream",
	"text/",
	"model/",
	"image/",
}

// Download is a fetched asset
type Download struct {
	Data        []byte
	ContentType string
	Name        string // last path segment of the final URL
}

// NewHTTPDownloader creates a new HTTP downloader with default configuration
func NewHTTPDownloader(config *HTTPDownloaderConfig) *HTTPDownloader {
	if config == nil {
		config = &HTTPDownloaderConfig{}
	}

	// Set defaults
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 256 * 1024 * 1024 // 256MB default
	}
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = DefaultAssetTypes
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Allow up to 10 redirects
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}

	return &HTTPDownloader{
		client:       client,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		timeout:      config.Timeout,
		maxFileSize:  config.MaxFileSize,
		allowedTypes: config.AllowedTypes,
	}
}

// Download fetches url with retry logic
func (d *HTTPDownloader) Download(ctx context.Context, url string) (*Download, error) {
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		dl, err := d.downloadAttempt(ctx, url)
		if err == nil {
			return dl, nil
		}

		lastErr = err

		// Don't retry on validation errors (wrong content type, file too large)
		if !d.isRetryableError(err) {
			return nil, fmt.Errorf("download failed (non-retryable): %w", err)
		}

		// Don't sleep after last attempt
		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", d.maxRetries, lastErr)
}

// downloadAttempt performs a single download attempt
func (d *HTTPDownloader) downloadAttempt(ctx context.Context, url string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ValidationError{Field: "url", Value: url, Message: err.Error()}
	}
	req.Header.Set("User-Agent", "Text3D-Worker/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !d.isAllowedContentType(contentType) {
		return nil, &ValidationError{
			Field:   "Content-Type",
			Value:   contentType,
			Message: fmt.Sprintf("unsupported content type: %s", contentType),
		}
	}

	if resp.ContentLength > 0 && resp.ContentLength > d.maxFileSize {
		return nil, &ValidationError{
			Field:   "Content-Length",
			Value:   fmt.Sprintf("%d bytes", resp.ContentLength),
			Message: fmt.Sprintf("file too large: %d bytes (max: %d bytes)", resp.ContentLength, d.maxFileSize),
		}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := d.copyWithLimit(&buf, resp.Body, d.maxFileSize); err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	return &Download{
		Data:        buf.Bytes(),
		ContentType: contentType,
		Name:        path.Base(resp.Request.URL.Path),
	}, nil
}

// copyWithLimit copies data with size limit
func (d *HTTPDownloader) copyWithLimit(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	limitedReader := io.LimitReader(src, limit+1) // +1 to detect overflow
	written, err := io.Copy(dst, limitedReader)
	if err != nil {
		return written, err
	}

	if written > limit {
		return written, &ValidationError{
			Field:   "file_size",
			Value:   fmt.Sprintf("%d bytes", written),
			Message: fmt.Sprintf("file exceeded size limit: %d bytes (max: %d bytes)", written, limit),
		}
	}

	return written, nil
}

// isAllowedContentType checks if content type is allowed
func (d *HTTPDownloader) isAllowedContentType(contentType string) bool {
	if contentType == "" {
		// Allow empty content type (some servers don't set it)
		return true
	}

	contentType = strings.ToLower(contentType)
	for _, allowed := range d.allowedTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}

	return false
}

// isRetryableError checks if error is retryable
func (d *HTTPDownloader) isRetryableError(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	// Only retry 5xx server errors
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	// Retry network errors
	return true
}

// HTTPError represents an HTTP error
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %s)", e.Field, e.Message, e.Value)
}
