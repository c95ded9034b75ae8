package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrImageGeneration is the user-facing error for a failed inference call
var ErrImageGeneration = errors.New("Failed to generate image")

// HuggingFaceClient calls a text-to-image inference endpoint
type HuggingFaceClient struct {
	modelURL   string
	token      string
	httpClient *http.Client
	maxBytes   int64
}

// NewHuggingFaceClient creates a new inference client
func NewHuggingFaceClient(modelURL, token string, timeout time.Duration) *HuggingFaceClient {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &HuggingFaceClient{
		modelURL:   modelURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   32 * 1024 * 1024,
	}
}

// GeneratedImage is the raw inference output
type GeneratedImage struct {
	Data        []byte
	ContentType string
}

// GenerateImage posts {"inputs": prompt} and returns the image bytes
func (c *HuggingFaceClient) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	jsonData, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrImageGeneration, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrImageGeneration, resp.StatusCode, truncateBody(respBody))
	}
	if len(respBody) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrImageGeneration)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(respBody)
	}
	return &GeneratedImage{Data: respBody, ContentType: contentType}, nil
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
