package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

type HTTPClient struct {
	baseURL    string
	healthPath string
	authToken  string
	client     *http.Client
}

func NewHTTPClient(baseURL, healthPath, authToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if healthPath == "" {
		healthPath = "/health"
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		healthPath: healthPath,
		authToken:  authToken,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Create(ctx context.Context, path string, payload any) error {
	return c.do(ctx, http.MethodPost, path, payload)
}

func (c *HTTPClient) Replace(ctx context.Context, path string, payload any) error {
	return c.do(ctx, http.MethodPut, path, payload)
}

func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.healthPath, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			var err error
			raw, err = json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", method, path, err)
			}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
