// Package provider wraps each external provider API behind a narrow HTTP
// adapter so the pipeline stays testable with fakes. Base URLs are
// injected; auth is a bearer token per provider.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrGone marks a resource that no longer exists at the provider.
// Callers treat this as terminal-but-expected, never as a retryable error.
var ErrGone = errors.New("resource no longer exists")

const defaultTimeout = 30 * time.Second

type httpClient struct {
	base   string
	token  string
	client *http.Client
}

func newHTTPClient(base, token string) httpClient {
	return httpClient{
		base:  base,
		token: token,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

func (c httpClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%s %s: %w", method, path, ErrGone)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
