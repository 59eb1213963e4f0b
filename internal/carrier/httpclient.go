package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// APIError is a non-retryable carrier response (4xx). The booking saga surfaces
// these immediately after compensating.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier API error: status %d: %s", e.Status, e.Body)
}

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// httpClient wraps net/http with the shared carrier retry policy: transient
// failures (network errors, 5xx) retry with bounded exponential backoff, client
// errors (4xx) never retry.
type httpClient struct {
	client   *http.Client
	provider string
}

func newHTTPClient(provider string, timeout time.Duration) *httpClient {
	return &httpClient{
		client:   &http.Client{Timeout: timeout},
		provider: provider,
	}
}

// doJSON issues a JSON request and decodes the response into out (which may be
// nil). headers are applied to every attempt.
func (c *httpClient) doJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s request failed: %w", c.provider, err)
			log.Printf("carrier %s: attempt %d/%d: %v", c.provider, attempt, maxAttempts, err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%s read response: %w", c.provider, readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("%s decode response: %w", c.provider, err)
				}
			}
			return nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%s server error: status %d", c.provider, resp.StatusCode)
			log.Printf("carrier %s: attempt %d/%d: status %d", c.provider, attempt, maxAttempts, resp.StatusCode)
			continue
		default:
			// 4xx: caller error, retrying cannot help.
			return &APIError{Status: resp.StatusCode, Body: string(respBody)}
		}
	}
	return fmt.Errorf("%s: exhausted %d attempts: %w", c.provider, maxAttempts, lastErr)
}
