// Package forwarder implements the outbound HTTP clients for the
// forward-and-confirm protocol.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result classifies one downstream response. Success is 2xx/3xx.
type Result struct {
	StatusCode int
	Success    bool
	Body       []byte
}

// IsSuccess reports whether a status code counts as delivered.
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 400
}

// Client sends forward and confirm requests. A transport-level failure
// (timeout, connection refused, DNS failure) is returned as an error;
// any received response, success or not, is returned as a Result.
type Client struct {
	httpClient *http.Client
}

func New() *Client {
	return &Client{
		httpClient: &http.Client{},
	}
}

// Post sends payload to url with the given headers, bounded by timeout.
// The response body is read so callers can log what the downstream said.
func (c *Client) Post(ctx context.Context, url string, payload []byte, headers map[string]string, timeout time.Duration) (*Result, error) {
	if c == nil {
		return nil, fmt.Errorf("forward client not configured")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		request.Header.Set(k, v)
	}
	if request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// Cap the body read; only used for logging
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	return &Result{
		StatusCode: resp.StatusCode,
		Success:    IsSuccess(resp.StatusCode),
		Body:       body,
	}, nil
}
