// webhook.go delivers webhook tasks over HTTP with retry.
package tasks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/doughall/taskd/internal/version"
	"github.com/hashicorp/go-retryablehttp"
)

// WebhookClient posts webhook task bodies.
// It wraps go-retryablehttp for automatic retry with backoff.
type WebhookClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookClient creates a client that retries up to retryMax times, with
// each attempt bounded by timeout.
func NewWebhookClient(timeout time.Duration, retryMax int, logger *slog.Logger) *WebhookClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff

	// Disable retryablehttp's internal logging - we use slog instead
	retryClient.Logger = nil

	retryClient.HTTPClient.Timeout = timeout

	return &WebhookClient{
		httpClient: retryClient.StandardClient(),
		logger:     logger,
	}
}

// Send delivers one webhook and treats any non-2xx status as failure.
func (c *WebhookClient) Send(ctx context.Context, def Definition) error {
	method := strings.ToUpper(def.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(def.Body) > 0 {
		body = bytes.NewReader(def.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, def.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "taskd/"+version.Version)
	for k, v := range def.Headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("sending webhook",
		slog.String("url", def.URL),
		slog.String("method", method),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}
