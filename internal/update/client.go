// Package update writes enhanced context back to the external ticketing
// system. The write-back result is reported as a plain success flag; the
// caller only needs to know whether the ticket was updated, never how many
// attempts that took.
package update

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/telemetry"
	"github.com/fyrsmithlabs/enrichd/internal/tenant"
)

// RetryConfig configures retry behavior for ticket write-backs.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first try included.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt. Each further
	// attempt doubles it. Default: 2 seconds
	InitialBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
}

// Client posts enhanced context to the ticketing system's update endpoint.
type Client struct {
	baseURL    string
	token      string
	retry      RetryConfig
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *telemetry.Metrics
}

// NewClient creates an update client. An empty token disables the
// Authorization header.
func NewClient(baseURL, token string, retry RetryConfig, logger *logging.Logger, metrics *telemetry.Metrics) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("update base URL required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	retry.ApplyDefaults()

	return &Client{
		baseURL:    baseURL,
		token:      token,
		retry:      retry,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named("update"),
		metrics:    metrics,
	}, nil
}

// Apply writes the enhanced content onto the ticket. It retries transient
// failures with doubling backoff and reports only the final outcome. A 4xx
// response other than 429 is a rejection and is never retried.
func (c *Client) Apply(ctx context.Context, target tenant.Config, ticketID, content string) bool {
	backoff := c.retry.InitialBackoff

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.logger.Warn(ctx, "update abandoned, job deadline reached",
					zap.String("ticket_id", ticketID),
					zap.Int("attempts", attempt-1),
				)
				return false
			}
			backoff *= 2
		}

		retryable, err := c.post(ctx, target, ticketID, content)
		if err == nil {
			c.logger.Info(ctx, "ticket updated",
				zap.String("ticket_id", ticketID),
				zap.Int("attempts", attempt),
			)
			return true
		}

		if !retryable {
			// A dead context surfaces here as a non-retryable request
			// error; that is a deadline abandon, not a rejection.
			if ctx.Err() != nil {
				c.logger.Warn(ctx, "update abandoned, job deadline reached",
					zap.String("ticket_id", ticketID),
					zap.Int("attempts", attempt),
				)
				return false
			}
			if c.metrics != nil {
				c.metrics.UpdateRejectionsTotal.Inc()
			}
			c.logger.Warn(ctx, "update rejected by ticketing system",
				zap.String("ticket_id", ticketID),
				zap.Error(err),
			)
			return false
		}

		c.logger.Warn(ctx, "update attempt failed",
			zap.String("ticket_id", ticketID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	c.logger.Warn(ctx, "update failed after all attempts",
		zap.String("ticket_id", ticketID),
		zap.Int("attempts", c.retry.MaxAttempts),
	)
	return false
}

// post performs one update attempt. The bool reports whether the failure is
// worth retrying.
func (c *Client) post(ctx context.Context, target tenant.Config, ticketID, content string) (bool, error) {
	payload := struct {
		Project string `json:"project"`
		Content string `json:"content"`
		Source  string `json:"source"`
	}{
		Project: target.ProjectKey,
		Content: content,
		Source:  "enrichd",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encoding update payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/tickets/%s/context?tenant=%s",
		c.baseURL, url.PathEscape(ticketID), url.QueryEscape(target.ID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are transient.
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("ticketing system returned status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("ticketing system rejected update with status %d", resp.StatusCode)
	}
}
