// Package notify sends best-effort outbound webhooks for fills, escrow
// settlements, and admin actions. It wraps resty with retry-on-5xx the
// same way the pack's Polymarket client wraps its REST calls, since
// webhook delivery to a camp dashboard has the same "flaky remote,
// bounded retries, never block the caller" shape as an exchange API call.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Event is the payload delivered to the configured webhook endpoint.
type Event struct {
	Type      string      `json:"type"`
	UID       string      `json:"uid,omitempty"`
	Payload   interface{} `json:"payload"`
	TsUnixMs  int64       `json:"ts_ms"`
}

// Client delivers Events to a webhook URL, never blocking or failing
// the caller: delivery errors are logged, not returned, because a
// notification outage must never stop trading.
type Client struct {
	http    *resty.Client
	url     string
	enabled bool
	logger  *slog.Logger
}

// Config configures the notification client.
type Config struct {
	WebhookURL string
	Enabled    bool
	Timeout    time.Duration
	RetryCount int
}

// New builds a Client. If cfg.Enabled is false, Send is a no-op.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 2
	}
	http := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: http, url: cfg.WebhookURL, enabled: cfg.Enabled, logger: logger}
}

// Send delivers an event asynchronously, best-effort. It never returns
// an error to the caller; failures are logged.
func (c *Client) Send(ctx context.Context, ev Event) {
	if !c.enabled || c.url == "" {
		return
	}
	go func() {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(ev).
			Post(c.url)
		if err != nil {
			c.logger.Warn("notify: delivery failed", "type", ev.Type, "err", err)
			return
		}
		if resp.IsError() {
			c.logger.Warn("notify: webhook rejected event",
				"type", ev.Type, "status", resp.StatusCode(), "body", resp.String())
		}
	}()
}

// SendSync is like Send but waits for delivery, for callers (tests,
// admin CLI) that want to know the outcome. It still never panics.
func (c *Client) SendSync(ctx context.Context, ev Event) error {
	if !c.enabled || c.url == "" {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(ev).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: webhook status %d", resp.StatusCode())
	}
	return nil
}
