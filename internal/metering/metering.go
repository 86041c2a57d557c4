// Package metering reports billable usage to an external webhook. Delivery
// is fire-and-forget: a metering outage must never fail or delay a pipeline
// run, so failures are logged and dropped.
package metering

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/receipt-pipeline/internal/resilience"
)

// usageEvent is the webhook payload.
type usageEvent struct {
	Event  string `json:"event"`
	UserID string `json:"user_id"`
}

// Client delivers usage events over HTTP.
type Client struct {
	webhookURL string
	httpClient *http.Client
	async      bool
}

// New creates a metering client for the given webhook URL. An empty URL
// yields a client that drops every event, which is how deployments without
// billing run.
func New(webhookURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		async:      true,
	}
}

// Track records one usage event for userID. It returns immediately;
// delivery happens in the background with its own timeout so a slow webhook
// cannot hold up the caller.
func (c *Client) Track(ctx context.Context, event, userID string) {
	if c.webhookURL == "" {
		return
	}

	deliver := func() {
		// Detached from the caller's context: the run finishing must not
		// cancel delivery.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*c.httpClient.Timeout)
		defer cancel()

		if err := c.send(dctx, usageEvent{Event: event, UserID: userID}); err != nil {
			zap.L().Warn("usage event delivery failed",
				zap.String("event", event),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return
		}
		zap.L().Debug("usage event delivered",
			zap.String("event", event),
			zap.String("user_id", userID),
		)
	}

	if c.async {
		go deliver()
		return
	}
	deliver()
}

func (c *Client) send(ctx context.Context, ev usageEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "metering: marshal event")
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("metering", "track")

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "metering: build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "metering: post"), 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			err := eris.Errorf("metering: webhook returned %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
