package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/x402-escrow/backend/internal/events"
	"go.uber.org/zap"
)

const (
	HeaderEventID   = "X-Event-ID"
	HeaderEventType = "X-Event-Type"
)

// WebhookClient POSTs escrow events to a seller or facilitator endpoint.
type WebhookClient struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
}

func NewWebhookClient(url string, timeout time.Duration, log *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Send delivers event once. Any non-2xx answer is an error.
func (c *WebhookClient) Send(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, uuid.NewString())
	req.Header.Set(HeaderEventType, event.Type)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// Forward sends event, retrying once after a short pause. Failures are
// logged, not returned: a lost notice never blocks the stream.
func (c *WebhookClient) Forward(ctx context.Context, event events.Event) {
	err := c.Send(ctx, event)
	if err == nil {
		return
	}
	c.log.Debug("webhook delivery failed, retrying", zap.String("type", event.Type), zap.Error(err))

	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Second):
	}
	if err := c.Send(ctx, event); err != nil {
		c.log.Warn("failed to forward event", zap.String("type", event.Type), zap.Error(err))
	}
}
