package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// Webhook HTTP delivery defaults.
const (
	webhookTimeout = 10 * time.Second
	// maxErrorBody bounds how much of a failed response is kept for the error.
	maxErrorBody = 512
)

// WebhookSink sends the outcome as a JSON POST to a URL.
type WebhookSink struct {
	url            string
	client         *http.Client
	userAgent      string
	idempotencyKey string
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookTimeout bounds the single POST.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(s *WebhookSink) { s.client.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) WebhookOption {
	return func(s *WebhookSink) { s.userAgent = ua }
}

// WithIdempotencyKey sets the Idempotency-Key header so receivers can drop
// duplicates.
func WithIdempotencyKey(key string) WebhookOption {
	return func(s *WebhookSink) { s.idempotencyKey = key }
}

// NewWebhookSink creates a new webhook sink.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the outcome as JSON to the configured URL.
func (s *WebhookSink) Send(ctx context.Context, outcome types.RunOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if s.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", s.idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook POST: %w", ErrDelivery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: webhook returned status %d: %s", ErrDelivery, resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
