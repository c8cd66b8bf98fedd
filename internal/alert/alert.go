// Package alert delivers the single run outcome notification to a sink.
package alert

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// ErrDelivery marks a failed delivery attempt. Sinks never retry.
var ErrDelivery = errors.New("notification delivery failed")

// ErrUnsupportedAddress is returned by NewSink for an address no sink handles.
var ErrUnsupportedAddress = errors.New("unsupported sink address")

// Sink is a notification destination. Send makes exactly one delivery attempt.
type Sink interface {
	Send(ctx context.Context, outcome types.RunOutcome) error
	Name() string
}

// Config selects and configures a sink.
type Config struct {
	// Address is the sink location: an http(s) URL, an SNS topic ARN,
	// s3://bucket/prefix, pubsub://project/topic, file:///path or "console".
	Address        string
	UserAgent      string
	IdempotencyKey string
	Timeout        time.Duration
}

// NewSink builds the sink addressed by cfg.Address.
func NewSink(ctx context.Context, cfg Config) (Sink, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, fmt.Errorf("%w: address is empty", ErrUnsupportedAddress)
	}
	if addr == "console" {
		return NewConsoleSink(), nil
	}
	if arn.IsARN(addr) {
		parsed, err := arn.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("parsing sink ARN: %w", err)
		}
		if parsed.Service != "sns" {
			return nil, fmt.Errorf("%w: ARN service %q", ErrUnsupportedAddress, parsed.Service)
		}
		return NewSNSSink(addr, WithSNSRegion(parsed.Region), WithSNSContext(ctx))
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing sink address: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: webhook URL has no host", ErrUnsupportedAddress)
		}
		opts := []WebhookOption{WithUserAgent(cfg.UserAgent), WithIdempotencyKey(cfg.IdempotencyKey)}
		if cfg.Timeout > 0 {
			opts = append(opts, WithWebhookTimeout(cfg.Timeout))
		}
		return NewWebhookSink(addr, opts...), nil
	case "s3":
		return NewS3Sink(u.Host, strings.TrimPrefix(u.Path, "/"), WithS3Context(ctx))
	case "pubsub":
		return NewPubSubSink(u.Host, strings.TrimPrefix(u.Path, "/"), WithPubSubContext(ctx))
	case "file":
		if u.Path == "" {
			return nil, fmt.Errorf("%w: file sink requires a path", ErrUnsupportedAddress)
		}
		return NewFileSink(u.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAddress, redact(u))
	}
}

// redact strips credentials and query strings, which webhook URLs often embed.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
