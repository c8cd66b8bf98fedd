// Package metrics exposes watch counters as OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dwsmith1983/runwatch"

// Poll phases recorded on the polls counter.
const (
	PhasePending   = "pending"
	PhaseCompleted = "completed"
	PhaseError     = "error"
)

// Instruments holds the counters recorded by the watcher.
type Instruments struct {
	polls         metric.Int64Counter
	fetchErrors   metric.Int64Counter
	notifications metric.Int64Counter
}

// New creates the instruments from mp.
func New(mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(meterName)

	polls, err := meter.Int64Counter("runwatch.polls",
		metric.WithDescription("Status queries issued, by observed phase"))
	if err != nil {
		return nil, fmt.Errorf("creating polls counter: %w", err)
	}
	fetchErrors, err := meter.Int64Counter("runwatch.fetch_errors",
		metric.WithDescription("Failed status queries, by kind"))
	if err != nil {
		return nil, fmt.Errorf("creating fetch_errors counter: %w", err)
	}
	notifications, err := meter.Int64Counter("runwatch.notifications",
		metric.WithDescription("Outcome notifications, by result"))
	if err != nil {
		return nil, fmt.Errorf("creating notifications counter: %w", err)
	}

	return &Instruments{
		polls:         polls,
		fetchErrors:   fetchErrors,
		notifications: notifications,
	}, nil
}

// Poll records one status query that ended in phase.
func (i *Instruments) Poll(ctx context.Context, phase string) {
	i.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// FetchError records a failed status query of the given kind.
func (i *Instruments) FetchError(ctx context.Context, kind string) {
	i.fetchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Notification records a delivery attempt.
func (i *Instruments) Notification(ctx context.Context, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	i.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
