// Package watcher polls a single workflow run until it completes and then
// delivers exactly one outcome notification.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/runwatch/internal/alert"
	"github.com/dwsmith1983/runwatch/internal/lifecycle"
	"github.com/dwsmith1983/runwatch/internal/metrics"
	"github.com/dwsmith1983/runwatch/internal/status"
	"github.com/dwsmith1983/runwatch/pkg/types"
)

// Polling defaults.
const (
	DefaultInterval       = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// ErrInvalidInterval is returned by New when the poll interval cannot drive a ticker.
var ErrInvalidInterval = errors.New("poll interval must be positive")

// Config controls the poll cadence.
type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration // bounds each fetch and the notify call
}

// NotifyError reports that the run completed but the outcome could not be
// delivered. The watcher stays fired.
type NotifyError struct {
	Sink    string
	Outcome types.RunOutcome
	Err     error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notifying %s sink of %s=%s: %v", e.Sink, e.Outcome.StepName, e.Outcome.StepStatus, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Watcher ticks a status fetcher on a fixed interval and fires the sink
// once, on the first tick that observes a completed run.
type Watcher struct {
	fetcher status.Fetcher
	sink    alert.Sink
	target  types.WatchTarget
	config  Config
	logger  *slog.Logger
	tracer  trace.Tracer
	meters  metric.MeterProvider
	metrics *metrics.Instruments

	// mu serializes ticks; state and fetches are only written under it.
	mu      sync.Mutex
	state   types.SchedulerState
	fetches int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithTracerProvider sets the tracer provider used for tick spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Watcher) { w.tracer = tp.Tracer("github.com/dwsmith1983/runwatch/internal/watcher") }
}

// WithMeterProvider sets the meter provider for the watch counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(w *Watcher) { w.meters = mp }
}

// New creates a Watcher in the active state.
func New(fetcher status.Fetcher, sink alert.Sink, target types.WatchTarget, cfg Config, opts ...Option) (*Watcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("watcher: status fetcher is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("watcher: notification sink is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("watcher: %w (got %s)", ErrInvalidInterval, cfg.Interval)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	w := &Watcher{
		fetcher: fetcher,
		sink:    sink,
		target:  target,
		config:  cfg,
		logger:  slog.Default(),
		meters:  otel.GetMeterProvider(),
		state:   types.StateActive,
	}
	for _, o := range opts {
		o(w)
	}
	if w.tracer == nil {
		w.tracer = otel.GetTracerProvider().Tracer("github.com/dwsmith1983/runwatch/internal/watcher")
	}

	inst, err := metrics.New(w.meters)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w.metrics = inst
	return w, nil
}

// Run polls immediately and then once per interval until the watcher fires
// or ctx is done. After firing the ticker is stopped and Run returns the
// notification result: nil on delivery, a *NotifyError otherwise. If ctx
// ends first, Run returns its cause.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		"run_id", w.target.RunID,
		"display_name", w.target.DisplayName,
		"interval", w.config.Interval,
	)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return w.stopped(ctx)
		}
		if fired, err := w.tick(ctx); fired {
			ticker.Stop()
			return err
		}

		select {
		case <-ctx.Done():
			return w.stopped(ctx)
		case <-ticker.C:
		}
	}
}

func (w *Watcher) stopped(ctx context.Context) error {
	cause := context.Cause(ctx)
	w.logger.Info("watcher stopping", "run_id", w.target.RunID, "fetches", w.Fetches(), "reason", cause)
	return cause
}

// State returns the scheduler state. It blocks while a tick is in flight.
func (w *Watcher) State() types.SchedulerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Fetches returns how many status queries have been issued.
func (w *Watcher) Fetches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fetches
}

// tick runs one poll-and-check. It reports whether the watcher has fired;
// the error is only ever the notification failure of the firing tick.
func (w *Watcher) tick(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A tick queued before firing took effect does nothing.
	if lifecycle.IsTerminal(w.state) {
		return true, nil
	}

	ctx, span := w.tracer.Start(ctx, "watcher.tick", trace.WithAttributes(
		attribute.String("run_id", w.target.RunID),
		attribute.Int("attempt", w.fetches+1),
	))
	defer span.End()

	w.fetches++
	fetchCtx, cancel := context.WithTimeout(ctx, w.config.RequestTimeout)
	st, err := w.fetcher.Fetch(fetchCtx, w.target)
	cancel()
	if err != nil {
		w.metrics.Poll(ctx, metrics.PhaseError)
		w.metrics.FetchError(ctx, fetchErrorKind(err))
		span.RecordError(err)
		w.logger.Warn("status fetch failed, retrying next tick",
			"run_id", w.target.RunID,
			"attempt", w.fetches,
			"error", err,
		)
		return false, nil
	}

	if !st.IsTerminal() {
		w.metrics.Poll(ctx, metrics.PhasePending)
		w.logger.Debug("run still pending", "run_id", w.target.RunID, "status", st.Raw, "attempt", w.fetches)
		return false, nil
	}
	w.metrics.Poll(ctx, metrics.PhaseCompleted)

	// Commit to firing before the notify call so a failed delivery can never
	// be followed by a second attempt.
	if err := lifecycle.Transition(w.state, types.StateFired); err != nil {
		return true, fmt.Errorf("watcher: %w", err)
	}
	w.state = types.StateFired
	span.AddEvent("fired")

	outcome, err := types.NewRunOutcome(w.target.DisplayName, st)
	if err != nil {
		return true, fmt.Errorf("watcher: %w", err)
	}

	w.logger.Info("run completed",
		"run_id", w.target.RunID,
		"conclusion", st.Conclusion,
		"attempt", w.fetches,
	)

	notifyCtx, cancelNotify := context.WithTimeout(ctx, w.config.RequestTimeout)
	defer cancelNotify()

	if err := w.sink.Send(notifyCtx, outcome); err != nil {
		w.metrics.Notification(ctx, false)
		nerr := &NotifyError{Sink: w.sink.Name(), Outcome: outcome, Err: err}
		span.RecordError(nerr)
		span.SetStatus(codes.Error, "notification failed")
		w.logger.Error("notification failed", "run_id", w.target.RunID, "sink", w.sink.Name(), "error", err)
		return true, nerr
	}

	w.metrics.Notification(ctx, true)
	w.logger.Info("notification delivered",
		"run_id", w.target.RunID,
		"sink", w.sink.Name(),
		"step_name", outcome.StepName,
		"step_status", outcome.StepStatus,
	)
	return true, nil
}

func fetchErrorKind(err error) string {
	switch {
	case errors.Is(err, status.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, status.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
