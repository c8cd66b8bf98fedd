// Package watchdog bounds a watch with a wall-clock ceiling. A run that
// never completes, or a status source that never answers, would otherwise
// keep the process polling forever.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCeiling is the lifetime of a watch when none is configured.
const DefaultCeiling = time.Hour

// ErrCeilingReached is the cause attached to the context handed to the
// guarded function once the ceiling elapses.
var ErrCeilingReached = errors.New("watch ceiling reached before the run completed")

// Options configures Run.
type Options struct {
	Ceiling time.Duration
	Logger  *slog.Logger
}

// Run calls fn with a context that is cancelled when the ceiling elapses.
// fn is expected to return promptly once its context is done. If the
// ceiling was the reason fn failed, Run returns an error matching
// ErrCeilingReached; otherwise it returns fn's own result, including nil
// when fn succeeds after the deadline has already passed.
func Run(ctx context.Context, opts Options, fn func(context.Context) error) error {
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	started := time.Now()
	guarded, cancel := context.WithTimeoutCause(ctx, opts.Ceiling, ErrCeilingReached)
	defer cancel()

	err := fn(guarded)

	// A nil result means fn finished its work, even if the deadline passed
	// while it was returning.
	if err == nil {
		return nil
	}

	// The parent may have been cancelled at the same moment; only blame the
	// ceiling when the parent is still live.
	if ctx.Err() == nil && errors.Is(context.Cause(guarded), ErrCeilingReached) &&
		(errors.Is(err, ErrCeilingReached) || errors.Is(err, context.DeadlineExceeded)) {
		opts.Logger.Error("watch ceiling reached",
			"ceiling", opts.Ceiling,
			"elapsed", time.Since(started).Round(time.Millisecond),
		)
		return fmt.Errorf("watchdog: %w (after %s)", ErrCeilingReached, opts.Ceiling)
	}
	return err
}
