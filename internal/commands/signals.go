package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// ErrInterrupted is the cancellation cause when SIGINT or SIGTERM arrives.
var ErrInterrupted = errors.New("interrupted")

// withSignals returns a context cancelled with ErrInterrupted on SIGINT or
// SIGTERM. The returned stop func releases the signal handler.
func withSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			cancel(fmt.Errorf("%w: received %s", ErrInterrupted, sig))
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel(context.Canceled)
	}
}
