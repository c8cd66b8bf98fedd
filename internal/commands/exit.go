package commands

import (
	"errors"

	"github.com/dwsmith1983/runwatch/internal/watchdog"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitCeiling     = 2
	ExitInterrupted = 130
)

// ExitCode maps the result of a command to the process exit status. Startup
// faults and notification failures both exit 1.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInterrupted):
		return ExitInterrupted
	case errors.Is(err, watchdog.ErrCeilingReached):
		return ExitCeiling
	default:
		return ExitFailure
	}
}
