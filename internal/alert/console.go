package alert

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// ConsoleSink writes the outcome to the terminal with color.
type ConsoleSink struct {
	out io.Writer
}

// NewConsoleSink creates a new console sink writing to stdout.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes the outcome with a color-coded conclusion.
func (s *ConsoleSink) Send(_ context.Context, outcome types.RunOutcome) error {
	if _, err := fmt.Fprintf(s.out, "%s %s\n", ConclusionLabel(outcome.StepStatus), outcome.StepName); err != nil {
		return fmt.Errorf("%w: writing to console: %w", ErrDelivery, err)
	}
	return nil
}

// ConclusionLabel renders a run conclusion in brackets, colored by severity.
func ConclusionLabel(conclusion string) string {
	label := "[" + conclusion + "]"
	switch conclusion {
	case "success":
		return color.GreenString(label)
	case "failure", "timed_out", "startup_failure":
		return color.RedString(label)
	case "cancelled", "skipped", "stale", "action_required", "neutral":
		return color.YellowString(label)
	default:
		return color.CyanString(label)
	}
}
