package types

import (
	"errors"
	"fmt"
)

// ErrNotTerminal is returned when an outcome is built from a run that has
// not completed.
var ErrNotTerminal = errors.New("run status is not terminal")

// WatchTarget identifies the run being watched. It is built once at startup
// and never mutated.
type WatchTarget struct {
	RunID       string
	DisplayName string
	Credential  string
}

// String omits the credential so targets are safe to log.
func (t WatchTarget) String() string {
	return fmt.Sprintf("%s (%s)", t.RunID, t.DisplayName)
}

// RunStatus is the normalized result of one status query.
// Conclusion is non-empty if and only if Phase is RunPhaseCompleted.
type RunStatus struct {
	Phase      RunPhase
	Conclusion string
	Raw        string // provider status string, for logging
}

// PendingStatus returns a non-terminal status. raw is the provider's own
// status value (queued, in_progress, ...).
func PendingStatus(raw string) RunStatus {
	return RunStatus{Phase: RunPhasePending, Raw: raw}
}

// CompletedStatus returns a terminal status carrying the run's conclusion.
func CompletedStatus(raw, conclusion string) RunStatus {
	return RunStatus{Phase: RunPhaseCompleted, Conclusion: conclusion, Raw: raw}
}

// IsTerminal reports whether the run will not change state further.
func (s RunStatus) IsTerminal() bool {
	return s.Phase == RunPhaseCompleted
}

// RunOutcome is the notification payload delivered once per watch.
type RunOutcome struct {
	StepName   string `json:"step_name"`
	StepStatus string `json:"step_status"`
}

// NewRunOutcome derives the outcome for a terminal status. It returns
// ErrNotTerminal for a pending status and never yields an outcome without
// a step status.
func NewRunOutcome(stepName string, status RunStatus) (RunOutcome, error) {
	if !status.IsTerminal() {
		return RunOutcome{}, fmt.Errorf("building outcome for %q: %w", stepName, ErrNotTerminal)
	}
	if status.Conclusion == "" {
		return RunOutcome{}, fmt.Errorf("building outcome for %q: completed status has no conclusion", stepName)
	}
	return RunOutcome{StepName: stepName, StepStatus: status.Conclusion}, nil
}
