// Package types defines the public domain types for runwatch: the watched
// run, its normalized status, and the single outcome notification.
package types

// RunPhase is the normalized lifecycle phase of a watched run.
type RunPhase string

// RunPhase values. Only RunPhaseCompleted is terminal.
const (
	RunPhasePending   RunPhase = "PENDING"
	RunPhaseCompleted RunPhase = "COMPLETED"
)

// SchedulerState is the poll scheduler's internal state.
type SchedulerState string

// SchedulerState values. StateFired is absorbing.
const (
	StateActive SchedulerState = "ACTIVE"
	StateFired  SchedulerState = "FIRED"
)
