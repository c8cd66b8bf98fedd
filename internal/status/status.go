// Package status queries the status source for a watched run and
// normalizes the answer into a types.RunStatus.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// Fetch failure kinds. Both are transient from the scheduler's point of view.
var (
	ErrTransport         = errors.New("status transport failure")
	ErrMalformedResponse = errors.New("malformed status response")
)

// Fetcher issues one status query per call. Implementations must not retry.
type Fetcher interface {
	Fetch(ctx context.Context, target types.WatchTarget) (types.RunStatus, error)
}

// FetchError reports a failed status query. Kind is ErrTransport or
// ErrMalformedResponse and matches with errors.Is.
type FetchError struct {
	Kind  error
	RunID string
	Err   error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetching run %s: %v", e.RunID, e.Kind)
	}
	return fmt.Sprintf("fetching run %s: %v: %v", e.RunID, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func transportErr(runID string, err error) error {
	return &FetchError{Kind: ErrTransport, RunID: runID, Err: err}
}

func malformedErr(runID string, err error) error {
	return &FetchError{Kind: ErrMalformedResponse, RunID: runID, Err: err}
}

// statusCompleted is the provider's terminal status value.
const statusCompleted = "completed"

// Normalize maps raw status/conclusion fields into a RunStatus. An empty
// status, or a completed status without a conclusion, is malformed.
func Normalize(runID, rawStatus, conclusion string) (types.RunStatus, error) {
	switch rawStatus {
	case "":
		return types.RunStatus{}, malformedErr(runID, errors.New("response missing status field"))
	case statusCompleted:
		if conclusion == "" {
			return types.RunStatus{}, malformedErr(runID, errors.New("completed run missing conclusion field"))
		}
		return types.CompletedStatus(rawStatus, conclusion), nil
	default:
		return types.PendingStatus(rawStatus), nil
	}
}
