// Package testutil provides shared test utilities for runwatch.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/dwsmith1983/runwatch/internal/alert"
	"github.com/dwsmith1983/runwatch/internal/status"
	"github.com/dwsmith1983/runwatch/pkg/types"
)

// Compile-time interface satisfaction checks.
var (
	_ status.Fetcher = (*FakeFetcher)(nil)
	_ alert.Sink     = (*RecordingSink)(nil)
)

// FetchResult is one scripted answer from a FakeFetcher.
type FetchResult struct {
	Status types.RunStatus
	Err    error
}

// Pending scripts a non-terminal answer.
func Pending() FetchResult {
	return FetchResult{Status: types.PendingStatus("in_progress")}
}

// Completed scripts a terminal answer with the given conclusion.
func Completed(conclusion string) FetchResult {
	return FetchResult{Status: types.CompletedStatus("completed", conclusion)}
}

// Transport scripts a transport failure.
func Transport() FetchResult {
	return FetchResult{Err: &status.FetchError{Kind: status.ErrTransport, RunID: "test", Err: fmt.Errorf("connection reset")}}
}

// Malformed scripts an undecodable response.
func Malformed() FetchResult {
	return FetchResult{Err: &status.FetchError{Kind: status.ErrMalformedResponse, RunID: "test"}}
}

// FakeFetcher replays scripted results in order, repeating the last one once
// the script is exhausted.
type FakeFetcher struct {
	mu        sync.Mutex
	results   []FetchResult
	calls     int
	deadlines []bool
	targets   []types.WatchTarget
}

// NewFakeFetcher creates a fetcher that answers with results in order.
func NewFakeFetcher(results ...FetchResult) *FakeFetcher {
	return &FakeFetcher{results: results}
}

// Fetch returns the next scripted result.
func (f *FakeFetcher) Fetch(ctx context.Context, target types.WatchTarget) (types.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	f.targets = append(f.targets, target)

	if len(f.results) == 0 {
		f.calls++
		return types.PendingStatus("queued"), nil
	}
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i].Status, f.results[i].Err
}

// Calls returns how many times Fetch ran.
func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// AllHadDeadline reports whether every Fetch call carried a context deadline.
func (f *FakeFetcher) AllHadDeadline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deadlines {
		if !d {
			return false
		}
	}
	return len(f.deadlines) > 0
}

// Targets returns the targets passed to Fetch.
func (f *FakeFetcher) Targets() []types.WatchTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.WatchTarget(nil), f.targets...)
}

// RecordingSink records every outcome it is asked to deliver.
type RecordingSink struct {
	mu       sync.Mutex
	outcomes []types.RunOutcome

	// Err, when set, is returned from every Send.
	Err error
	// OnSend, when set, runs inside Send before it returns.
	OnSend func()
}

// Name returns the sink identifier.
func (s *RecordingSink) Name() string { return "recording" }

// Send records the outcome.
func (s *RecordingSink) Send(_ context.Context, outcome types.RunOutcome) error {
	if s.OnSend != nil {
		s.OnSend()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return s.Err
}

// Outcomes returns the recorded outcomes.
func (s *RecordingSink) Outcomes() []types.RunOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.RunOutcome(nil), s.outcomes...)
}

// DeliveryFailure is an error matching alert.ErrDelivery.
func DeliveryFailure() error {
	return fmt.Errorf("%w: webhook returned status 502", alert.ErrDelivery)
}
