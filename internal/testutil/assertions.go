package testutil

import (
	"testing"
	"time"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForCalls polls until the fetcher has been called at least n times.
func WaitForCalls(t *testing.T, f *FakeFetcher, n int, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		return f.Calls() >= n
	}, "fetch call count >= target")
}
