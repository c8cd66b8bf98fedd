package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/runwatch/internal/alert"
	"github.com/dwsmith1983/runwatch/internal/testutil"
	"github.com/dwsmith1983/runwatch/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testTarget = types.WatchTarget{RunID: "42", DisplayName: "build", Credential: "tok"}

func newTestWatcher(t *testing.T, f *testutil.FakeFetcher, s *testutil.RecordingSink, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	w, err := New(f, s, testTarget, Config{Interval: 5 * time.Millisecond, RequestTimeout: time.Second}, opts...)
	require.NoError(t, err)
	return w
}

func runWithTimeout(t *testing.T, w *Watcher, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return w.Run(ctx)
}

func TestRun_PendingThenCompleted(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Pending(), testutil.Pending(), testutil.Completed("success"))
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	require.NoError(t, runWithTimeout(t, w, 5*time.Second))

	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, []types.RunOutcome{{StepName: "build", StepStatus: "success"}}, s.Outcomes())
	assert.Equal(t, types.StateFired, w.State())
}

func TestRun_CompletedOnFirstTick(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Completed("failure"))
	s := &testutil.RecordingSink{}
	w, err := New(f, s, testTarget, Config{Interval: time.Hour}, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	// The first poll happens without waiting an interval.
	require.NoError(t, runWithTimeout(t, w, 5*time.Second))
	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, []types.RunOutcome{{StepName: "build", StepStatus: "failure"}}, s.Outcomes())
}

func TestRun_FetchErrorsDoNotFire(t *testing.T) {
	f := testutil.NewFakeFetcher(
		testutil.Transport(),
		testutil.Malformed(),
		testutil.Pending(),
		testutil.Completed("cancelled"),
	)
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	require.NoError(t, runWithTimeout(t, w, 5*time.Second))

	assert.Equal(t, 4, f.Calls())
	assert.Equal(t, []types.RunOutcome{{StepName: "build", StepStatus: "cancelled"}}, s.Outcomes())
}

func TestRun_NeverCompletes(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Pending())
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	err := runWithTimeout(t, w, 60*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Empty(t, s.Outcomes())
	assert.Equal(t, types.StateActive, w.State())
	assert.GreaterOrEqual(t, f.Calls(), 2)
}

func TestRun_AlwaysFailing(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Transport())
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	err := runWithTimeout(t, w, 60*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.Outcomes())
	assert.Equal(t, types.StateActive, w.State())
}

func TestRun_NotifyFailureStaysFired(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Completed("success"))
	s := &testutil.RecordingSink{Err: testutil.DeliveryFailure()}
	w := newTestWatcher(t, f, s)

	err := runWithTimeout(t, w, 5*time.Second)
	require.Error(t, err)

	var nerr *NotifyError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "recording", nerr.Sink)
	assert.Equal(t, types.RunOutcome{StepName: "build", StepStatus: "success"}, nerr.Outcome)
	assert.ErrorIs(t, err, alert.ErrDelivery)

	assert.Equal(t, types.StateFired, w.State())
	assert.Len(t, s.Outcomes(), 1)

	// Later ticks neither fetch nor retry the notification.
	fired, err := w.tick(context.Background())
	assert.True(t, fired)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.Calls())
	assert.Len(t, s.Outcomes(), 1)
}

func TestTick_FiredBeforeNotify(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Completed("success"))
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	var during types.SchedulerState
	// Send runs on the ticking goroutine while it holds mu.
	s.OnSend = func() { during = w.state }

	fired, err := w.tick(context.Background())
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, types.StateFired, during)
}

func TestTick_ConcurrentTicksSendOnce(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Completed("success"))
	s := &testutil.RecordingSink{OnSend: func() { time.Sleep(10 * time.Millisecond) }}
	w := newTestWatcher(t, f, s)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fired, err := w.tick(context.Background())
			assert.True(t, fired)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.Calls())
	assert.Len(t, s.Outcomes(), 1)
}

func TestTick_PendingReportsNotFired(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Pending(), testutil.Transport())
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	for range 2 {
		fired, err := w.tick(context.Background())
		assert.False(t, fired)
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, w.Fetches())
	assert.Empty(t, s.Outcomes())
}

func TestRun_StopsPollingAfterFiring(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Pending(), testutil.Completed("success"))
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	require.NoError(t, runWithTimeout(t, w, 5*time.Second))
	calls := f.Calls()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, f.Calls())
	assert.Len(t, s.Outcomes(), 1)
}

func TestRun_ReturnsCancelCause(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Pending())
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	stop := errors.New("operator stop")
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	testutil.WaitForCalls(t, f, 2, 5*time.Second)
	cancel(stop)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, stop)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, s.Outcomes())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Completed("success"))
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Run(ctx), context.Canceled)
	assert.Equal(t, 0, f.Calls())
	assert.Empty(t, s.Outcomes())
}

func TestRun_FetchHasDeadlineAndTarget(t *testing.T) {
	f := testutil.NewFakeFetcher(testutil.Pending(), testutil.Completed("success"))
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s)

	require.NoError(t, runWithTimeout(t, w, 5*time.Second))
	assert.True(t, f.AllHadDeadline())
	for _, got := range f.Targets() {
		assert.Equal(t, testTarget, got)
	}
}

func TestNew_Validation(t *testing.T) {
	f := testutil.NewFakeFetcher()
	s := &testutil.RecordingSink{}

	for _, iv := range []time.Duration{0, -time.Second} {
		_, err := New(f, s, testTarget, Config{Interval: iv})
		assert.ErrorIs(t, err, ErrInvalidInterval, "interval %s", iv)
	}

	_, err := New(nil, s, testTarget, Config{Interval: time.Second})
	assert.Error(t, err)
	_, err = New(f, nil, testTarget, Config{Interval: time.Second})
	assert.Error(t, err)

	w, err := New(f, s, testTarget, Config{Interval: time.Second})
	require.NoError(t, err)
	assert.Equal(t, DefaultRequestTimeout, w.config.RequestTimeout)
	assert.Equal(t, types.StateActive, w.State())
}

func TestRun_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	f := testutil.NewFakeFetcher(testutil.Transport(), testutil.Pending(), testutil.Completed("success"))
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s, WithMeterProvider(mp))

	require.NoError(t, runWithTimeout(t, w, 5*time.Second))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(1), sumCounter(rm, "runwatch.polls", "phase", "error"))
	assert.Equal(t, int64(1), sumCounter(rm, "runwatch.polls", "phase", "pending"))
	assert.Equal(t, int64(1), sumCounter(rm, "runwatch.polls", "phase", "completed"))
	assert.Equal(t, int64(1), sumCounter(rm, "runwatch.fetch_errors", "kind", "transport"))
	assert.Equal(t, int64(1), sumCounter(rm, "runwatch.notifications", "result", "delivered"))
}

func TestTick_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	f := testutil.NewFakeFetcher(testutil.Pending(), testutil.Completed("success"))
	s := &testutil.RecordingSink{}
	w := newTestWatcher(t, f, s, WithTracerProvider(tp))

	require.NoError(t, runWithTimeout(t, w, 5*time.Second))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	for _, sp := range spans {
		assert.Equal(t, "watcher.tick", sp.Name())
	}
	last := spans[1]
	require.Len(t, last.Events(), 1)
	assert.Equal(t, "fired", last.Events()[0].Name)
	assert.Contains(t, last.Attributes(), attribute.Int("attempt", 2))
}

func sumCounter(rm metricdata.ResourceMetrics, name, key, value string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}
