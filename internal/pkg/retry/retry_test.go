package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserve_tracker/internal/pkg/fetcherr"
)

type recordingReporter struct {
	mu     sync.Mutex
	errs   []error
	fields [][]any
}

func (r *recordingReporter) Report(_ context.Context, err error, fields ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.fields = append(r.fields, fields)
}

func noSleep(context.Context, time.Duration) error { return nil }

func failingTimes(n int, err error) (func(context.Context) (int, error), *int) {
	calls := 0
	return func(context.Context) (int, error) {
		calls++
		if calls <= n {
			return 0, err
		}
		return 42, nil
	}, &calls
}

func TestDo_SucceedsWithinBudget(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			op, calls := failingTimes(n-1, errors.New("boom"))
			v, err := Do(context.Background(), "op", Options{MaxRetries: n, BudgetMultiplier: 1, Sleep: noSleep}, op)
			require.NoError(t, err)
			assert.Equal(t, 42, v)
			assert.Equal(t, n, *calls)
		})
	}
}

func TestDo_FailsWhenBudgetTooSmall(t *testing.T) {
	rep := &recordingReporter{}
	boom := errors.New("boom")
	op, calls := failingTimes(4, boom)

	_, err := Do(context.Background(), "fetch balance", Options{MaxRetries: 4, BudgetMultiplier: 3, Sleep: noSleep, Reporter: rep}, op)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, *calls)

	require.Len(t, rep.errs, 1)
	assert.Contains(t, rep.fields[0], "attempts")
	assert.Contains(t, rep.fields[0], 4)
	assert.Contains(t, rep.fields[0], "generic,generic,generic,generic")
}

func TestDo_TransientKindsGetExtendedBudget(t *testing.T) {
	rateLimited := fetcherr.Errorf(fetcherr.KindRateLimit, "rpc", "HTTP 429")
	op, calls := failingTimes(5, rateLimited)

	v, err := Do(context.Background(), "op", Options{MaxRetries: 3, BudgetMultiplier: 2, Sleep: noSleep}, op)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 6, *calls)
}

func TestDo_PaymentRequiredIsNotRetried(t *testing.T) {
	rep := &recordingReporter{}
	op, calls := failingTimes(10, fetcherr.Errorf(fetcherr.KindPaymentRequired, "explorer", "HTTP 402"))

	_, err := Do(context.Background(), "op", Options{MaxRetries: 5, Sleep: noSleep, Reporter: rep}, op)
	require.Error(t, err)
	assert.Equal(t, fetcherr.KindPaymentRequired, fetcherr.KindOf(err))
	assert.Equal(t, 1, *calls)
	assert.Len(t, rep.errs, 1)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, "op", Options{MaxRetries: 10, Sleep: noSleep}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelay_CapsAtMaxDelay(t *testing.T) {
	o := Options{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, Delay(o, fetcherr.KindGeneric, 0))
	assert.Equal(t, 3*time.Second, Delay(o, fetcherr.KindRateLimit, 1))
	assert.Equal(t, 5*time.Second, Delay(o, fetcherr.KindRateLimit, 4))
	assert.Equal(t, 5*time.Second, Delay(o, fetcherr.KindTransport, 200))
}

func TestDelay_JitterIsBounded(t *testing.T) {
	o := Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Jitter: 50 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d := Delay(o, fetcherr.KindGeneric, 0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}

func TestWithCondition_RetriesUntilAccepted(t *testing.T) {
	results := []string{"", "", "ok"}
	calls := 0
	v, err := WithCondition(context.Background(), "op", Options{MaxRetries: 5, Sleep: noSleep},
		func(s string) bool { return s != "" },
		func(context.Context) (string, error) {
			r := results[calls]
			calls++
			return r, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestWithCondition_ReturnsLastResultWhenNeverAccepted(t *testing.T) {
	rep := &recordingReporter{}
	calls := 0
	v, err := WithCondition(context.Background(), "op", Options{MaxRetries: 3, Sleep: noSleep, Reporter: rep},
		func(n int) bool { return n > 100 },
		func(context.Context) (int, error) {
			calls++
			return calls, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Empty(t, rep.errs)
}

func TestWithCondition_ErrorOnlyWhenNothingSucceeded(t *testing.T) {
	rep := &recordingReporter{}
	boom := errors.New("boom")
	_, err := WithCondition(context.Background(), "op", Options{MaxRetries: 2, Sleep: noSleep, Reporter: rep},
		func(int) bool { return true },
		func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.Len(t, rep.errs, 1)
}

func TestDo_BackoffGrowsPerKind(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
		return nil
	}
	op, calls := failingTimes(3, fetcherr.Errorf(fetcherr.KindRateLimit, "rpc", "HTTP 429"))

	_, err := Do(context.Background(), "op", Options{MaxRetries: 2, BudgetMultiplier: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Sleep: sleep}, op)
	require.NoError(t, err)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond}, delays)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	rep := &recordingReporter{}
	boom := errors.New("boom")
	op, calls := failingTimes(10, Permanent(boom))

	_, err := Do(context.Background(), "op", Options{MaxRetries: 5, Sleep: noSleep, Reporter: rep}, op)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, *calls)
	assert.Len(t, rep.errs, 1)
}
