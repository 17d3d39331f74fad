// Package retry runs external calls with classified, per-kind exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/metrics"
)

// Options configures one retried operation.
type Options struct {
	// MaxRetries is the total number of attempts for generic failures.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// BudgetMultiplier scales MaxRetries for transient failure kinds.
	BudgetMultiplier int
	// Jitter is the upper bound of the random delay added to each backoff.
	Jitter time.Duration

	Reporter port.ErrorReporter
	Metrics  *metrics.Metrics
	// Sleep replaces the backoff timer; tests use it to skip real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions mirrors the values used for RPC and explorer calls.
func DefaultOptions() Options {
	return Options{
		MaxRetries:       3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		BudgetMultiplier: 2,
		Jitter:           250 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.BudgetMultiplier < 1 {
		o.BudgetMultiplier = d.BudgetMultiplier
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	return o
}

// growth is the backoff base per failure kind.
func growth(k fetcherr.Kind) float64 {
	switch k {
	case fetcherr.KindRateLimit:
		return 3
	case fetcherr.KindTransport:
		return 2
	case fetcherr.KindMalformed, fetcherr.KindExecution:
		return 1.5
	default:
		return 2
	}
}

// Delay returns the backoff before the attempt following the given zero-based attempt.
func Delay(o Options, kind fetcherr.Kind, attempt int) time.Duration {
	d := math.Pow(growth(kind), float64(attempt)) * float64(o.BaseDelay)
	if o.Jitter > 0 {
		d += float64(rand.Int64N(int64(o.Jitter)))
	}
	if d > float64(o.MaxDelay) || math.IsInf(d, 1) {
		return o.MaxDelay
	}
	return time.Duration(d)
}

// budget is the total number of attempts allowed once a failure of kind k is seen.
func budget(o Options, k fetcherr.Kind) int {
	if k.Transient() {
		return o.MaxRetries * o.BudgetMultiplier
	}
	return o.MaxRetries
}

// kindBackOff is a backoff.BackOff whose growth and attempt budget follow the kind
// of the most recent failure.
type kindBackOff struct {
	o       Options
	attempt int
	kind    fetcherr.Kind
}

func (b *kindBackOff) Reset() { b.attempt = 0 }

func (b *kindBackOff) NextBackOff() time.Duration {
	a := b.attempt
	b.attempt++
	if a+1 >= budget(b.o, b.kind) {
		return backoff.Stop
	}
	return Delay(b.o, b.kind, a)
}

// sleepTimer adapts Options.Sleep to backoff.Timer.
type sleepTimer struct {
	ctx    context.Context
	sleep  func(ctx context.Context, d time.Duration) error
	c      chan time.Time
	cancel context.CancelFunc
}

func (t *sleepTimer) Start(d time.Duration) {
	ctx, cancel := context.WithCancel(t.ctx)
	t.cancel = cancel
	c := make(chan time.Time, 1)
	t.c = c
	go func() {
		_ = t.sleep(ctx, d)
		c <- time.Now()
	}()
}

func (t *sleepTimer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *sleepTimer) C() <-chan time.Time { return t.c }

func timer(ctx context.Context, o Options) backoff.Timer {
	if o.Sleep == nil {
		return nil
	}
	return &sleepTimer{ctx: ctx, sleep: o.Sleep}
}

// Permanent marks err so that Do and WithCondition return it without retrying.
func Permanent(err error) error {
	var p *backoff.PermanentError
	if err == nil || errors.As(err, &p) {
		return err
	}
	return backoff.Permanent(err)
}

func unwrapPermanent(err error) error {
	var p *backoff.PermanentError
	if errors.As(err, &p) {
		return p.Err
	}
	return err
}

// failed classifies one failed call, records it, and decides whether the
// backoff loop may try again.
func (b *kindBackOff) failed(ctx context.Context, err error, history *[]fetcherr.Kind) error {
	kind := fetcherr.KindOf(err)
	b.kind = kind
	*history = append(*history, kind)
	b.o.Metrics.IncRetry(kind.String())

	var p *backoff.PermanentError
	if errors.As(err, &p) {
		return err
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil || !kind.Retryable() {
		return backoff.Permanent(err)
	}
	return err
}

// Do runs op until it succeeds or the budget for the last failure kind is spent.
// The last error is reported and returned.
func Do[T any](ctx context.Context, description string, o Options, op func(ctx context.Context) (T, error)) (T, error) {
	o = o.withDefaults()
	b := &kindBackOff{o: o}
	var history []fetcherr.Kind

	v, err := backoff.RetryNotifyWithTimerAndData(func() (T, error) {
		v, err := op(ctx)
		if err != nil {
			return v, b.failed(ctx, err, &history)
		}
		return v, nil
	}, backoff.WithContext(b, ctx), nil, timer(ctx, o))
	if err == nil {
		return v, nil
	}
	var zero T
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return zero, err
	}
	report(ctx, o, description, err, history)
	return zero, err
}

var errRejected = errors.New("result not accepted")

// WithCondition retries op until accept holds for its result. Errors consume the
// budget like Do. If accept never holds the last successful result is returned
// without an error; an error is returned only when no attempt succeeded.
func WithCondition[T any](ctx context.Context, description string, o Options, accept func(T) bool, op func(ctx context.Context) (T, error)) (T, error) {
	o = o.withDefaults()
	b := &kindBackOff{o: o}
	var (
		last    T
		haveOK  bool
		lastErr error
		history []fetcherr.Kind
	)

	_, err := backoff.RetryNotifyWithTimerAndData(func() (T, error) {
		v, err := op(ctx)
		if err != nil {
			lastErr = unwrapPermanent(err)
			return v, b.failed(ctx, err, &history)
		}
		last, haveOK = v, true
		if accept(v) {
			return v, nil
		}
		b.kind = fetcherr.KindGeneric
		return v, errRejected
	}, backoff.WithContext(b, ctx), nil, timer(ctx, o))
	if err == nil || haveOK {
		return last, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	report(ctx, o, description, lastErr, history)
	return last, lastErr
}

func report(ctx context.Context, o Options, description string, err error, history []fetcherr.Kind) {
	if o.Reporter == nil {
		return
	}
	kinds := make([]string, len(history))
	for i, k := range history {
		kinds[i] = k.String()
	}
	o.Reporter.Report(ctx, fmt.Errorf("%s: %w", description, err),
		"operation", description,
		"attempts", len(history),
		"failure_kinds", strings.Join(kinds, ","),
	)
}
