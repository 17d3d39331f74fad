// Package ratelimit implements two-level admission for external calls: a process-wide
// concurrency bound shared by every chain and a per-chain bound with minimum spacing.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/metrics"
)

// ErrCallTimeout is returned when a call did not complete before its deadline.
var ErrCallTimeout = errors.New("external call timed out")

// Global bounds total in-flight external calls across all chains.
type Global struct {
	sem *semaphore.Weighted
}

// NewGlobal creates a global limiter admitting at most maxInFlight calls.
func NewGlobal(maxInFlight int) *Global {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Global{sem: semaphore.NewWeighted(int64(maxInFlight))}
}

// ChainLimiter bounds the calls of one chain and spaces their dispatch.
type ChainLimiter struct {
	name    string
	global  *Global
	sem     *semaphore.Weighted
	spacing *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
}

// ChainOptions configures a ChainLimiter.
type ChainOptions struct {
	MaxConcurrent int
	// MinInterval is the minimum gap between two dispatches; zero disables spacing.
	MinInterval time.Duration
	// Timeout bounds each call; zero disables it.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// NewChainLimiter creates the limiter of one chain. global may be nil.
func NewChainLimiter(name string, global *Global, o ChainOptions) *ChainLimiter {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 1
	}
	limit := rate.Inf
	if o.MinInterval > 0 {
		limit = rate.Every(o.MinInterval)
	}
	return &ChainLimiter{
		name:    name,
		global:  global,
		sem:     semaphore.NewWeighted(int64(o.MaxConcurrent)),
		spacing: rate.NewLimiter(limit, 1),
		timeout: o.Timeout,
		metrics: o.Metrics,
	}
}

// Name returns the chain name the limiter was created for.
func (l *ChainLimiter) Name() string { return l.name }

// Do admits fn through the global and chain limiters, waits for spacing and runs it
// raced against the call timeout. A call that loses the race keeps running in the
// background and its result is discarded.
func Do[T any](ctx context.Context, l *ChainLimiter, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if l == nil {
		return fn(ctx)
	}

	if l.global != nil {
		if err := l.global.sem.Acquire(ctx, 1); err != nil {
			return zero, err
		}
		defer l.global.sem.Release(1)
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer l.sem.Release(1)
	if err := l.spacing.Wait(ctx); err != nil {
		return zero, err
	}

	start := time.Now()
	v, err := race(ctx, l.timeout, op, fn)
	l.metrics.ObserveExternalCall(l.name, err, time.Since(start))
	return v, err
}

type outcome[T any] struct {
	v   T
	err error
}

func race[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome[T]{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, fetcherr.New(fetcherr.KindTransport, op, fmt.Errorf("%w after %s", ErrCallTimeout, timeout))
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
