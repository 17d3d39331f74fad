// Package batch coalesces independent contract reads of one chain into Multicall3
// round trips.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/contracts"
	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/metrics"
)

// ErrClosed is returned for calls made after the batcher stopped.
var ErrClosed = errors.New("batcher closed")

// Multicaller executes a batch of calls in one round trip.
type Multicaller interface {
	Multicall(ctx context.Context, calls []entity.ContractCall) ([]entity.CallResult, error)
}

// Options configures a Batcher.
type Options struct {
	MaxBatchSize int
	// IdleWindow is the quiet period after the last arrival that flushes a partial batch.
	IdleWindow time.Duration
	Metrics    *metrics.Metrics
	Logger     port.Logger
}

type response struct {
	result entity.CallResult
	err    error
}

type request struct {
	call  entity.ContractCall
	reply chan response
}

type trigger int

const (
	triggerSize trigger = iota
	triggerIdle
)

func (t trigger) String() string {
	if t == triggerSize {
		return "size"
	}
	return "idle"
}

// Batcher owns the pending queue of one chain. A single collector goroutine reads
// the request channel, so the queue and timer need no locking.
type Batcher struct {
	chain    entity.Chain
	exec     Multicaller
	opts     Options
	requests chan request
	done     chan struct{}
}

// New creates a batcher for chain. Start must be called before Call.
func New(chain entity.Chain, exec Multicaller, opts Options) *Batcher {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}
	if opts.IdleWindow <= 0 {
		opts.IdleWindow = 50 * time.Millisecond
	}
	return &Batcher{
		chain:    chain,
		exec:     exec,
		opts:     opts,
		requests: make(chan request, opts.MaxBatchSize),
		done:     make(chan struct{}),
	}
}

// Start runs the collector until ctx is done. Requests still queued then fail with ctx's error.
func (b *Batcher) Start(ctx context.Context) {
	go b.collect(ctx)
}

// flush splits the queue into the batch to execute now and what stays queued.
func flush(queue []request, maxSize int, _ trigger) (batch, remaining []request) {
	if len(queue) <= maxSize {
		return queue, nil
	}
	rest := make([]request, len(queue)-maxSize)
	copy(rest, queue[maxSize:])
	return queue[:maxSize], rest
}

func (b *Batcher) collect(ctx context.Context) {
	defer close(b.done)

	var (
		queue  []request
		timer  = time.NewTimer(b.opts.IdleWindow)
		timerC <-chan time.Time
	)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	dispatch := func(t trigger) {
		var batch []request
		batch, queue = flush(queue, b.opts.MaxBatchSize, t)
		if len(batch) == 0 {
			return
		}
		if b.opts.Logger != nil {
			b.opts.Logger.Debug("Flushing multicall batch", "chain", b.chain, "size", len(batch), "trigger", t.String())
		}
		go b.execute(ctx, batch)
	}

	for {
		select {
		case r := <-b.requests:
			queue = append(queue, r)
			if len(queue) >= b.opts.MaxBatchSize {
				timer.Stop()
				timerC = nil
				dispatch(triggerSize)
				if len(queue) == 0 {
					continue
				}
			}
			timer.Reset(b.opts.IdleWindow)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			dispatch(triggerIdle)
			if len(queue) > 0 {
				timer.Reset(b.opts.IdleWindow)
				timerC = timer.C
			}
		case <-ctx.Done():
			for _, r := range queue {
				r.reply <- response{err: ctx.Err()}
			}
			for {
				select {
				case r := <-b.requests:
					r.reply <- response{err: ctx.Err()}
				default:
					return
				}
			}
		}
	}
}

func (b *Batcher) execute(ctx context.Context, batch []request) {
	calls := make([]entity.ContractCall, len(batch))
	for i, r := range batch {
		calls[i] = r.call
	}
	b.opts.Metrics.ObserveBatch(string(b.chain), len(batch))

	results, err := b.exec.Multicall(ctx, calls)
	if err == nil && len(results) != len(batch) {
		err = fetcherr.Errorf(fetcherr.KindMalformed, "multicall", "expected %d results, got %d", len(batch), len(results))
	}
	if err != nil {
		for _, r := range batch {
			r.reply <- response{err: err}
		}
		return
	}
	for i, r := range batch {
		r.reply <- response{result: results[i]}
	}
}

// Call queues one contract call and waits for its slot of the batch it lands in.
// A failed slot is returned as a result with Success false, not as an error.
func (b *Batcher) Call(ctx context.Context, call entity.ContractCall) (entity.CallResult, error) {
	r := request{call: call, reply: make(chan response, 1)}
	select {
	case b.requests <- r:
	case <-b.done:
		return entity.CallResult{}, ErrClosed
	case <-ctx.Done():
		return entity.CallResult{}, ctx.Err()
	}
	select {
	case resp := <-r.reply:
		return resp.result, resp.err
	case <-b.done:
		return entity.CallResult{}, ErrClosed
	case <-ctx.Done():
		return entity.CallResult{}, ctx.Err()
	}
}

// CallUint256 runs call through the batch and decodes a uint256 result.
// A reverted slot is reported as an execution failure.
func (b *Batcher) CallUint256(ctx context.Context, call entity.ContractCall) (*big.Int, error) {
	res, err := b.Call(ctx, call)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fetcherr.Errorf(fetcherr.KindExecution, "multicall slot", "call to %s reverted", call.Target)
	}
	v, err := contracts.UnpackUint256(res.ReturnData)
	if err != nil {
		return nil, fetcherr.FromDecode("multicall slot", err)
	}
	return v, nil
}

// FetchBalance reads the balance of token held by account. An empty token or the
// zero address selects the native coin.
func (b *Batcher) FetchBalance(ctx context.Context, token, account string) (*big.Int, error) {
	var call entity.ContractCall
	if token == "" || token == entity.ZeroAddress {
		call = contracts.NativeBalanceCall(account)
	} else {
		call = contracts.BalanceOfCall(token, account)
	}
	v, err := b.CallUint256(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("balance of %s for %s on %s: %w", tokenLabel(token), account, b.chain, err)
	}
	return v, nil
}

func tokenLabel(token string) string {
	if token == "" {
		return "native"
	}
	return token
}
