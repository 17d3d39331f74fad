package blockwatcher

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/client"
	"reserve_tracker/internal/pkg/logger"
	"reserve_tracker/internal/pkg/retry"
)

type fakeChain struct {
	height    atomic.Uint64
	subscribe func(ctx context.Context, heights chan<- uint64) error
}

func (f *fakeChain) Multicall(context.Context, []entity.ContractCall) ([]entity.CallResult, error) {
	return nil, nil
}
func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return f.height.Add(1), nil }
func (f *fakeChain) SubscribeNewHeads(ctx context.Context, heights chan<- uint64) error {
	return f.subscribe(ctx, heights)
}
func (f *fakeChain) Definition() entity.NetworkDefinition {
	return entity.NetworkDefinition{Name: "Test", Chain: entity.ChainBase}
}

func collect(t *testing.T, out <-chan uint64, n int) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case h := <-out:
			got = append(got, h)
		case <-timeout:
			t.Fatalf("received %d of %d heights", len(got), n)
		}
	}
	return got
}

func TestEVMSourcePollsWithoutWebsocket(t *testing.T) {
	chain := &fakeChain{subscribe: func(context.Context, chan<- uint64) error { return client.ErrNoWebsocket }}
	src := NewEVMSource(chain, 5*time.Millisecond, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan uint64, 8)
	go src.Watch(ctx, out)

	got := collect(t, out, 3)
	assert.IsIncreasing(t, got)
}

func TestEVMSourceUsesSubscription(t *testing.T) {
	chain := &fakeChain{subscribe: func(ctx context.Context, heights chan<- uint64) error {
		for _, h := range []uint64{100, 101, 102} {
			heights <- h
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	src := NewEVMSource(chain, time.Hour, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan uint64, 8)
	go src.Watch(ctx, out)

	assert.Equal(t, []uint64{100, 101, 102}, collect(t, out, 3))
	assert.Zero(t, chain.height.Load())
}

func TestEVMSourcePollsAfterSubscriptionDrop(t *testing.T) {
	var calls atomic.Int32
	chain := &fakeChain{subscribe: func(ctx context.Context, heights chan<- uint64) error {
		if calls.Add(1) == 1 {
			return errors.New("connection reset")
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	src := NewEVMSource(chain, time.Millisecond, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan uint64, 64)
	go src.Watch(ctx, out)

	collect(t, out, 2)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, time.Millisecond)
}

type tipSource struct {
	tip uint64
	err error
}

func (s tipSource) Name() string { return "tip" }
func (s tipSource) GetAddressBalance(context.Context, string) (*big.Int, error) {
	return nil, errors.New("unused")
}
func (s tipSource) TipHeight(context.Context) (uint64, error) { return s.tip, s.err }

// sequenceSource answers TipHeight with tips in order, repeating the last one.
type sequenceSource struct {
	tips  []uint64
	calls atomic.Int32
}

func (s *sequenceSource) Name() string { return "sequence" }
func (s *sequenceSource) GetAddressBalance(context.Context, string) (*big.Int, error) {
	return nil, errors.New("unused")
}
func (s *sequenceSource) TipHeight(context.Context) (uint64, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.tips) {
		i = len(s.tips) - 1
	}
	return s.tips[i], nil
}

var testRetry = retry.Options{MaxRetries: 3, Sleep: func(context.Context, time.Duration) error { return nil }}

func TestUTXOSourceFallsThroughExplorers(t *testing.T) {
	src := NewUTXOSource([]port.UTXOBalanceSource{
		tipSource{err: errors.New("explorer down")},
		tipSource{tip: 850000},
	}, time.Hour, testRetry, logger.NewNop())

	h, err := src.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(850000), h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan uint64, 1)
	go src.Watch(ctx, out)
	assert.Equal(t, []uint64{850000}, collect(t, out, 1))
}

func TestUTXOSourceAllExplorersFail(t *testing.T) {
	src := NewUTXOSource([]port.UTXOBalanceSource{
		tipSource{err: errors.New("a")},
		tipSource{err: errors.New("b")},
	}, time.Hour, testRetry, logger.NewNop())

	_, err := src.LatestBlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}

func TestPublishNeverBlocks(t *testing.T) {
	out := make(chan uint64, 1)
	publish(out, 1, logger.NewNop())
	publish(out, 2, logger.NewNop())
	assert.Equal(t, uint64(1), <-out)
}

func TestUTXOSourceAsksAgainAfterZeroHeight(t *testing.T) {
	flaky := &sequenceSource{tips: []uint64{0, 0, 850001}}
	src := NewUTXOSource([]port.UTXOBalanceSource{flaky, tipSource{tip: 1}}, time.Hour, testRetry, logger.NewNop())

	h, err := src.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(850001), h)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

func TestUTXOSourceFallsThroughOnPersistentZeroHeight(t *testing.T) {
	stuck := &sequenceSource{tips: []uint64{0}}
	src := NewUTXOSource([]port.UTXOBalanceSource{stuck, tipSource{tip: 850002}}, time.Hour, testRetry, logger.NewNop())

	h, err := src.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(850002), h)
	assert.EqualValues(t, 3, stuck.calls.Load())
}

func TestUTXOSourceDoesNotRepeatExplorerErrors(t *testing.T) {
	failing := &countingTipSource{err: errors.New("explorer down")}
	src := NewUTXOSource([]port.UTXOBalanceSource{failing}, time.Hour, testRetry, logger.NewNop())

	_, err := src.LatestBlock(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, failing.calls.Load())
}

type countingTipSource struct {
	err   error
	calls atomic.Int32
}

func (s *countingTipSource) Name() string { return "counting" }
func (s *countingTipSource) GetAddressBalance(context.Context, string) (*big.Int, error) {
	return nil, errors.New("unused")
}
func (s *countingTipSource) TipHeight(context.Context) (uint64, error) {
	s.calls.Add(1)
	return 0, s.err
}
