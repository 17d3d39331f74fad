package batch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/contracts"
)

// fakeMulticall answers balanceOf calls with the value registered for the target token.
type fakeMulticall struct {
	mu       sync.Mutex
	balances map[string]int64
	failing  map[string]bool
	err      error
	batches  [][]entity.ContractCall
}

func (f *fakeMulticall) Multicall(_ context.Context, calls []entity.ContractCall) ([]entity.CallResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, calls)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]entity.CallResult, len(calls))
	for i, c := range calls {
		if f.failing[c.Target] {
			out[i] = entity.CallResult{Success: false}
			continue
		}
		out[i] = entity.CallResult{Success: true, ReturnData: common.LeftPadBytes(big.NewInt(f.balances[c.Target]).Bytes(), 32)}
	}
	return out, nil
}

func (f *fakeMulticall) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func token(i int) string {
	return common.BigToAddress(big.NewInt(int64(1000 + i))).Hex()
}

const holder = "0x000000000000000000000000000000000000dEaD"

func TestBatcher_PartialFailureKeepsSlotCorrespondence(t *testing.T) {
	const n = 6
	fake := &fakeMulticall{balances: map[string]int64{}, failing: map[string]bool{token(3): true}}
	for i := 0; i < n; i++ {
		fake.balances[token(i)] = int64(i * 10)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(entity.ChainEthereum, fake, Options{MaxBatchSize: n, IdleWindow: time.Second})
	b.Start(ctx)

	type result struct {
		v   *big.Int
		err error
	}
	results := make([]result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.FetchBalance(ctx, token(i), holder)
			results[i] = result{v, err}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []int{n}, fake.batchSizes())
	for i, r := range results {
		if i == 3 {
			require.Error(t, r.err)
			continue
		}
		require.NoError(t, r.err, "slot %d", i)
		assert.Equal(t, int64(i*10), r.v.Int64(), "slot %d", i)
	}
}

func TestBatcher_RoundTripFailureRejectsWholeBatch(t *testing.T) {
	boom := errors.New("connection reset")
	fake := &fakeMulticall{err: boom}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(entity.ChainBase, fake, Options{MaxBatchSize: 3, IdleWindow: time.Second})
	b.Start(ctx)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Call(ctx, contracts.BalanceOfCall(token(i), holder))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.ErrorIs(t, err, boom)
	}
}

func TestBatcher_IdleWindowFlushesPartialBatch(t *testing.T) {
	fake := &fakeMulticall{balances: map[string]int64{token(1): 5}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(entity.ChainEthereum, fake, Options{MaxBatchSize: 100, IdleWindow: 20 * time.Millisecond})
	b.Start(ctx)

	start := time.Now()
	v, err := b.FetchBalance(ctx, token(1), holder)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int64())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []int{1}, fake.batchSizes())
}

func TestBatcher_MaxSizeSplitsBatches(t *testing.T) {
	fake := &fakeMulticall{balances: map[string]int64{}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(entity.ChainEthereum, fake, Options{MaxBatchSize: 2, IdleWindow: 50 * time.Millisecond})
	b.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.FetchBalance(ctx, token(i), holder)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, s := range fake.batchSizes() {
		assert.LessOrEqual(t, s, 2)
		total += s
	}
	assert.Equal(t, 5, total)
}

func TestBatcher_NativeBalanceTargetsMulticall(t *testing.T) {
	fake := &fakeMulticall{balances: map[string]int64{contracts.Multicall3Address: 99}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(entity.ChainBase, fake, Options{MaxBatchSize: 1})
	b.Start(ctx)

	v, err := b.FetchBalance(ctx, "", holder)
	require.NoError(t, err)
	assert.Equal(t, int64(99), v.Int64())
}

func TestBatcher_ClosedAfterContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := New(entity.ChainBase, &fakeMulticall{}, Options{})
	b.Start(ctx)
	cancel()
	<-b.done

	_, err := b.Call(context.Background(), contracts.DecimalsCall(token(0)))
	require.Error(t, err)
}

func TestFlush(t *testing.T) {
	q := make([]request, 5)
	for i := range q {
		q[i] = request{call: entity.ContractCall{Target: token(i)}}
	}

	batch, rest := flush(q, 3, triggerSize)
	require.Len(t, batch, 3)
	require.Len(t, rest, 2)
	assert.Equal(t, token(3), rest[0].call.Target)

	batch, rest = flush(q[:2], 3, triggerIdle)
	assert.Len(t, batch, 2)
	assert.Empty(t, rest)
}
