package client

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/contracts"
	"reserve_tracker/internal/infrastructure/network/ratelimit"
	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/logger"
	"reserve_tracker/internal/pkg/retry"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

type fakeBackend struct {
	callOut   []byte
	callErrs  []error
	calls     int
	lastMsg   ethereum.CallMsg
	blockNum  uint64
	blockErrs []error
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastMsg = msg
	f.calls++
	if len(f.callErrs) > 0 {
		err := f.callErrs[0]
		f.callErrs = f.callErrs[1:]
		return nil, err
	}
	return f.callOut, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	if len(f.blockErrs) > 0 {
		err := f.blockErrs[0]
		f.blockErrs = f.blockErrs[1:]
		return 0, err
	}
	return f.blockNum, nil
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func testRetry(rep port.ErrorReporter) retry.Options {
	return retry.Options{MaxRetries: 2, BudgetMultiplier: 2, Reporter: rep, Sleep: func(context.Context, time.Duration) error { return nil }}
}

func newReportingClient(b ethBackend, rep port.ErrorReporter) *EVMClient {
	limiter := ratelimit.NewChainLimiter("ethereum", nil, ratelimit.ChainOptions{MaxConcurrent: 4, Timeout: time.Second})
	return newEVMClient(b, entity.NetworkDefinition{Chain: entity.ChainEthereum, Name: "Ethereum"}, limiter, testRetry(rep), logger.NewNop())
}

func newTestClient(b ethBackend) *EVMClient { return newReportingClient(b, nil) }

func aggregateOutput(t *testing.T, results ...contracts.Result3) []byte {
	t.Helper()
	out, err := contracts.Multicall3.Methods["aggregate3"].Outputs.Pack(results)
	require.NoError(t, err)
	return out
}

var decimalsCalls = []entity.ContractCall{contracts.DecimalsCall("0x0000000000000000000000000000000000000001")}

func TestEVMClient_MulticallDecodesSlots(t *testing.T) {
	fb := &fakeBackend{callOut: aggregateOutput(t,
		contracts.Result3{Success: true, ReturnData: common.LeftPadBytes(big.NewInt(12).Bytes(), 32)},
		contracts.Result3{Success: false, ReturnData: []byte{}},
	)}

	results, err := newTestClient(fb).Multicall(context.Background(), []entity.ContractCall{
		contracts.TotalSupplyCall("0x0000000000000000000000000000000000000001"),
		contracts.TotalSupplyCall("0x0000000000000000000000000000000000000002"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, common.HexToAddress(contracts.Multicall3Address), *fb.lastMsg.To)
}

func TestEVMClient_RetriesRateLimitedCalls(t *testing.T) {
	fb := &fakeBackend{
		callErrs: []error{codedError{code: -32005, msg: "limit exceeded"}, codedError{code: -32005, msg: "limit exceeded"}},
		callOut:  aggregateOutput(t, contracts.Result3{Success: true, ReturnData: common.LeftPadBytes([]byte{18}, 32)}),
	}
	results, err := newTestClient(fb).Multicall(context.Background(), decimalsCalls)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 3, fb.calls)
}

func TestEVMClient_ClassifiesReverts(t *testing.T) {
	fb := &fakeBackend{callErrs: []error{
		codedError{code: 3, msg: "execution reverted"},
		codedError{code: 3, msg: "execution reverted"},
		codedError{code: 3, msg: "execution reverted"},
		codedError{code: 3, msg: "execution reverted"},
	}}
	_, err := newTestClient(fb).Multicall(context.Background(), decimalsCalls)
	require.Error(t, err)
	assert.Equal(t, fetcherr.KindExecution, fetcherr.KindOf(err))
	assert.Equal(t, 4, fb.calls)
}

func TestEVMClient_BlockNumber(t *testing.T) {
	fb := &fakeBackend{blockNum: 19_000_000, blockErrs: []error{errors.New("EOF")}}

	n, err := newTestClient(fb).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(19_000_000), n)
}

func TestEVMClient_FailedBatchIsLeftToCallerToReport(t *testing.T) {
	rep := &recordingReporter{}
	fb := &fakeBackend{
		callErrs:  []error{errors.New("EOF"), errors.New("EOF"), errors.New("EOF"), errors.New("EOF")},
		blockErrs: []error{errors.New("EOF"), errors.New("EOF"), errors.New("EOF"), errors.New("EOF")},
	}
	c := newReportingClient(fb, rep)

	_, err := c.Multicall(context.Background(), decimalsCalls)
	require.Error(t, err)
	assert.Zero(t, rep.count())

	_, err = c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, rep.count())
}

func TestEVMClient_SubscribeWithoutWebsocket(t *testing.T) {
	err := newTestClient(&fakeBackend{}).SubscribeNewHeads(context.Background(), make(chan uint64, 1))
	require.ErrorIs(t, err, ErrNoWebsocket)
}
