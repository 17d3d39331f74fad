package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/contracts"
	"reserve_tracker/internal/infrastructure/network/ratelimit"
	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/retry"
)

// ErrNoWebsocket is returned by SubscribeNewHeads when the network has no websocket endpoint.
var ErrNoWebsocket = errors.New("no websocket endpoint configured")

// ethBackend is the subset of *ethclient.Client used here.
type ethBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EVMClient implements port.EVMChainClient for one EVM chain. Every call passes the
// chain limiter and the retry engine; errors leave it classified.
type EVMClient struct {
	backend ethBackend
	netDef  entity.NetworkDefinition
	limiter *ratelimit.ChainLimiter
	retry   retry.Options
	// batchRetry drives Multicall. It has no reporter since the balance pipeline
	// reports each failed read itself.
	batchRetry retry.Options
	logger     port.Logger
	dialWS     func(ctx context.Context, url string) (*ethclient.Client, error)
}

// NewEVMClient dials the primary RPC endpoint, falling back to the configured alternates.
func NewEVMClient(
	netDef entity.NetworkDefinition,
	limiter *ratelimit.ChainLimiter,
	retryOpts retry.Options,
	connectionTimeout time.Duration,
	logger port.Logger,
) (*EVMClient, error) {
	rpcURLs := append([]string{netDef.PrimaryRPCURL}, netDef.FallbackRPCURLs...)
	var lastErr error

	for _, rpcURL := range rpcURLs {
		if rpcURL == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
		c, err := ethclient.DialContext(ctx, rpcURL)
		cancel()

		if err == nil {
			return newEVMClient(c, netDef, limiter, retryOpts, logger), nil
		}
		lastErr = fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
		logger.Warn("RPC endpoint unavailable, trying next", "network", netDef.Name, "error", err)
	}
	if lastErr == nil {
		lastErr = fetcherr.Errorf(fetcherr.KindConfig, "dial", "no RPC URL configured")
	}

	return nil, fmt.Errorf("all RPC connection attempts failed for network %s: %w", netDef.Name, lastErr)
}

func newEVMClient(backend ethBackend, netDef entity.NetworkDefinition, limiter *ratelimit.ChainLimiter, retryOpts retry.Options, logger port.Logger) *EVMClient {
	batchRetry := retryOpts
	batchRetry.Reporter = nil
	return &EVMClient{
		backend:    backend,
		netDef:     netDef,
		limiter:    limiter,
		retry:      retryOpts,
		batchRetry: batchRetry,
		logger:     logger,
		dialWS:     ethclient.DialContext,
	}
}

func call[T any](ctx context.Context, c *EVMClient, o retry.Options, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	description := fmt.Sprintf("%s %s", c.netDef.Chain, op)
	return retry.Do(ctx, description, o, func(ctx context.Context) (T, error) {
		v, err := ratelimit.Do(ctx, c.limiter, op, fn)
		return v, fetcherr.FromRPC(op, err)
	})
}

// Multicall executes calls as one Multicall3 aggregate3 round trip with allowFailure set.
func (c *EVMClient) Multicall(ctx context.Context, calls []entity.ContractCall) ([]entity.CallResult, error) {
	if len(calls) == 0 {
		return []entity.CallResult{}, nil
	}
	data, err := contracts.PackAggregate3(calls)
	if err != nil {
		return nil, fetcherr.New(fetcherr.KindConfig, "pack aggregate3", err)
	}
	to := common.HexToAddress(contracts.Multicall3Address)

	return call(ctx, c, c.batchRetry, "aggregate3", func(ctx context.Context) ([]entity.CallResult, error) {
		out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		results, err := contracts.UnpackAggregate3(out)
		if err != nil {
			return nil, fetcherr.FromDecode("aggregate3", err)
		}
		return results, nil
	})
}

// BlockNumber returns the latest block height.
func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, c.retry, "eth_blockNumber", c.backend.BlockNumber)
}

// SubscribeNewHeads streams new head heights over the websocket endpoint until ctx is
// done or the subscription drops. Sends into heights never block.
func (c *EVMClient) SubscribeNewHeads(ctx context.Context, heights chan<- uint64) error {
	if c.netDef.WebsocketURL == "" {
		return ErrNoWebsocket
	}
	ws, err := c.dialWS(ctx, c.netDef.WebsocketURL)
	if err != nil {
		return fetcherr.FromRPC("dial websocket", err)
	}
	defer ws.Close()

	headers := make(chan *types.Header, 16)
	sub, err := ws.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fetcherr.FromRPC("eth_subscribe", err)
	}
	defer sub.Unsubscribe()
	c.logger.Info("Subscribed to new heads", "network", c.netDef.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fetcherr.New(fetcherr.KindTransport, "newHeads subscription", err)
		case h := <-headers:
			if h == nil || h.Number == nil {
				continue
			}
			select {
			case heights <- h.Number.Uint64():
			default:
			}
		}
	}
}

// Definition returns the network definition for this client.
func (c *EVMClient) Definition() entity.NetworkDefinition {
	return c.netDef
}
