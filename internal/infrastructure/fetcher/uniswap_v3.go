package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/contracts"
	"reserve_tracker/internal/pkg/fetcherr"
)

// UniswapV3Deployment holds the periphery and core addresses on one chain.
type UniswapV3Deployment struct {
	PositionManager string
	Factory         string
}

// UniswapV3Deployments lists the canonical deployments per chain.
var UniswapV3Deployments = map[entity.Chain]UniswapV3Deployment{
	entity.ChainEthereum: {
		PositionManager: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
		Factory:         "0x1F98431c8aD98523631AE4a59f267346ea31F984",
	},
	entity.ChainBase: {
		PositionManager: "0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1",
		Factory:         "0x33128a8fC17869897dcE68Ed026d694621f6FDfD",
	},
}

// UniswapV3Reader values concentrated-liquidity positions. All reads go through the
// chain's batcher, so concurrent reads collapse into few round trips.
type UniswapV3Reader struct {
	caller     ContractCaller
	deployment UniswapV3Deployment
	logger     port.Logger

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewUniswapV3Reader creates a reader for one deployment.
func NewUniswapV3Reader(caller ContractCaller, deployment UniswapV3Deployment, logger port.Logger) *UniswapV3Reader {
	return &UniswapV3Reader{
		caller:     caller,
		deployment: deployment,
		logger:     logger,
		decimals:   make(map[common.Address]uint8),
	}
}

// TargetTokenAmount returns the amount of token held across every position owned by owner,
// normalized by the token's decimals.
func (r *UniswapV3Reader) TargetTokenAmount(ctx context.Context, token, owner string) (decimal.Decimal, error) {
	positions, err := r.positions(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	target := common.HexToAddress(token)
	relevant := lo.Filter(positions, func(p contracts.Position, _ int) bool {
		return (p.Token0 == target || p.Token1 == target) && p.Liquidity != nil && p.Liquidity.Sign() > 0
	})
	if len(relevant) == 0 {
		r.logger.Debug("No liquidity positions hold token", "owner", owner, "token", token, "positions", len(positions))
		return decimal.Zero, nil
	}

	amounts := make([]decimal.Decimal, len(relevant))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range relevant {
		g.Go(func() error {
			a, err := r.positionTokenAmount(gctx, p, target)
			if err != nil {
				return err
			}
			amounts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

// positions enumerates the position NFTs of owner and reads their details.
func (r *UniswapV3Reader) positions(ctx context.Context, owner string) ([]contracts.Position, error) {
	count, err := r.caller.CallUint256(ctx, contracts.PositionCountCall(r.deployment.PositionManager, owner))
	if err != nil {
		return nil, fmt.Errorf("position count of %s: %w", owner, err)
	}
	if !count.IsInt64() || count.Int64() == 0 {
		return nil, nil
	}
	n := count.Int64()

	positions := make([]contracts.Position, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := int64(0); i < n; i++ {
		g.Go(func() error {
			id, err := r.caller.CallUint256(gctx, contracts.TokenOfOwnerByIndexCall(r.deployment.PositionManager, owner, i))
			if err != nil {
				return fmt.Errorf("position %d of %s: %w", i, owner, err)
			}
			res, err := r.caller.Call(gctx, contracts.PositionsCall(r.deployment.PositionManager, id))
			if err != nil {
				return fmt.Errorf("position %s details: %w", id, err)
			}
			if !res.Success {
				return fetcherr.Errorf(fetcherr.KindExecution, "positions", "positions(%s) reverted", id)
			}
			p, err := contracts.UnpackPosition(res.ReturnData)
			if err != nil {
				return fetcherr.FromDecode("positions", err)
			}
			positions[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return positions, nil
}

func (r *UniswapV3Reader) positionTokenAmount(ctx context.Context, p contracts.Position, target common.Address) (decimal.Decimal, error) {
	poolRes, err := r.caller.Call(ctx, contracts.GetPoolCall(r.deployment.Factory, p.Token0, p.Token1, p.Fee))
	if err != nil {
		return decimal.Zero, fmt.Errorf("getPool: %w", err)
	}
	if !poolRes.Success {
		return decimal.Zero, fetcherr.Errorf(fetcherr.KindExecution, "getPool", "getPool reverted")
	}
	pool, err := contracts.UnpackAddress(poolRes.ReturnData)
	if err != nil {
		return decimal.Zero, fetcherr.FromDecode("getPool", err)
	}

	slotRes, err := r.caller.Call(ctx, contracts.Slot0Call(pool.Hex()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("slot0 of %s: %w", pool.Hex(), err)
	}
	if !slotRes.Success {
		return decimal.Zero, fetcherr.Errorf(fetcherr.KindExecution, "slot0", "slot0 of %s reverted", pool.Hex())
	}
	slot0, err := contracts.UnpackSlot0(slotRes.ReturnData)
	if err != nil {
		return decimal.Zero, fetcherr.FromDecode("slot0", err)
	}

	amount0, amount1 := positionAmounts(p.Liquidity, slot0.SqrtPriceX96, p.TickLower.Int64(), p.TickUpper.Int64())
	raw := amount1
	if p.Token0 == target {
		raw = amount0
	}
	dec, err := r.tokenDecimals(ctx, target)
	if err != nil {
		return decimal.Zero, err
	}
	return normalizeFloat(raw, dec), nil
}

func (r *UniswapV3Reader) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	r.mu.Lock()
	d, ok := r.decimals[token]
	r.mu.Unlock()
	if ok {
		return d, nil
	}

	res, err := r.caller.Call(ctx, contracts.DecimalsCall(token.Hex()))
	if err != nil {
		return 0, fmt.Errorf("decimals of %s: %w", token.Hex(), err)
	}
	if !res.Success {
		return 0, fetcherr.Errorf(fetcherr.KindExecution, "decimals", "decimals of %s reverted", token.Hex())
	}
	d, err = contracts.UnpackDecimals(res.ReturnData)
	if err != nil {
		return 0, fetcherr.FromDecode("decimals", err)
	}

	r.mu.Lock()
	r.decimals[token] = d
	r.mu.Unlock()
	return d, nil
}
