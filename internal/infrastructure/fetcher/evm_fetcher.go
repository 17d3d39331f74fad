// Package fetcher implements the per-chain balance fetchers.
package fetcher

import (
	"context"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/contracts"
)

// EVMFetcher implements port.BalanceFetcher for one EVM chain.
type EVMFetcher struct {
	chain   entity.Chain
	caller  ContractCaller
	uniswap *UniswapV3Reader
	aave    *AaveReader
	logger  port.Logger
}

// NewEVMFetcher wires the holding, liquidity-position and lending-deposit strategies of chain.
// Strategies without a known deployment on chain are left out of SupportedCategories.
func NewEVMFetcher(chain entity.Chain, caller ContractCaller, logger port.Logger) *EVMFetcher {
	f := &EVMFetcher{chain: chain, caller: caller, logger: logger}
	if d, ok := UniswapV3Deployments[chain]; ok {
		f.uniswap = NewUniswapV3Reader(caller, d, logger)
	}
	if receipts, ok := AaveReceiptTokens[chain]; ok {
		f.aave = NewAaveReader(chain, caller, receipts, logger)
	}
	return f
}

// Chain implements port.BalanceFetcher.
func (f *EVMFetcher) Chain() entity.Chain { return f.chain }

// SupportedCategories implements port.BalanceFetcher.
func (f *EVMFetcher) SupportedCategories() []entity.AddressCategory {
	cats := []entity.AddressCategory{entity.CategoryHolding}
	if f.uniswap != nil {
		cats = append(cats, entity.CategoryLiquidityPosition)
	}
	if f.aave != nil {
		cats = append(cats, entity.CategoryLendingDeposit)
	}
	return cats
}

// FetchBalance implements port.BalanceFetcher.
func (f *EVMFetcher) FetchBalance(ctx context.Context, tokenAddress, holder string, category entity.AddressCategory, isVault bool) (entity.FetchedBalance, error) {
	switch category {
	case entity.CategoryHolding:
		if isVault {
			return f.vaultBalance(ctx, tokenAddress, holder)
		}
		bal, err := f.caller.FetchBalance(ctx, tokenAddress, holder)
		if err != nil {
			return entity.FetchedBalance{}, err
		}
		return entity.SameBalance(entity.RawAmountFromBig(bal)), nil

	case entity.CategoryLiquidityPosition:
		if f.uniswap == nil || tokenAddress == "" {
			break
		}
		amount, err := f.uniswap.TargetTokenAmount(ctx, tokenAddress, holder)
		if err != nil {
			return entity.FetchedBalance{}, err
		}
		return entity.SameBalance(entity.DecimalAmount(amount)), nil

	case entity.CategoryLendingDeposit:
		if f.aave == nil || tokenAddress == "" {
			break
		}
		bal, err := f.aave.Deposit(ctx, tokenAddress, holder)
		if err != nil {
			return entity.FetchedBalance{}, err
		}
		return entity.SameBalance(entity.RawAmountFromBig(bal)), nil
	}
	return entity.FetchedBalance{}, fmt.Errorf("%s on %s: %w", category, f.chain, entity.ErrUnsupportedCategory)
}

// vaultBalance prices on the share balance and displays the redeemable underlying.
func (f *EVMFetcher) vaultBalance(ctx context.Context, vault, holder string) (entity.FetchedBalance, error) {
	var shares, redeemable *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		shares, err = f.caller.FetchBalance(gctx, vault, holder)
		return err
	})
	g.Go(func() error {
		var err error
		redeemable, err = f.caller.CallUint256(gctx, contracts.MaxWithdrawCall(vault, holder))
		return err
	})
	if err := g.Wait(); err != nil {
		return entity.FetchedBalance{}, fmt.Errorf("vault %s for %s: %w", vault, holder, err)
	}
	return entity.FetchedBalance{
		DisplayBalance:          entity.RawAmountFromBig(redeemable),
		ValueCalculationBalance: entity.RawAmountFromBig(shares),
	}, nil
}
