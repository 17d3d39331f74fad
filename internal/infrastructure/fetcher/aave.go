package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
)

// AaveReceiptTokens maps an underlying asset (lower-case address) to its AAVE v3 aToken per chain.
var AaveReceiptTokens = map[entity.Chain]map[string]string{
	entity.ChainEthereum: {
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": "0x98C23E9d8f34FEFb1B7BD6a91B7FF122F4e16F5c", // USDC
		"0xdac17f958d2ee523a2206206994597c13d831ec7": "0x23878914EFE38d27C4D67Ab83ed1b93A74D4086a", // USDT
		"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "0x4d5F47FA6A74757f35C14fD3a6Ef8E3C9BC514E8", // WETH
		"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": "0x5Ee5bf7ae06D1Be5997A1A72006FE6C607eC6DE8", // WBTC
	},
	entity.ChainBase: {
		"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": "0x4e65fE4DbA92790696d040ac24Aa414708F5c0AB", // USDC
		"0x4200000000000000000000000000000000000006": "0xD4a0e0b9149BCee3C920d2E00b5dE09138fd8bb7", // WETH
		"0xcbb7c0000ab88b473b1f5afd9ef808440eed33bf": "0xBdb9300b7CDE636d9cD4AFF00f6F009fFBBc8EE6", // cbBTC
	},
}

// AaveReader reads lending-protocol deposits through receipt-token balances.
type AaveReader struct {
	chain    entity.Chain
	caller   ContractCaller
	receipts map[string]string
	logger   port.Logger
}

// NewAaveReader creates a reader using receipts as the underlying→aToken map.
func NewAaveReader(chain entity.Chain, caller ContractCaller, receipts map[string]string, logger port.Logger) *AaveReader {
	normalized := make(map[string]string, len(receipts))
	for k, v := range receipts {
		normalized[strings.ToLower(k)] = v
	}
	return &AaveReader{chain: chain, caller: caller, receipts: normalized, logger: logger}
}

// ReceiptToken returns the aToken of underlying, if one is mapped.
func (r *AaveReader) ReceiptToken(underlying string) (string, bool) {
	a, ok := r.receipts[strings.ToLower(underlying)]
	return a, ok
}

// Deposit returns the raw receipt-token balance of holder for underlying. An unmapped
// underlying yields zero.
func (r *AaveReader) Deposit(ctx context.Context, underlying, holder string) (*big.Int, error) {
	aToken, ok := r.ReceiptToken(underlying)
	if !ok {
		r.logger.Warn("No lending receipt token mapped, counting deposit as zero", "chain", r.chain, "underlying", underlying, "holder", holder)
		return new(big.Int), nil
	}
	bal, err := r.caller.FetchBalance(ctx, aToken, holder)
	if err != nil {
		return nil, fmt.Errorf("lending deposit of %s: %w", holder, err)
	}
	return bal, nil
}
