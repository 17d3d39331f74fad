package fetcher

import (
	"context"
	"fmt"

	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/network/contracts"
)

// TokenReader implements port.TokenBalanceReader over the EVM chains' batchers.
type TokenReader struct {
	callers map[entity.Chain]ContractCaller
	aave    map[entity.Chain]*AaveReader
}

// NewTokenReader creates a reader over callers, using the AAVE receipt map of each chain.
func NewTokenReader(callers map[entity.Chain]ContractCaller, fetchers map[entity.Chain]*EVMFetcher) *TokenReader {
	r := &TokenReader{callers: callers, aave: make(map[entity.Chain]*AaveReader)}
	for chain, f := range fetchers {
		if f.aave != nil {
			r.aave[chain] = f.aave
		}
	}
	return r
}

func (r *TokenReader) caller(chain entity.Chain) (ContractCaller, error) {
	c, ok := r.callers[chain]
	if !ok {
		return nil, fmt.Errorf("no contract caller for chain %s", chain)
	}
	return c, nil
}

// TokenBalance implements port.TokenBalanceReader.
func (r *TokenReader) TokenBalance(ctx context.Context, chain entity.Chain, token, holder string) (entity.Amount, error) {
	c, err := r.caller(chain)
	if err != nil {
		return entity.Amount{}, err
	}
	bal, err := c.FetchBalance(ctx, token, holder)
	if err != nil {
		return entity.Amount{}, err
	}
	return entity.RawAmountFromBig(bal), nil
}

// TotalSupply implements port.TokenBalanceReader.
func (r *TokenReader) TotalSupply(ctx context.Context, chain entity.Chain, token string) (entity.Amount, error) {
	c, err := r.caller(chain)
	if err != nil {
		return entity.Amount{}, err
	}
	v, err := c.CallUint256(ctx, contracts.TotalSupplyCall(token))
	if err != nil {
		return entity.Amount{}, fmt.Errorf("totalSupply of %s on %s: %w", token, chain, err)
	}
	return entity.RawAmountFromBig(v), nil
}

// ReceiptToken implements port.TokenBalanceReader.
func (r *TokenReader) ReceiptToken(chain entity.Chain, underlying string) (string, bool) {
	a, ok := r.aave[chain]
	if !ok {
		return "", false
	}
	return a.ReceiptToken(underlying)
}
