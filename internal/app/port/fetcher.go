package port

import (
	"context"

	"reserve_tracker/internal/domain/entity"
)

// BalanceFetcher resolves balances on one chain. Dispatch within a chain is by category.
type BalanceFetcher interface {
	Chain() entity.Chain
	SupportedCategories() []entity.AddressCategory
	// FetchBalance returns the balance of tokenAddress (empty for the native coin) held by holder.
	FetchBalance(ctx context.Context, tokenAddress string, holder string, category entity.AddressCategory, isVault bool) (entity.FetchedBalance, error)
}

// TokenBalanceReader reads plain token balances; used by the supply adjustment calculator.
type TokenBalanceReader interface {
	// TokenBalance returns the raw base-unit balance of token held by holder.
	TokenBalance(ctx context.Context, chain entity.Chain, token, holder string) (entity.Amount, error)
	// TotalSupply returns the raw base-unit total supply of token.
	TotalSupply(ctx context.Context, chain entity.Chain, token string) (entity.Amount, error)
	// ReceiptToken returns the lending-protocol receipt token for underlying, if one is mapped.
	ReceiptToken(chain entity.Chain, underlying string) (string, bool)
}
