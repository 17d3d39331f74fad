package port

import (
	"context"

	"reserve_tracker/internal/domain/entity"
)

// MarketPriceClient fetches USD prices keyed by market symbol.
type MarketPriceClient interface {
	GetUSDPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// IndexPriceClient fetches USD prices keyed by "chain:contractAddress".
type IndexPriceClient interface {
	GetIndexPrices(ctx context.Context, keys []string) (map[string]float64, error)
}

// FiatRateClient fetches a table of currency units per one USD.
type FiatRateClient interface {
	GetUSDRates(ctx context.Context) (map[string]float64, error)
}

// TokenPriceService resolves a USD price for an asset on a chain.
type TokenPriceService interface {
	GetPriceUSD(ctx context.Context, asset entity.AssetConfig, chain entity.Chain) (float64, error)
}

// ValuationService converts balances into USD. It never returns an error.
type ValuationService interface {
	CalculateUsdValue(ctx context.Context, asset entity.AssetConfig, amount entity.Amount, chain entity.Chain) float64
}
