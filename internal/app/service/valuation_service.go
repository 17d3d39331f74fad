package service

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
)

// ValuationService converts balances into USD. Every failure is logged and valued at 0.
type ValuationService struct {
	prices port.TokenPriceService
	logger port.Logger
}

// NewValuationService creates a valuation service over prices.
func NewValuationService(prices port.TokenPriceService, logger port.Logger) *ValuationService {
	return &ValuationService{prices: prices, logger: logger}
}

// CalculateUsdValue normalizes amount by the asset's decimals and multiplies it by the
// asset's USD price. It never returns an error.
func (s *ValuationService) CalculateUsdValue(ctx context.Context, asset entity.AssetConfig, amount entity.Amount, chain entity.Chain) float64 {
	qty, err := amount.Normalize(asset.Decimals)
	if err != nil {
		s.logger.Warn("Malformed balance, valued at zero", "symbol", asset.Symbol, "chain", chain, "error", err)
		return 0
	}
	if qty.Sign() <= 0 {
		s.logger.Debug("Zero balance", "symbol", asset.Symbol, "chain", chain)
		return 0
	}

	price, err := s.prices.GetPriceUSD(ctx, asset, chain)
	if err != nil {
		s.logger.Warn("Price lookup failed, valued at zero", "symbol", asset.Symbol, "chain", chain, "error", err)
		return 0
	}

	usd, _ := qty.Mul(decimal.NewFromFloat(price)).Float64()
	if math.IsNaN(usd) || math.IsInf(usd, 0) || usd < 0 {
		s.logger.Warn("Non-finite valuation, valued at zero", "symbol", asset.Symbol, "chain", chain, "price", price)
		return 0
	}
	return usd
}

// FormatAmount renders amount in whole units of asset. A malformed amount renders as "0".
func FormatAmount(asset entity.AssetConfig, amount entity.Amount) string {
	qty, err := amount.Normalize(asset.Decimals)
	if err != nil {
		return "0"
	}
	return qty.String()
}

var _ port.ValuationService = (*ValuationService)(nil)
