package fetcher

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// tickSqrtPrice returns sqrt(1.0001^tick).
func tickSqrtPrice(tick int64) float64 {
	return math.Pow(1.0001, float64(tick)/2)
}

// sqrtPriceFromX96 converts a Q64.96 square-root price to a float.
func sqrtPriceFromX96(sqrtPriceX96 *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96).Float64()
	return f
}

// positionAmounts returns the raw token0 and token1 amounts of a position with the
// given liquidity and tick range at the current square-root price. Float math is
// accurate to roughly 15 significant digits.
func positionAmounts(liquidity *big.Int, sqrtPriceX96 *big.Int, tickLower, tickUpper int64) (amount0, amount1 float64) {
	l, _ := new(big.Float).SetInt(liquidity).Float64()
	sa := tickSqrtPrice(tickLower)
	sb := tickSqrtPrice(tickUpper)
	sp := sqrtPriceFromX96(sqrtPriceX96)

	switch {
	case sp <= sa:
		amount0 = l * (sb - sa) / (sa * sb)
	case sp < sb:
		amount0 = l * (sb - sp) / (sp * sb)
		amount1 = l * (sp - sa)
	default:
		amount1 = l * (sb - sa)
	}
	return amount0, amount1
}

// normalizeFloat shifts a raw float amount by decimals. Non-finite or negative input is zero.
func normalizeFloat(raw float64, decimals uint8) decimal.Decimal {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(raw).Shift(-int32(decimals))
}
