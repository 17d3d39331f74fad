package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance is the valued balance of one asset at one reserve address.
type AssetBalance struct {
	Symbol           string          `json:"symbol"`
	HolderAddress    string          `json:"holderAddress"`
	AssetAddress     *string         `json:"assetAddress"`
	Chain            Chain           `json:"chain"`
	Category         AddressCategory `json:"category"`
	Label            string          `json:"label,omitempty"`
	FormattedBalance string          `json:"formattedBalance"`
	UsdValue         float64         `json:"usdValue"`
	// Failed distinguishes a fetch failure from a legitimate zero balance.
	Failed bool `json:"failed,omitempty"`
}

// GroupedAssetBalance folds all variants of an asset into its canonical symbol.
type GroupedAssetBalance struct {
	CanonicalSymbol string  `json:"canonicalSymbol"`
	TotalBalance    string  `json:"totalBalance"`
	UsdValue        float64 `json:"usdValue"`
}

// GroupedHoldings is the result of folding balances by canonical symbol.
type GroupedHoldings struct {
	TotalUsdValue float64               `json:"totalUsdValue"`
	GroupedAssets []GroupedAssetBalance `json:"groupedAssets"`
}

// CompositionEntry is the share of one canonical asset in the reserve.
type CompositionEntry struct {
	CanonicalSymbol string  `json:"canonicalSymbol"`
	UsdValue        float64 `json:"usdValue"`
	Percentage      float64 `json:"percentage"`
}

// CollateralizationStats compares the reserve against net outstanding stablecoin supply.
type CollateralizationStats struct {
	TotalReserveUsd float64   `json:"totalReserveUsd"`
	NetSupplyUsd    float64   `json:"netSupplyUsd"`
	Ratio           float64   `json:"ratio"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ChainHoldings is the per-chain partial written by the cache warmer.
type ChainHoldings struct {
	Chain     Chain          `json:"chain"`
	Balances  []AssetBalance `json:"balances"`
	Errors    []FetchError   `json:"errors,omitempty"`
	Block     uint64         `json:"block"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ReserveSnapshot is the merged aggregate across all chains.
type ReserveSnapshot struct {
	Holdings          []AssetBalance          `json:"holdings"`
	Grouped           GroupedHoldings         `json:"grouped"`
	Composition       []CompositionEntry      `json:"composition"`
	Collateralization *CollateralizationStats `json:"collateralization,omitempty"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

// AdjustmentAmount is an amount of a stablecoin and its USD value.
type AdjustmentAmount struct {
	Amount   decimal.Decimal `json:"amount"`
	UsdValue float64         `json:"usdValue"`
}

// Add returns the sum of two adjustment amounts.
func (a AdjustmentAmount) Add(b AdjustmentAmount) AdjustmentAmount {
	return AdjustmentAmount{Amount: a.Amount.Add(b.Amount), UsdValue: a.UsdValue + b.UsdValue}
}

// TokenAdjustment holds the supply subtractions for one stablecoin.
type TokenAdjustment struct {
	ReserveHeld       AdjustmentAmount `json:"reserveHeld"`
	ProtocolDeposited AdjustmentAmount `json:"protocolDeposited"`
	Lost              AdjustmentAmount `json:"lost"`
	Total             AdjustmentAmount `json:"total"`
}

// AdjustmentsResult is the output of the supply adjustment calculator.
type AdjustmentsResult struct {
	TotalUsdValue float64                    `json:"totalUsdValue"`
	ByToken       map[string]TokenAdjustment `json:"byToken"`
}

// NetSupply is a stablecoin's circulating supply after adjustments.
type NetSupply struct {
	Symbol      string          `json:"symbol"`
	GrossSupply decimal.Decimal `json:"grossSupply"`
	Adjustments decimal.Decimal `json:"adjustments"`
	NetSupply   decimal.Decimal `json:"netSupply"`
	UsdValue    float64         `json:"usdValue"`
}
