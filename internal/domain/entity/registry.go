package entity

import (
	"errors"
	"strings"
)

// AddressCategory selects the balance strategy applied to a reserve address.
type AddressCategory string

const (
	// CategoryHolding is a plain custody holding (native coin or ERC-20).
	CategoryHolding AddressCategory = "holding"
	// CategoryLiquidityPosition is a Uniswap V3 concentrated-liquidity position owner.
	CategoryLiquidityPosition AddressCategory = "liquidity_position"
	// CategoryLendingDeposit is an AAVE depositor holding receipt tokens.
	CategoryLendingDeposit AddressCategory = "lending_deposit"
)

// PriceSource selects which price API values an asset.
type PriceSource string

const (
	PriceSourceMarket PriceSource = "market"
	PriceSourceIndex  PriceSource = "index"
	PriceSourceFiat   PriceSource = "fiat"
)

var (
	ErrUnsupportedCategory = errors.New("address category not supported on chain")
	ErrUnknownAsset        = errors.New("asset not present in registry")
)

// ReserveAddressConfig describes one custody address of the reserve.
type ReserveAddressConfig struct {
	Address     string          `json:"address" yaml:"address"`
	Chain       Chain           `json:"chain" yaml:"chain"`
	Category    AddressCategory `json:"category" yaml:"category"`
	Assets      []string        `json:"assets" yaml:"assets"`
	Label       string          `json:"label,omitempty" yaml:"label,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// AssetConfig describes an asset held by the reserve.
type AssetConfig struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Name     string `json:"name" yaml:"name"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
	// ContractAddress is empty for the chain-native asset.
	ContractAddress        string      `json:"contractAddress,omitempty" yaml:"contractAddress,omitempty"`
	AlternatePricingSymbol string      `json:"alternatePricingSymbol,omitempty" yaml:"alternatePricingSymbol,omitempty"`
	IsVault                bool        `json:"isVault,omitempty" yaml:"isVault,omitempty"`
	PriceSource            PriceSource `json:"priceSource,omitempty" yaml:"priceSource,omitempty"`
	FiatCurrency           string      `json:"fiatCurrency,omitempty" yaml:"fiatCurrency,omitempty"`
}

// IsNative reports whether the asset is the chain's native coin.
func (a AssetConfig) IsNative() bool {
	return a.ContractAddress == "" || strings.EqualFold(a.ContractAddress, ZeroAddress)
}

// PricingSymbol returns the symbol used for market-data lookups.
func (a AssetConfig) PricingSymbol() string {
	if a.AlternatePricingSymbol != "" {
		return a.AlternatePricingSymbol
	}
	return a.Symbol
}

// StablecoinToken is an outstanding stablecoin whose circulating supply is netted.
type StablecoinToken struct {
	Symbol          string   `json:"symbol" yaml:"symbol"`
	Chain           Chain    `json:"chain" yaml:"chain"`
	ContractAddress string   `json:"contractAddress" yaml:"contractAddress"`
	Decimals        uint8    `json:"decimals" yaml:"decimals"`
	DeadAddresses   []string `json:"deadAddresses,omitempty" yaml:"deadAddresses,omitempty"`
}
