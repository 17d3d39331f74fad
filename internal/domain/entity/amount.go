package entity

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// AmountKind tags how an Amount carries its value.
type AmountKind int

const (
	// AmountRaw is an integer string in the asset's base units.
	AmountRaw AmountKind = iota
	// AmountFormatted is a decimal string already shifted by the asset's decimals.
	AmountFormatted
	// AmountDecimal is a big-decimal value produced by position math.
	AmountDecimal
)

// Amount is a balance in one of the three shapes a fetcher can produce.
type Amount struct {
	Kind    AmountKind
	Text    string
	Decimal decimal.Decimal
}

// RawAmount wraps an integer base-unit string.
func RawAmount(v string) Amount { return Amount{Kind: AmountRaw, Text: v} }

// RawAmountFromBig wraps a base-unit big.Int; nil is zero.
func RawAmountFromBig(v *big.Int) Amount {
	if v == nil {
		return RawAmount("0")
	}
	return RawAmount(v.String())
}

// FormattedAmount wraps a human-readable decimal string.
func FormattedAmount(v string) Amount { return Amount{Kind: AmountFormatted, Text: v} }

// DecimalAmount wraps an already-normalized decimal.
func DecimalAmount(d decimal.Decimal) Amount { return Amount{Kind: AmountDecimal, Decimal: d} }

// Normalize returns the amount in whole units of an asset with the given decimals.
func (a Amount) Normalize(decimals uint8) (decimal.Decimal, error) {
	switch a.Kind {
	case AmountRaw:
		raw, ok := new(big.Int).SetString(a.Text, 10)
		if !ok {
			return decimal.Zero, fmt.Errorf("malformed raw amount %q", a.Text)
		}
		return decimal.NewFromBigInt(raw, -int32(decimals)), nil
	case AmountFormatted:
		d, err := decimal.NewFromString(a.Text)
		if err != nil {
			return decimal.Zero, fmt.Errorf("malformed formatted amount %q: %w", a.Text, err)
		}
		return d, nil
	case AmountDecimal:
		return a.Decimal, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown amount kind %d", a.Kind)
	}
}

// FetchedBalance is what a balance fetcher returns for one (token, holder) pair.
type FetchedBalance struct {
	// DisplayBalance is shown to users (max redeemable underlying for vaults).
	DisplayBalance Amount
	// ValueCalculationBalance is used for USD pricing.
	ValueCalculationBalance Amount
}

// SameBalance builds a FetchedBalance whose display and value amounts coincide.
func SameBalance(a Amount) FetchedBalance {
	return FetchedBalance{DisplayBalance: a, ValueCalculationBalance: a}
}
