package service

import (
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"reserve_tracker/internal/domain/entity"
)

// DefaultAssetGroups folds wrapped, staked and receipt variants into their base asset.
var DefaultAssetGroups = map[string][]string{
	"BTC":  {"WBTC", "cbBTC", "tBTC"},
	"ETH":  {"WETH", "stETH", "wstETH", "cbETH", "aEthWETH", "aBasWETH"},
	"USDC": {"aEthUSDC", "aBasUSDC", "USDbC"},
	"USDT": {"aEthUSDT"},
	"EURC": {"aBasEURC"},
}

// AggregationService groups balances by canonical symbol.
type AggregationService struct {
	canonical map[string]string
}

// NewAggregationService builds the variant to canonical lookup from groups.
// A nil groups map selects DefaultAssetGroups.
func NewAggregationService(groups map[string][]string) *AggregationService {
	if groups == nil {
		groups = DefaultAssetGroups
	}
	canonical := make(map[string]string)
	for base, variants := range groups {
		canonical[strings.ToUpper(base)] = base
		for _, v := range variants {
			canonical[strings.ToUpper(v)] = base
		}
	}
	return &AggregationService{canonical: canonical}
}

// CanonicalSymbol returns the base asset a symbol folds into; unknown symbols map to themselves.
func (s *AggregationService) CanonicalSymbol(symbol string) string {
	if c, ok := s.canonical[strings.ToUpper(symbol)]; ok {
		return c
	}
	return symbol
}

// GroupHoldings folds balances by canonical symbol and sorts the groups by USD value, largest first.
func (s *AggregationService) GroupHoldings(balances []entity.AssetBalance) entity.GroupedHoldings {
	type acc struct {
		total decimal.Decimal
		usd   float64
	}
	groups := make(map[string]*acc)
	var total float64
	for _, b := range balances {
		sym := s.CanonicalSymbol(b.Symbol)
		g, ok := groups[sym]
		if !ok {
			g = &acc{total: decimal.Zero}
			groups[sym] = g
		}
		if amt, err := decimal.NewFromString(b.FormattedBalance); err == nil {
			g.total = g.total.Add(amt)
		}
		g.usd += b.UsdValue
		total += b.UsdValue
	}

	out := lo.MapToSlice(groups, func(sym string, g *acc) entity.GroupedAssetBalance {
		return entity.GroupedAssetBalance{CanonicalSymbol: sym, TotalBalance: g.total.String(), UsdValue: g.usd}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsdValue != out[j].UsdValue {
			return out[i].UsdValue > out[j].UsdValue
		}
		return out[i].CanonicalSymbol < out[j].CanonicalSymbol
	})
	return entity.GroupedHoldings{TotalUsdValue: total, GroupedAssets: out}
}

// Composition returns each group's share of the total in percent. The percentages are
// NaN when the total is zero; callers guard against that.
func (s *AggregationService) Composition(grouped entity.GroupedHoldings) []entity.CompositionEntry {
	return lo.Map(grouped.GroupedAssets, func(g entity.GroupedAssetBalance, _ int) entity.CompositionEntry {
		return entity.CompositionEntry{
			CanonicalSymbol: g.CanonicalSymbol,
			UsdValue:        g.UsdValue,
			Percentage:      g.UsdValue / grouped.TotalUsdValue * 100,
		}
	})
}
