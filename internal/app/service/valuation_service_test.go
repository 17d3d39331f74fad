package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/pkg/logger"
)

func TestCalculateUsdValue_RawAmount(t *testing.T) {
	asset := entity.AssetConfig{Symbol: "RSV", Decimals: 18}
	amount := entity.RawAmount("1000000000000000000")
	v := NewValuationService(fakePrices{"RSV": 0.60}, logger.NewNop())

	assert.Equal(t, "1", FormatAmount(asset, amount))
	assert.InDelta(t, 0.6, v.CalculateUsdValue(context.Background(), asset, amount, entity.ChainEthereum), 1e-12)
}

func TestCalculateUsdValue_AmountShapes(t *testing.T) {
	v := NewValuationService(fakePrices{"WETH": 2000, "USDC": 1}, logger.NewNop())
	ctx := context.Background()
	weth := entity.AssetConfig{Symbol: "WETH", Decimals: 18}

	assert.InDelta(t, 5000.0, v.CalculateUsdValue(ctx, weth, entity.FormattedAmount("2.5"), entity.ChainBase), 1e-9)
	assert.InDelta(t, 3000.0, v.CalculateUsdValue(ctx, weth, entity.DecimalAmount(decimal.RequireFromString("1.5")), entity.ChainBase), 1e-9)

	wrapped := entity.AssetConfig{Symbol: "aEthUSDC", Decimals: 6, AlternatePricingSymbol: "USDC"}
	assert.InDelta(t, 12.5, v.CalculateUsdValue(ctx, wrapped, entity.RawAmount("12500000"), entity.ChainEthereum), 1e-9)
}

func TestCalculateUsdValue_FailuresValueZero(t *testing.T) {
	v := NewValuationService(fakePrices{"WETH": 2000}, logger.NewNop())
	ctx := context.Background()

	assert.Zero(t, v.CalculateUsdValue(ctx, entity.AssetConfig{Symbol: "WETH", Decimals: 18}, entity.RawAmount("12abc"), entity.ChainBase))
	assert.Zero(t, v.CalculateUsdValue(ctx, entity.AssetConfig{Symbol: "DOGE", Decimals: 8}, entity.RawAmount("100"), entity.ChainBase))
	assert.Zero(t, v.CalculateUsdValue(ctx, entity.AssetConfig{Symbol: "WETH", Decimals: 18}, entity.RawAmount("0"), entity.ChainBase))
	assert.Equal(t, "0", FormatAmount(entity.AssetConfig{Decimals: 6}, entity.FormattedAmount("n/a")))
}

type countingMarket struct {
	prices map[string]float64
	err    error
	calls  atomic.Int32
	last   []string
}

func (m *countingMarket) GetUSDPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	m.calls.Add(1)
	m.last = symbols
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]float64{}
	for _, s := range symbols {
		if p, ok := m.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

type countingIndex struct {
	prices map[string]float64
	calls  atomic.Int32
}

func (c *countingIndex) GetIndexPrices(_ context.Context, keys []string) (map[string]float64, error) {
	c.calls.Add(1)
	out := map[string]float64{}
	for _, k := range keys {
		if p, ok := c.prices[k]; ok {
			out[k] = p
		}
	}
	return out, nil
}

type countingFiat struct {
	rates map[string]float64
	err   error
	calls atomic.Int32
}

func (f *countingFiat) GetUSDRates(context.Context) (map[string]float64, error) {
	f.calls.Add(1)
	return f.rates, f.err
}

type staticNetworks map[entity.Chain]entity.NetworkDefinition

func (n staticNetworks) GetAllNetworkDefinitions() []entity.NetworkDefinition { return nil }
func (n staticNetworks) GetNetworkDefinition(c entity.Chain) (entity.NetworkDefinition, bool) {
	d, ok := n[c]
	return d, ok
}

func newPriceService(market *countingMarket, index *countingIndex, fiat *countingFiat) *PriceService {
	nets := staticNetworks{entity.ChainEthereum: {Chain: entity.ChainEthereum, IndexPriceChainID: "ethereum"}}
	return NewTokenPriceService(market, index, fiat, nets, time.Minute, time.Hour, logger.NewNop())
}

func TestPriceService_MarketCached(t *testing.T) {
	market := &countingMarket{prices: map[string]float64{"BTC": 60000}}
	s := newPriceService(market, &countingIndex{}, &countingFiat{})
	wbtc := entity.AssetConfig{Symbol: "WBTC", AlternatePricingSymbol: "BTC"}

	for range 3 {
		p, err := s.GetPriceUSD(context.Background(), wbtc, entity.ChainEthereum)
		require.NoError(t, err)
		assert.Equal(t, 60000.0, p)
	}
	assert.EqualValues(t, 1, market.calls.Load())

	_, err := s.GetPriceUSD(context.Background(), entity.AssetConfig{Symbol: "NOPE"}, entity.ChainEthereum)
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestPriceService_IndexKey(t *testing.T) {
	index := &countingIndex{prices: map[string]float64{
		"ethereum:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": 0.9998,
	}}
	s := newPriceService(&countingMarket{}, index, &countingFiat{})
	usdc := entity.AssetConfig{
		Symbol:          "USDC",
		ContractAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		PriceSource:     entity.PriceSourceIndex,
	}

	p, err := s.GetPriceUSD(context.Background(), usdc, entity.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, 0.9998, p)

	_, err = s.GetPriceUSD(context.Background(), usdc, entity.ChainBase)
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestPriceService_FiatInvertsRate(t *testing.T) {
	fiat := &countingFiat{rates: map[string]float64{"EUR": 0.8}}
	s := newPriceService(&countingMarket{}, &countingIndex{}, fiat)
	eurc := entity.AssetConfig{Symbol: "EURC", PriceSource: entity.PriceSourceFiat, FiatCurrency: "eur"}

	for range 2 {
		p, err := s.GetPriceUSD(context.Background(), eurc, entity.ChainBase)
		require.NoError(t, err)
		assert.InDelta(t, 1.25, p, 1e-12)
	}
	assert.EqualValues(t, 1, fiat.calls.Load())

	_, err := s.GetPriceUSD(context.Background(), entity.AssetConfig{Symbol: "X", PriceSource: entity.PriceSourceFiat, FiatCurrency: "JPY"}, entity.ChainBase)
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestPriceService_FiatError(t *testing.T) {
	fiat := &countingFiat{err: errors.New("down")}
	s := newPriceService(&countingMarket{}, &countingIndex{}, fiat)
	_, err := s.GetPriceUSD(context.Background(), entity.AssetConfig{PriceSource: entity.PriceSourceFiat, FiatCurrency: "EUR"}, entity.ChainBase)
	require.Error(t, err)
}

func TestPriceService_PrefetchBatches(t *testing.T) {
	market := &countingMarket{prices: map[string]float64{"ETH": 2000, "USDC": 1}}
	s := newPriceService(market, &countingIndex{}, &countingFiat{})

	s.LoadAndCachePrices(context.Background(), []PriceRequest{
		{Asset: entity.AssetConfig{Symbol: "ETH"}, Chain: entity.ChainEthereum},
		{Asset: entity.AssetConfig{Symbol: "WETH", AlternatePricingSymbol: "ETH"}, Chain: entity.ChainBase},
		{Asset: entity.AssetConfig{Symbol: "USDC"}, Chain: entity.ChainBase},
	})
	assert.EqualValues(t, 1, market.calls.Load())
	assert.ElementsMatch(t, []string{"ETH", "USDC"}, market.last)

	p, err := s.GetPriceUSD(context.Background(), entity.AssetConfig{Symbol: "USDC"}, entity.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)
	assert.EqualValues(t, 1, market.calls.Load())
}

func TestPriceService_MissIsCachedBriefly(t *testing.T) {
	market := &countingMarket{prices: map[string]float64{"BTC": 60000}}
	index := &countingIndex{}
	s := newPriceService(market, index, &countingFiat{})
	doge := entity.AssetConfig{Symbol: "DOGE"}
	tok := entity.AssetConfig{Symbol: "TOK", PriceSource: entity.PriceSourceIndex, ContractAddress: "0xAbC"}

	for i := 0; i < 3; i++ {
		_, err := s.GetPriceUSD(context.Background(), doge, entity.ChainEthereum)
		require.ErrorIs(t, err, ErrPriceNotFound)
		_, err = s.GetPriceUSD(context.Background(), tok, entity.ChainEthereum)
		require.ErrorIs(t, err, ErrPriceNotFound)
	}
	assert.EqualValues(t, 1, market.calls.Load())
	assert.EqualValues(t, 1, index.calls.Load())
	assert.Equal(t, time.Minute, s.missTTL)
}

func TestPriceService_PrefetchCachesMisses(t *testing.T) {
	market := &countingMarket{prices: map[string]float64{"ETH": 2000}}
	s := newPriceService(market, &countingIndex{}, &countingFiat{})

	s.LoadAndCachePrices(context.Background(), []PriceRequest{
		{Asset: entity.AssetConfig{Symbol: "ETH"}, Chain: entity.ChainEthereum},
		{Asset: entity.AssetConfig{Symbol: "DOGE"}, Chain: entity.ChainEthereum},
	})
	_, err := s.GetPriceUSD(context.Background(), entity.AssetConfig{Symbol: "DOGE"}, entity.ChainEthereum)
	require.ErrorIs(t, err, ErrPriceNotFound)
	assert.EqualValues(t, 1, market.calls.Load())

	s.LoadAndCachePrices(context.Background(), []PriceRequest{{Asset: entity.AssetConfig{Symbol: "DOGE"}, Chain: entity.ChainEthereum}})
	assert.EqualValues(t, 1, market.calls.Load())
}

func TestPriceService_SourceErrorsAreNotCached(t *testing.T) {
	market := &countingMarket{err: errors.New("HTTP 503")}
	s := newPriceService(market, &countingIndex{}, &countingFiat{})

	s.LoadAndCachePrices(context.Background(), []PriceRequest{{Asset: entity.AssetConfig{Symbol: "BTC"}, Chain: entity.ChainEthereum}})
	_, err := s.GetPriceUSD(context.Background(), entity.AssetConfig{Symbol: "BTC"}, entity.ChainEthereum)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPriceNotFound)
	assert.EqualValues(t, 2, market.calls.Load())

	market.err = nil
	market.prices = map[string]float64{"BTC": 60000}
	p, err := s.GetPriceUSD(context.Background(), entity.AssetConfig{Symbol: "BTC"}, entity.ChainEthereum)
	require.NoError(t, err)
	assert.InDelta(t, 60000, p, 0)
}
