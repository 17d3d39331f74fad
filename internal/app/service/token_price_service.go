package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
)

// ErrPriceNotFound is returned when a price source has no quote for an asset.
var ErrPriceNotFound = errors.New("price not found")

const fiatRatesKey = "fiat:rates"

// maxMissTTL caps how long an asset without a quote is left unasked.
const maxMissTTL = time.Minute

// priceMiss is cached in place of a quote the source did not have.
type priceMiss struct{}

// PriceRequest names an asset as held on a particular chain.
type PriceRequest struct {
	Asset entity.AssetConfig
	Chain entity.Chain
}

// PriceService implements port.TokenPriceService over the market, index and
// fiat price sources, caching each quote in memory.
type PriceService struct {
	market   port.MarketPriceClient
	index    port.IndexPriceClient
	fiat     port.FiatRateClient
	networks port.NetworkDefinitionProvider
	cache    *gocache.Cache
	priceTTL time.Duration
	missTTL  time.Duration
	fiatTTL  time.Duration
	logger   port.Logger
}

// NewTokenPriceService creates a price service. Market and index quotes live for priceTTL,
// the fiat rate table for fiatTTL.
func NewTokenPriceService(
	market port.MarketPriceClient,
	index port.IndexPriceClient,
	fiat port.FiatRateClient,
	networks port.NetworkDefinitionProvider,
	priceTTL, fiatTTL time.Duration,
	logger port.Logger,
) *PriceService {
	return &PriceService{
		market:   market,
		index:    index,
		fiat:     fiat,
		networks: networks,
		cache:    gocache.New(priceTTL, 2*priceTTL),
		priceTTL: priceTTL,
		missTTL:  min(priceTTL, maxMissTTL),
		fiatTTL:  fiatTTL,
		logger:   logger,
	}
}

func marketKey(symbol string) string { return "market:" + strings.ToUpper(symbol) }

// indexKey builds the "chain:contractAddress" key of the asset-index API.
func (s *PriceService) indexKey(asset entity.AssetConfig, chain entity.Chain) string {
	prefix := string(chain)
	if s.networks != nil {
		if def, ok := s.networks.GetNetworkDefinition(chain); ok && def.IndexPriceChainID != "" {
			prefix = def.IndexPriceChainID
		}
	}
	return prefix + ":" + strings.ToLower(asset.ContractAddress)
}

// GetPriceUSD returns the USD price of asset as held on chain.
func (s *PriceService) GetPriceUSD(ctx context.Context, asset entity.AssetConfig, chain entity.Chain) (float64, error) {
	switch asset.PriceSource {
	case entity.PriceSourceIndex:
		if asset.IsNative() {
			return 0, fmt.Errorf("index price for native asset %s: %w", asset.Symbol, ErrPriceNotFound)
		}
		return s.indexPrice(ctx, s.indexKey(asset, chain))
	case entity.PriceSourceFiat:
		return s.fiatPrice(ctx, asset.FiatCurrency)
	default:
		return s.marketPrice(ctx, asset.PricingSymbol())
	}
}

// fromCache returns the cached quote under key. found is false when nothing is
// cached; a cached miss is found with ErrPriceNotFound.
func (s *PriceService) fromCache(key string) (p float64, found bool, err error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return 0, false, nil
	}
	if p, ok := v.(float64); ok {
		return p, true, nil
	}
	return 0, true, ErrPriceNotFound
}

// store caches a quote, or a short-lived miss when the source had none.
func (s *PriceService) store(key string, p float64, quoted bool) {
	if quoted && p > 0 {
		s.cache.Set(key, p, s.priceTTL)
		return
	}
	s.cache.Set(key, priceMiss{}, s.missTTL)
}

func (s *PriceService) marketPrice(ctx context.Context, symbol string) (float64, error) {
	key := marketKey(symbol)
	if p, found, err := s.fromCache(key); found {
		if err != nil {
			return 0, fmt.Errorf("market price for %s: %w", symbol, err)
		}
		return p, nil
	}
	prices, err := s.market.GetUSDPrices(ctx, []string{symbol})
	if err != nil {
		return 0, fmt.Errorf("market price for %s: %w", symbol, err)
	}
	p, ok := prices[symbol]
	s.store(key, p, ok)
	if !ok || p <= 0 {
		return 0, fmt.Errorf("market price for %s: %w", symbol, ErrPriceNotFound)
	}
	return p, nil
}

func (s *PriceService) indexPrice(ctx context.Context, key string) (float64, error) {
	if p, found, err := s.fromCache("index:" + key); found {
		if err != nil {
			return 0, fmt.Errorf("index price for %s: %w", key, err)
		}
		return p, nil
	}
	prices, err := s.index.GetIndexPrices(ctx, []string{key})
	if err != nil {
		return 0, fmt.Errorf("index price for %s: %w", key, err)
	}
	p, ok := prices[key]
	s.store("index:"+key, p, ok)
	if !ok || p <= 0 {
		return 0, fmt.Errorf("index price for %s: %w", key, ErrPriceNotFound)
	}
	return p, nil
}

// fiatPrice converts the units-per-USD rate of currency into a USD price.
func (s *PriceService) fiatPrice(ctx context.Context, currency string) (float64, error) {
	currency = strings.ToUpper(currency)
	if currency == "USD" {
		return 1, nil
	}
	var rates map[string]float64
	if v, ok := s.cache.Get(fiatRatesKey); ok {
		rates = v.(map[string]float64)
	} else {
		fetched, err := s.fiat.GetUSDRates(ctx)
		if err != nil {
			return 0, fmt.Errorf("fiat rates: %w", err)
		}
		rates = fetched
		s.cache.Set(fiatRatesKey, rates, s.fiatTTL)
	}
	rate, ok := rates[currency]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("fiat rate for %s: %w", currency, ErrPriceNotFound)
	}
	return 1 / rate, nil
}

// LoadAndCachePrices fetches every uncached market and index quote needed by reqs in
// batched calls, so a pipeline run does not ask the price APIs one asset at a time.
// Assets a successful batch has no quote for are cached as misses. Failures are
// logged; the per-asset lookups retry them later.
func (s *PriceService) LoadAndCachePrices(ctx context.Context, reqs []PriceRequest) {
	var symbols, keys []string
	for _, r := range reqs {
		switch r.Asset.PriceSource {
		case entity.PriceSourceFiat:
			continue
		case entity.PriceSourceIndex:
			if r.Asset.IsNative() {
				continue
			}
			if k := s.indexKey(r.Asset, r.Chain); !s.cached("index:" + k) {
				keys = append(keys, k)
			}
		default:
			if sym := r.Asset.PricingSymbol(); !s.cached(marketKey(sym)) {
				symbols = append(symbols, sym)
			}
		}
	}
	symbols, keys = lo.Uniq(symbols), lo.Uniq(keys)

	if len(symbols) > 0 {
		prices, err := s.market.GetUSDPrices(ctx, symbols)
		if err != nil {
			s.logger.Warn("Failed to prefetch market prices", "symbols", len(symbols), "error", err)
		}
		s.storeBatch(symbols, marketKey, prices, err == nil)
	}
	if len(keys) > 0 {
		prices, err := s.index.GetIndexPrices(ctx, keys)
		if err != nil {
			s.logger.Warn("Failed to prefetch index prices", "keys", len(keys), "error", err)
		}
		s.storeBatch(keys, func(k string) string { return "index:" + k }, prices, err == nil)
	}
	s.logger.Debug("Prices prefetched", "market", len(symbols), "index", len(keys))
}

// storeBatch caches the quotes of a batched call. Misses are cached only when the
// whole call succeeded, since a failed batch says nothing about absent assets.
func (s *PriceService) storeBatch(requested []string, cacheKey func(string) string, prices map[string]float64, complete bool) {
	for _, r := range requested {
		p, ok := prices[r]
		if ok || complete {
			s.store(cacheKey(r), p, ok)
		}
	}
}

func (s *PriceService) cached(key string) bool {
	_, ok := s.cache.Get(key)
	return ok
}

var _ port.TokenPriceService = (*PriceService)(nil)
