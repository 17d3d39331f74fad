package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/cachestore"
	"reserve_tracker/internal/pkg/fetcherr"
)

// Cache keys written by the pipeline. Every write replaces the whole value.
const (
	KeyHoldings          = "reserve:holdings"
	KeyGrouped           = "reserve:holdings:grouped"
	KeyComposition       = "reserve:composition"
	KeyCollateralization = "reserve:collateralization"
	KeyAdjustments       = "reserve:adjustments"
	KeySnapshot          = "reserve:snapshot"
)

// ChainKey is the cache slot holding one chain's partial result.
func ChainKey(chain entity.Chain) string { return "reserve:chain:" + string(chain) }

// ErrUnknownChain is returned for a chain the service has no fetcher for.
var ErrUnknownChain = errors.New("chain not tracked")

// PricePrefetcher warms the price cache ahead of a valuation pass.
type PricePrefetcher interface {
	LoadAndCachePrices(ctx context.Context, reqs []PriceRequest)
}

// ReserveServiceDeps are the collaborators of ReserveService. Prices and Reporter may be nil.
type ReserveServiceDeps struct {
	Registry    port.Registry
	Fetchers    map[entity.Chain]port.BalanceFetcher
	Valuation   port.ValuationService
	Prices      PricePrefetcher
	Aggregation *AggregationService
	Adjustments *AdjustmentService
	Cache       port.CacheStore
	Reporter    port.ErrorReporter
	Logger      port.Logger
}

// ReserveService runs the holdings pipeline and serves its results through the cache.
type ReserveService struct {
	registry    port.Registry
	fetchers    map[entity.Chain]port.BalanceFetcher
	chains      []entity.Chain
	valuation   port.ValuationService
	prices      PricePrefetcher
	aggregation *AggregationService
	adjustments *AdjustmentService
	cache       port.CacheStore
	reporter    port.ErrorReporter
	logger      port.Logger
	cacheTTL    time.Duration
	concurrency int
	now         func() time.Time
}

// NewReserveService wires the pipeline. cacheTTL is the expiry of every key it writes and
// maxConcurrent bounds in-flight balance fetches per chain.
func NewReserveService(deps ReserveServiceDeps, cacheTTL time.Duration, maxConcurrent int) *ReserveService {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if deps.Aggregation == nil {
		deps.Aggregation = NewAggregationService(nil)
	}
	chains := lo.Keys(deps.Fetchers)
	slices.Sort(chains)
	return &ReserveService{
		registry:    deps.Registry,
		fetchers:    deps.Fetchers,
		chains:      chains,
		valuation:   deps.Valuation,
		prices:      deps.Prices,
		aggregation: deps.Aggregation,
		adjustments: deps.Adjustments,
		cache:       deps.Cache,
		reporter:    deps.Reporter,
		logger:      deps.Logger,
		cacheTTL:    cacheTTL,
		concurrency: maxConcurrent,
		now:         time.Now,
	}
}

func (s *ReserveService) report(ctx context.Context, err error, fields ...any) {
	if s.reporter != nil {
		s.reporter.Report(ctx, err, fields...)
	}
}

type fetchJob struct {
	addr  entity.ReserveAddressConfig
	asset entity.AssetConfig
}

// FetchChainHoldings runs the balance pipeline for one chain without touching the cache.
// Addresses whose category the chain cannot serve emit no records. A failed fetch emits a
// zero record tagged Failed.
func (s *ReserveService) FetchChainHoldings(ctx context.Context, chain entity.Chain) (entity.ChainHoldings, error) {
	fetcher, ok := s.fetchers[chain]
	if !ok {
		return entity.ChainHoldings{}, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	supported := fetcher.SupportedCategories()

	var jobs []fetchJob
	for _, addr := range s.registry.AddressesForChain(chain) {
		if !lo.Contains(supported, addr.Category) {
			s.logger.Warn("Address category not supported on chain, skipping",
				"address", addr.Address, "chain", chain, "category", addr.Category)
			continue
		}
		for _, sym := range addr.Assets {
			asset, ok := s.registry.Asset(sym)
			if !ok {
				s.logger.Warn("Unknown asset, skipping", "symbol", sym, "address", addr.Address, "chain", chain)
				continue
			}
			jobs = append(jobs, fetchJob{addr: addr, asset: asset})
		}
	}

	if s.prices != nil && len(jobs) > 0 {
		s.prices.LoadAndCachePrices(ctx, lo.Map(jobs, func(j fetchJob, _ int) PriceRequest {
			return PriceRequest{Asset: j.asset, Chain: chain}
		}))
	}

	balances := make([]entity.AssetBalance, len(jobs))
	var (
		mu        sync.Mutex
		fetchErrs []entity.FetchError
		g         errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			rec, ferr := s.fetchOne(ctx, fetcher, chain, j)
			balances[i] = rec
			if ferr != nil {
				mu.Lock()
				fetchErrs = append(fetchErrs, *ferr)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return entity.ChainHoldings{
		Chain:     chain,
		Balances:  balances,
		Errors:    fetchErrs,
		UpdatedAt: s.now(),
	}, ctx.Err()
}

func (s *ReserveService) fetchOne(ctx context.Context, fetcher port.BalanceFetcher, chain entity.Chain, j fetchJob) (entity.AssetBalance, *entity.FetchError) {
	var token string
	var assetAddr *string
	if !j.asset.IsNative() {
		token = j.asset.ContractAddress
		assetAddr = &token
	}
	rec := entity.AssetBalance{
		Symbol:           j.asset.Symbol,
		HolderAddress:    j.addr.Address,
		AssetAddress:     assetAddr,
		Chain:            chain,
		Category:         j.addr.Category,
		Label:            j.addr.Label,
		FormattedBalance: "0",
	}

	fb, err := fetcher.FetchBalance(ctx, token, j.addr.Address, j.addr.Category, j.asset.IsVault)
	if err != nil {
		s.report(ctx, err,
			"operation", "fetch balance",
			"address", j.addr.Address,
			"chain", chain,
			"category", j.addr.Category,
			"symbol", j.asset.Symbol)
		rec.Failed = true
		return rec, &entity.FetchError{
			HolderAddress: j.addr.Address,
			Chain:         chain,
			Category:      j.addr.Category,
			Symbol:        j.asset.Symbol,
			Message:       err.Error(),
		}
	}

	rec.FormattedBalance = FormatAmount(j.asset, fb.DisplayBalance)
	rec.UsdValue = s.valuation.CalculateUsdValue(ctx, j.asset, fb.ValueCalculationBalance, chain)
	return rec, nil
}

// chainSnapshot fetches a chain and refuses a result in which every read failed, so an
// outage never replaces a good cached snapshot.
func (s *ReserveService) chainSnapshot(ctx context.Context, chain entity.Chain, block uint64) (entity.ChainHoldings, error) {
	h, err := s.FetchChainHoldings(ctx, chain)
	if err != nil {
		return h, err
	}
	h.Block = block
	if n := len(h.Balances); n > 0 && len(h.Errors) == n {
		return h, fetcherr.Errorf(fetcherr.KindGeneric, "refresh "+string(chain), "all %d balance reads failed", n)
	}
	return h, nil
}

// RefreshChain fetches chain and writes its partial result to the chain cache slot.
func (s *ReserveService) RefreshChain(ctx context.Context, chain entity.Chain, block uint64) error {
	h, err := s.chainSnapshot(ctx, chain, block)
	if err != nil {
		return err
	}
	if err := cachestore.SetJSON(ctx, s.cache, ChainKey(chain), h, s.cacheTTL); err != nil {
		return fmt.Errorf("write %s: %w", ChainKey(chain), err)
	}
	s.logger.Info("Chain holdings refreshed",
		"chain", chain, "block", block, "balances", len(h.Balances), "failed", len(h.Errors))
	return nil
}

// RecomputeAggregate merges every cached chain slot and rewrites the shared keys.
// A collateralization failure is reported without blocking the other keys.
func (s *ReserveService) RecomputeAggregate(ctx context.Context) error {
	var (
		all     []entity.AssetBalance
		present int
		errs    []error
	)
	for _, chain := range s.chains {
		var h entity.ChainHoldings
		err := cachestore.GetJSON(ctx, s.cache, ChainKey(chain), &h)
		switch {
		case errors.Is(err, port.ErrCacheMiss):
			s.logger.Debug("No cached holdings for chain yet", "chain", chain)
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("read %s: %w", ChainKey(chain), err))
			continue
		}
		present++
		all = append(all, h.Balances...)
	}
	if present == 0 {
		return errors.Join(append(errs, errors.New("no chain holdings cached"))...)
	}

	grouped := s.aggregation.GroupHoldings(all)
	snapshot := entity.ReserveSnapshot{
		Holdings:    all,
		Grouped:     grouped,
		Composition: s.composition(grouped),
		UpdatedAt:   s.now(),
	}

	writes := []cacheWrite{
		{KeyHoldings, snapshot.Holdings},
		{KeyGrouped, snapshot.Grouped},
		{KeyComposition, snapshot.Composition},
	}

	if s.adjustments != nil {
		stats, adj, err := s.collateralization(ctx, grouped.TotalUsdValue)
		if err != nil {
			s.report(ctx, err, "operation", "collateralization")
		} else {
			snapshot.Collateralization = &stats
			writes = append(writes,
				cacheWrite{KeyCollateralization, stats},
				cacheWrite{KeyAdjustments, adj})
		}
	}
	writes = append(writes, cacheWrite{KeySnapshot, snapshot})

	for _, w := range writes {
		if err := cachestore.SetJSON(ctx, s.cache, w.key, w.value, s.cacheTTL); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", w.key, err))
		}
	}
	s.logger.Info("Reserve aggregate recomputed",
		"chains", present, "balances", len(all), "total_usd", grouped.TotalUsdValue)
	return errors.Join(errs...)
}

type cacheWrite struct {
	key   string
	value any
}

// composition guards the zero-total case by returning an empty composition.
func (s *ReserveService) composition(grouped entity.GroupedHoldings) []entity.CompositionEntry {
	if grouped.TotalUsdValue <= 0 {
		return []entity.CompositionEntry{}
	}
	return s.aggregation.Composition(grouped)
}

func (s *ReserveService) collateralization(ctx context.Context, reserveUsd float64) (entity.CollateralizationStats, entity.AdjustmentsResult, error) {
	supplies, adj, err := s.adjustments.CalculateNetSupply(ctx, s.registry.Stablecoins())
	if err != nil {
		return entity.CollateralizationStats{}, adj, err
	}
	stats := entity.CollateralizationStats{TotalReserveUsd: reserveUsd, UpdatedAt: s.now()}
	for _, ns := range supplies {
		stats.NetSupplyUsd += ns.UsdValue
	}
	if stats.NetSupplyUsd > 0 {
		stats.Ratio = reserveUsd / stats.NetSupplyUsd
	}
	return stats, adj, nil
}

// readThrough returns the cached value of key, computing and writing it on a miss.
func readThrough[T any](ctx context.Context, s *ReserveService, key string, compute func(context.Context) (T, error)) (T, error) {
	var v T
	err := cachestore.GetJSON(ctx, s.cache, key, &v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, port.ErrCacheMiss) {
		s.logger.Warn("Cache read failed, recomputing", "key", key, "error", err)
	}
	v, err = compute(ctx)
	if err != nil {
		return v, err
	}
	if err := cachestore.SetJSON(ctx, s.cache, key, v, s.cacheTTL); err != nil {
		s.logger.Warn("Cache write failed", "key", key, "error", err)
	}
	return v, nil
}

// GetReserveHoldingsForChain returns the balances of one chain.
func (s *ReserveService) GetReserveHoldingsForChain(ctx context.Context, chain entity.Chain) ([]entity.AssetBalance, error) {
	if _, ok := s.fetchers[chain]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	h, err := readThrough(ctx, s, ChainKey(chain), func(ctx context.Context) (entity.ChainHoldings, error) {
		return s.chainSnapshot(ctx, chain, 0)
	})
	if err != nil {
		return nil, err
	}
	return h.Balances, nil
}

// GetReserveHoldings returns the balances of every chain. A chain that cannot be read is
// reported and left out.
func (s *ReserveService) GetReserveHoldings(ctx context.Context) ([]entity.AssetBalance, error) {
	return readThrough(ctx, s, KeyHoldings, func(ctx context.Context) ([]entity.AssetBalance, error) {
		perChain := make([][]entity.AssetBalance, len(s.chains))
		var g errgroup.Group
		for i, chain := range s.chains {
			g.Go(func() error {
				b, err := s.GetReserveHoldingsForChain(ctx, chain)
				if err != nil {
					s.report(ctx, err, "operation", "chain holdings", "chain", chain)
					return nil
				}
				perChain[i] = b
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return lo.Flatten(perChain), nil
	})
}

// GetGroupedReserveHoldings returns holdings folded by canonical symbol.
func (s *ReserveService) GetGroupedReserveHoldings(ctx context.Context) (entity.GroupedHoldings, error) {
	return readThrough(ctx, s, KeyGrouped, func(ctx context.Context) (entity.GroupedHoldings, error) {
		balances, err := s.GetReserveHoldings(ctx)
		if err != nil {
			return entity.GroupedHoldings{}, err
		}
		return s.aggregation.GroupHoldings(balances), nil
	})
}

// GetReserveComposition returns each canonical asset's share of the reserve. The result is
// empty when the reserve is worth nothing.
func (s *ReserveService) GetReserveComposition(ctx context.Context) ([]entity.CompositionEntry, error) {
	return readThrough(ctx, s, KeyComposition, func(ctx context.Context) ([]entity.CompositionEntry, error) {
		grouped, err := s.GetGroupedReserveHoldings(ctx)
		if err != nil {
			return nil, err
		}
		return s.composition(grouped), nil
	})
}

// CalculateTotalAdjustments returns the supply adjustments of tokens. With no tokens the
// registry's stablecoins are used and the result is served through the cache.
func (s *ReserveService) CalculateTotalAdjustments(ctx context.Context, tokens []entity.StablecoinToken) (entity.AdjustmentsResult, error) {
	if s.adjustments == nil {
		return entity.AdjustmentsResult{}, errors.New("supply adjustments not configured")
	}
	if len(tokens) > 0 {
		return s.adjustments.CalculateTotalAdjustments(ctx, tokens), nil
	}
	return readThrough(ctx, s, KeyAdjustments, func(ctx context.Context) (entity.AdjustmentsResult, error) {
		return s.adjustments.CalculateTotalAdjustments(ctx, s.registry.Stablecoins()), nil
	})
}

// GetCollateralization compares the reserve value with net outstanding stablecoin supply.
func (s *ReserveService) GetCollateralization(ctx context.Context) (entity.CollateralizationStats, error) {
	if s.adjustments == nil {
		return entity.CollateralizationStats{}, errors.New("supply adjustments not configured")
	}
	return readThrough(ctx, s, KeyCollateralization, func(ctx context.Context) (entity.CollateralizationStats, error) {
		grouped, err := s.GetGroupedReserveHoldings(ctx)
		if err != nil {
			return entity.CollateralizationStats{}, err
		}
		stats, _, err := s.collateralization(ctx, grouped.TotalUsdValue)
		return stats, err
	})
}
