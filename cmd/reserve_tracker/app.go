package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/app/provider"
	"reserve_tracker/internal/app/service"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/blockwatcher"
	"reserve_tracker/internal/infrastructure/cachestore"
	"reserve_tracker/internal/infrastructure/configloader"
	"reserve_tracker/internal/infrastructure/errortracking"
	"reserve_tracker/internal/infrastructure/fetcher"
	"reserve_tracker/internal/infrastructure/httpclient"
	clientprovider "reserve_tracker/internal/infrastructure/network/client"
	networkdefinition "reserve_tracker/internal/infrastructure/network/definition"
	"reserve_tracker/internal/pkg/logger"
	"reserve_tracker/internal/pkg/metrics"
	"reserve_tracker/internal/pkg/retry"
)

type app struct {
	zap      *zap.Logger
	registry *prometheus.Registry
	reserves *service.ReserveService
	warmer   *service.CacheWarmer
}

// trackedChains returns every chain the registry references.
func trackedChains(reg port.Registry) []entity.Chain {
	chains := lo.Map(reg.Addresses(), func(a entity.ReserveAddressConfig, _ int) entity.Chain { return a.Chain })
	chains = append(chains, lo.Map(reg.Stablecoins(), func(s entity.StablecoinToken, _ int) entity.Chain { return s.Chain })...)
	return lo.Uniq(chains)
}

func newCacheStore(ctx context.Context, cfg *configloader.Config, log *zap.Logger) (port.CacheStore, error) {
	if cfg.Cache.Backend != "redis" {
		log.Info("Using in-memory cache store")
		return cachestore.NewMemoryStore(time.Duration(cfg.Cache.CleanupIntervalMinutes) * time.Minute), nil
	}
	store := cachestore.NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	}), cfg.Cache.KeyPrefix)
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis cache at %s unreachable: %w", cfg.Cache.RedisAddr, err)
	}
	log.Info("Using redis cache store", zap.String("addr", cfg.Cache.RedisAddr))
	return store, nil
}

// newBlockSource builds the head follower of one chain from its cached clients.
func newBlockSource(clients port.BlockchainClientProvider, def entity.NetworkDefinition, cfg *configloader.Config, retryOpts retry.Options, log port.Logger) (port.BlockSource, error) {
	switch def.Kind {
	case entity.ChainKindEVM:
		c, err := clients.EVMClient(def.Chain)
		if err != nil {
			return nil, err
		}
		node, _ := cfg.Network(string(def.Chain))
		return blockwatcher.NewEVMSource(c, time.Duration(node.PollIntervalMs)*time.Millisecond, log), nil
	case entity.ChainKindUTXO:
		sources, err := clients.UTXOSources(def.Chain)
		if err != nil {
			return nil, err
		}
		return blockwatcher.NewUTXOSource(sources, time.Duration(cfg.Bitcoin.PollIntervalSeconds)*time.Second, retryOpts, log), nil
	default:
		return nil, fmt.Errorf("network %s has unsupported kind %q", def.Chain, def.Kind)
	}
}

func newApp(ctx context.Context, cfg *configloader.Config, registryPath string, zapLogger *zap.Logger) (*app, error) {
	appLogger := logger.NewSlogAdapter()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)
	reporter := errortracking.NewReporter(logger.Named("errors"), m)

	registry, err := provider.LoadRegistry(registryPath, appLogger)
	if err != nil {
		return nil, err
	}
	chains := trackedChains(registry)

	defs, err := networkdefinition.NewNetworkDefinitionProvider(appLogger, cfg, chains)
	if err != nil {
		return nil, err
	}

	retryOpts := retry.Options{
		MaxRetries:       cfg.Retry.MaxRetries,
		BaseDelay:        time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:         time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		BudgetMultiplier: cfg.Retry.BudgetMultiplier,
		Jitter:           time.Duration(cfg.Retry.JitterMs) * time.Millisecond,
		Reporter:         reporter,
		Metrics:          m,
	}
	clients := clientprovider.NewClientProvider(ctx, cfg, defs, retryOpts, m, logger.Named("network"), zapLogger)

	fetchers := make(map[entity.Chain]port.BalanceFetcher)
	evmFetchers := make(map[entity.Chain]*fetcher.EVMFetcher)
	callers := make(map[entity.Chain]fetcher.ContractCaller)
	var warmed []service.WarmedChain
	for _, def := range defs.GetAllNetworkDefinitions() {
		chainLogger := logger.Named(string(def.Chain))
		switch def.Kind {
		case entity.ChainKindEVM:
			b, err := clients.Batcher(def.Chain)
			if err != nil {
				return nil, err
			}
			f := fetcher.NewEVMFetcher(def.Chain, b, chainLogger)
			fetchers[def.Chain] = f
			evmFetchers[def.Chain] = f
			callers[def.Chain] = b
		case entity.ChainKindUTXO:
			sources, err := clients.UTXOSources(def.Chain)
			if err != nil {
				return nil, err
			}
			fetchers[def.Chain] = fetcher.NewUTXOFetcher(def.Chain, sources, chainLogger)
		default:
			continue
		}
		src, err := newBlockSource(clients, def, cfg, retryOpts, chainLogger)
		if err != nil {
			return nil, err
		}
		warmed = append(warmed, service.WarmedChain{Chain: def.Chain, Source: src, BlockInterval: def.AvgBlockInterval})
	}

	priceLimiter := clients.PriceLimiter()
	httpOpts := func(baseURL string, timeoutMs int64) httpclient.ClientOptions {
		return httpclient.ClientOptions{
			BaseURL: baseURL,
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
			Limiter: priceLimiter,
			Retry:   retryOpts,
			Logger:  zapLogger,
		}
	}
	batchSize := cfg.TokenPriceSvc.MaxTokensPerBatchRequest
	prices := service.NewTokenPriceService(
		httpclient.NewCoinGeckoClient(httpOpts(cfg.CoinGecko.BaseURL, cfg.CoinGecko.RequestTimeoutMillis), cfg.CoinGecko.APIKey, cfg.CoinGecko.SymbolMapping, batchSize),
		httpclient.NewIndexPriceClient(httpOpts(cfg.IndexPrice.BaseURL, cfg.IndexPrice.RequestTimeoutMillis), batchSize),
		httpclient.NewFiatRateClient(httpOpts(cfg.FiatRates.BaseURL, cfg.FiatRates.RequestTimeoutMillis)),
		defs,
		time.Duration(cfg.TokenPriceSvc.CacheTTLMinutes)*time.Minute,
		time.Duration(cfg.TokenPriceSvc.FiatCacheTTLHours)*time.Hour,
		logger.Named("prices"),
	)
	valuation := service.NewValuationService(prices, logger.Named("valuation"))
	adjustments := service.NewAdjustmentService(
		fetcher.NewTokenReader(callers, evmFetchers),
		registry,
		valuation,
		cfg.Performance.MaxConcurrentRoutines,
		logger.Named("adjustments"),
	)

	store, err := newCacheStore(ctx, cfg, zapLogger)
	if err != nil {
		return nil, err
	}

	reserves := service.NewReserveService(service.ReserveServiceDeps{
		Registry:    registry,
		Fetchers:    fetchers,
		Valuation:   valuation,
		Prices:      prices,
		Aggregation: service.NewAggregationService(nil),
		Adjustments: adjustments,
		Cache:       store,
		Reporter:    reporter,
		Logger:      logger.Named("reserves"),
	}, cfg.CacheTTL(), cfg.Performance.MaxConcurrentRoutines)

	warmer := service.NewCacheWarmer(reserves, warmed, cfg.CacheLifetime(), cfg.Cache.BlockChannelSize, m, reporter, logger.Named("warmer"))

	zapLogger.Info("Reserve tracker initialized",
		zap.Int("chains", len(warmed)),
		zap.Int("addresses", len(registry.Addresses())),
		zap.Duration("cacheLifetime", cfg.CacheLifetime()))

	return &app{zap: zapLogger, registry: promRegistry, reserves: reserves, warmer: warmer}, nil
}
