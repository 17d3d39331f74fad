package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/configloader"
	"reserve_tracker/internal/infrastructure/httpclient"
	"reserve_tracker/internal/infrastructure/network/batch"
	"reserve_tracker/internal/infrastructure/network/ratelimit"
	"reserve_tracker/internal/pkg/metrics"
	"reserve_tracker/internal/pkg/retry"
)

const (
	defaultProviderConnectionTimeout = 10 * time.Second
)

// ClientProvider implements port.BlockchainClientProvider. It owns one long-lived
// client, limiter and batcher per chain, created on first use and cached.
type ClientProvider struct {
	cfg         *configloader.Config
	defs        port.NetworkDefinitionProvider
	global      *ratelimit.Global
	retry       retry.Options
	metrics     *metrics.Metrics
	logger      port.Logger
	zapLogger   *zap.Logger
	batcherCtx  context.Context
	dialTimeout time.Duration

	mu          sync.Mutex
	clients     map[entity.Chain]*EVMClient
	batchers    map[entity.Chain]*batch.Batcher
	utxoSources map[entity.Chain][]port.UTXOBalanceSource
	prices      *ratelimit.ChainLimiter
}

// NewClientProvider creates a provider. Batchers it creates run until ctx is done.
func NewClientProvider(
	ctx context.Context,
	cfg *configloader.Config,
	defs port.NetworkDefinitionProvider,
	retryOpts retry.Options,
	m *metrics.Metrics,
	logger port.Logger,
	zapLogger *zap.Logger,
) *ClientProvider {
	return &ClientProvider{
		cfg:         cfg,
		defs:        defs,
		global:      ratelimit.NewGlobal(cfg.Performance.GlobalMaxConcurrent),
		retry:       retryOpts,
		metrics:     m,
		logger:      logger,
		zapLogger:   zapLogger,
		batcherCtx:  ctx,
		dialTimeout: defaultProviderConnectionTimeout,
		clients:     make(map[entity.Chain]*EVMClient),
		batchers:    make(map[entity.Chain]*batch.Batcher),
		utxoSources: make(map[entity.Chain][]port.UTXOBalanceSource),
	}
}

func (p *ClientProvider) definition(chain entity.Chain, kind entity.ChainKind) (entity.NetworkDefinition, error) {
	def, ok := p.defs.GetNetworkDefinition(chain)
	if !ok {
		return def, fmt.Errorf("network %s is not active", chain)
	}
	if def.Kind != kind {
		return def, fmt.Errorf("network %s is %s, not %s", chain, def.Kind, kind)
	}
	return def, nil
}

// EVMClient returns the cached client of chain, dialing it on first use.
func (p *ClientProvider) EVMClient(chain entity.Chain) (port.EVMChainClient, error) {
	return p.evmClient(chain)
}

func (p *ClientProvider) evmClient(chain entity.Chain) (*EVMClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, exists := p.clients[chain]; exists {
		return c, nil
	}
	def, err := p.definition(chain, entity.ChainKindEVM)
	if err != nil {
		return nil, err
	}
	node, _ := p.cfg.Network(string(chain))

	p.logger.Info("Creating new EVM client", "network", def.Name, "rpc_primary", def.PrimaryRPCURL)
	limiter := ratelimit.NewChainLimiter(string(chain), p.global, ratelimit.ChainOptions{
		MaxConcurrent: node.MaxConcurrent,
		MinInterval:   time.Duration(node.MinIntervalMs) * time.Millisecond,
		Timeout:       time.Duration(node.RPCTimeoutMs) * time.Millisecond,
		Metrics:       p.metrics,
	})
	retryOpts := p.retry
	retryOpts.Metrics = p.metrics
	c, err := NewEVMClient(def, limiter, retryOpts, p.dialTimeout, p.logger)
	if err != nil {
		p.logger.Error("Failed to create EVM client", "network", def.Name, "error", err)
		return nil, fmt.Errorf("failed to create EVM client for %s: %w", def.Name, err)
	}

	p.clients[chain] = c
	p.logger.Info("Successfully created and cached new EVM client", "network", def.Name)
	return c, nil
}

// Batcher returns the multicall batcher of an EVM chain, starting it on first use.
func (p *ClientProvider) Batcher(chain entity.Chain) (*batch.Batcher, error) {
	c, err := p.evmClient(chain)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.batchers[chain]; ok {
		return b, nil
	}
	node, _ := p.cfg.Network(string(chain))
	b := batch.New(chain, c, batch.Options{
		MaxBatchSize: node.MaxBatchSize,
		IdleWindow:   time.Duration(node.BatchIdleWindowMs) * time.Millisecond,
		Metrics:      p.metrics,
		Logger:       p.logger,
	})
	b.Start(p.batcherCtx)
	p.batchers[chain] = b
	return b, nil
}

// UTXOSources returns the block-explorer sources of a UTXO chain in preference order.
func (p *ClientProvider) UTXOSources(chain entity.Chain) ([]port.UTXOBalanceSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.utxoSources[chain]; ok {
		return s, nil
	}
	if _, err := p.definition(chain, entity.ChainKindUTXO); err != nil {
		return nil, err
	}

	bc := p.cfg.Bitcoin
	limiter := ratelimit.NewChainLimiter(string(chain), p.global, ratelimit.ChainOptions{
		MaxConcurrent: bc.MaxConcurrent,
		MinInterval:   time.Duration(bc.MinIntervalMs) * time.Millisecond,
		Timeout:       time.Duration(bc.RequestTimeoutMillis) * time.Millisecond,
		Metrics:       p.metrics,
	})
	retryOpts := p.retry
	retryOpts.Metrics = p.metrics
	// Balance reads are reported per address by the pipeline.
	retryOpts.Reporter = nil
	opts := func(baseURL string) httpclient.ClientOptions {
		return httpclient.ClientOptions{
			BaseURL: baseURL,
			Timeout: time.Duration(bc.RequestTimeoutMillis) * time.Millisecond,
			Limiter: limiter,
			Retry:   retryOpts,
			Logger:  p.zapLogger,
		}
	}
	sources := []port.UTXOBalanceSource{
		httpclient.NewEsploraClient(opts(bc.EsploraBaseURL)),
		httpclient.NewBlockchainInfoClient(opts(bc.BlockchainInfoBaseURL)),
	}
	p.utxoSources[chain] = sources
	return sources, nil
}

// PriceLimiter returns the limiter shared by the price sources. It draws on the same
// global bound as the chain clients.
func (p *ClientProvider) PriceLimiter() *ratelimit.ChainLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.prices == nil {
		ps := p.cfg.TokenPriceSvc
		p.prices = ratelimit.NewChainLimiter("prices", p.global, ratelimit.ChainOptions{
			MaxConcurrent: ps.MaxConcurrent,
			MinInterval:   time.Duration(ps.MinIntervalMs) * time.Millisecond,
			Metrics:       p.metrics,
		})
	}
	return p.prices
}

var _ port.BlockchainClientProvider = (*ClientProvider)(nil)
