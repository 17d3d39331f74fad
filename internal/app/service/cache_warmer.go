package service

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/pkg/metrics"
)

// ChainRefresher is the part of the pipeline the warmer drives.
type ChainRefresher interface {
	RefreshChain(ctx context.Context, chain entity.Chain, block uint64) error
	RecomputeAggregate(ctx context.Context) error
}

// WarmedChain is one chain followed by the warmer.
type WarmedChain struct {
	Chain  entity.Chain
	Source port.BlockSource
	// BlockInterval is the chain's average block time.
	BlockInterval time.Duration
}

// BlockThreshold is the number of blocks spanning lifetime on a chain producing a block
// every interval, rounded up and never below one.
func BlockThreshold(lifetime, interval time.Duration) uint64 {
	if lifetime <= 0 || interval <= 0 {
		return 1
	}
	n := uint64(math.Ceil(float64(lifetime) / float64(interval)))
	if n < 1 {
		return 1
	}
	return n
}

// chainState is owned by the chain's processing goroutine; observers read the published copy.
type chainState struct {
	chain     entity.Chain
	threshold uint64
	last      uint64
	state     entity.RefreshState
	refreshes uint64
	dropped   uint64
}

// CacheWarmer keeps the cache fresh by refreshing a chain whenever enough new blocks arrived.
type CacheWarmer struct {
	refresher  ChainRefresher
	chains     []WarmedChain
	lifetime   time.Duration
	bufferSize int
	metrics    *metrics.Metrics
	reporter   port.ErrorReporter
	logger     port.Logger

	aggMu     sync.Mutex
	stateMu   sync.RWMutex
	published map[entity.Chain]entity.ChainRefreshState
}

// NewCacheWarmer creates a warmer. lifetime is the target age of cached data and
// bufferSize the capacity of each chain's block channel.
func NewCacheWarmer(refresher ChainRefresher, chains []WarmedChain, lifetime time.Duration, bufferSize int, m *metrics.Metrics, reporter port.ErrorReporter, logger port.Logger) *CacheWarmer {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &CacheWarmer{
		refresher:  refresher,
		chains:     chains,
		lifetime:   lifetime,
		bufferSize: bufferSize,
		metrics:    m,
		reporter:   reporter,
		logger:     logger,
		published:  make(map[entity.Chain]entity.ChainRefreshState),
	}
}

// Run warms every chain eagerly, then follows new blocks until ctx is done.
func (w *CacheWarmer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range w.chains {
		blocks := make(chan uint64, w.bufferSize)
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Source.Watch(ctx, blocks)
		}()
		go func() {
			defer wg.Done()
			w.process(ctx, c, blocks)
		}()
	}
	w.logger.Info("Cache warmer started", "chains", len(w.chains))
	wg.Wait()
	w.logger.Info("Cache warmer stopped")
}

// RunOnce refreshes every chain once, then recomputes the aggregate.
func (w *CacheWarmer) RunOnce(ctx context.Context) error {
	var g errgroup.Group
	for _, c := range w.chains {
		g.Go(func() error {
			block, err := c.Source.LatestBlock(ctx)
			if err != nil {
				w.logger.Warn("Latest block unavailable", "chain", c.Chain, "error", err)
			}
			w.refreshChain(ctx, c.Chain, block)
			return nil
		})
	}
	_ = g.Wait()
	return w.recompute(ctx)
}

// States returns the current refresh state of every chain.
func (w *CacheWarmer) States() []entity.ChainRefreshState {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	out := make([]entity.ChainRefreshState, 0, len(w.chains))
	for _, c := range w.chains {
		if s, ok := w.published[c.Chain]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (w *CacheWarmer) publish(st *chainState) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.published[st.chain] = entity.ChainRefreshState{
		Chain:              st.chain,
		LastProcessedBlock: st.last,
		State:              st.state,
		Refreshes:          st.refreshes,
		Dropped:            st.dropped,
	}
}

// process is the single writer of a chain's state. Refreshes run on their own goroutine
// so that blocks arriving meanwhile are seen and dropped rather than queued.
func (w *CacheWarmer) process(ctx context.Context, c WarmedChain, blocks <-chan uint64) {
	st := &chainState{chain: c.Chain, threshold: BlockThreshold(w.lifetime, c.BlockInterval)}
	done := make(chan bool, 1)
	var prev uint64

	start := func(block uint64) {
		prev = st.last
		st.state = entity.RefreshRefreshing
		st.last = block
		st.refreshes++
		w.publish(st)
		go func() { done <- w.refreshChain(ctx, c.Chain, block) }()
	}

	block, err := c.Source.LatestBlock(ctx)
	if err != nil {
		w.logger.Warn("Latest block unavailable for eager warm", "chain", c.Chain, "error", err)
	}
	w.logger.Info("Warming chain", "chain", c.Chain, "block", block, "threshold", st.threshold)
	start(block)

	for {
		select {
		case <-ctx.Done():
			if st.state == entity.RefreshRefreshing {
				<-done
			}
			return
		case ok := <-done:
			st.state = entity.RefreshIdle
			if !ok {
				// Retry on the next qualifying block.
				st.last = prev
			}
			w.publish(st)
		case h := <-blocks:
			if h <= st.last || h-st.last < st.threshold {
				continue
			}
			if st.state == entity.RefreshRefreshing {
				st.dropped++
				w.metrics.IncDroppedTrigger(string(c.Chain))
				w.publish(st)
				w.logger.Debug("Refresh in progress, trigger dropped", "chain", c.Chain, "block", h)
				continue
			}
			start(h)
		}
	}
}

// refreshChain runs the chain stage then the aggregate stage. Each stage's failure is
// reported on its own.
func (w *CacheWarmer) refreshChain(ctx context.Context, chain entity.Chain, block uint64) bool {
	began := time.Now()
	err := w.refresher.RefreshChain(ctx, chain, block)
	w.metrics.ObserveRefresh(string(chain), err == nil, time.Since(began))
	if err != nil {
		if ctx.Err() == nil {
			w.reportErr(ctx, err, "operation", "chain refresh", "chain", chain, "block", block)
		}
		return false
	}
	w.metrics.SetRefreshBlock(string(chain), block)
	if err := w.recompute(ctx); err != nil && ctx.Err() == nil {
		w.reportErr(ctx, err, "operation", "aggregate recompute", "chain", chain)
	}
	return true
}

// recompute serializes aggregate rebuilds triggered by different chains.
func (w *CacheWarmer) recompute(ctx context.Context) error {
	w.aggMu.Lock()
	defer w.aggMu.Unlock()
	return w.refresher.RecomputeAggregate(ctx)
}

func (w *CacheWarmer) reportErr(ctx context.Context, err error, fields ...any) {
	if w.reporter != nil {
		w.reporter.Report(ctx, err, fields...)
		return
	}
	w.logger.Error("Cache warmer stage failed", append(fields, "error", err)...)
}
