// Package blockwatcher turns chain heads into a stream of block heights for the cache warmer.
package blockwatcher

import (
	"context"
	"errors"
	"time"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/infrastructure/network/client"
	"reserve_tracker/internal/pkg/fetcherr"
	"reserve_tracker/internal/pkg/retry"
)

const defaultPollInterval = 12 * time.Second

// resubscribeAfter is how many poll intervals pass before a dropped websocket is retried.
const resubscribeAfter = 10

// EVMSource follows an EVM chain through a newHeads subscription and falls back to
// BlockNumber polling when the websocket is missing or drops.
type EVMSource struct {
	client       port.EVMChainClient
	pollInterval time.Duration
	logger       port.Logger
}

// NewEVMSource creates a block source over c.
func NewEVMSource(c port.EVMChainClient, pollInterval time.Duration, logger port.Logger) *EVMSource {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &EVMSource{client: c, pollInterval: pollInterval, logger: logger}
}

func (s *EVMSource) LatestBlock(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// Watch publishes heights into out until ctx is done.
func (s *EVMSource) Watch(ctx context.Context, out chan<- uint64) {
	name := s.client.Definition().Name
	for ctx.Err() == nil {
		err := s.client.SubscribeNewHeads(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, client.ErrNoWebsocket) {
			s.logger.Info("No websocket endpoint, polling for blocks", "network", name, "interval", s.pollInterval)
			poll(ctx, s.pollInterval, 0, s.LatestBlock, out, s.logger)
			return
		}
		s.logger.Warn("Head subscription ended, polling until resubscribe", "network", name, "error", err)
		poll(ctx, s.pollInterval, resubscribeAfter, s.LatestBlock, out, s.logger)
	}
}

// UTXOSource polls the tip height of a UTXO chain across redundant explorers.
type UTXOSource struct {
	sources      []port.UTXOBalanceSource
	pollInterval time.Duration
	retry        retry.Options
	logger       port.Logger
}

// NewUTXOSource creates a block source over sources, asked in order. retryOpts bounds
// how often an explorer is asked again after answering with a zero height.
func NewUTXOSource(sources []port.UTXOBalanceSource, pollInterval time.Duration, retryOpts retry.Options, logger port.Logger) *UTXOSource {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &UTXOSource{sources: sources, pollInterval: pollInterval, retry: retryOpts, logger: logger}
}

// tipHeight asks src until it reports a non-zero height. Errors are not retried here
// since the explorer client already retried them.
func (s *UTXOSource) tipHeight(ctx context.Context, src port.UTXOBalanceSource) (uint64, error) {
	h, err := retry.WithCondition(ctx, src.Name()+" tip height", s.retry,
		func(h uint64) bool { return h > 0 },
		func(ctx context.Context) (uint64, error) {
			h, err := src.TipHeight(ctx)
			return h, retry.Permanent(err)
		})
	if err == nil && h == 0 {
		return 0, fetcherr.Errorf(fetcherr.KindMalformed, src.Name()+" tip height", "explorer reported height 0")
	}
	return h, err
}

// LatestBlock returns the tip height reported by the first explorer that answers.
func (s *UTXOSource) LatestBlock(ctx context.Context) (uint64, error) {
	var errs []error
	for _, src := range s.sources {
		h, err := s.tipHeight(ctx, src)
		if err == nil {
			return h, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return 0, errors.New("no tip height sources configured")
	}
	return 0, errors.Join(errs...)
}

func (s *UTXOSource) Watch(ctx context.Context, out chan<- uint64) {
	poll(ctx, s.pollInterval, 0, s.LatestBlock, out, s.logger)
}

// poll publishes every new height returned by latest. A positive limit stops after that many ticks.
func poll(ctx context.Context, interval time.Duration, limit int, latest func(context.Context) (uint64, error), out chan<- uint64, logger port.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for ticks := 0; limit <= 0 || ticks < limit; ticks++ {
		h, err := latest(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Block height poll failed", "error", err)
		case h > last:
			last = h
			publish(out, h, logger)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func publish(out chan<- uint64, h uint64, logger port.Logger) {
	select {
	case out <- h:
	default:
		logger.Debug("Block channel full, height skipped", "block", h)
	}
}

var (
	_ port.BlockSource = (*EVMSource)(nil)
	_ port.BlockSource = (*UTXOSource)(nil)
)
