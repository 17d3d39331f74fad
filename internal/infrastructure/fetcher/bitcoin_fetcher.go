package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
)

// ErrNoUTXOSources is returned when a UTXO fetcher has nothing to query.
var ErrNoUTXOSources = errors.New("no UTXO balance sources configured")

// UTXOFetcher implements port.BalanceFetcher for a UTXO chain backed by several
// block-explorer APIs queried concurrently.
type UTXOFetcher struct {
	chain   entity.Chain
	sources []port.UTXOBalanceSource
	logger  port.Logger
}

// NewUTXOFetcher creates a fetcher over sources.
func NewUTXOFetcher(chain entity.Chain, sources []port.UTXOBalanceSource, logger port.Logger) *UTXOFetcher {
	return &UTXOFetcher{chain: chain, sources: sources, logger: logger}
}

// Chain implements port.BalanceFetcher.
func (f *UTXOFetcher) Chain() entity.Chain { return f.chain }

// SupportedCategories implements port.BalanceFetcher.
func (f *UTXOFetcher) SupportedCategories() []entity.AddressCategory {
	return []entity.AddressCategory{entity.CategoryHolding}
}

type sourceResult struct {
	source string
	value  *big.Int
	err    error
}

// FetchBalance queries every source at once and returns the first success. Values of
// slower sources are not compared. It fails only when every source fails.
func (f *UTXOFetcher) FetchBalance(ctx context.Context, tokenAddress, holder string, category entity.AddressCategory, _ bool) (entity.FetchedBalance, error) {
	if category != entity.CategoryHolding || tokenAddress != "" {
		return entity.FetchedBalance{}, fmt.Errorf("%s on %s: %w", category, f.chain, entity.ErrUnsupportedCategory)
	}
	bal, err := f.firstSuccess(ctx, holder)
	if err != nil {
		return entity.FetchedBalance{}, err
	}
	return entity.SameBalance(entity.RawAmountFromBig(bal)), nil
}

func (f *UTXOFetcher) firstSuccess(ctx context.Context, address string) (*big.Int, error) {
	if len(f.sources) == 0 {
		return nil, ErrNoUTXOSources
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan sourceResult, len(f.sources))
	for _, s := range f.sources {
		go func() {
			v, err := s.GetAddressBalance(ctx, address)
			results <- sourceResult{source: s.Name(), value: v, err: err}
		}()
	}

	var errs []error
	for range f.sources {
		r := <-results
		if r.err == nil && r.value != nil {
			f.logger.Debug("UTXO balance resolved", "chain", f.chain, "address", address, "source", r.source)
			return r.value, nil
		}
		if r.err == nil {
			r.err = errors.New("empty balance")
		}
		f.logger.Warn("UTXO balance source failed", "chain", f.chain, "address", address, "source", r.source, "error", r.err)
		errs = append(errs, fmt.Errorf("%s: %w", r.source, r.err))
	}
	return nil, fmt.Errorf("all UTXO sources failed for %s: %w", address, errors.Join(errs...))
}
