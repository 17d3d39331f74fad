package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"reserve_tracker/internal/domain/entity"
)

type fakeRegistry struct {
	addrs      []entity.ReserveAddressConfig
	assets     map[string]entity.AssetConfig
	stables    []entity.StablecoinToken
	controlled []string
}

func (r *fakeRegistry) Addresses() []entity.ReserveAddressConfig { return r.addrs }
func (r *fakeRegistry) AddressesForChain(chain entity.Chain) []entity.ReserveAddressConfig {
	var out []entity.ReserveAddressConfig
	for _, a := range r.addrs {
		if a.Chain == chain {
			out = append(out, a)
		}
	}
	return out
}
func (r *fakeRegistry) Asset(symbol string) (entity.AssetConfig, bool) {
	a, ok := r.assets[symbol]
	return a, ok
}
func (r *fakeRegistry) Stablecoins() []entity.StablecoinToken { return r.stables }
func (r *fakeRegistry) ReserveControlledAddresses() []string  { return r.controlled }

// fakePrices quotes by symbol.
type fakePrices map[string]float64

func (p fakePrices) GetPriceUSD(_ context.Context, asset entity.AssetConfig, _ entity.Chain) (float64, error) {
	v, ok := p[asset.PricingSymbol()]
	if !ok {
		return 0, ErrPriceNotFound
	}
	return v, nil
}

// fakeFetcher answers by holder and token address.
type fakeFetcher struct {
	chain      entity.Chain
	categories []entity.AddressCategory
	balances   map[string]entity.FetchedBalance
	errs       map[string]error
	calls      atomic.Int32
}

func fetchKey(holder, token string) string {
	return strings.ToLower(holder) + "|" + strings.ToLower(token)
}

func (f *fakeFetcher) Chain() entity.Chain                           { return f.chain }
func (f *fakeFetcher) SupportedCategories() []entity.AddressCategory { return f.categories }
func (f *fakeFetcher) FetchBalance(_ context.Context, token, holder string, _ entity.AddressCategory, _ bool) (entity.FetchedBalance, error) {
	f.calls.Add(1)
	k := fetchKey(holder, token)
	if err, ok := f.errs[k]; ok {
		return entity.FetchedBalance{}, err
	}
	if b, ok := f.balances[k]; ok {
		return b, nil
	}
	return entity.SameBalance(entity.RawAmount("0")), nil
}

// fakeReader serves token balances and supplies keyed by chain, token and holder.
type fakeReader struct {
	balances map[string]string
	supply   map[string]string
	receipts map[string]string
	fail     map[string]bool
}

func readerKey(chain entity.Chain, token, holder string) string {
	return fmt.Sprintf("%s|%s|%s", chain, strings.ToLower(token), strings.ToLower(holder))
}

func (r *fakeReader) TokenBalance(_ context.Context, chain entity.Chain, token, holder string) (entity.Amount, error) {
	k := readerKey(chain, token, holder)
	if r.fail[k] {
		return entity.Amount{}, errors.New("rpc unavailable")
	}
	if v, ok := r.balances[k]; ok {
		return entity.RawAmount(v), nil
	}
	return entity.RawAmount("0"), nil
}

func (r *fakeReader) TotalSupply(_ context.Context, chain entity.Chain, token string) (entity.Amount, error) {
	v, ok := r.supply[readerKey(chain, token, "")]
	if !ok {
		return entity.Amount{}, errors.New("no supply")
	}
	return entity.RawAmount(v), nil
}

func (r *fakeReader) ReceiptToken(chain entity.Chain, underlying string) (string, bool) {
	v, ok := r.receipts[readerKey(chain, underlying, "")]
	return v, ok
}

type report struct {
	err    error
	fields []any
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) Report(_ context.Context, err error, fields ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{err: err, fields: fields})
}

func (r *recordingReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}
