package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/configloader"
	"reserve_tracker/internal/infrastructure/httpclient"
	"reserve_tracker/internal/infrastructure/network/ratelimit"
	"reserve_tracker/internal/pkg/logger"
)

type staticDefs []entity.NetworkDefinition

func (d staticDefs) GetAllNetworkDefinitions() []entity.NetworkDefinition { return d }

func (d staticDefs) GetNetworkDefinition(chain entity.Chain) (entity.NetworkDefinition, bool) {
	for _, def := range d {
		if def.Chain == chain {
			return def, true
		}
	}
	return entity.NetworkDefinition{}, false
}

func TestPriceLimiter_WaitsForGlobalSlot(t *testing.T) {
	cfg := &configloader.Config{
		Performance:   configloader.PerformanceConfig{GlobalMaxConcurrent: 1},
		TokenPriceSvc: configloader.TokenPriceServiceConfig{MaxConcurrent: 4},
	}
	p := NewClientProvider(context.Background(), cfg, staticDefs{}, testRetry(nil), nil, logger.NewNop(), zap.NewNop())
	require.Same(t, p.PriceLimiter(), p.PriceLimiter())

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":60000}}`))
	}))
	defer srv.Close()
	prices := httpclient.NewCoinGeckoClient(httpclient.ClientOptions{
		BaseURL: srv.URL,
		Limiter: p.PriceLimiter(),
		Retry:   testRetry(nil),
	}, "", nil, 50)

	held, release := make(chan struct{}), make(chan struct{})
	chain := ratelimit.NewChainLimiter("ethereum", p.global, ratelimit.ChainOptions{MaxConcurrent: 1})
	go func() {
		_, _ = ratelimit.Do(context.Background(), chain, "eth_call", func(context.Context) (struct{}, error) {
			close(held)
			<-release
			return struct{}{}, nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := prices.GetUSDPrices(ctx, []string{"BTC"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, hits.Load())

	close(release)
	got, err := prices.GetUSDPrices(context.Background(), []string{"BTC"})
	require.NoError(t, err)
	assert.InDelta(t, 60000, got["BTC"], 0)
	assert.EqualValues(t, 1, hits.Load())
}

func TestUTXOSources_FailuresAreNotReportedTwice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &configloader.Config{
		Bitcoin:     configloader.BitcoinConfig{EsploraBaseURL: srv.URL, BlockchainInfoBaseURL: srv.URL, MaxConcurrent: 2},
		Performance: configloader.PerformanceConfig{GlobalMaxConcurrent: 4},
	}
	rep := &recordingReporter{}
	defs := staticDefs{{Chain: entity.ChainBitcoin, Name: "Bitcoin", Kind: entity.ChainKindUTXO}}
	p := NewClientProvider(context.Background(), cfg, defs, testRetry(rep), nil, logger.NewNop(), zap.NewNop())

	sources, err := p.UTXOSources(entity.ChainBitcoin)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	_, err = sources[0].GetAddressBalance(context.Background(), "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh")
	require.Error(t, err)
	assert.Zero(t, rep.count())
}
