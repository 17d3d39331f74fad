package httpclient

import (
	"context"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"reserve_tracker/internal/pkg/utils"
)

// DefaultCoinGeckoIDs maps common pricing symbols to CoinGecko coin ids.
var DefaultCoinGeckoIDs = map[string]string{
	"BTC":    "bitcoin",
	"WBTC":   "wrapped-bitcoin",
	"CBBTC":  "coinbase-wrapped-btc",
	"ETH":    "ethereum",
	"WETH":   "weth",
	"STETH":  "staked-ether",
	"WSTETH": "wrapped-steth",
	"USDC":   "usd-coin",
	"USDT":   "tether",
	"DAI":    "dai",
	"EURC":   "euro-coin",
}

// CoinGeckoClient implements port.MarketPriceClient with the /simple/price endpoint.
type CoinGeckoClient struct {
	r         *requester
	ids       map[string]string
	batchSize int
}

// NewCoinGeckoClient creates a market price client. symbolIDs extends DefaultCoinGeckoIDs.
func NewCoinGeckoClient(o ClientOptions, apiKey string, symbolIDs map[string]string, batchSize int) *CoinGeckoClient {
	ids := make(map[string]string, len(DefaultCoinGeckoIDs)+len(symbolIDs))
	for k, v := range DefaultCoinGeckoIDs {
		ids[k] = v
	}
	for k, v := range symbolIDs {
		ids[strings.ToUpper(k)] = v
	}
	r := newRequester("CoinGeckoClient", o)
	if apiKey != "" {
		r.headers["x-cg-demo-api-key"] = apiKey
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &CoinGeckoClient{r: r, ids: ids, batchSize: batchSize}
}

// GetUSDPrices returns USD prices keyed by the requested symbols. Symbols without a
// known coin id or without a quote are absent from the result.
func (c *CoinGeckoClient) GetUSDPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	idToSymbols := map[string][]string{}
	for _, s := range symbols {
		id, ok := c.ids[strings.ToUpper(s)]
		if !ok {
			c.r.logger.Warn("No CoinGecko id for symbol", zap.String("symbol", s))
			continue
		}
		idToSymbols[id] = append(idToSymbols[id], s)
	}

	prices := make(map[string]float64, len(symbols))
	for _, batch := range utils.Batch(lo.Keys(idToSymbols), c.batchSize) {
		var out map[string]map[string]float64
		path := "/simple/price?vs_currencies=usd&ids=" + url.QueryEscape(strings.Join(batch, ","))
		if err := c.r.fetchJSON(ctx, "coingecko simple price", path, &out); err != nil {
			return prices, err
		}
		for id, quote := range out {
			usd, ok := quote["usd"]
			if !ok {
				continue
			}
			for _, s := range idToSymbols[id] {
				prices[s] = usd
			}
		}
	}
	return prices, nil
}
