package httpclient

import (
	"context"
	"strings"

	"reserve_tracker/internal/pkg/utils"
)

// IndexPriceClient implements port.IndexPriceClient against a DefiLlama-style
// /prices/current/{chain:address,...} endpoint.
type IndexPriceClient struct {
	r         *requester
	batchSize int
}

// NewIndexPriceClient creates an asset-index price client.
func NewIndexPriceClient(o ClientOptions, batchSize int) *IndexPriceClient {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &IndexPriceClient{r: newRequester("IndexPriceClient", o), batchSize: batchSize}
}

type indexCoin struct {
	Price      float64 `json:"price"`
	Symbol     string  `json:"symbol"`
	Decimals   int     `json:"decimals"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

type indexResponse struct {
	Coins map[string]indexCoin `json:"coins"`
}

// GetIndexPrices returns USD prices keyed by the requested "chain:address" keys.
// Address matching is case-insensitive; the returned keys are the requested ones.
func (c *IndexPriceClient) GetIndexPrices(ctx context.Context, keys []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(keys))
	for _, batch := range utils.Batch(keys, c.batchSize) {
		var out indexResponse
		if err := c.r.fetchJSON(ctx, "index price", "/prices/current/"+strings.Join(batch, ","), &out); err != nil {
			return prices, err
		}
		byLower := make(map[string]float64, len(out.Coins))
		for k, coin := range out.Coins {
			byLower[strings.ToLower(k)] = coin.Price
		}
		for _, k := range batch {
			if p, ok := byLower[strings.ToLower(k)]; ok {
				prices[k] = p
			}
		}
	}
	return prices, nil
}
