package httpclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
)

// EsploraClient reads bitcoin balances from an Esplora-compatible API (mempool.space, blockstream.info).
type EsploraClient struct {
	r *requester
}

// NewEsploraClient creates an Esplora source rooted at o.BaseURL (e.g. https://mempool.space/api).
func NewEsploraClient(o ClientOptions) *EsploraClient {
	return &EsploraClient{r: newRequester("EsploraClient", o)}
}

type esploraStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type esploraAddress struct {
	Address    string       `json:"address"`
	ChainStats esploraStats `json:"chain_stats"`
}

// Name implements port.UTXOBalanceSource.
func (c *EsploraClient) Name() string { return "esplora" }

// GetAddressBalance returns the confirmed balance of address in satoshis.
func (c *EsploraClient) GetAddressBalance(ctx context.Context, address string) (*big.Int, error) {
	var out esploraAddress
	if err := c.r.fetchJSON(ctx, "esplora address", "/address/"+url.PathEscape(address), &out); err != nil {
		return nil, err
	}
	funded := big.NewInt(out.ChainStats.FundedTxoSum)
	return funded.Sub(funded, big.NewInt(out.ChainStats.SpentTxoSum)), nil
}

// TipHeight returns the height of the best block.
func (c *EsploraClient) TipHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.r.fetch(ctx, "esplora tip height", "/blocks/tip/height", func(body []byte) error {
		return parseHeight(body, &height)
	})
	return height, err
}

func parseHeight(body []byte, out *uint64) error {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return errors.New("empty height")
	}
	h, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse height %q: %w", s, err)
	}
	*out = h
	return nil
}
