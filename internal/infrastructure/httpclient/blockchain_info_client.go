package httpclient

import (
	"context"
	"math/big"
	"net/url"

	"reserve_tracker/internal/pkg/fetcherr"
)

// BlockchainInfoClient reads bitcoin balances from the blockchain.info API.
type BlockchainInfoClient struct {
	r *requester
}

// NewBlockchainInfoClient creates a blockchain.info source rooted at o.BaseURL.
func NewBlockchainInfoClient(o ClientOptions) *BlockchainInfoClient {
	return &BlockchainInfoClient{r: newRequester("BlockchainInfoClient", o)}
}

type blockchainInfoBalance struct {
	FinalBalance  int64 `json:"final_balance"`
	NTx           int64 `json:"n_tx"`
	TotalReceived int64 `json:"total_received"`
}

// Name implements port.UTXOBalanceSource.
func (c *BlockchainInfoClient) Name() string { return "blockchain.info" }

// GetAddressBalance returns the final balance of address in satoshis.
func (c *BlockchainInfoClient) GetAddressBalance(ctx context.Context, address string) (*big.Int, error) {
	var out map[string]blockchainInfoBalance
	if err := c.r.fetchJSON(ctx, "blockchain.info balance", "/balance?active="+url.QueryEscape(address), &out); err != nil {
		return nil, err
	}
	b, ok := out[address]
	if !ok {
		return nil, fetcherr.Errorf(fetcherr.KindMalformed, "blockchain.info balance", "response has no entry for %s", address)
	}
	return big.NewInt(b.FinalBalance), nil
}

// TipHeight returns the height of the best block.
func (c *BlockchainInfoClient) TipHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.r.fetch(ctx, "blockchain.info block count", "/q/getblockcount", func(body []byte) error {
		return parseHeight(body, &height)
	})
	return height, err
}
