package httpclient

import (
	"context"
	"errors"
	"strings"
)

// FiatRateClient implements port.FiatRateClient against an exchange-rate API
// returning {"result":"success","rates":{"EUR":0.92,...}} for /latest/USD.
type FiatRateClient struct {
	r *requester
}

// NewFiatRateClient creates a fiat rate client.
func NewFiatRateClient(o ClientOptions) *FiatRateClient {
	return &FiatRateClient{r: newRequester("FiatRateClient", o)}
}

type fiatRatesResponse struct {
	Result   string             `json:"result"`
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

// GetUSDRates returns currency units per one USD keyed by upper-case currency code.
func (c *FiatRateClient) GetUSDRates(ctx context.Context) (map[string]float64, error) {
	var out fiatRatesResponse
	err := c.r.fetch(ctx, "fiat rates", "/latest/USD", func(body []byte) error {
		if err := json.Unmarshal(body, &out); err != nil {
			return err
		}
		if out.Result != "" && out.Result != "success" {
			return errors.New("rate table result " + out.Result)
		}
		if len(out.Rates) == 0 {
			return errors.New("empty rate table")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rates := make(map[string]float64, len(out.Rates))
	for k, v := range out.Rates {
		rates[strings.ToUpper(k)] = v
	}
	return rates, nil
}
