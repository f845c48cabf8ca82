package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shiftex/shift/registry"
	"github.com/shopspring/decimal"
)

// PriceMap maps token symbol to currency to rate.
type PriceMap map[registry.Token]map[string]decimal.Decimal

// Oracle serves spot prices for the registry's tokens.
type Oracle interface {
	// GetPrices returns the rate of each requested token in each
	// requested currency.
	GetPrices(ctx context.Context, tokens []registry.Token,
		currencies []string) (PriceMap, error)
}

// fetchTimeout bounds a single oracle request.
const fetchTimeout = 5 * time.Second

// httpOracle fetches prices from a json ticker api. The api takes
// comma-separated token and currency lists and returns a nested
// token -> currency -> rate object with string-encoded decimals.
type httpOracle struct {
	url    string
	client *http.Client
}

// NewHTTPOracle returns an oracle backed by the ticker api at the given
// base url.
func NewHTTPOracle(baseURL string) Oracle {
	return &httpOracle{
		url:    baseURL,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// GetPrices implements Oracle.
func (o *httpOracle) GetPrices(ctx context.Context,
	tokens []registry.Token, currencies []string) (PriceMap, error) {

	symbols := make([]string, 0, len(tokens))
	for _, token := range tokens {
		symbols = append(symbols, string(token))
	}

	query := url.Values{
		"fsyms": {strings.Join(symbols, ",")},
		"tsyms": {strings.Join(currencies, ",")},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, o.url+"?"+query.Encode(), nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price oracle returned status %v",
			resp.StatusCode)
	}

	var raw map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	prices := make(PriceMap, len(raw))
	for symbol, currencyRates := range raw {
		prices[registry.Token(symbol)] = currencyRates
	}

	return prices, nil
}
