package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrPriceUnavailable is returned when no sufficiently fresh price exists
// for a symbol. Borrow and liquidation decisions must fail hard on it; a
// default price is never substituted.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceOracle supplies the spot exchange rate for a symbol.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Source fetches a fresh price from an upstream feed.
type Source interface {
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

// HTTPSource fetches prices from a JSON price-feed endpoint.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSource creates a price source against the given endpoint.
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// FetchPrice requests GET {endpoint}/prices/{symbol}.
func (s *HTTPSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	reqURL := fmt.Sprintf("%s/prices/%s", s.endpoint, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price feed returned status %d: %w", resp.StatusCode, ErrPriceUnavailable)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}
	if body.Price <= 0 {
		return 0, fmt.Errorf("non-positive price for %s: %w", symbol, ErrPriceUnavailable)
	}

	return body.Price, nil
}
