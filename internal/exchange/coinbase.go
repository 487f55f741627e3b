package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// Coinbase is the REST adapter for Coinbase Exchange. Coinbase lists spot
// products only, so funding-rate fetches are unsupported.
type Coinbase struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinbase creates a Coinbase adapter. An empty URL falls back to the
// public production endpoint.
func NewCoinbase(baseURL string) *Coinbase {
	if baseURL == "" {
		baseURL = coinbaseBaseURL
	}
	return &Coinbase{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Adapter.
func (c *Coinbase) Name() string { return "coinbase" }

// productID converts "BTC/USDT" to Coinbase's "BTC-USDT" product id.
func (c *Coinbase) productID(pair string) (string, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return "", err
	}
	return base + "-" + quote, nil
}

// FetchTicker implements Adapter.
func (c *Coinbase) FetchTicker(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	product, err := c.productID(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	var resp struct {
		Bid    string `json:"bid"`
		Ask    string `json:"ask"`
		Volume string `json:"volume"`
	}
	u := c.baseURL + "/products/" + url.PathEscape(product) + "/ticker"
	if err := getJSON(ctx, c.httpClient, u, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("coinbase: ticker %s: %w", pair, err)
	}

	bid, err := parseFloat("bid", resp.Bid)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("coinbase: ticker %s: %w", pair, err)
	}
	ask, err := parseFloat("ask", resp.Ask)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("coinbase: ticker %s: %w", pair, err)
	}
	vol, err := parseFloat("volume", resp.Volume)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("coinbase: ticker %s: %w", pair, err)
	}

	return domain.MarketSnapshot{
		Exchange:   c.Name(),
		Pair:       pair,
		Kind:       domain.KindTicker,
		Bid:        bid,
		Ask:        ask,
		Volume:     vol,
		Timestamp:  time.Now().UTC(),
		SourceTier: domain.TierLiveAPI,
	}, nil
}

// FetchFundingRate implements Adapter. Coinbase has no perpetuals; callers
// treat this as "pair not quoted here", not as a source failure.
func (c *Coinbase) FetchFundingRate(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, fmt.Errorf("coinbase: funding rate %s: %w", pair, domain.ErrNotFound)
}

var _ Adapter = (*Coinbase)(nil)
