package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

const bybitBaseURL = "https://api.bybit.com"

// Bybit is the REST adapter for the Bybit exchange (v5 market API).
type Bybit struct {
	baseURL    string
	httpClient *http.Client
}

// NewBybit creates a Bybit adapter. An empty URL falls back to the public
// production endpoint.
func NewBybit(baseURL string) *Bybit {
	if baseURL == "" {
		baseURL = bybitBaseURL
	}
	return &Bybit{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Adapter.
func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) symbol(pair string) (string, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

type bybitTicker struct {
	Bid1Price   string `json:"bid1Price"`
	Ask1Price   string `json:"ask1Price"`
	Turnover24h string `json:"turnover24h"`
	FundingRate string `json:"fundingRate"`
}

type bybitEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []bybitTicker `json:"list"`
	} `json:"result"`
}

func (b *Bybit) tickers(ctx context.Context, category, sym string) (bybitTicker, error) {
	var resp bybitEnvelope
	u := b.baseURL + "/v5/market/tickers?category=" + category + "&symbol=" + url.QueryEscape(sym)
	if err := getJSON(ctx, b.httpClient, u, &resp); err != nil {
		return bybitTicker{}, err
	}
	if resp.RetCode != 0 || len(resp.Result.List) == 0 {
		return bybitTicker{}, fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	return resp.Result.List[0], nil
}

// FetchTicker implements Adapter against the spot category.
func (b *Bybit) FetchTicker(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	sym, err := b.symbol(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	t, err := b.tickers(ctx, "spot", sym)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: ticker %s: %w", pair, err)
	}

	bid, err := parseFloat("bid1Price", t.Bid1Price)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: ticker %s: %w", pair, err)
	}
	ask, err := parseFloat("ask1Price", t.Ask1Price)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: ticker %s: %w", pair, err)
	}
	vol, err := parseFloat("turnover24h", t.Turnover24h)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: ticker %s: %w", pair, err)
	}

	return domain.MarketSnapshot{
		Exchange:   b.Name(),
		Pair:       pair,
		Kind:       domain.KindTicker,
		Bid:        bid,
		Ask:        ask,
		Volume:     vol,
		Timestamp:  time.Now().UTC(),
		SourceTier: domain.TierLiveAPI,
	}, nil
}

// FetchFundingRate implements Adapter against the linear perpetual category.
func (b *Bybit) FetchFundingRate(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	sym, err := b.symbol(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	t, err := b.tickers(ctx, "linear", sym)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: funding rate %s: %w", pair, err)
	}

	rate, err := parseFloat("fundingRate", t.FundingRate)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: funding rate %s: %w", pair, err)
	}

	return domain.MarketSnapshot{
		Exchange:    b.Name(),
		Pair:        pair,
		Kind:        domain.KindFundingRate,
		FundingRate: &rate,
		Timestamp:   time.Now().UTC(),
		SourceTier:  domain.TierLiveAPI,
	}, nil
}

var _ Adapter = (*Bybit)(nil)
