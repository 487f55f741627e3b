package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

const bitgetBaseURL = "https://api.bitget.com"

// Bitget is the REST adapter for the Bitget exchange (v2 API).
type Bitget struct {
	baseURL    string
	httpClient *http.Client
}

// NewBitget creates a Bitget adapter. An empty URL falls back to the public
// production endpoint.
func NewBitget(baseURL string) *Bitget {
	if baseURL == "" {
		baseURL = bitgetBaseURL
	}
	return &Bitget{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Adapter.
func (b *Bitget) Name() string { return "bitget" }

func (b *Bitget) symbol(pair string) (string, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

type bitgetEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// FetchTicker implements Adapter.
func (b *Bitget) FetchTicker(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	sym, err := b.symbol(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	var resp bitgetEnvelope[struct {
		BidPr      string `json:"bidPr"`
		AskPr      string `json:"askPr"`
		UsdtVolume string `json:"usdtVolume"`
	}]
	u := b.baseURL + "/api/v2/spot/market/tickers?symbol=" + url.QueryEscape(sym)
	if err := getJSON(ctx, b.httpClient, u, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: ticker %s: %w", pair, err)
	}
	if resp.Code != "00000" || len(resp.Data) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: ticker %s: code %s: %s", pair, resp.Code, resp.Msg)
	}

	d := resp.Data[0]
	bid, err := parseFloat("bidPr", d.BidPr)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: ticker %s: %w", pair, err)
	}
	ask, err := parseFloat("askPr", d.AskPr)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: ticker %s: %w", pair, err)
	}
	vol, err := parseFloat("usdtVolume", d.UsdtVolume)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: ticker %s: %w", pair, err)
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

// FetchFundingRate implements Adapter against the USDT-futures product line.
func (b *Bitget) FetchFundingRate(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	sym, err := b.symbol(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	var resp bitgetEnvelope[struct {
		FundingRate string `json:"fundingRate"`
	}]
	u := b.baseURL + "/api/v2/mix/market/current-fund-rate?symbol=" + url.QueryEscape(sym) + "&productType=usdt-futures"
	if err := getJSON(ctx, b.httpClient, u, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: funding rate %s: %w", pair, err)
	}
	if resp.Code != "00000" || len(resp.Data) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: funding rate %s: code %s: %s", pair, resp.Code, resp.Msg)
	}

	rate, err := parseFloat("fundingRate", resp.Data[0].FundingRate)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bitget: funding rate %s: %w", pair, err)
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

var _ Adapter = (*Bitget)(nil)
