package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

const okxBaseURL = "https://www.okx.com"

// OKX is the REST adapter for the OKX exchange.
type OKX struct {
	baseURL    string
	httpClient *http.Client
}

// NewOKX creates an OKX adapter. An empty URL falls back to the public
// production endpoint.
func NewOKX(baseURL string) *OKX {
	if baseURL == "" {
		baseURL = okxBaseURL
	}
	return &OKX{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Adapter.
func (o *OKX) Name() string { return "okx" }

// instID converts "BTC/USDT" to OKX's "BTC-USDT" instrument id.
func (o *OKX) instID(pair string) (string, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return "", err
	}
	return base + "-" + quote, nil
}

// okxEnvelope is the common OKX response wrapper.
type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// FetchTicker implements Adapter.
func (o *OKX) FetchTicker(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	inst, err := o.instID(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	var resp okxEnvelope[struct {
		BidPx    string `json:"bidPx"`
		AskPx    string `json:"askPx"`
		VolCcy24 string `json:"volCcy24h"`
	}]
	u := o.baseURL + "/api/v5/market/ticker?instId=" + url.QueryEscape(inst)
	if err := getJSON(ctx, o.httpClient, u, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: ticker %s: %w", pair, err)
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: ticker %s: code %s: %s", pair, resp.Code, resp.Msg)
	}

	d := resp.Data[0]
	bid, err := parseFloat("bidPx", d.BidPx)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: ticker %s: %w", pair, err)
	}
	ask, err := parseFloat("askPx", d.AskPx)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: ticker %s: %w", pair, err)
	}
	vol, err := parseFloat("volCcy24h", d.VolCcy24)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: ticker %s: %w", pair, err)
	}

	return domain.MarketSnapshot{
		Exchange:   o.Name(),
		Pair:       pair,
		Kind:       domain.KindTicker,
		Bid:        bid,
		Ask:        ask,
		Volume:     vol,
		Timestamp:  time.Now().UTC(),
		SourceTier: domain.TierLiveAPI,
	}, nil
}

// FetchFundingRate implements Adapter against the perpetual swap instrument.
func (o *OKX) FetchFundingRate(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	inst, err := o.instID(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	inst += "-SWAP"

	var resp okxEnvelope[struct {
		FundingRate string `json:"fundingRate"`
	}]
	u := o.baseURL + "/api/v5/public/funding-rate?instId=" + url.QueryEscape(inst)
	if err := getJSON(ctx, o.httpClient, u, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: funding rate %s: %w", pair, err)
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: funding rate %s: code %s: %s", pair, resp.Code, resp.Msg)
	}

	rate, err := parseFloat("fundingRate", resp.Data[0].FundingRate)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("okx: funding rate %s: %w", pair, err)
	}

	return domain.MarketSnapshot{
		Exchange:    o.Name(),
		Pair:        pair,
		Kind:        domain.KindFundingRate,
		FundingRate: &rate,
		Timestamp:   time.Now().UTC(),
		SourceTier:  domain.TierLiveAPI,
	}, nil
}

var _ Adapter = (*OKX)(nil)
