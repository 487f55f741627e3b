package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

const (
	binanceSpotURL    = "https://api.binance.com"
	binanceFuturesURL = "https://fapi.binance.com"
)

// Binance is the REST adapter for the Binance exchange.
type Binance struct {
	spotURL    string
	futuresURL string
	httpClient *http.Client
}

// NewBinance creates a Binance adapter. Empty URLs fall back to the public
// production endpoints.
func NewBinance(spotURL, futuresURL string) *Binance {
	if spotURL == "" {
		spotURL = binanceSpotURL
	}
	if futuresURL == "" {
		futuresURL = binanceFuturesURL
	}
	return &Binance{
		spotURL:    spotURL,
		futuresURL: futuresURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Adapter.
func (b *Binance) Name() string { return "binance" }

// symbol converts "BTC/USDT" to Binance's "BTCUSDT" form.
func (b *Binance) symbol(pair string) (string, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

// FetchTicker implements Adapter using the 24h ticker endpoint, which carries
// best bid/ask and volume in one call.
func (b *Binance) FetchTicker(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	sym, err := b.symbol(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	var resp struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
		Volume   string `json:"quoteVolume"`
	}
	u := b.spotURL + "/api/v3/ticker/24hr?symbol=" + url.QueryEscape(sym)
	if err := getJSON(ctx, b.httpClient, u, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("binance: ticker %s: %w", pair, err)
	}

	bid, err := parseFloat("bidPrice", resp.BidPrice)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("binance: ticker %s: %w", pair, err)
	}
	ask, err := parseFloat("askPrice", resp.AskPrice)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("binance: ticker %s: %w", pair, err)
	}
	vol, err := parseFloat("quoteVolume", resp.Volume)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("binance: ticker %s: %w", pair, err)
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

// FetchFundingRate implements Adapter using the futures premium index.
func (b *Binance) FetchFundingRate(ctx context.Context, pair string) (domain.MarketSnapshot, error) {
	sym, err := b.symbol(pair)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	var resp struct {
		LastFundingRate string `json:"lastFundingRate"`
		MarkPrice       string `json:"markPrice"`
	}
	u := b.futuresURL + "/fapi/v1/premiumIndex?symbol=" + url.QueryEscape(sym)
	if err := getJSON(ctx, b.httpClient, u, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("binance: funding rate %s: %w", pair, err)
	}

	rate, err := parseFloat("lastFundingRate", resp.LastFundingRate)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("binance: funding rate %s: %w", pair, err)
	}
	mark, err := parseFloat("markPrice", resp.MarkPrice)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("binance: funding rate %s: %w", pair, err)
	}

	return domain.MarketSnapshot{
		Exchange:    b.Name(),
		Pair:        pair,
		Kind:        domain.KindFundingRate,
		Bid:         mark,
		Ask:         mark,
		FundingRate: &rate,
		Timestamp:   time.Now().UTC(),
		SourceTier:  domain.TierLiveAPI,
	}, nil
}

// getJSON performs a GET request and decodes the JSON response body into dst.
func getJSON(ctx context.Context, client *http.Client, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 256))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Adapter = (*Binance)(nil)
