package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbradar/arbradar/internal/domain"
)

const (
	binanceWSURL = "wss://stream.binance.com:9443"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// SnapshotHandler is called for each snapshot parsed off a stream.
type SnapshotHandler func(ctx context.Context, snap domain.MarketSnapshot)

// BinanceWS streams best bid/ask ticks from the Binance combined bookTicker
// stream for a set of trading pairs and invokes the handler per tick. It
// reconnects with exponential backoff on disconnect.
type BinanceWS struct {
	wsURL     string
	pairs     []string
	onSnap    SnapshotHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewBinanceWS creates a feed for the given pairs ("BTC/USDT" form). An
// empty URL falls back to the public production endpoint.
func NewBinanceWS(wsURL string, pairs []string, onSnap SnapshotHandler, logger *slog.Logger) *BinanceWS {
	if wsURL == "" {
		wsURL = binanceWSURL
	}
	return &BinanceWS{
		wsURL:  wsURL,
		pairs:  pairs,
		onSnap: onSnap,
		logger: logger.With(slog.String("component", "binance_ws_feed")),
		done:   make(chan struct{}),
	}
}

// streamName converts "BTC/USDT" to the "btcusdt@bookTicker" stream name.
func streamName(pair string) string {
	return strings.ToLower(strings.ReplaceAll(pair, "/", "")) + "@bookTicker"
}

// pairFromSymbol maps a Binance symbol back to "BASE/QUOTE" using the
// subscribed pair list.
func (f *BinanceWS) pairFromSymbol(symbol string) (string, bool) {
	for _, p := range f.pairs {
		if strings.EqualFold(strings.ReplaceAll(p, "/", ""), symbol) {
			return p, true
		}
	}
	return "", false
}

// Run connects and streams until ctx is cancelled, reconnecting with backoff
// on disconnect.
func (f *BinanceWS) Run(ctx context.Context) error {
	if len(f.pairs) == 0 {
		f.logger.Info("no pairs to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("binance ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// combinedFrame is the envelope of the combined-stream endpoint.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// bookTickerEvent is a single bookTicker payload.
type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	BidQty string `json:"B"`
	Ask    string `json:"a"`
	AskQty string `json:"A"`
}

func (f *BinanceWS) runConnection(ctx context.Context) error {
	streams := make([]string, len(f.pairs))
	for i, p := range f.pairs {
		streams[i] = streamName(p)
	}
	endpoint := f.wsURL + "/stream?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("feed: binance ws connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when ctx ends so ReadMessage unblocks.
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-f.done:
			_ = conn.Close()
		case <-closed:
		}
	}()

	go f.pingLoop(ctx, conn)

	f.logger.Info("binance ws subscribed", slog.Int("streams", len(streams)))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: binance ws read: %w", err)
		}
		if err := f.handleFrame(ctx, msg); err != nil {
			f.logger.Warn("binance ws frame dropped", slog.String("error", err.Error()))
		}
	}
}

func (f *BinanceWS) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
	}
}

func (f *BinanceWS) handleFrame(ctx context.Context, msg []byte) error {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if !strings.HasSuffix(frame.Stream, "@bookTicker") {
		return nil
	}

	var ev bookTickerEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		return fmt.Errorf("decode bookTicker: %w", err)
	}

	pair, ok := f.pairFromSymbol(ev.Symbol)
	if !ok {
		return nil
	}

	bid, err := parseTickField("bid", ev.Bid)
	if err != nil {
		return err
	}
	ask, err := parseTickField("ask", ev.Ask)
	if err != nil {
		return err
	}
	bidQty, err := parseTickField("bid qty", ev.BidQty)
	if err != nil {
		return err
	}
	askQty, err := parseTickField("ask qty", ev.AskQty)
	if err != nil {
		return err
	}

	snap := domain.MarketSnapshot{
		Exchange:   "binance",
		Pair:       pair,
		Kind:       domain.KindTicker,
		Bid:        bid,
		Ask:        ask,
		Volume:     (bidQty + askQty) * (bid + ask) / 2,
		Timestamp:  time.Now().UTC(),
		SourceTier: domain.TierPipeline,
	}

	if f.onSnap != nil {
		f.onSnap(ctx, snap)
	}
	return nil
}

// Close stops the feed.
func (f *BinanceWS) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func parseTickField(field, v string) (float64, error) {
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("feed: parse %s %q: %w", field, v, err)
	}
	return x, nil
}
