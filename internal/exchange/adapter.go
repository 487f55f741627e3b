// Package exchange implements the live-API tier: one thin REST adapter per
// supported exchange behind a single capability interface, so detection
// logic stays exchange-agnostic.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/arbradar/arbradar/internal/domain"
)

// Adapter fetches market data from one exchange. Implementations hit public
// market-data endpoints only; no credentials are required.
type Adapter interface {
	// Name returns the canonical lowercase exchange identifier.
	Name() string
	// FetchTicker returns the current best bid/ask and 24h volume for a
	// trading pair written as "BASE/QUOTE" (e.g. "BTC/USDT").
	FetchTicker(ctx context.Context, pair string) (domain.MarketSnapshot, error)
	// FetchFundingRate returns the current perpetual funding rate for the
	// pair. Exchanges without perpetuals return a wrapped domain.ErrNotFound.
	FetchFundingRate(ctx context.Context, pair string) (domain.MarketSnapshot, error)
}

// priorityOrder is the fixed exchange ranking used to break ties when more
// qualifying exchange pairs exist than the per-pair cap.
var priorityOrder = []string{"coinbase", "okx", "binance", "bybit", "bitget"}

// Priority returns the rank of an exchange in the fixed priority order.
// Unknown exchanges rank after all known ones, alphabetically stable.
func Priority(name string) int {
	for i, n := range priorityOrder {
		if n == strings.ToLower(name) {
			return i
		}
	}
	return len(priorityOrder)
}

// Registry maps exchange names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters, keyed by Name().
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for an exchange, or domain.ErrNotFound.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("exchange: adapter %s: %w", name, domain.ErrNotFound)
	}
	return a, nil
}

// Names returns all registered exchange names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}

// splitPair splits "BTC/USDT" into its base and quote legs.
func splitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("exchange: malformed pair %q", pair)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

// parseFloat converts a string-encoded decimal from an exchange payload.
func parseFloat(field, v string) (float64, error) {
	if v == "" {
		return 0, fmt.Errorf("exchange: empty %s", field)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("exchange: parse %s %q: %w", field, v, err)
	}
	return f, nil
}
