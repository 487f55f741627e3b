package detect

import (
	"math"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

const (
	// confidenceFloor and confidenceCeil clamp the final confidence: no
	// opportunity is ever certain, none is ever worthless once it passed the
	// threshold band.
	confidenceFloor = 0.1
	confidenceCeil  = 0.95

	// volumeSaturation is the combined 24h quote volume at which the volume
	// component saturates at 1.0.
	volumeSaturation = 2_000_000.0

	// staleDiscount is applied to the confidence of an opportunity computed
	// from any stale-served snapshot.
	staleDiscount = 0.75

	// liquidityFullSpread is the relative bid-ask spread at which the
	// liquidity component reaches zero. Tighter books score higher.
	liquidityFullSpread = 0.01

	// recencyFloor keeps an aging opportunity rankable until expiry removes
	// it; decay never zeroes a priority outright.
	recencyFloor = 0.1
)

// Scorer computes confidence and priority for candidate opportunities.
type Scorer struct {
	minThreshold float64
}

// NewScorer creates a Scorer. minThreshold is the detection floor the price
// component is measured against.
func NewScorer(minThreshold float64) *Scorer {
	return &Scorer{minThreshold: minThreshold}
}

// Confidence blends volume, price-differential, and liquidity components
// into [0.1, 0.95]. Either input being stale discounts the result.
func (s *Scorer) Confidence(a, b domain.MarketSnapshot, rateDiff float64) float64 {
	vol := math.Min(1, (a.Volume+b.Volume)/volumeSaturation)

	price := 0.0
	if s.minThreshold > 0 {
		price = math.Min(2, math.Abs(rateDiff)/s.minThreshold) / 2
	}

	liq := (liquidity(a) + liquidity(b)) / 2

	conf := (vol + price + liq) / 3
	if a.Stale || b.Stale {
		conf *= staleDiscount
	}
	return clamp(conf, confidenceFloor, confidenceCeil)
}

// Priority ranks an opportunity for queue ordering: magnitude of the
// differential weighted by confidence, decayed by age so a fresh detection
// outranks an equally strong one from cycles ago.
func (s *Scorer) Priority(rateDiff, confidence float64, age, ttl time.Duration) float64 {
	return math.Abs(rateDiff) * confidence * recency(age, ttl)
}

// recency maps age over the opportunity's lifetime to (0, 1]: 1 when just
// detected, linear down to the floor at expiry.
func recency(age, ttl time.Duration) float64 {
	if ttl <= 0 || age <= 0 {
		return 1
	}
	return clamp(1-age.Seconds()/ttl.Seconds(), recencyFloor, 1)
}

// liquidity maps the relative spread to [0, 1]; a zero-spread book scores 1.
func liquidity(snap domain.MarketSnapshot) float64 {
	mid := snap.Mid()
	if mid <= 0 {
		return 0
	}
	rel := snap.Spread() / mid
	return clamp(1-rel/liquidityFullSpread, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
