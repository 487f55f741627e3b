// Package detect finds cross-exchange rate differentials and maintains the
// bounded priority queue of live opportunities.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
)

// roundDecimals is the precision the rate difference is rounded to before
// hashing, so jitter below a hundredth of a basis point does not mint new
// identities.
const roundDecimals = 4

// DeterministicID derives a stable opportunity identity from the pair, the
// two exchanges, and the rounded rate difference. The exchanges are ordered
// lexicographically before hashing, so (a, b) and (b, a) produce the same ID.
func DeterministicID(pair, exchangeA, exchangeB string, rateDiff float64) string {
	lo, hi := exchangeA, exchangeB
	if lo > hi {
		lo, hi = hi, lo
	}

	rounded := roundTo(rateDiff, roundDecimals)
	raw := fmt.Sprintf("%s|%s|%s|%.*f", pair, lo, hi, roundDecimals, rounded)

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
