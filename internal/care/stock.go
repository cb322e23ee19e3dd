package care

import (
	"math"

	"petcare/internal/domain"
)

// Tier is the severity of a consumable running low.
type Tier string

const (
	TierDanger Tier = "danger"
	TierWarn   Tier = "warn"
	TierSoon   Tier = "soon"
	TierOK     Tier = "ok"
)

var tierRanks = map[Tier]int{TierDanger: 0, TierWarn: 1, TierSoon: 2, TierOK: 3}

func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return len(tierRanks)
}

const (
	minThreshold    = 1
	maxThreshold    = 60
	maxRemainingDay = 365
)

// Thresholds are remaining-day limits for the stock tiers. Normalized values
// satisfy Critical <= Urgent <= Soon, each within [1,60].
type Thresholds struct {
	Critical int `json:"critical" yaml:"critical"`
	Urgent   int `json:"urgent" yaml:"urgent"`
	Soon     int `json:"soon" yaml:"soon"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 1, Urgent: 3, Soon: 7}
}

// NormalizeThresholds clamps t into a valid ordering. Soon is clamped first
// and bounds Urgent, which in turn bounds Critical, so the result is stable
// under repeated application.
func NormalizeThresholds(t Thresholds) Thresholds {
	soon := clampInt(t.Soon, minThreshold, maxThreshold)
	urgent := clampInt(t.Urgent, minThreshold, soon)
	critical := clampInt(t.Critical, minThreshold, urgent)
	return Thresholds{Critical: critical, Urgent: urgent, Soon: soon}
}

// ClassifyStock maps a remaining-days lower bound to a tier.
func ClassifyStock(remaining float64, t Thresholds) Tier {
	n := NormalizeThresholds(t)
	r := ClampRemaining(remaining)
	switch {
	case r <= float64(n.Critical):
		return TierDanger
	case r <= float64(n.Urgent):
		return TierWarn
	case r <= float64(n.Soon):
		return TierSoon
	default:
		return TierOK
	}
}

// ClassifyInventory classifies an item by the low end of its estimate.
func ClassifyInventory(item domain.InventoryItem, t Thresholds) Tier {
	return ClassifyStock(item.LowerBound(), t)
}

// ClampRemaining maps any input, including NaN and infinities, into [0,365].
func ClampRemaining(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > maxRemainingDay:
		return maxRemainingDay
	default:
		return v
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
