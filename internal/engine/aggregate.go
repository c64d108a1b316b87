package engine

import (
	"slices"

	"orderfeed/internal/domain"

	"github.com/shopspring/decimal"
)

// TruncatePolicy selects which end of the ladder survives a depth limit.
type TruncatePolicy int

const (
	// TruncateLow keeps the lowest-priced buckets.
	TruncateLow TruncatePolicy = iota
	// TruncateHigh keeps the highest-priced buckets.
	TruncateHigh
)

// ParseTruncatePolicy maps the config spelling to a policy.
func ParseTruncatePolicy(s string) (TruncatePolicy, bool) {
	switch s {
	case "", "low":
		return TruncateLow, true
	case "high":
		return TruncateHigh, true
	}
	return TruncateLow, false
}

func (p TruncatePolicy) String() string {
	if p == TruncateHigh {
		return "high"
	}
	return "low"
}

// GroupOptions controls ordering and depth of an aggregated ladder.
type GroupOptions struct {
	Reversed bool
	Limit    int // <= 0 means unlimited
	Truncate TruncatePolicy
}

// GroupAndTotal buckets ascending levels by denomination d, keeps the lowest
// limit buckets, optionally reverses them and assigns running totals.
func GroupAndTotal(levels []domain.PriceLevel, d domain.Denomination, reversed bool, limit int) []domain.AggregatedLevel {
	return GroupAndTotalWith(levels, d, GroupOptions{Reversed: reversed, Limit: limit})
}

// GroupAndTotalWith is GroupAndTotal with an explicit truncation policy.
// Truncation always happens before reversal.
func GroupAndTotalWith(levels []domain.PriceLevel, d domain.Denomination, opts GroupOptions) []domain.AggregatedLevel {
	unit := d.Units()
	if unit <= 0 || len(levels) == 0 {
		return nil
	}

	out := make([]domain.AggregatedLevel, 0, len(levels))
	var cur domain.PriceKey
	for i, l := range levels {
		bucket := bucketOf(l.Key(), unit)
		if i > 0 && bucket == cur {
			last := &out[len(out)-1]
			last.Size = last.Size.Add(l.Size)
			continue
		}
		cur = bucket
		out = append(out, domain.AggregatedLevel{Price: bucket.Price(), Size: l.Size})
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		if opts.Truncate == TruncateHigh {
			out = out[len(out)-opts.Limit:]
		} else {
			out = out[:opts.Limit]
		}
	}
	if opts.Reversed {
		slices.Reverse(out)
	}

	total := decimal.Zero
	for i := range out {
		total = total.Add(out[i].Size)
		out[i].Total = total
	}
	return out
}

// bucketOf floors key to a multiple of unit, also for negative keys.
func bucketOf(key domain.PriceKey, unit int64) domain.PriceKey {
	k := int64(key)
	mod := k % unit
	if mod < 0 {
		mod += unit
	}
	return domain.PriceKey(k - mod)
}

// MaxTotal returns the largest cumulative total in levels.
func MaxTotal(levels []domain.AggregatedLevel) decimal.Decimal {
	maxTotal := decimal.Zero
	for _, l := range levels {
		if l.Total.GreaterThan(maxTotal) {
			maxTotal = l.Total
		}
	}
	return maxTotal
}

// DepthRatio returns total/maxTotal for depth bars, or 0 if maxTotal is zero.
func DepthRatio(total, maxTotal decimal.Decimal) float64 {
	if maxTotal.IsZero() {
		return 0
	}
	r, _ := total.Div(maxTotal).Float64()
	return r
}
