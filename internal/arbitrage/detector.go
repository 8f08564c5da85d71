// Package arbitrage finds cross-venue price divergences in a pair's price
// snapshot and drives the periodic detection loop.
package arbitrage

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// opportunityNamespace seeds deterministic opportunity IDs.
var opportunityNamespace = uuid.MustParse("6f1c2a9e-3b1d-4c55-9a52-2f0f6d1f8a41")

// Thresholds bounds what counts as an opportunity and how large it may be.
type Thresholds struct {
	// PriceDifference is the minimum relative diff, exclusive.
	PriceDifference float64
	// MaxVolume caps the trade amount. Zero means no cap.
	MaxVolume float64
	// MinVolume floors the trade amount.
	MinVolume float64
}

// Detector selects the single best buy-low/sell-high candidate per snapshot.
// It holds no mutable state, so Detect is safe for concurrent use.
type Detector struct {
	th    Thresholds
	sizer Sizer
}

// NewDetector creates a Detector. A nil sizer sizes every trade at the
// minimum volume.
func NewDetector(th Thresholds, sizer Sizer) *Detector {
	if sizer == nil {
		sizer = MinAmountSizer{}
	}
	return &Detector{th: th, sizer: sizer}
}

type candidate struct {
	buy, sell domain.Quote
	diff      decimal.Decimal
}

// Detect returns the best opportunity in snapshot, or false when fewer than
// two usable quotes exist or no diff exceeds the threshold. Identical
// snapshots always produce identical opportunities.
func (d *Detector) Detect(pair string, snapshot map[string]domain.Quote) (domain.Opportunity, bool) {
	venues := make([]string, 0, len(snapshot))
	for v, q := range snapshot {
		if q.Price > 0 {
			venues = append(venues, v)
		}
	}
	if len(venues) < 2 {
		return domain.Opportunity{}, false
	}
	sort.Strings(venues)

	threshold := decimal.NewFromFloat(d.th.PriceDifference)
	var best *candidate
	// Venues are visited in sorted order and only a strictly larger diff
	// replaces best, so ties resolve to the smaller (buy, sell) pair.
	for _, bv := range venues {
		for _, sv := range venues {
			if bv == sv {
				continue
			}
			buy, sell := snapshot[bv], snapshot[sv]
			buy.Venue, sell.Venue = bv, sv
			bp := decimal.NewFromFloat(buy.Price)
			diff := decimal.NewFromFloat(sell.Price).Sub(bp).Div(bp)
			if !diff.GreaterThan(threshold) {
				continue
			}
			if best == nil || diff.GreaterThan(best.diff) {
				best = &candidate{buy: buy, sell: sell, diff: diff}
			}
		}
	}
	if best == nil {
		return domain.Opportunity{}, false
	}
	pair = domain.NormalizePair(pair)
	amount := d.clamp(d.sizer.Size(pair, best.buy, best.sell))
	detectedAt := best.buy.ObservedAt
	if best.sell.ObservedAt.After(detectedAt) {
		detectedAt = best.sell.ObservedAt
	}

	return domain.Opportunity{
		ID:             opportunityID(pair, best.buy, best.sell),
		Pair:           pair,
		BuyVenue:       best.buy.Venue,
		SellVenue:      best.sell.Venue,
		BuyPrice:       best.buy.Price,
		SellPrice:      best.sell.Price,
		Diff:           best.diff.InexactFloat64(),
		Amount:         amount,
		ExpectedProfit: (best.sell.Price - best.buy.Price) * amount,
		DetectedAt:     detectedAt.UTC(),
	}, true
}

func (d *Detector) clamp(amount float64) float64 {
	if amount < d.th.MinVolume {
		amount = d.th.MinVolume
	}
	if d.th.MaxVolume > 0 && amount > d.th.MaxVolume {
		amount = d.th.MaxVolume
	}
	return amount
}

func opportunityID(pair string, buy, sell domain.Quote) string {
	key := fmt.Sprintf("%s|%s|%v|%d|%s|%v|%d",
		pair,
		buy.Venue, buy.Price, buy.ObservedAt.UnixNano(),
		sell.Venue, sell.Price, sell.ObservedAt.UnixNano(),
	)
	return uuid.NewSHA1(opportunityNamespace, []byte(key)).String()
}
