// Package options prepares raw option chain snapshots for the recommender.
package options

import (
	"math"

	"github.com/samber/lo"

	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/logger"
	"github.com/contactkeval/covered-call/internal/pricing"
)

// Clean returns filtered copies of quotes with Mid, Spread and RelSpread set.
//
// Non-finite numbers become 0. A quote with no bid and no ask but a positive
// last trade uses the last price on both sides. Rows survive when
// bid > 0, ask > 0, bid <= ask, mid >= minMid and open interest >= minOI.
// Clean(Clean(x)) == Clean(x).
func Clean(quotes []data.OptionQuote, minOI, minMid float64) []data.OptionQuote {
	prepared := lo.Map(quotes, func(q data.OptionQuote, _ int) data.OptionQuote {
		q.Bid = finite(q.Bid)
		q.Ask = finite(q.Ask)
		q.Last = finite(q.Last)
		q.OpenInterest = finite(q.OpenInterest)
		q.ImpliedVol = finite(q.ImpliedVol)

		if q.Bid <= 0 && q.Ask <= 0 && q.Last > 0 {
			q.Bid, q.Ask = q.Last, q.Last
		}

		q.Mid = (q.Bid + q.Ask) / 2
		q.Spread = q.Ask - q.Bid
		q.RelSpread = 0
		if q.Mid > 0 {
			q.RelSpread = q.Spread / q.Mid
		}
		return q
	})

	kept := lo.Filter(prepared, func(q data.OptionQuote, _ int) bool {
		return q.Bid > 0 && q.Ask > 0 && q.Bid <= q.Ask && q.Mid >= minMid && q.OpenInterest >= minOI
	})

	if len(kept) == 0 && len(quotes) > 0 {
		logger.Debugf(
			"event=clean_rejected_all rows=%d no_bid=%d no_ask=%d crossed=%d low_mid=%d low_oi=%d",
			len(prepared),
			lo.CountBy(prepared, func(q data.OptionQuote) bool { return q.Bid <= 0 }),
			lo.CountBy(prepared, func(q data.OptionQuote) bool { return q.Ask <= 0 }),
			lo.CountBy(prepared, func(q data.OptionQuote) bool { return q.Bid > q.Ask }),
			lo.CountBy(prepared, func(q data.OptionQuote) bool { return q.Mid < minMid }),
			lo.CountBy(prepared, func(q data.OptionQuote) bool { return q.OpenInterest < minOI }),
		)
	}

	return kept
}

// FillImpliedVol returns copies where missing (non-positive) implied vols
// are backed out of the mid price, or set to fallback when that fails.
// years is floored at one day.
func FillImpliedVol(quotes []data.OptionQuote, spot, riskFree, fallback float64) []data.OptionQuote {
	return lo.Map(quotes, func(q data.OptionQuote, _ int) data.OptionQuote {
		if q.ImpliedVol > 0 {
			return q
		}
		years := math.Max(float64(q.DTE), 1) / 365
		if q.IsCall() && q.Mid > 0 {
			if iv, err := pricing.ImpliedVol(spot, q.Strike, years, riskFree, q.Mid); err == nil {
				q.ImpliedVol = iv
				return q
			}
		}
		q.ImpliedVol = fallback
		return q
	})
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
