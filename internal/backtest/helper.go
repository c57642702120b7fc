package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/contactkeval/covered-call/internal/data"
)

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

type DateMatchType string

const (
	MatchHigher DateMatchType = "higher" // first available date on or after target
	MatchLower  DateMatchType = "lower"  // last available date on or before target
)

// findDateIndex locates d in ascending dates according to mode and returns
// -1 when nothing qualifies.
func findDateIndex(d time.Time, dates []time.Time, mode DateMatchType) int {
	// first index with dates[i] >= d
	i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(d) })

	if mode == MatchHigher {
		if i < len(dates) {
			return i
		}
		return -1
	}
	if i < len(dates) && dates[i].Equal(d) {
		return i
	}
	return i - 1 // -1 when d precedes every date
}

// windowStarts lists return indices t at which a calibration window trains
// on returns[:t] and is scored on the following horizon returns.
// Zero start or end leaves that side open.
func windowStarts(dates []time.Time, minHistory, horizon, step int, start, end time.Time) []int {
	first := minHistory
	if !start.IsZero() {
		if i := findDateIndex(start, dates, MatchHigher); i < 0 {
			return nil
		} else if i > first {
			first = i
		}
	}
	last := len(dates) - horizon // exclusive
	if !end.IsZero() {
		if i := findDateIndex(end, dates, MatchLower); i < 0 {
			return nil
		} else if i+1-horizon < last {
			last = i + 1 - horizon
		}
	}

	var out []int
	for t := first; t < last; t += step {
		out = append(out, t)
	}
	return out
}

func extractCloses(bars []data.Bar) []float64 {
	return lo.Map(bars, func(b data.Bar, _ int) float64 { return b.Close })
}

// AnnualizedVolatility is the sample stdev of log-returns scaled by sqrt(252),
// or 0.30 when there are fewer than three closes.
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return 0.30
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	return stat.StdDev(rets, nil) * math.Sqrt(252.0)
}

// percentile interpolates linearly between closest ranks of sorted
// (position q*(n-1)), the common "type 7" sample quantile.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := q * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
