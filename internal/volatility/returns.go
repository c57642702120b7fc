package volatility

import (
	"math"
	"time"

	"github.com/contactkeval/covered-call/internal/data"
)

// ReturnSeries is an ordered, immutable series of daily log-returns.
type ReturnSeries struct {
	dates   []time.Time
	returns []float64
}

// NewReturnSeries builds log-returns ln(C_t / C_{t-1}) from bars in date order.
// Pairs where either close is non-positive, or the return is not finite, are dropped.
func NewReturnSeries(bars []data.Bar) ReturnSeries {
	var rs ReturnSeries
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		r := math.Log(cur / prev)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		rs.dates = append(rs.dates, bars[i].Date)
		rs.returns = append(rs.returns, r)
	}
	return rs
}

// ReturnSeriesFrom wraps raw log-returns with no timestamps, dropping non-finite values.
func ReturnSeriesFrom(returns []float64) ReturnSeries {
	var rs ReturnSeries
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		rs.returns = append(rs.returns, r)
	}
	return rs
}

// Len returns the number of usable observations.
func (rs ReturnSeries) Len() int { return len(rs.returns) }

// Values returns a copy of the log-returns.
func (rs ReturnSeries) Values() []float64 {
	out := make([]float64, len(rs.returns))
	copy(out, rs.returns)
	return out
}

// Dates returns a copy of the observation timestamps (nil for ReturnSeriesFrom).
func (rs ReturnSeries) Dates() []time.Time {
	if rs.dates == nil {
		return nil
	}
	out := make([]time.Time, len(rs.dates))
	copy(out, rs.dates)
	return out
}
