// Package resistance finds price ceilings above the current price from
// rolling highs, moving averages and the session VWAP, and merges nearby
// levels into zones.
package resistance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/contactkeval/covered-call/internal/data"
)

// Candidate strengths by source.
const (
	StrengthHigh          = 1.0
	StrengthSMA           = 0.8
	StrengthVWAP          = 0.6
	StrengthPsychological = 0.5
)

var (
	highWindows = []int{20, 50, 100}
	smaWindows  = []int{20, 50, 200}
)

// Level is a resistance price with a provenance label and a weight.
type Level struct {
	Level    float64 `json:"level"`
	Label    string  `json:"label"`
	Strength float64 `json:"strength"`
}

// Detect returns clustered resistance levels strictly above currentPrice.
// Windows longer than the available history produce no candidate. When no
// candidate qualifies, the next multiple of 10 above the price is returned.
func Detect(daily, intraday []data.Bar, currentPrice, zoneWidth float64) []Level {
	var candidates []Level

	for _, w := range highWindows {
		if len(daily) < w {
			continue
		}
		highs := lo.Map(daily[len(daily)-w:], func(b data.Bar, _ int) float64 { return b.High })
		candidates = append(candidates, Level{
			Level:    lo.Max(highs),
			Label:    fmt.Sprintf("%dd_high", w),
			Strength: StrengthHigh,
		})
	}

	for _, w := range smaWindows {
		if len(daily) < w {
			continue
		}
		closes := lo.Map(daily[len(daily)-w:], func(b data.Bar, _ int) float64 { return b.Close })
		candidates = append(candidates, Level{
			Level:    stat.Mean(closes, nil),
			Label:    fmt.Sprintf("SMA_%d", w),
			Strength: StrengthSMA,
		})
	}

	if vwap, ok := SessionVWAP(intraday); ok {
		candidates = append(candidates, Level{Level: vwap, Label: "VWAP_session", Strength: StrengthVWAP})
	}

	above := lo.Filter(candidates, func(l Level, _ int) bool {
		return l.Level > currentPrice && !math.IsNaN(l.Level) && !math.IsInf(l.Level, 0)
	})

	if len(above) == 0 {
		return []Level{Psychological(currentPrice)}
	}
	return Cluster(above, zoneWidth)
}

// Psychological is the next multiple of 10 strictly above price.
func Psychological(price float64) Level {
	level := math.Ceil(price/10) * 10
	if level <= price {
		level += 10
	}
	return Level{Level: level, Label: "psychological", Strength: StrengthPsychological}
}

// SessionVWAP is the volume-weighted typical price (H+L+C)/3 over the bars
// of the most recent session date. ok is false without volume.
func SessionVWAP(intraday []data.Bar) (float64, bool) {
	if len(intraday) == 0 {
		return 0, false
	}

	last := intraday[len(intraday)-1].Date
	y, m, d := last.Date()
	session := lo.Filter(intraday, func(b data.Bar, _ int) bool {
		by, bm, bd := b.Date.Date()
		return by == y && bm == m && bd == d
	})

	typical := make([]float64, len(session))
	volume := make([]float64, len(session))
	var total float64
	for i, b := range session {
		typical[i] = (b.High + b.Low + b.Close) / 3
		volume[i] = b.Vol
		total += b.Vol
	}
	if total <= 0 {
		return 0, false
	}
	return stat.Mean(typical, volume), true
}

// Cluster sorts levels ascending and greedily merges each level into the
// current zone when it lies within zoneWidth (relative) of the previous
// member. A zone becomes one level at the strength-weighted mean price,
// with summed strength and '+'-joined labels. Cluster is idempotent.
func Cluster(levels []Level, zoneWidth float64) []Level {
	if len(levels) == 0 {
		return nil
	}

	sorted := make([]Level, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	var (
		out  []Level
		zone = []Level{sorted[0]}
	)
	for _, l := range sorted[1:] {
		prev := zone[len(zone)-1]
		if prev.Level > 0 && (l.Level-prev.Level)/prev.Level <= zoneWidth {
			zone = append(zone, l)
			continue
		}
		out = append(out, merge(zone))
		zone = []Level{l}
	}
	return append(out, merge(zone))
}

func merge(zone []Level) Level {
	if len(zone) == 1 {
		return zone[0]
	}

	var weighted, strength float64
	labels := make([]string, len(zone))
	for i, l := range zone {
		weighted += l.Level * l.Strength
		strength += l.Strength
		labels[i] = l.Label
	}

	level := weighted / strength
	if strength <= 0 {
		level = zone[0].Level
	}
	return Level{Level: level, Label: strings.Join(labels, "+"), Strength: strength}
}

// NearestAbove returns the lowest level strictly above price. With none, it
// falls back to price*1.10 at full strength.
func NearestAbove(levels []Level, price float64) Level {
	above := lo.Filter(levels, func(l Level, _ int) bool { return l.Level > price })
	if len(above) == 0 {
		return Level{Level: price * 1.10, Label: "fallback_10pct", Strength: 1.0}
	}
	return lo.MinBy(above, func(a, b Level) bool { return a.Level < b.Level })
}

