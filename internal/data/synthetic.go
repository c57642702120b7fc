package data

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"golang.org/x/exp/rand"

	"github.com/contactkeval/covered-call/internal/pricing"
)

// synthEpoch anchors every synthetic price path so that overlapping
// requests see the same history.
var synthEpoch = time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)

// synthDataProvider implements Data Provider generating synthetic data.
// Prices follow a seeded geometric random walk per ticker; option quotes
// are Black-Scholes prices with a volatility smile and a quoted spread.
type synthDataProvider struct {
	seed      uint64
	dailyVol  float64
	secondary Provider
}

// NewSyntheticProvider returns a deterministic provider for offline runs and tests.
func NewSyntheticProvider(seed uint64, secondary Provider) Provider {
	return &synthDataProvider{seed: seed, dailyVol: 0.02, secondary: secondary}
}

func (synthDataProv *synthDataProvider) Name() string { return "synthetic" }

func (synthDataProv *synthDataProvider) Secondary() Provider {
	return synthDataProv.secondary
}

func (synthDataProv *synthDataProvider) tickerSeed(underlying string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(underlying))
	return synthDataProv.seed ^ h.Sum64()
}

// dailyPath generates weekday closes from synthEpoch through toDate.
func (synthDataProv *synthDataProvider) dailyPath(underlying string, toDate time.Time) []Bar {
	rng := rand.New(rand.NewSource(synthDataProv.tickerSeed(underlying)))
	price := 20.0 + float64(rng.Intn(200))

	var out []Bar
	for cur := synthEpoch; !cur.After(toDate); cur = cur.AddDate(0, 0, 1) {
		if cur.Weekday() == time.Saturday || cur.Weekday() == time.Sunday {
			continue
		}
		ret := rng.NormFloat64()*synthDataProv.dailyVol - 0.5*synthDataProv.dailyVol*synthDataProv.dailyVol
		open := price
		close := price * math.Exp(ret)
		high := math.Max(open, close) * (1 + math.Abs(rng.NormFloat64())*0.004)
		low := math.Min(open, close) * (1 - math.Abs(rng.NormFloat64())*0.004)
		out = append(out, Bar{Date: cur, Open: open, High: high, Low: low, Close: close, Vol: float64(1000 + rng.Intn(5000))})
		price = close
	}
	return out
}

func (synthDataProv *synthDataProvider) GetBars(ctx context.Context, underlying string, fromDate, toDate time.Time, timespan int, multiplier string) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	daily := synthDataProv.dailyPath(underlying, toDate)

	switch multiplier {
	case "day":
		var out []Bar
		for _, b := range daily {
			if !b.Date.Before(fromDate) {
				out = append(out, b)
			}
		}
		return out, nil
	case "minute":
		return synthDataProv.intraday(underlying, daily, fromDate, timespan), nil
	default:
		return nil, fmt.Errorf("synthetic bars with multiplier %q: %w", multiplier, ErrNotSupported)
	}
}

// intraday walks each session from open to close so that the last bar
// of the day lands on the daily close.
func (synthDataProv *synthDataProvider) intraday(underlying string, daily []Bar, fromDate time.Time, span int) []Bar {
	if span <= 0 {
		span = 5
	}
	steps := (6*60 + 30) / span

	var out []Bar
	for _, d := range daily {
		if d.Date.Before(fromDate) {
			continue
		}
		rng := rand.New(rand.NewSource(synthDataProv.tickerSeed(underlying) + uint64(d.Date.Unix())))
		open := time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), 14, 30, 0, 0, time.UTC)
		prev := d.Open
		for i := 1; i <= steps; i++ {
			frac := float64(i) / float64(steps)
			target := d.Open + (d.Close-d.Open)*frac
			noise := 1 + rng.NormFloat64()*0.001
			c := target * noise
			if i == steps {
				c = d.Close
			}
			out = append(out, Bar{
				Date:  open.Add(time.Duration(i*span) * time.Minute),
				Open:  prev,
				High:  math.Max(prev, c) * 1.0005,
				Low:   math.Min(prev, c) * 0.9995,
				Close: c,
				Vol:   float64(100 + rng.Intn(900)),
			})
			prev = c
		}
	}
	return out
}

// GetOptionChain lists weekly Friday expiries within maxDTE with strikes
// from 80% to 130% of spot.
func (synthDataProv *synthDataProvider) GetOptionChain(ctx context.Context, underlying string, asOf time.Time, maxDTE int) (*OptionChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	daily := synthDataProv.dailyPath(underlying, asOf)
	if len(daily) == 0 {
		return nil, ErrNoData
	}
	spot := daily[len(daily)-1].Close

	increment := strikeIncrement(spot)
	rng := rand.New(rand.NewSource(synthDataProv.tickerSeed(underlying) ^ uint64(asOf.Unix())))
	atmVol := synthDataProv.dailyVol * math.Sqrt(365)

	chain := &OptionChain{Underlying: underlying, AsOf: asOf, Spot: spot}
	for d := 0; d <= maxDTE; d++ {
		expiry := asOf.AddDate(0, 0, d)
		if expiry.Weekday() != time.Friday {
			continue
		}
		T := math.Max(float64(d), 1) / 365
		for k := math.Ceil(spot*0.8/increment) * increment; k <= spot*1.3; k += increment {
			m := math.Log(k / spot)
			iv := atmVol + 0.25*m*m - 0.1*m
			fair := pricing.BlackScholesPrice(true, spot, k, T, 0.04, iv)
			half := math.Max(0.01, fair*0.03)
			bid := math.Max(0, math.Round((fair-half)*100)/100)
			ask := math.Round((fair+half)*100) / 100
			chain.Quotes = append(chain.Quotes, OptionQuote{
				Symbol:          OptionSymbolFromParts(underlying, expiry, "call", k),
				Expiration:      expiry,
				Strike:          k,
				Side:            "call",
				Bid:             bid,
				Ask:             ask,
				Last:            math.Round(fair*100) / 100,
				OpenInterest:    float64(50 + rng.Intn(2000)),
				ImpliedVol:      iv,
				DTE:             d,
				UnderlyingPrice: spot,
			})
		}
	}

	if len(chain.Quotes) == 0 {
		return nil, ErrNoData
	}
	return chain, nil
}

// strikeIncrement follows the usual listed strike spacing by price tier.
func strikeIncrement(spot float64) float64 {
	switch {
	case spot < 25:
		return 0.5
	case spot < 200:
		return 1
	case spot < 500:
		return 2.5
	default:
		return 5
	}
}
