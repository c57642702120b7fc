// Package montecarlo turns simulated price paths into the probabilities the
// strike optimizer gates on: finishing out of the money, its standard
// error, and touching the strike at any time before expiry.
package montecarlo

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DaysPerYear annualizes daily volatility for the bridge correction.
const DaysPerYear = 365

// ErrDegenerateInput is returned for empty matrices or non-positive strikes.
var ErrDegenerateInput = errors.New("degenerate probability input")

// Paths is the read view of a simulated price matrix. *mat.Dense satisfies it.
type Paths interface {
	Dims() (r, c int)
	RawRowView(i int) []float64
}

// Estimate is the probability summary for one strike.
type Estimate struct {
	POTM   float64 // P(S_T <= K)
	SEOTM  float64 // binomial standard error of POTM
	PTouch float64 // P(max_t S_t >= K), bridge-corrected
}

// LCB is the one-sided lower confidence bound POTM - z*SEOTM.
func (e Estimate) LCB(z float64) float64 {
	return LowerBound(e.POTM, e.SEOTM, z)
}

// Probabilities estimates terminal and touch probabilities for strike.
//
// Paths whose sampled maximum reaches the strike count as touched; the rest
// contribute the Brownian-bridge probability of crossing between samples,
// using dailyVol annualized over yearsToExpiry.
func Probabilities(paths Paths, strike, yearsToExpiry, dailyVol float64) (Estimate, error) {
	n, cols := paths.Dims()
	if n == 0 || cols == 0 {
		return Estimate{}, fmt.Errorf("%w: empty path matrix", ErrDegenerateInput)
	}
	if !(strike > 0) || math.IsInf(strike, 0) {
		return Estimate{}, fmt.Errorf("%w: strike %v", ErrDegenerateInput, strike)
	}

	sigmaAnnual := dailyVol * math.Sqrt(DaysPerYear)

	var otm, touch float64
	for i := 0; i < n; i++ {
		row := paths.RawRowView(i)
		s0, sT := row[0], row[cols-1]

		if sT <= strike {
			otm++
		}

		hit := false
		for _, s := range row {
			if s >= strike {
				hit = true
				break
			}
		}
		if hit {
			touch++
			continue
		}
		touch += BridgeTouch(s0, sT, strike, sigmaAnnual, yearsToExpiry)
	}

	p := otm / float64(n)
	return Estimate{
		POTM:   p,
		SEOTM:  StandardError(p, n),
		PTouch: touch / float64(n),
	}, nil
}

// BridgeTouch is the probability that a Brownian bridge in log-price from
// start to end crosses barrier over a horizon of years:
//
//	exp(-2 (ln B - ln S0)(ln B - ln ST) / (sigma^2 T))
//
// It is 1 when either endpoint is at or above the barrier and 0 when the
// diffusion has no width.
func BridgeTouch(start, end, barrier, sigmaAnnual, years float64) float64 {
	if start >= barrier || end >= barrier {
		return 1
	}
	if sigmaAnnual < 1e-9 || years <= 0 {
		return 0
	}
	lb := math.Log(barrier)
	num := -2 * (lb - math.Log(start)) * (lb - math.Log(end))
	p := math.Exp(num / (sigmaAnnual * sigmaAnnual * years))
	return math.Min(1, math.Max(0, p))
}

// StandardError is sqrt(p(1-p)/n).
func StandardError(p float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Sqrt(p * (1 - p) / float64(n))
}

// ZScore is the standard normal quantile at 1-alpha.
func ZScore(alpha float64) float64 {
	return distuv.UnitNormal.Quantile(1 - alpha)
}

// LowerBound is p - z*se.
func LowerBound(p, se, z float64) float64 {
	return p - z*se
}
