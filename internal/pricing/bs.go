package pricing

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNoConvergence is returned when the implied volatility search fails.
var ErrNoConvergence = errors.New("implied vol did not converge")

// d1 is the standardized moneyness term shared by price, delta and vega.
func d1(S, K, T, r, sigma float64) float64 {
	return (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
}

// BlackScholesPrice calculates the price of a European option using the Black-Scholes model.
//
// Parameters:
//   - isCall: true for call option, false for put option
//   - S: spot price of the underlying asset
//   - K: strike price of the option
//   - T: time to expiry in years
//   - r: risk-free interest rate (annual)
//   - sigma: volatility of the underlying asset (annual, as a decimal)
//
// Returns:
//
//	The theoretical price of the option. If time to expiry or volatility is zero or negative,
//	returns the intrinsic value of the option.
func BlackScholesPrice(
	isCall bool,
	S float64, // spot
	K float64, // strike
	T float64, // time to expiry in years
	r float64, // risk-free rate
	sigma float64, // volatility
) float64 {

	if T <= 0 || sigma <= 0 {
		if isCall {
			return math.Max(0, S-K)
		}
		return math.Max(0, K-S)
	}

	x1 := d1(S, K, T, r, sigma)
	x2 := x1 - sigma*math.Sqrt(T)

	if isCall {
		return S*distuv.UnitNormal.CDF(x1) - K*math.Exp(-r*T)*distuv.UnitNormal.CDF(x2)
	}
	return K*math.Exp(-r*T)*distuv.UnitNormal.CDF(-x2) - S*distuv.UnitNormal.CDF(-x1)
}

// BlackScholesVega calculates the vega of a European option using the Black-Scholes model.
// Vega measures the sensitivity of the option price to changes in the underlying asset's volatility.
//
// Returns 0 if T or sigma is non-positive.
func BlackScholesVega(S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	return S * distuv.UnitNormal.Prob(d1(S, K, T, r, sigma)) * math.Sqrt(T)
}

// CallDelta returns the Black-Scholes delta of a European call, N(d1).
//
// Parameters:
//   - S: spot price
//   - K: strike price
//   - T: time to expiry in years
//   - r: risk-free rate
//   - sigma: implied volatility (annual, decimal)
//
// Returns:
//
//	A value in [0, 1]. Expired options (T <= 0) return 0. With zero
//	volatility the delta is 1 when spot is above strike, else 0.
func CallDelta(S, K, T, r, sigma float64) float64 {
	if T <= 0 || S <= 0 || K <= 0 {
		return 0
	}
	if sigma <= 0 {
		if S > K {
			return 1
		}
		return 0
	}
	return distuv.UnitNormal.CDF(d1(S, K, T, r, sigma))
}

// ImpliedVol solves for the volatility that reproduces a single call price
// using Newton-Raphson, starting from 20%.
// Returns ErrNoConvergence if the price is outside no-arbitrage bounds or
// the iteration stalls.
func ImpliedVol(S, K, T, r, callPrice float64) (float64, error) {
	if T <= 0 || S <= 0 || K <= 0 {
		return 0, errors.New("invalid pricing inputs")
	}

	lower := math.Max(0, S-K*math.Exp(-r*T))
	if callPrice <= lower || callPrice >= S {
		return 0, ErrNoConvergence
	}

	sigma := 0.20

	const (
		maxIter = 100
		tol     = 1e-6
	)

	for i := 0; i < maxIter; i++ {
		diff := BlackScholesPrice(true, S, K, T, r, sigma) - callPrice
		if math.Abs(diff) < tol {
			return sigma, nil
		}

		vega := BlackScholesVega(S, K, T, r, sigma)
		if vega < 1e-8 {
			break
		}

		sigma -= diff / vega

		// Guardrails
		if sigma <= 0 {
			sigma = 1e-4
		}
		if sigma > 5 {
			sigma = 5
		}
	}

	return 0, ErrNoConvergence
}
