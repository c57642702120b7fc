// Package surface fits a raw SVI smile to one expiry's implied volatilities
// and evaluates it at arbitrary strikes.
package surface

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// MinQuotes is the smallest number of usable quotes Fit accepts.
const MinQuotes = 5

var (
	// ErrInsufficientQuotes is returned when fewer than MinQuotes are usable.
	ErrInsufficientQuotes = errors.New("insufficient quotes for surface fit")
	// ErrFit is returned when the least-squares search does not converge.
	ErrFit = errors.New("surface fit failed")
)

// Params are raw SVI parameters for total implied variance
//
//	w(k) = A + B * (Rho*(k-M) + sqrt((k-M)^2 + Sigma^2)),  k = ln(K/S)
type Params struct {
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	Rho   float64 `json:"rho"`
	M     float64 `json:"m"`
	Sigma float64 `json:"sigma"`
}

// TotalVariance evaluates w at log-moneyness k.
func (p Params) TotalVariance(k float64) float64 {
	d := k - p.M
	return p.A + p.B*(p.Rho*d+math.Sqrt(d*d+p.Sigma*p.Sigma))
}

// box bounds in parameter order a, b, rho, m, sigma.
var (
	lower = [5]float64{0, 0, -0.99, -5, 0.001}
	upper = [5]float64{2, 2, 0.99, 5, 2}
	guess = [5]float64{0.04, 0.1, -0.5, 0, 0.1}
)

// toBox maps an unconstrained coordinate into [lo, hi].
func toBox(u, lo, hi float64) float64 {
	return lo + (hi-lo)/(1+math.Exp(-u))
}

// fromBox is the inverse of toBox for interior points.
func fromBox(x, lo, hi float64) float64 {
	f := (x - lo) / (hi - lo)
	return math.Log(f / (1 - f))
}

func decode(u []float64) Params {
	return Params{
		A:     toBox(u[0], lower[0], upper[0]),
		B:     toBox(u[1], lower[1], upper[1]),
		Rho:   toBox(u[2], lower[2], upper[2]),
		M:     toBox(u[3], lower[3], upper[3]),
		Sigma: toBox(u[4], lower[4], upper[4]),
	}
}

// Fit fits SVI to (strike, iv) pairs for a single expiry of years to expiry.
// Quotes with non-finite or non-positive strike or iv are ignored. The
// residuals w_model - iv^2*T are weighted by the soft-L1 loss 2(sqrt(1+r^2)-1).
func Fit(strikes, ivs []float64, years, spot float64) (*Params, error) {
	if len(strikes) != len(ivs) {
		return nil, fmt.Errorf("strikes (%d) and ivs (%d) differ in length", len(strikes), len(ivs))
	}
	if !(years > 0) || !(spot > 0) {
		return nil, fmt.Errorf("%w: years=%v spot=%v", ErrInsufficientQuotes, years, spot)
	}

	var ks, ws []float64
	for i := range strikes {
		k, iv := strikes[i], ivs[i]
		if !(k > 0) || !(iv > 0) || math.IsInf(k, 0) || math.IsInf(iv, 0) {
			continue
		}
		ks = append(ks, math.Log(k/spot))
		ws = append(ws, iv*iv*years)
	}
	if len(ks) < MinQuotes {
		return nil, fmt.Errorf("%w: %d usable", ErrInsufficientQuotes, len(ks))
	}

	cost := func(u []float64) float64 {
		p := decode(u)
		var c float64
		for i, k := range ks {
			r := p.TotalVariance(k) - ws[i]
			c += 2 * (math.Sqrt(1+r*r) - 1)
		}
		return 0.5 * c
	}

	u0 := make([]float64, 5)
	for i := range u0 {
		u0[i] = fromBox(guess[i], lower[i], upper[i])
	}

	res, err := optimize.Minimize(
		optimize.Problem{Func: cost},
		u0,
		&optimize.Settings{
			Converger:       &optimize.FunctionConverge{Absolute: 1e-14, Relative: 1e-10, Iterations: 300},
			FuncEvaluations: 50000,
		},
		&optimize.NelderMead{SimplexSize: 0.5},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFit, err)
	}
	if res.Status.Early() || math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return nil, fmt.Errorf("%w: optimizer status %v", ErrFit, res.Status)
	}

	p := decode(res.X)
	return &p, nil
}

// Query returns the implied volatility sqrt(w/T) at strike, or 0 when the
// total variance is negative or the expiry is not in the future.
func Query(strike, years, spot float64, p Params) float64 {
	if !(years > 0) || !(strike > 0) || !(spot > 0) {
		return 0
	}
	w := p.TotalVariance(math.Log(strike / spot))
	if w < 0 {
		return 0
	}
	return math.Sqrt(w / years)
}
