// Package volatility fits a GJR-GARCH(1,1,1) model with Student-t innovations
// to daily log-returns and simulates forward price paths from it.
//
// Returns are scaled by 100 (percent) for numerical stability; every
// parameter and variance held by Model is in those scaled units.
package volatility

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	// Scale converts log-returns to percent returns for fitting.
	Scale = 100.0

	// MinObservations is the smallest series Fit accepts.
	MinObservations = 50

	nuMin = 2.05
	nuMax = 200.0

	penalty = 1e10
)

var (
	// ErrFit is returned when the likelihood optimizer does not converge
	// or the series is too short to fit.
	ErrFit = errors.New("volatility fit failed")

	// ErrDegenerateInput is returned for simulation requests that cannot
	// produce a path matrix.
	ErrDegenerateInput = errors.New("degenerate simulation input")
)

// Model is a fitted GJR-GARCH(1,1,1) with constant mean and standardized
// Student-t innovations:
//
//	r_t = Mu + eps_t
//	h_t = Omega + (Alpha + Gamma*1{eps_{t-1}<0}) * eps_{t-1}^2 + Beta * h_{t-1}
type Model struct {
	Mu    float64
	Omega float64
	Alpha float64
	Gamma float64
	Beta  float64
	Nu    float64

	// LastVariance is the conditional variance of the final observation.
	LastVariance  float64
	LogLikelihood float64
	NumObs        int
}

// Persistence is Alpha + Gamma/2 + Beta; values >= 1 are non-stationary.
func (m *Model) Persistence() float64 {
	return m.Alpha + 0.5*m.Gamma + m.Beta
}

// Stationary reports whether the variance process mean-reverts.
func (m *Model) Stationary() bool {
	return m.Persistence() < 1
}

// LastVol is the final conditional daily volatility in unscaled return units.
func (m *Model) LastVol() float64 {
	return math.Sqrt(m.LastVariance) / Scale
}

func (m *Model) String() string {
	return fmt.Sprintf("mu=%.4f omega=%.4f alpha=%.4f gamma=%.4f beta=%.4f nu=%.2f persistence=%.4f",
		m.Mu, m.Omega, m.Alpha, m.Gamma, m.Beta, m.Nu, m.Persistence())
}

// params is the unconstrained optimizer vector:
// [mu, log(omega), logit(alpha), logit(gamma), logit(beta), logit((nu-nuMin)/(nuMax-nuMin))].
type params [6]float64

func logistic(u float64) float64 { return 1 / (1 + math.Exp(-u)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func (p params) model() Model {
	return Model{
		Mu:    p[0],
		Omega: math.Exp(p[1]),
		Alpha: logistic(p[2]),
		Gamma: logistic(p[3]),
		Beta:  logistic(p[4]),
		Nu:    nuMin + (nuMax-nuMin)*logistic(p[5]),
	}
}

func encode(m Model) []float64 {
	return []float64{
		m.Mu,
		math.Log(m.Omega),
		logit(m.Alpha),
		logit(m.Gamma),
		logit(m.Beta),
		logit((m.Nu - nuMin) / (nuMax - nuMin)),
	}
}

// filter runs the variance recursion and returns the log-likelihood and the
// final conditional variance. ok is false when the recursion leaves the
// admissible region.
func filter(m Model, r []float64, backcast float64) (ll, last float64, ok bool) {
	nu := m.Nu
	lg1, _ := math.Lgamma((nu + 1) / 2)
	lg2, _ := math.Lgamma(nu / 2)
	c := lg1 - lg2 - 0.5*math.Log(math.Pi*(nu-2))

	h := backcast
	for t, x := range r {
		if t > 0 {
			e := r[t-1] - m.Mu
			a := m.Alpha
			if e < 0 {
				a += m.Gamma
			}
			h = m.Omega + a*e*e + m.Beta*h
		}
		if !(h > 0) || math.IsInf(h, 0) {
			return 0, 0, false
		}
		e := x - m.Mu
		ll += c - 0.5*math.Log(h) - 0.5*(nu+1)*math.Log1p(e*e/(h*(nu-2)))
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return 0, 0, false
	}
	return ll, h, true
}

// Fit estimates the model by maximum likelihood on returns scaled by 100.
// The recursion is started from the sample variance. Fit does not enforce
// stationarity; callers can inspect Model.Stationary.
func Fit(series ReturnSeries) (*Model, error) {
	n := series.Len()
	if n < MinObservations {
		return nil, fmt.Errorf("%w: %d observations, need %d", ErrFit, n, MinObservations)
	}

	r := series.Values()
	for i := range r {
		r[i] *= Scale
	}

	mean, std := stat.MeanStdDev(r, nil)
	backcast := std * std
	if !(backcast > 0) {
		return nil, fmt.Errorf("%w: zero sample variance", ErrFit)
	}

	start := Model{
		Mu:    mean,
		Alpha: 0.05,
		Gamma: 0.05,
		Beta:  0.85,
		Nu:    8,
	}
	start.Omega = backcast * (1 - start.Alpha - 0.5*start.Gamma - start.Beta)

	objective := func(x []float64) float64 {
		var p params
		copy(p[:], x)
		ll, _, ok := filter(p.model(), r, backcast)
		if !ok {
			return penalty
		}
		return -ll
	}

	x := encode(start)
	// Two passes: the second restarts the simplex around the first optimum.
	for pass := 0; pass < 2; pass++ {
		res, err := optimize.Minimize(
			optimize.Problem{Func: objective},
			x,
			&optimize.Settings{
				Converger:       &optimize.FunctionConverge{Absolute: 1e-8, Relative: 1e-10, Iterations: 200},
				FuncEvaluations: 40000,
			},
			&optimize.NelderMead{SimplexSize: 0.5},
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFit, err)
		}
		if res.Status.Early() || math.IsNaN(res.F) || res.F >= penalty {
			return nil, fmt.Errorf("%w: optimizer status %v", ErrFit, res.Status)
		}
		x = res.X
	}

	var p params
	copy(p[:], x)
	m := p.model()

	ll, last, ok := filter(m, r, backcast)
	if !ok {
		return nil, fmt.Errorf("%w: fitted parameters leave admissible region", ErrFit)
	}
	m.LogLikelihood = ll
	m.LastVariance = last
	m.NumObs = n

	return &m, nil
}
