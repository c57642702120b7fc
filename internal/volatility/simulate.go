package volatility

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimOptions controls randomness and parallelism of Simulate.
type SimOptions struct {
	// Seed is the root of every per-path random source. Identical seeds
	// produce identical matrices regardless of Workers.
	Seed uint64
	// Workers is the number of goroutines splitting the paths; <= 1 runs inline.
	Workers int
}

// PriceMatrix holds simulated prices: one row per path, column 0 is the
// starting spot and column j is the close after j trading days.
type PriceMatrix struct {
	*mat.Dense

	// TerminalVol is the mean final conditional daily volatility across
	// paths, in unscaled return units.
	TerminalVol float64
}

// Horizon is the number of simulated steps per path.
func (pm *PriceMatrix) Horizon() int {
	_, c := pm.Dims()
	return c - 1
}

// Terminal returns a copy of the last column.
func (pm *PriceMatrix) Terminal() []float64 {
	r, c := pm.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = pm.At(i, c-1)
	}
	return out
}

// pathSeed derives an independent stream seed for one path (splitmix64).
func pathSeed(seed uint64, path int) uint64 {
	z := seed + uint64(path+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Simulate draws nPaths price paths of horizonDays steps from the fitted model:
//
//	h_0     = LastVariance
//	eps_t   = z_t * sqrt(h_t),  z_t ~ Student-t(nu) scaled to unit variance
//	h_{t+1} = Omega + (Alpha + Gamma*1{eps_t<0}) * eps_t^2 + Beta * h_t
//
// Log-returns are eps_t / 100 and prices are spot * exp(cumulative return).
func Simulate(m *Model, horizonDays, nPaths int, currentPrice float64, opts SimOptions) (*PriceMatrix, error) {
	switch {
	case m == nil:
		return nil, fmt.Errorf("%w: nil model", ErrDegenerateInput)
	case horizonDays < 1:
		return nil, fmt.Errorf("%w: horizon %d", ErrDegenerateInput, horizonDays)
	case nPaths < 1:
		return nil, fmt.Errorf("%w: %d paths", ErrDegenerateInput, nPaths)
	case !(currentPrice > 0) || math.IsInf(currentPrice, 0):
		return nil, fmt.Errorf("%w: spot %v", ErrDegenerateInput, currentPrice)
	case !(m.Nu > 2) || !(m.LastVariance > 0):
		return nil, fmt.Errorf("%w: model %s", ErrDegenerateInput, m)
	}

	cols := horizonDays + 1
	data := make([]float64, nPaths*cols)
	termVol := make([]float64, nPaths)
	scale := math.Sqrt((m.Nu - 2) / m.Nu)

	runPaths := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			src := rand.NewSource(pathSeed(opts.Seed, i))
			z := distuv.StudentsT{Mu: 0, Sigma: scale, Nu: m.Nu, Src: src}

			row := data[i*cols : (i+1)*cols]
			row[0] = currentPrice

			h := m.LastVariance
			logPrice := math.Log(currentPrice)
			for t := 1; t < cols; t++ {
				eps := z.Rand() * math.Sqrt(h)
				logPrice += eps / Scale
				row[t] = math.Exp(logPrice)

				a := m.Alpha
				if eps < 0 {
					a += m.Gamma
				}
				h = m.Omega + a*eps*eps + m.Beta*h
			}
			termVol[i] = math.Sqrt(h) / Scale
		}
	}

	workers := opts.Workers
	if workers > nPaths {
		workers = nPaths
	}
	if workers <= 1 {
		runPaths(0, nPaths)
	} else {
		var wg sync.WaitGroup
		chunk := (nPaths + workers - 1) / workers
		for lo := 0; lo < nPaths; lo += chunk {
			hi := lo + chunk
			if hi > nPaths {
				hi = nPaths
			}
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				runPaths(lo, hi)
			}(lo, hi)
		}
		wg.Wait()
	}

	return &PriceMatrix{
		Dense:       mat.NewDense(nPaths, cols, data),
		TerminalVol: floats.Sum(termVol) / float64(nPaths),
	}, nil
}
