package surface

import (
	"errors"
	"math"
	"testing"
)

func TestFitRecoversSmile(t *testing.T) {
	truth := Params{A: 0.002, B: 0.05, Rho: -0.4, M: 0.02, Sigma: 0.15}
	spot, years := 100.0, 21.0/365

	var strikes, ivs []float64
	for k := 80.0; k <= 130; k += 2.5 {
		strikes = append(strikes, k)
		ivs = append(ivs, Query(k, years, spot, truth))
	}

	p, err := Fit(strikes, ivs, years, spot)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	for i, k := range strikes {
		got := Query(k, years, spot, *p)
		if math.Abs(got-ivs[i]) > 0.02 {
			t.Fatalf("strike %.1f: iv %.4f, want %.4f (params %+v)", k, got, ivs[i], p)
		}
	}

	if p.Rho < -0.99 || p.Rho > 0.99 || p.Sigma < 0.001 || p.A < 0 || p.B < 0 {
		t.Fatalf("params outside bounds: %+v", p)
	}
}

func TestFitInsufficientQuotes(t *testing.T) {
	strikes := []float64{95, 100, 105, 110, 115}
	ivs := []float64{0.5, 0.45, math.NaN(), 0.42, 0}

	_, err := Fit(strikes, ivs, 0.1, 100)
	if !errors.Is(err, ErrInsufficientQuotes) {
		t.Fatalf("expected ErrInsufficientQuotes, got %v", err)
	}
}

func TestQueryEdges(t *testing.T) {
	p := Params{A: -0.5, B: 0.01, Rho: 0, M: 0, Sigma: 0.1}
	if iv := Query(100, 0.1, 100, p); iv != 0 {
		t.Fatalf("negative variance should give 0, got %f", iv)
	}

	p = Params{A: 0.01, B: 0.1, Rho: -0.3, M: 0, Sigma: 0.1}
	if iv := Query(100, 0, 100, p); iv != 0 {
		t.Fatalf("zero expiry should give 0, got %f", iv)
	}

	w := p.TotalVariance(0)
	want := math.Sqrt(w / 0.25)
	if iv := Query(100, 0.25, 100, p); math.Abs(iv-want) > 1e-12 {
		t.Fatalf("atm iv = %f, want %f", iv, want)
	}
}
