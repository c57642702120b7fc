package pricing

import (
	"math"
	"testing"
)

func TestBlackScholesPutCallParity(t *testing.T) {
	S, K, T, r, sigma := 100.0, 105.0, 0.25, 0.04, 0.3

	call := BlackScholesPrice(true, S, K, T, r, sigma)
	put := BlackScholesPrice(false, S, K, T, r, sigma)

	parity := S - K*math.Exp(-r*T)
	if math.Abs((call-put)-parity) > 1e-9 {
		t.Fatalf("parity violated: call-put=%f want %f", call-put, parity)
	}
}

func TestBlackScholesIntrinsicFallback(t *testing.T) {
	if got := BlackScholesPrice(true, 110, 100, 0, 0.04, 0.3); got != 10 {
		t.Fatalf("expired call = %f, want 10", got)
	}
	if got := BlackScholesPrice(false, 90, 100, 0.5, 0.04, 0); got != 10 {
		t.Fatalf("zero-vol put = %f, want 10", got)
	}
}

func TestCallDeltaBounds(t *testing.T) {
	tests := []struct {
		name  string
		S, K  float64
		T     float64
		sigma float64
	}{
		{"deep itm", 200, 100, 0.1, 0.3},
		{"atm", 100, 100, 0.1, 0.3},
		{"deep otm", 100, 300, 0.1, 0.3},
		{"zero vol otm", 100, 110, 0.1, 0},
		{"expired", 100, 90, 0, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CallDelta(tt.S, tt.K, tt.T, 0.04, tt.sigma)
			if d < 0 || d > 1 || math.IsNaN(d) {
				t.Fatalf("delta %f out of [0,1]", d)
			}
		})
	}
}

func TestCallDeltaNonIncreasingInStrike(t *testing.T) {
	prev := 1.0
	for K := 60.0; K <= 160; K += 2.5 {
		d := CallDelta(100, K, 30.0/365, 0.04, 0.45)
		if d > prev+1e-12 {
			t.Fatalf("delta rose from %f to %f at strike %f", prev, d, K)
		}
		prev = d
	}
}

func TestCallDeltaZeroVolStep(t *testing.T) {
	tests := []struct {
		name string
		S, K float64
		T    float64
		want float64
	}{
		{"strike just above spot", 100, 101, 1, 0},
		{"strike below spot", 100, 99, 1, 1},
		{"at the money", 100, 100, 0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := CallDelta(tt.S, tt.K, tt.T, 0.04, 0); d != tt.want {
				t.Fatalf("delta = %f, want %f", d, tt.want)
			}
		})
	}
}

func TestCallDeltaExpired(t *testing.T) {
	if d := CallDelta(100, 90, 0, 0.04, 0.3); d != 0 {
		t.Fatalf("expired delta = %f, want 0", d)
	}
}

func TestImpliedVolRoundTrip(t *testing.T) {
	S, K, T, r := 100.0, 110.0, 30.0/365, 0.04
	for _, sigma := range []float64{0.15, 0.4, 0.9} {
		price := BlackScholesPrice(true, S, K, T, r, sigma)
		got, err := ImpliedVol(S, K, T, r, price)
		if err != nil {
			t.Fatalf("sigma %f: %v", sigma, err)
		}
		if math.Abs(got-sigma) > 1e-4 {
			t.Fatalf("implied vol = %f, want %f", got, sigma)
		}
	}
}

func TestImpliedVolRejectsArbitragePrice(t *testing.T) {
	if _, err := ImpliedVol(100, 90, 0.1, 0.04, 5); err == nil {
		t.Fatal("expected error for price below intrinsic")
	}
}

func TestCallDeltaNonDecreasingInSpot(t *testing.T) {
	prev := 0.0
	for S := 50.0; S <= 200; S += 5 {
		d := CallDelta(S, 100, 14.0/365, 0.04, 0.6)
		if d+1e-12 < prev {
			t.Fatalf("delta fell from %f to %f at spot %f", prev, d, S)
		}
		prev = d
	}
}
