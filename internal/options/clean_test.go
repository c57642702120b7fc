package options

import (
	"math"
	"reflect"
	"testing"

	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/pricing"
)

func TestCleanKeepsOnlyTradableRows(t *testing.T) {
	raw := []data.OptionQuote{
		{Strike: 100, Bid: 0, Ask: 0, Last: 0, OpenInterest: 100},
		{Strike: 105, Bid: 1.0, Ask: 1.1, OpenInterest: 100},
		{Strike: 110, Bid: 1.2, Ask: 1.0, OpenInterest: 100},
	}

	got := Clean(raw, 10, 0.05)
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(got), got)
	}
	if got[0].Strike != 105 || math.Abs(got[0].Mid-1.05) > 1e-12 {
		t.Fatalf("unexpected row %+v", got[0])
	}
	if math.Abs(got[0].Spread-0.1) > 1e-12 || math.Abs(got[0].RelSpread-0.1/1.05) > 1e-12 {
		t.Fatalf("spread fields wrong: %+v", got[0])
	}

	if raw[1].Mid != 0 {
		t.Fatal("raw quotes must not be modified")
	}
}

func TestCleanLastPriceFallback(t *testing.T) {
	raw := []data.OptionQuote{{Strike: 50, Bid: math.NaN(), Ask: 0, Last: 0.8, OpenInterest: 20}}
	got := Clean(raw, 10, 0.05)
	if len(got) != 1 || got[0].Bid != 0.8 || got[0].Ask != 0.8 || got[0].Mid != 0.8 || got[0].RelSpread != 0 {
		t.Fatalf("fallback not applied: %+v", got)
	}
}

func TestCleanFilters(t *testing.T) {
	tests := []struct {
		name string
		q    data.OptionQuote
	}{
		{"low oi", data.OptionQuote{Bid: 1, Ask: 1.1, OpenInterest: 5}},
		{"penny mid", data.OptionQuote{Bid: 0.01, Ask: 0.02, OpenInterest: 500}},
		{"no bid", data.OptionQuote{Bid: 0, Ask: 0.5, OpenInterest: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean([]data.OptionQuote{tt.q}, 10, 0.05); len(got) != 0 {
				t.Fatalf("expected rejection, got %+v", got)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	raw := []data.OptionQuote{
		{Strike: 95, Bid: 6.0, Ask: 6.4, OpenInterest: 300, ImpliedVol: 0.5},
		{Strike: 100, Bid: 0, Ask: 0, Last: 2.5, OpenInterest: 90},
		{Strike: 105, Bid: 1.0, Ask: 1.1, OpenInterest: 100, ImpliedVol: math.NaN()},
		{Strike: 110, Bid: 1.2, Ask: 1.0, OpenInterest: 100},
		{Strike: 115, Bid: 0.02, Ask: 0.03, OpenInterest: 1000},
		{Strike: 120, Bid: 0.3, Ask: 0.35, OpenInterest: 2},
	}

	once := Clean(raw, 10, 0.05)
	twice := Clean(once, 10, 0.05)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("clean not idempotent:\n%+v\n%+v", once, twice)
	}
	if len(once) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(once))
	}
}

func TestFillImpliedVol(t *testing.T) {
	spot, r := 100.0, 0.04
	price := pricing.BlackScholesPrice(true, spot, 110, 14.0/365, r, 0.6)

	quotes := []data.OptionQuote{
		{Strike: 110, Side: "call", Mid: price, DTE: 14},
		{Strike: 120, Side: "call", Mid: 0, DTE: 14},
		{Strike: 105, Side: "call", Mid: 1, DTE: 14, ImpliedVol: 0.7},
	}
	got := FillImpliedVol(quotes, spot, r, 0.5)

	if math.Abs(got[0].ImpliedVol-0.6) > 1e-3 {
		t.Fatalf("backed-out iv = %f, want 0.6", got[0].ImpliedVol)
	}
	if got[1].ImpliedVol != 0.5 {
		t.Fatalf("fallback iv = %f", got[1].ImpliedVol)
	}
	if got[2].ImpliedVol != 0.7 {
		t.Fatal("existing iv overwritten")
	}
	if quotes[0].ImpliedVol != 0 {
		t.Fatal("input mutated")
	}
}
