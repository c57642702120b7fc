package resistance

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/contactkeval/covered-call/internal/data"
)

func TestClusterMergesNearbyLevels(t *testing.T) {
	levels := []Level{
		{Level: 110, Label: "20d_high", Strength: 1.0},
		{Level: 110.4, Label: "SMA_20", Strength: 0.8}, // within 0.5% of 110
		{Level: 118, Label: "50d_high", Strength: 1.0},
		{Level: 125, Label: "100d_high", Strength: 1.0},
		{Level: 131, Label: "SMA_50", Strength: 0.8},
	}

	got := Cluster(levels, 0.01)
	if len(got) != 4 {
		t.Fatalf("expected 4 zones, got %d: %+v", len(got), got)
	}

	merged := got[0]
	wantLevel := (110*1.0 + 110.4*0.8) / 1.8
	if math.Abs(merged.Level-wantLevel) > 1e-9 {
		t.Fatalf("merged level = %f, want %f", merged.Level, wantLevel)
	}
	if math.Abs(merged.Strength-1.8) > 1e-12 || merged.Label != "20d_high+SMA_20" {
		t.Fatalf("unexpected merged zone %+v", merged)
	}
	if got[1].Level != 118 || got[1].Label != "50d_high" {
		t.Fatalf("far level should stay separate, got %+v", got[1])
	}

	for i := 1; i < len(got); i++ {
		if got[i].Level <= got[i-1].Level {
			t.Fatalf("zones not ascending: %+v", got)
		}
	}
}

func TestClusterIdempotent(t *testing.T) {
	levels := []Level{
		{Level: 100, Label: "a", Strength: 1},
		{Level: 100.9, Label: "b", Strength: 0.8},
		{Level: 101.8, Label: "c", Strength: 0.6}, // chains onto b
		{Level: 104, Label: "d", Strength: 1},
		{Level: 104.5, Label: "e", Strength: 0.5},
	}

	once := Cluster(levels, 0.01)
	twice := Cluster(once, 0.01)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("re-clustering changed result:\n%+v\n%+v", once, twice)
	}
	if len(once) != 2 {
		t.Fatalf("expected 2 zones, got %+v", once)
	}
}

func TestClusterDoesNotMutateInput(t *testing.T) {
	levels := []Level{{Level: 120, Label: "x", Strength: 1}, {Level: 100, Label: "y", Strength: 1}}
	_ = Cluster(levels, 0.01)
	if levels[0].Level != 120 {
		t.Fatal("input slice was reordered")
	}
}

func flatBars(n int, price float64) []data.Bar {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]data.Bar, n)
	for i := range out {
		out[i] = data.Bar{Date: day.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Vol: 100}
	}
	return out
}

func TestDetectPsychologicalFallback(t *testing.T) {
	// five bars are shorter than every window
	levels := Detect(flatBars(5, 100), nil, 101, 0.01)
	if len(levels) != 1 {
		t.Fatalf("expected one level, got %+v", levels)
	}
	if levels[0].Level != 110 || levels[0].Strength != StrengthPsychological || levels[0].Label != "psychological" {
		t.Fatalf("unexpected fallback %+v", levels[0])
	}

	if l := Psychological(120); l.Level != 130 {
		t.Fatalf("round price must move up, got %f", l.Level)
	}
}

func TestDetectFindsHighsAboveSpot(t *testing.T) {
	bars := flatBars(250, 100)
	bars[240].High = 115 // inside every high window
	bars[160].High = 120 // only in the 100-bar window

	levels := Detect(bars, nil, 105, 0.01)
	if len(levels) != 2 {
		t.Fatalf("expected 2 zones, got %+v", levels)
	}
	if levels[0].Level != 115 || levels[0].Strength != 2.0 || levels[0].Label != "20d_high+50d_high" {
		t.Fatalf("20d and 50d highs should stack at 115: %+v", levels[0])
	}
	if levels[1].Level != 120 || levels[1].Label != "100d_high" {
		t.Fatalf("100d high should stand alone at 120: %+v", levels[1])
	}
}

func TestSessionVWAPUsesLastSession(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	intraday := []data.Bar{
		{Date: d1, High: 500, Low: 500, Close: 500, Vol: 1e6},
		{Date: d2, High: 100, Low: 100, Close: 100, Vol: 100},
		{Date: d2.Add(5 * time.Minute), High: 110, Low: 110, Close: 110, Vol: 300},
	}
	vwap, ok := SessionVWAP(intraday)
	if !ok || math.Abs(vwap-107.5) > 1e-9 {
		t.Fatalf("vwap = %f ok=%v, want 107.5", vwap, ok)
	}

	if _, ok := SessionVWAP([]data.Bar{{Date: d1, Vol: 0}}); ok {
		t.Fatal("zero volume should not produce a vwap")
	}
}

func TestNearestAbove(t *testing.T) {
	levels := []Level{{Level: 95}, {Level: 112}, {Level: 108}}
	if got := NearestAbove(levels, 100); got.Level != 108 {
		t.Fatalf("nearest = %f", got.Level)
	}
	fb := NearestAbove(levels, 200)
	if math.Abs(fb.Level-220) > 1e-9 || fb.Strength != 1 {
		t.Fatalf("fallback = %+v", fb)
	}
}
