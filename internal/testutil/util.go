// Package testutil holds golden-file helpers and seeded market fixtures
// shared by package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"flag"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/exp/rand"

	"github.com/contactkeval/covered-call/internal/data"
)

var Update = flag.Bool(
	"update",
	false,
	"update golden files",
)

//
// --- Golden file helpers ---
//

func writeGolden(t *testing.T, name string, b []byte) {
	t.Helper()
	path := filepath.Join("testdata", name+".golden")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create testdata dir: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("failed to write golden file: %v", err)
	}
}

func loadGolden(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name+".golden")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read golden file: %v", err)
	}
	return b
}

// CompareWithGolden marshals v as indented JSON and compares it with testdata/<name>.golden.
func CompareWithGolden(t *testing.T, name string, v any) {
	t.Helper()

	actual, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal actual JSON: %v", err)
	}
	CompareBytesWithGolden(t, name, actual)
}

// CompareBytesWithGolden compares raw output with testdata/<name>.golden.
func CompareBytesWithGolden(t *testing.T, name string, actual []byte) {
	t.Helper()

	if *Update {
		writeGolden(t, name, actual)
		return
	}

	expected := loadGolden(t, name)

	if !bytes.Equal(expected, actual) {
		t.Fatalf("golden mismatch for %s\nexpected:\n%s\nactual:\n%s",
			name, string(expected), string(actual))
	}
}

//
// --- Market fixtures ---
//

// NormalReturns draws n i.i.d. normal log-returns with the given daily volatility.
func NormalReturns(n int, dailyVol float64, seed uint64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64() * dailyVol
	}
	return out
}

// RandomWalkBars builds n+1 consecutive daily bars whose closes follow
// exp-cumulated NormalReturns from start.
func RandomWalkBars(n int, start, dailyVol float64, seed uint64) []data.Bar {
	returns := NormalReturns(n, dailyVol, seed)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	bars := make([]data.Bar, 0, n+1)
	price := start
	bars = append(bars, data.Bar{Date: day, Open: price, High: price, Low: price, Close: price, Vol: 1000})
	for i, r := range returns {
		next := price * math.Exp(r)
		bars = append(bars, data.Bar{
			Date:  day.AddDate(0, 0, i+1),
			Open:  price,
			High:  math.Max(price, next) * 1.002,
			Low:   math.Min(price, next) * 0.998,
			Close: next,
			Vol:   1000,
		})
		price = next
	}
	return bars
}
