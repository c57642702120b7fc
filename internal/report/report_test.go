package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/contactkeval/covered-call/internal/analysis"
	"github.com/contactkeval/covered-call/internal/backtest"
	"github.com/contactkeval/covered-call/internal/optimizer"
	"github.com/contactkeval/covered-call/internal/testutil"
)

func sampleRecommendations() []optimizer.Recommendation {
	return []optimizer.Recommendation{
		{
			Strike: 110, Expiration: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), DTE: 7, Side: "call",
			Bid: 1.0, Ask: 1.05, EffectivePrice: 1.025, NetPremium: 101.85, OpenInterest: 500,
			POTM: 0.912345, PLCB: 0.90123, PTouch: 0.2, ImpliedVol: 0.5, IVSource: "market",
			Delta: 0.0917, Resistance: 112, ResistanceLabel: "20d_high", Yield: 0.53, Score: 0.4183,
		},
		{
			Strike: 112.5, Expiration: time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), DTE: 14, Side: "call",
			Bid: 2.1, Ask: 2.3, EffectivePrice: 2.14, NetPremium: 213.35, OpenInterest: 1200,
			POTM: 0.85, PLCB: 0.83, PTouch: 0.35, ImpliedVol: 0.47123, IVSource: "surface",
			Delta: 0.21, Resistance: 115, ResistanceLabel: "50d_high", Yield: 0.4952, Score: 0.25,
		},
	}
}

func TestEncodeCSVGolden(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, sampleRecommendations()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	testutil.CompareBytesWithGolden(t, "recommendations_csv", buf.Bytes())
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	res := &analysis.Result{RunID: "run-1", Ticker: "aapl", Spot: 100, Recommendations: sampleRecommendations()}

	if err := WriteJSON(res, dir); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := WriteCSV(res.Ticker, res.Recommendations, dir); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "AAPL_recommendations.json"))
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var back analysis.Result
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if back.RunID != "run-1" || len(back.Recommendations) != 2 || back.Recommendations[1].Strike != 112.5 {
		t.Fatalf("unexpected json content %+v", back)
	}

	csvBytes, err := os.ReadFile(filepath.Join(dir, "AAPL_recommendations.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if lines := strings.Count(string(csvBytes), "\n"); lines != 3 {
		t.Fatalf("csv lines = %d, want 3", lines)
	}
}

func TestPrintRecommendationsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintRecommendations(&buf, &analysis.Result{Ticker: "X", Spot: 10}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "no strike passed") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestCalibrationOutputs(t *testing.T) {
	res := &backtest.Result{
		Ticker: "gme", Horizon: 7, Windows: 40, Skipped: 2, HistVol: 0.8,
		Rows: []backtest.Calibration{
			{Target: 0.6, Hits: 20, Total: 38, Realized: 20.0 / 38, Brier: 0.25, Status: backtest.StatusRisky},
			{Target: 0.8, Hits: 33, Total: 38, Realized: 33.0 / 38, Brier: 0.12, Status: backtest.StatusSafe},
		},
	}

	var buf bytes.Buffer
	if err := PrintCalibration(&buf, res); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"windows=40", "60%", "RISKY", "SAFE"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}

	dir := t.TempDir()
	if err := WriteCalibrationCSV(res, dir); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "GME_calibration.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(b), "target,hits,total,realized,brier,status\n0.6000,20,38,0.5263,0.2500,RISKY\n") {
		t.Fatalf("unexpected csv:\n%s", b)
	}
}
