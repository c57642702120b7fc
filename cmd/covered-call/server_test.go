package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/contactkeval/covered-call/internal/analysis"
	"github.com/contactkeval/covered-call/internal/config"
	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/metrics"
	"github.com/contactkeval/covered-call/internal/storage"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	cfg.Seed = 5
	cfg.Data.LookbackYears = 2
	cfg.Data.IntradayDays = 5
	cfg.Analysis.Paths = 1000
	cfg.Analysis.DTEGrid = []int{5}

	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.InitSchema(db); err != nil {
		t.Fatalf("schema: %v", err)
	}

	srv := httptest.NewServer(newServer(cfg, data.NewSyntheticProvider(5, nil), metrics.New(), storage.NewStore(db)))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRecommendEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, err := srv.Client().Get(srv.URL + "/recommend")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing ticker status = %d", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/recommend?ticker=demo&as_of=2024-06-03")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res analysis.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Ticker != "DEMO" || res.RunID == "" || len(res.Expiries) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	hist, err := srv.Client().Get(srv.URL + "/history?ticker=demo")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer hist.Body.Close()
	var saved []storage.Saved
	if err := json.NewDecoder(hist.Body).Decode(&saved); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(saved) != len(res.Recommendations) {
		t.Fatalf("history rows = %d, want %d", len(saved), len(res.Recommendations))
	}

	m, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer m.Body.Close()
	body, err := io.ReadAll(m.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), `covered_call_runs_total{status="ok",ticker="DEMO"} 1`) {
		t.Fatalf("run counter missing:\n%s", body)
	}
}

func TestParseAsOf(t *testing.T) {
	if ts, err := parseAsOf(""); err != nil || !ts.IsZero() {
		t.Fatalf("empty: %v %v", ts, err)
	}
	if _, err := parseAsOf("06/03/2024"); err == nil {
		t.Fatal("expected error for bad date")
	}
}
