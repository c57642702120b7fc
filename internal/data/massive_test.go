package data

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestMassive(srv *httptest.Server) *massiveDataProvider {
	return &massiveDataProvider{
		APIKey:  "test",
		Client:  srv.Client(),
		BaseURL: srv.URL, // IMPORTANT
		wait:    func(context.Context, time.Duration) error { return nil },
	}
}

func TestMassiveProvider_GetBars_HTTPError(t *testing.T) {
	// fake server returning 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"internal error"}`))
	}))
	defer srv.Close()

	p := newTestMassive(srv)

	fromDate := time.Now().AddDate(0, 0, -5)
	toDate := time.Now()

	_, err := p.GetBars(context.Background(), "AAPL", fromDate, toDate, 1, "day")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("error should carry server message, got %v", err)
	}
}

func TestMassiveProvider_GetBars_Pagination(t *testing.T) {
	callCount := 0

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++

		if callCount == 1 {
			if !strings.Contains(r.URL.Path, "/v2/aggs/ticker/AAPL/range/1/day/2025-01-01/2025-01-05") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.Write([]byte(`{
				"results": [
					{"t": 1735689600000, "o":1,"h":2,"l":0.5,"c":1.5,"v":100,"n":7}
				],
				"next_url": "` + srv.URL + `/page2"
			}`))
			return
		}

		w.Write([]byte(`{
				"results": [
					{"t": 1735776000000, "o":1.5,"h":2,"l":1,"c":1.8,"v":100}
				]
			}`))
	}))
	defer srv.Close()

	prov := newTestMassive(srv)

	fromDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	toDate := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	bars, err := prov.GetBars(context.Background(), "AAPL", fromDate, toDate, 1, "day")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Count != 7 || bars[1].Close != 1.8 {
		t.Fatalf("unexpected bars: %+v", bars)
	}
	if !bars[0].Date.Equal(fromDate) {
		t.Fatalf("first bar date = %v, want %v", bars[0].Date, fromDate)
	}
}

func TestMassiveProvider_RetriesAfterRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[{"t":1735689600000,"o":1,"h":1,"l":1,"c":1,"v":1}]}`))
	}))
	defer srv.Close()

	waited := false
	p := newTestMassive(srv)
	p.wait = func(context.Context, time.Duration) error { waited = true; return nil }

	bars, err := p.GetBars(context.Background(), "AAPL", time.Now().AddDate(0, 0, -1), time.Now(), 1, "day")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !waited || calls != 2 || len(bars) != 1 {
		t.Fatalf("waited=%v calls=%d bars=%d", waited, calls, len(bars))
	}
}

func TestMassiveProvider_GetOptionChain(t *testing.T) {
	asOf := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page2" {
			w.Write([]byte(`{"results":[{
				"details":{"contract_type":"call","expiration_date":"2025-01-17","strike_price":110,"ticker":"O:GME250117C00110000"},
				"last_quote":{"bid":0.4,"ask":0.5},
				"open_interest":250,
				"implied_volatility":0.9,
				"underlying_asset":{"price":101.5}
			}]}`))
			return
		}

		q := r.URL.Query()
		if q.Get("contract_type") != "call" || q.Get("expiration_date.lte") != "2025-02-20" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer test" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(`{"results":[{
			"details":{"contract_type":"call","expiration_date":"2025-01-10","strike_price":105,"ticker":"O:GME250110C00105000"},
			"last_quote":{"bid":1.0,"ask":1.1},
			"last_trade":{"price":1.05},
			"open_interest":100,
			"implied_volatility":0.8,
			"underlying_asset":{"price":101.2}
		}],"next_url":"` + srv.URL + `/page2"}`))
	}))
	defer srv.Close()

	chain, err := newTestMassive(srv).GetOptionChain(context.Background(), "GME", asOf, 45)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chain.Quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(chain.Quotes))
	}
	first := chain.Quotes[0]
	if first.Strike != 105 || first.DTE != 4 || first.Last != 1.05 || !first.IsCall() {
		t.Fatalf("unexpected first quote: %+v", first)
	}
	if chain.Spot != 101.5 {
		t.Fatalf("spot = %f, want 101.5", chain.Spot)
	}
}
