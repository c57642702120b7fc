package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.RecordRun("AAPL", "ok")
	r.RecordRun("AAPL", "ok")
	r.RecordRejection("max_delta")
	r.RecordFitFailure("surface")
	r.RecordRecommendation("AAPL")
	r.RecordExpiry("recommended")
	r.RecordLatency("simulate", 0.25)

	if got := testutil.ToFloat64(r.runs.WithLabelValues("AAPL", "ok")); got != 2 {
		t.Fatalf("runs = %f, want 2", got)
	}
	if got := testutil.ToFloat64(r.rejections.WithLabelValues("max_delta")); got != 1 {
		t.Fatalf("rejections = %f, want 1", got)
	}
	if got := testutil.CollectAndCount(r.latency); got != 1 {
		t.Fatalf("latency series = %d, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RecordRecommendation("MSFT")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `covered_call_recommendations_total{ticker="MSFT"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
