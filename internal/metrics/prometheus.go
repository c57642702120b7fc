package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder collects recommender metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	expiries        *prometheus.CounterVec
	recommendations *prometheus.CounterVec
	fitFailures     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a recorder with Go runtime collectors attached.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "covered_call",
				Name:      "runs_total",
				Help:      "Ticker analysis runs by outcome",
			},
			[]string{"ticker", "status"},
		),
		expiries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "covered_call",
				Name:      "expiries_total",
				Help:      "Expiries evaluated by outcome",
			},
			[]string{"status"},
		),
		recommendations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "covered_call",
				Name:      "recommendations_total",
				Help:      "Recommendations produced",
			},
			[]string{"ticker"},
		),
		fitFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "covered_call",
				Name:      "fit_failures_total",
				Help:      "Model fit failures by stage",
			},
			[]string{"stage"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "covered_call",
				Name:      "candidate_rejections_total",
				Help:      "Strike candidates rejected by gate",
			},
			[]string{"reason"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "covered_call",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

// RecordRun records a finished ticker run.
func (r *Recorder) RecordRun(ticker, status string) {
	r.runs.WithLabelValues(ticker, status).Inc()
}

// RecordExpiry records the outcome of one expiry.
func (r *Recorder) RecordExpiry(status string) {
	r.expiries.WithLabelValues(status).Inc()
}

// RecordRecommendation records an emitted recommendation.
func (r *Recorder) RecordRecommendation(ticker string) {
	r.recommendations.WithLabelValues(ticker).Inc()
}

// RecordFitFailure records a failed volatility or surface fit.
func (r *Recorder) RecordFitFailure(stage string) {
	r.fitFailures.WithLabelValues(stage).Inc()
}

// RecordRejection records one gate rejection.
func (r *Recorder) RecordRejection(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

// RecordLatency records stage latency in seconds.
func (r *Recorder) RecordLatency(stage string, seconds float64) {
	r.latency.WithLabelValues(stage).Observe(seconds)
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
