// Package analysis runs the full recommendation flow for one ticker:
// market data, volatility fit, resistance, and one optimizer pass per
// expiry on the DTE grid.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/contactkeval/covered-call/internal/config"
	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/logger"
	"github.com/contactkeval/covered-call/internal/montecarlo"
	"github.com/contactkeval/covered-call/internal/optimizer"
	"github.com/contactkeval/covered-call/internal/options"
	"github.com/contactkeval/covered-call/internal/resistance"
	"github.com/contactkeval/covered-call/internal/surface"
	"github.com/contactkeval/covered-call/internal/volatility"
)

// ErrInsufficientHistory is returned when the daily history is shorter than
// the configured minimum.
var ErrInsufficientHistory = errors.New("insufficient price history")

// Expiry outcome labels.
const (
	ExpiryRecommended = "recommended"
	ExpiryNoCandidate = "no_candidate"
	ExpiryNoQuotes    = "no_quotes"
	ExpirySimFailed   = "simulation_failed"
)

// Metrics receives pipeline counters. *metrics.Recorder satisfies it.
type Metrics interface {
	RecordRun(ticker, status string)
	RecordExpiry(status string)
	RecordRecommendation(ticker string)
	RecordFitFailure(stage string)
	RecordRejection(reason string)
	RecordLatency(stage string, seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(string, string) {}
func (nopMetrics) RecordExpiry(string) {}
func (nopMetrics) RecordRecommendation(string) {}
func (nopMetrics) RecordFitFailure(string) {}
func (nopMetrics) RecordRejection(string) {}
func (nopMetrics) RecordLatency(string, float64) {}

// ExpiryOutcome records what happened to one grid point.
type ExpiryOutcome struct {
	TargetDTE  int       `json:"target_dte"`
	DTE        int       `json:"dte"`
	Expiration time.Time `json:"expiration"`
	Quotes     int       `json:"quotes"`
	Surface    bool      `json:"surface"`
	Status     string    `json:"status"`
	Rejections int       `json:"rejections"`
}

// Result is the output of one ticker run.
type Result struct {
	RunID           string                     `json:"run_id"`
	Ticker          string                     `json:"ticker"`
	AsOf            time.Time                  `json:"as_of"`
	Spot            float64                    `json:"spot"`
	Seed            uint64                     `json:"seed"`
	Model           *volatility.Model          `json:"model"`
	Levels          []resistance.Level         `json:"levels"`
	Expiries        []ExpiryOutcome            `json:"expiries"`
	Recommendations []optimizer.Recommendation `json:"recommendations"`
}

// Analyzer wires a provider and configuration into the pipeline.
type Analyzer struct {
	cfg     *config.Config
	prov    data.Provider
	metrics Metrics
}

// New returns an Analyzer. m may be nil.
func New(cfg *config.Config, prov data.Provider, m Metrics) *Analyzer {
	if m == nil {
		m = nopMetrics{}
	}
	return &Analyzer{cfg: cfg, prov: prov, metrics: m}
}

// Run analyzes ticker as of asOf. A zero asOf means now.
func (a *Analyzer) Run(ctx context.Context, ticker string, asOf time.Time) (*Result, error) {
	res, err := a.run(ctx, ticker, asOf)
	status := "ok"
	switch {
	case errors.Is(err, ErrInsufficientHistory):
		status = "insufficient_history"
	case errors.Is(err, volatility.ErrFit):
		status = "fit_failed"
	case err != nil:
		status = "error"
	}
	a.metrics.RecordRun(ticker, status)
	return res, err
}

func (a *Analyzer) run(ctx context.Context, ticker string, asOf time.Time) (*Result, error) {
	cfg := a.cfg
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	runID := uuid.NewString()
	logger.Infof("event=run_start run_id=%s ticker=%s as_of=%s seed=%d", runID, ticker, asOf.Format(time.DateOnly), seed)

	start := time.Now()
	md, err := data.FetchMarketData(ctx, a.prov, data.MarketRequest{
		Ticker:        ticker,
		AsOf:          asOf,
		LookbackYears: cfg.Data.LookbackYears,
		IntradayDays:  cfg.Data.IntradayDays,
		IntradaySpan:  cfg.Data.IntradaySpan,
		MaxDTE:        cfg.Data.MaxDTE,
	})
	a.metrics.RecordLatency("fetch", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	spot := md.Spot

	series := volatility.NewReturnSeries(md.Daily)
	if series.Len() < cfg.Analysis.MinHistory {
		return nil, fmt.Errorf("%w: %s has %d returns, need %d", ErrInsufficientHistory, ticker, series.Len(), cfg.Analysis.MinHistory)
	}

	levels := resistance.Detect(md.Daily, md.Intraday, spot, cfg.Analysis.ZoneWidth)
	for _, l := range levels {
		logger.Debugf("event=resistance ticker=%s level=%.2f label=%s strength=%.2f", ticker, l.Level, l.Label, l.Strength)
	}

	start = time.Now()
	model, err := volatility.Fit(series)
	a.metrics.RecordLatency("garch_fit", time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordFitFailure("garch")
		return nil, fmt.Errorf("fit %s: %w", ticker, err)
	}
	if !model.Stationary() {
		logger.Warnf("event=garch_nonstationary ticker=%s persistence=%.4f", ticker, model.Persistence())
	}
	logger.Infof("event=garch_fit ticker=%s %s last_vol=%.4f", ticker, model, model.LastVol())

	calls := lo.FilterMap(md.Chain.Quotes, func(q data.OptionQuote, _ int) (data.OptionQuote, bool) {
		if !q.IsCall() {
			return q, false
		}
		q.UnderlyingPrice = spot
		if !q.Expiration.IsZero() {
			q.DTE = data.DaysToExpiry(asOf, q.Expiration)
		}
		return q, q.DTE >= 0
	})
	byDTE := lo.GroupBy(calls, func(q data.OptionQuote) int { return q.DTE })

	result := &Result{
		RunID:  runID,
		Ticker: ticker,
		AsOf:   asOf,
		Spot:   spot,
		Seed:   seed,
		Model:  model,
		Levels: levels,
	}

	for _, target := range cfg.Analysis.DTEGrid {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dte, ok := matchDTE(byDTE, target, cfg.Analysis.DTETolerance)
		if !ok {
			logger.Debugf("event=dte_unmatched ticker=%s target=%d", ticker, target)
			continue
		}
		if lo.ContainsBy(result.Expiries, func(o ExpiryOutcome) bool { return o.DTE == dte }) {
			continue
		}

		outcome, rec, err := a.expiry(ticker, spot, target, dte, byDTE[dte], model, levels, seed)
		if err != nil {
			return nil, err
		}
		a.metrics.RecordExpiry(outcome.Status)
		result.Expiries = append(result.Expiries, outcome)
		if rec != nil {
			a.metrics.RecordRecommendation(ticker)
			result.Recommendations = append(result.Recommendations, *rec)
		}
	}

	logger.Infof(
		"event=run_done run_id=%s ticker=%s expiries=%d recommendations=%d",
		runID, ticker, len(result.Expiries), len(result.Recommendations),
	)
	return result, nil
}

// expiry evaluates one matched expiry. Only configuration errors are returned.
func (a *Analyzer) expiry(
	ticker string,
	spot float64,
	target, dte int,
	quotes []data.OptionQuote,
	model *volatility.Model,
	levels []resistance.Level,
	seed uint64,
) (ExpiryOutcome, *optimizer.Recommendation, error) {

	cfg := a.cfg
	outcome := ExpiryOutcome{TargetDTE: target, DTE: dte}
	if len(quotes) > 0 {
		outcome.Expiration = quotes[0].Expiration
	}

	cleaned := options.Clean(quotes, cfg.Analysis.CleanMinOI, cfg.Analysis.CleanMinMid)
	outcome.Quotes = len(cleaned)
	if len(cleaned) == 0 {
		logger.Infof("event=expiry_skipped ticker=%s dte=%d reason=no_clean_quotes raw=%d", ticker, dte, len(quotes))
		outcome.Status = ExpiryNoQuotes
		return outcome, nil, nil
	}
	cleaned = options.FillImpliedVol(cleaned, spot, cfg.Optimizer.RiskFreeRate, cfg.Analysis.DefaultIV)

	horizon := max(dte, 1)
	years := float64(horizon) / montecarlo.DaysPerYear

	surf, err := surface.Fit(
		lo.Map(cleaned, func(q data.OptionQuote, _ int) float64 { return q.Strike }),
		lo.Map(cleaned, func(q data.OptionQuote, _ int) float64 { return q.ImpliedVol }),
		years, spot,
	)
	if err != nil {
		a.metrics.RecordFitFailure("surface")
		logger.Infof("event=surface_unavailable ticker=%s dte=%d err=%v", ticker, dte, err)
		surf = nil
	}
	outcome.Surface = surf != nil

	start := time.Now()
	paths, err := volatility.Simulate(model, horizon, cfg.Analysis.Paths, spot, volatility.SimOptions{
		Seed:    seed + uint64(dte),
		Workers: cfg.Analysis.SimWorkers(),
	})
	a.metrics.RecordLatency("simulate", time.Since(start).Seconds())
	if err != nil {
		logger.Warnf("event=simulation_failed ticker=%s dte=%d err=%v", ticker, dte, err)
		outcome.Status = ExpirySimFailed
		return outcome, nil, nil
	}

	z := montecarlo.ZScore(cfg.Analysis.AlphaLCB)
	probs := make(map[float64]optimizer.StrikeProbability)
	for _, q := range cleaned {
		if q.Strike <= spot {
			continue
		}
		if _, done := probs[q.Strike]; done {
			continue
		}
		est, err := montecarlo.Probabilities(paths, q.Strike, years, paths.TerminalVol)
		if err != nil {
			logger.Debugf("event=probability_skipped ticker=%s strike=%.2f err=%v", ticker, q.Strike, err)
			continue
		}
		probs[q.Strike] = optimizer.StrikeProbability{POTM: est.POTM, LCB: est.LCB(z), PTouch: est.PTouch}
	}

	c := cfg.Constraints()
	c.OnReject = func(reason string) {
		outcome.Rejections++
		a.metrics.RecordRejection(reason)
	}

	rec, err := optimizer.Select(cleaned, probs, levels, c, surf)
	if err != nil {
		return outcome, nil, err
	}
	if rec == nil {
		logger.Infof("event=no_feasible_strike ticker=%s dte=%d candidates=%d rejected=%d", ticker, dte, len(probs), outcome.Rejections)
		outcome.Status = ExpiryNoCandidate
		return outcome, nil, nil
	}

	outcome.Status = ExpiryRecommended
	logger.Infof(
		"event=recommendation ticker=%s dte=%d strike=%.2f p_otm=%.3f p_lcb=%.3f p_touch=%.3f delta=%.3f net=%.2f score=%.4f",
		ticker, dte, rec.Strike, rec.POTM, rec.PLCB, rec.PTouch, rec.Delta, rec.NetPremium, rec.Score,
	)
	return outcome, rec, nil
}

// matchDTE finds the listed DTE closest to target within tol days.
func matchDTE(byDTE map[int][]data.OptionQuote, target, tol int) (int, bool) {
	keys := lo.Keys(byDTE)
	sort.Ints(keys)
	listed := lo.Map(keys, func(d int, _ int) float64 { return float64(d) })

	best, ok := data.Closest(listed, float64(target))
	if !ok || math.Abs(best-float64(target)) > float64(tol) {
		return 0, false
	}
	return int(best), true
}
