// Package backtest checks how well simulated terminal-price percentiles
// match realized outcomes. For every window it fits the volatility model on
// history up to that day, simulates the horizon, places a strike at each
// target percentile of the terminal prices and records whether the realized
// close finished at or below it.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/contactkeval/covered-call/internal/config"
	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/logger"
	"github.com/contactkeval/covered-call/internal/volatility"
)

// ErrNoWindows is returned when the history cannot hold a single window.
var ErrNoWindows = errors.New("no backtest windows")

// Calibration status labels.
const (
	StatusRisky    = "RISKY"
	StatusOK       = "OK"
	StatusSafe     = "SAFE"
	StatusSafePlus = "SAFE++"
)

type Engine struct {
	cfg  *config.Config
	prov data.Provider
}

// Calibration is the realized performance of one target probability.
type Calibration struct {
	Target   float64 `json:"target"`
	Hits     int     `json:"hits"`
	Total    int     `json:"total"`
	Realized float64 `json:"realized"`
	Brier    float64 `json:"brier"`
	Status   string  `json:"status"`
}

// Result summarizes one calibration run.
type Result struct {
	Ticker  string        `json:"ticker"`
	Horizon int           `json:"horizon"`
	HistVol float64       `json:"hist_vol"`
	Windows int           `json:"windows"`
	Skipped int           `json:"skipped"`
	Rows    []Calibration `json:"rows"`
}

func NewEngine(cfg *config.Config, prov data.Provider) *Engine {
	return &Engine{cfg: cfg, prov: prov}
}

// Run executes the calibration backtest for ticker with history ending at
// asOf (now when zero, Backtest.End when set).
func (e *Engine) Run(ctx context.Context, ticker string, asOf time.Time) (*Result, error) {
	cfg := e.cfg
	bt := cfg.Backtest
	if !bt.End.IsZero() {
		asOf = bt.End
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	from := asOf.AddDate(-bt.LookbackYears, 0, 0)
	if !bt.Start.IsZero() && bt.Start.Before(from) {
		from = bt.Start.AddDate(-2, 0, 0)
	}
	bars, err := data.BarsWithFallback(ctx, e.prov, ticker, from, asOf, 1, "day")
	if err != nil {
		return nil, fmt.Errorf("backtest bars for %s: %w", ticker, err)
	}
	bars = lo.Filter(bars, func(b data.Bar, _ int) bool { return b.Close > 0 })
	closes := extractCloses(bars)

	// every close is positive, so return i spans bars i and i+1
	series := volatility.NewReturnSeries(bars)
	returns := series.Values()
	starts := windowStarts(series.Dates(), cfg.Analysis.MinHistory, bt.Horizon, bt.Step, bt.Start, bt.End)
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: %s has %d returns, need %d + %d", ErrNoWindows, ticker, len(returns), cfg.Analysis.MinHistory, bt.Horizon)
	}

	res := &Result{
		Ticker:  ticker,
		Horizon: bt.Horizon,
		HistVol: AnnualizedVolatility(closes),
		Windows: len(starts),
	}
	logger.Infof(
		"event=backtest_start ticker=%s windows=%d targets=%d hist_vol=%.2f%% seed=%d",
		ticker, len(starts), len(bt.Targets), res.HistVol*100, seed,
	)

	targets := append([]float64(nil), bt.Targets...)
	sort.Float64s(targets)
	hits := make([]int, len(targets))
	brier := make([][]float64, len(targets))
	total := 0

	for n, t := range starts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n%10 == 0 {
			logger.Debugf("event=backtest_progress ticker=%s step=%d of=%d", ticker, n, len(starts))
		}

		current := closes[t]
		final := closes[t+bt.Horizon]

		model, err := volatility.Fit(volatility.ReturnSeriesFrom(returns[:t]))
		if err != nil {
			logger.Debugf("event=backtest_window_skipped ticker=%s t=%d err=%v", ticker, t, err)
			res.Skipped++
			continue
		}
		paths, err := volatility.Simulate(model, bt.Horizon, bt.Paths, current, volatility.SimOptions{
			Seed:    seed + uint64(t),
			Workers: cfg.Analysis.SimWorkers(),
		})
		if err != nil {
			logger.Debugf("event=backtest_window_skipped ticker=%s t=%d err=%v", ticker, t, err)
			res.Skipped++
			continue
		}

		terminal := paths.Terminal()
		sort.Float64s(terminal)
		total++
		for i, tp := range targets {
			strike := percentile(terminal, tp)
			outcome := 0.0
			if final <= strike {
				hits[i]++
				outcome = 1
			}
			brier[i] = append(brier[i], (outcome-tp)*(outcome-tp))
		}
	}

	if total == 0 {
		return res, fmt.Errorf("%w: every window failed to fit", ErrNoWindows)
	}

	for i, tp := range targets {
		realized := float64(hits[i]) / float64(total)
		res.Rows = append(res.Rows, Calibration{
			Target:   tp,
			Hits:     hits[i],
			Total:    total,
			Realized: realized,
			Brier:    stat.Mean(brier[i], nil),
			Status:   Status(tp, realized),
		})
	}

	logger.Infof("event=backtest_done ticker=%s windows=%d skipped=%d", ticker, res.Windows, res.Skipped)
	return res, nil
}

// Status grades realized against target: RISKY more than 5 points below,
// SAFE++ more than 10 above, SAFE more than 5 above, else OK.
func Status(target, realized float64) string {
	switch {
	case realized < target-0.05:
		return StatusRisky
	case realized > target+0.10:
		return StatusSafePlus
	case realized > target+0.05:
		return StatusSafe
	default:
		return StatusOK
	}
}
