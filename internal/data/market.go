package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contactkeval/covered-call/internal/logger"
)

// MarketRequest describes the inputs for one analysis snapshot.
type MarketRequest struct {
	Ticker        string
	AsOf          time.Time
	LookbackYears int
	IntradayDays  int
	IntradaySpan  int // minutes per intraday bar
	MaxDTE        int
}

// MarketData bundles everything the recommender consumes for a ticker.
type MarketData struct {
	Ticker   string
	Spot     float64
	Daily    []Bar
	Intraday []Bar
	Chain    *OptionChain
}

// FetchMarketData loads daily bars, intraday bars and the option chain,
// falling back to secondary providers on failure. Spot comes from the
// chain when the source reports it, else from the last daily close.
// Intraday bars are optional; an error there is logged and ignored.
func FetchMarketData(ctx context.Context, prov Provider, req MarketRequest) (*MarketData, error) {
	if prov == nil {
		return nil, errors.New("nil provider")
	}
	if req.IntradaySpan <= 0 {
		req.IntradaySpan = 5
	}

	from := req.AsOf.AddDate(-req.LookbackYears, 0, 0)
	daily, err := BarsWithFallback(ctx, prov, req.Ticker, from, req.AsOf, 1, "day")
	if err != nil {
		return nil, fmt.Errorf("daily bars for %s: %w", req.Ticker, err)
	}
	if len(daily) == 0 {
		return nil, fmt.Errorf("daily bars for %s: %w", req.Ticker, ErrNoData)
	}

	intraFrom := req.AsOf.AddDate(0, 0, -req.IntradayDays)
	intraday, err := BarsWithFallback(ctx, prov, req.Ticker, intraFrom, req.AsOf, req.IntradaySpan, "minute")
	if err != nil {
		logger.Warnf("event=intraday_unavailable ticker=%s err=%v", req.Ticker, err)
		intraday = nil
	}

	chain, err := ChainWithFallback(ctx, prov, req.Ticker, req.AsOf, req.MaxDTE)
	if err != nil {
		return nil, fmt.Errorf("option chain for %s: %w", req.Ticker, err)
	}

	spot := daily[len(daily)-1].Close
	if chain.Spot > 0 {
		if diff := chain.Spot - spot; diff > 0.01*spot || diff < -0.01*spot {
			logger.Debugf("event=spot_sync ticker=%s last_close=%.2f chain_spot=%.2f", req.Ticker, spot, chain.Spot)
		}
		spot = chain.Spot
	}

	logger.Infof(
		"event=market_data ticker=%s provider=%s daily=%d intraday=%d quotes=%d spot=%.2f",
		req.Ticker, prov.Name(), len(daily), len(intraday), len(chain.Quotes), spot,
	)

	return &MarketData{
		Ticker:   req.Ticker,
		Spot:     spot,
		Daily:    daily,
		Intraday: intraday,
		Chain:    chain,
	}, nil
}

// BarsWithFallback calls GetBars on prov and then on each secondary until one succeeds
// with a non-empty result.
func BarsWithFallback(ctx context.Context, prov Provider, underlying string, from, to time.Time, timespan int, multiplier string) ([]Bar, error) {
	var errs []error
	for p := prov; p != nil; p = p.Secondary() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := p.GetBars(ctx, underlying, from, to, timespan, multiplier)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err == nil {
			err = ErrNoData
		}
		logger.Debugf("event=bars_fallback provider=%s ticker=%s err=%v", p.Name(), underlying, err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// ChainWithFallback is the option chain counterpart of BarsWithFallback.
func ChainWithFallback(ctx context.Context, prov Provider, underlying string, asOf time.Time, maxDTE int) (*OptionChain, error) {
	var errs []error
	for p := prov; p != nil; p = p.Secondary() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chain, err := p.GetOptionChain(ctx, underlying, asOf, maxDTE)
		if err == nil && chain != nil && len(chain.Quotes) > 0 {
			return chain, nil
		}
		if err == nil {
			err = ErrNoData
		}
		logger.Debugf("event=chain_fallback provider=%s ticker=%s err=%v", p.Name(), underlying, err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, errors.Join(errs...)
}
