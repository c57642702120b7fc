// Package data provides market data provider implementations.
//
// This file contains a Massive-backed Provider implementation that retrieves
// aggregate bars and option chain snapshots via Massive HTTP APIs.
//
// Design notes:
//   - Uses raw HTTP calls instead of the official Massive SDK
//   - Supports pagination, rate-limiting retries, and fallback providers
//   - Logging is intentionally verbose at Debug/Trace levels for diagnostics
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/contactkeval/covered-call/internal/logger"
)

// DefaultMassiveBaseURL is the production Massive REST endpoint.
const DefaultMassiveBaseURL = "https://api.massive.com"

// massiveDataProvider implements the Provider interface using Massive APIs.
type massiveDataProvider struct {
	// APIKey used for authenticating requests with Massive.
	APIKey string

	// Client is the HTTP client used to make API requests.
	Client *http.Client

	// BaseURL is the root endpoint for Massive APIs
	// (e.g., https://api.massive.com).
	BaseURL string

	// secondary is an optional fallback provider.
	secondary Provider

	// wait blocks until the rate limit window resets.
	wait func(ctx context.Context, d time.Duration) error
}

// massiveSnapshot is one contract of the options chain snapshot endpoint.
type massiveSnapshot struct {
	Details struct {
		ContractType   string  `json:"contract_type"`
		ExpirationDate string  `json:"expiration_date"`
		StrikePrice    float64 `json:"strike_price"`
		Ticker         string  `json:"ticker"`
	} `json:"details"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	OpenInterest      float64 `json:"open_interest"`
	LastQuote         struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	} `json:"last_quote"`
	LastTrade struct {
		Price float64 `json:"price"`
	} `json:"last_trade"`
	Day struct {
		Close float64 `json:"close"`
	} `json:"day"`
	UnderlyingAsset struct {
		Price float64 `json:"price"`
	} `json:"underlying_asset"`
}

// massiveSnapshotResp models the paginated chain snapshot response.
type massiveSnapshotResp struct {
	Results   []massiveSnapshot `json:"results"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	NextURL   string            `json:"next_url"`
}

// NewMassiveDataProvider constructs a Massive-backed data provider.
//
// It initializes an HTTP client with sensible defaults for:
//   - timeouts
//   - connection pooling
//   - HTTP/2 support
//   - gzip decompression
//
// Parameters:
//   - apiKey: Massive API key for authentication
//   - baseURL: API root; empty selects DefaultMassiveBaseURL
//   - secondary: optional fallback provider (may be nil)
func NewMassiveDataProvider(apiKey, baseURL string, secondary Provider) *massiveDataProvider {
	logger.Infof("initializing Massive data provider")

	if baseURL == "" {
		baseURL = DefaultMassiveBaseURL
	}

	return &massiveDataProvider{
		APIKey: apiKey,
		Client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    false, // must be false to enable gzip auto-decompression
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		BaseURL:   baseURL,
		secondary: secondary,
		wait:      sleepCtx,
	}
}

func (massiveDataProv *massiveDataProvider) Name() string { return "massive" }

// Secondary returns the configured secondary Provider, if any.
func (massiveDataProv *massiveDataProvider) Secondary() Provider {
	return massiveDataProv.secondary
}

// GetBars retrieves OHLCV bars for the given symbol and time range.
//
// Parameters:
//   - underlying: ticker symbol
//   - fromDate: start date
//   - toDate: end date
//   - timespan: aggregation interval size
//   - multiplier: aggregation unit (e.g., "day", "minute")
//
// Returns:
//   - []Bar: time-ordered bars
//   - error: if retrieval or decoding fails
func (massiveDataProv *massiveDataProvider) GetBars(
	ctx context.Context,
	underlying string,
	fromDate, toDate time.Time,
	timespan int,
	multiplier string,
) ([]Bar, error) {

	maxLimit := 50000

	logger.Debugf(
		"event=bars_request ticker=%s from=%s to=%s span=%d%s",
		underlying,
		fromDate.Format("2006-01-02"),
		toDate.Format("2006-01-02"),
		timespan,
		multiplier,
	)

	reqURL := fmt.Sprintf(
		"%s/v2/aggs/ticker/%s/range/%d/%s/%s/%s?adjusted=true&sort=asc&limit=%d&apiKey=%s",
		massiveDataProv.BaseURL,
		url.PathEscape(underlying),
		timespan,
		multiplier,
		fromDate.Format("2006-01-02"),
		toDate.Format("2006-01-02"),
		maxLimit,
		massiveDataProv.APIKey,
	)

	// Massive/POLYGON style response model
	type aggResp struct {
		Ticker   string `json:"ticker"`
		Adjusted bool   `json:"adjusted"`
		Results  []struct {
			Open      float64 `json:"o"`
			Close     float64 `json:"c"`
			High      float64 `json:"h"`
			Low       float64 `json:"l"`
			VWAP      float64 `json:"vw"` // volume-weighted average price
			Volume    float64 `json:"v"`  // trading volume of the symbol in the given time period
			Trades    int64   `json:"n"`  // number of transactions in the aggregate window
			Timestamp int64   `json:"t"`  // epoch millis
		} `json:"results"`
		Status  string `json:"status"`
		NextURL string `json:"next_url"`
	}

	var out []Bar

	// Handle pagination
	for reqURL != "" {
		body, err := massiveDataProv.getJSON(ctx, reqURL)
		if err != nil {
			logger.Errorf("event=bars_request_failed ticker=%s err=%v", underlying, err)
			return nil, fmt.Errorf("massive bars: %w", err)
		}

		var page aggResp
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing massive response: %w", err)
		}

		logger.Tracef("event=bars_page ticker=%s records=%d", underlying, len(page.Results))

		for _, r := range page.Results {
			out = append(out, Bar{
				Date:  time.UnixMilli(r.Timestamp).UTC(),
				Open:  r.Open,
				High:  r.High,
				Low:   r.Low,
				Close: r.Close,
				Vol:   r.Volume,
				Count: r.Trades,
			})
		}

		reqURL = page.NextURL
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// GetOptionChain retrieves call contracts expiring within maxDTE days of asOf
// from the chain snapshot endpoint, following next_url pagination.
func (massiveDataProv *massiveDataProvider) GetOptionChain(
	ctx context.Context,
	underlying string,
	asOf time.Time,
	maxDTE int,
) (*OptionChain, error) {

	logger.Debugf("event=chain_request ticker=%s as_of=%s max_dte=%d", underlying, asOf.Format("2006-01-02"), maxDTE)

	u, err := url.Parse(massiveDataProv.BaseURL + "/v3/snapshot/options/" + url.PathEscape(underlying))
	if err != nil {
		return nil, err
	}

	query := u.Query()
	query.Set("contract_type", "call")
	query.Set("expiration_date.gte", asOf.Format("2006-01-02"))
	query.Set("expiration_date.lte", asOf.AddDate(0, 0, maxDTE).Format("2006-01-02"))
	query.Set("limit", "250")
	query.Set("apiKey", massiveDataProv.APIKey)
	u.RawQuery = query.Encode()

	chain := &OptionChain{Underlying: underlying, AsOf: asOf}

	for reqURL := u.String(); reqURL != ""; {
		body, err := massiveDataProv.getJSON(ctx, reqURL)
		if err != nil {
			return nil, fmt.Errorf("massive chain: %w", err)
		}

		var page massiveSnapshotResp
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}

		logger.Tracef("event=chain_page ticker=%s contracts=%d", underlying, len(page.Results))

		for _, s := range page.Results {
			expiry, err := time.Parse("2006-01-02", s.Details.ExpirationDate)
			if err != nil {
				continue // skip malformed expiry dates
			}
			last := s.LastTrade.Price
			if last == 0 {
				last = s.Day.Close
			}
			if s.UnderlyingAsset.Price > 0 {
				chain.Spot = s.UnderlyingAsset.Price
			}
			chain.Quotes = append(chain.Quotes, OptionQuote{
				Symbol:          s.Details.Ticker,
				Expiration:      expiry,
				Strike:          s.Details.StrikePrice,
				Side:            s.Details.ContractType,
				Bid:             s.LastQuote.Bid,
				Ask:             s.LastQuote.Ask,
				Last:            last,
				OpenInterest:    s.OpenInterest,
				ImpliedVol:      s.ImpliedVolatility,
				DTE:             DaysToExpiry(asOf, expiry),
				UnderlyingPrice: s.UnderlyingAsset.Price,
			})
		}

		reqURL = page.NextURL
	}

	if len(chain.Quotes) == 0 {
		return nil, ErrNoData
	}
	return chain, nil
}

// getJSON performs an authenticated GET and returns the body of a 200 response.
func (massiveDataProv *massiveDataProvider) getJSON(ctx context.Context, reqURL string) ([]byte, error) {
	logger.Tracef("event=http_get url=%s", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+massiveDataProv.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "massive-client/1.0")

	resp, err := massiveDataProv.processGetRequest(ctx, req)
	if err != nil {
		if resp != nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			var dbg struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(b, &dbg)
			return nil, fmt.Errorf("%w: %s", err, dbg.Message)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	return body, nil
}

// processGetRequest executes an HTTP GET request with rate-limit handling.
//
// Behavior:
//   - Retries on HTTP 429 until the context is done
//   - Sleeps until the next minute boundary
//   - Returns immediately on success (<400)
//   - Returns the response and an error for other status codes
func (massiveDataProv *massiveDataProvider) processGetRequest(
	ctx context.Context,
	req *http.Request,
) (*http.Response, error) {

	for {
		resp, err := massiveDataProv.Client.Do(req)
		if err != nil {
			return nil, err
		}

		// Success
		if resp.StatusCode < 400 {
			return resp, nil
		}

		// Handle per-minute rate limit (commonly 429)
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()

			// Sleep until the next minute boundary
			now := time.Now()
			sleepDuration := time.Until(
				now.Truncate(time.Minute).Add(time.Minute),
			)

			logger.Infof("event=rate_limited sleep=%s", sleepDuration)
			if err := massiveDataProv.wait(ctx, sleepDuration); err != nil {
				return nil, err
			}
			continue
		}

		return resp, fmt.Errorf(
			"unexpected status code: %d",
			resp.StatusCode,
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
