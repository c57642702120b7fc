package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoData is returned when a provider has nothing for the request.
	ErrNoData = errors.New("no data")
	// ErrNotSupported is returned by providers that cannot serve a request type.
	ErrNotSupported = errors.New("not supported by provider")
)

// Provider supplies market data.
//
// Every provider may carry a secondary Provider; FetchMarketData walks the
// chain when a call fails.
type Provider interface {
	Name() string
	Secondary() Provider
	GetBars(ctx context.Context, underlying string, fromDate, toDate time.Time, timespan int, multiplier string) ([]Bar, error)
	GetOptionChain(ctx context.Context, underlying string, asOf time.Time, maxDTE int) (*OptionChain, error)
}

// Bar simplified OHLC
type Bar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
	Vol   float64
	Count int64
}

// OptionQuote is one listed contract as seen at the snapshot time.
// Mid, Spread and RelSpread are filled in by chain cleaning.
type OptionQuote struct {
	Symbol          string    `json:"symbol"`
	Expiration      time.Time `json:"expiration"`
	Strike          float64   `json:"strike"`
	Side            string    `json:"side"` // "call" or "put"
	Bid             float64   `json:"bid"`
	Ask             float64   `json:"ask"`
	Last            float64   `json:"last"`
	Mid             float64   `json:"mid"`
	Spread          float64   `json:"spread"`
	RelSpread       float64   `json:"rel_spread"`
	OpenInterest    float64   `json:"open_interest"`
	ImpliedVol      float64   `json:"implied_vol"`
	DTE             int       `json:"dte"`
	UnderlyingPrice float64   `json:"underlying_price"`
}

// IsCall reports whether the quote is a call.
func (q OptionQuote) IsCall() bool {
	s := strings.ToLower(q.Side)
	return s == "call" || s == "c"
}

// OptionChain is a snapshot of quotes for one underlying.
type OptionChain struct {
	Underlying string
	AsOf       time.Time
	Spot       float64 // 0 when the source does not report the underlying price
	Quotes     []OptionQuote
}

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

// DaysToExpiry counts calendar days between the snapshot date and expiry.
func DaysToExpiry(asOf, expiry time.Time) int {
	a := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(e.Sub(a).Hours() / 24))
}

// OptionSymbolFromParts: improved OCC-like formatter (best-effort)
func OptionSymbolFromParts(underlying string, expiryDate time.Time, optionType string, strike float64) string {
	// OCC: <root><YYMMDD><C|P><strike*1000 padded to 8 digits>
	expDt := expiryDate.UTC().Format("060102")
	optType := "C"
	if strings.ToLower(optionType) == "put" || strings.ToLower(optionType) == "p" {
		optType = "P"
	}
	strikeInt := int(math.Round(strike * 1000))
	strFmt := fmt.Sprintf("%08d", strikeInt)
	return fmt.Sprintf("O:%s%s%s%s", strings.ToUpper(underlying), expDt, optType, strFmt)
}

// ParseOptionSymbol splits an OCC symbol (with or without the "O:" prefix)
// into root, expiry, side and strike.
func ParseOptionSymbol(symbol string) (underlying string, expiry time.Time, side string, strike float64, err error) {
	s := strings.TrimPrefix(strings.TrimSpace(symbol), "O:")
	if len(s) < 16 {
		return "", time.Time{}, "", 0, fmt.Errorf("option symbol %q too short", symbol)
	}

	tail := s[len(s)-15:]
	underlying = s[:len(s)-15]

	expiry, err = time.Parse("060102", tail[:6])
	if err != nil {
		return "", time.Time{}, "", 0, fmt.Errorf("option symbol %q expiry: %w", symbol, err)
	}

	switch tail[6] {
	case 'C':
		side = "call"
	case 'P':
		side = "put"
	default:
		return "", time.Time{}, "", 0, fmt.Errorf("option symbol %q: unknown type %q", symbol, tail[6])
	}

	milli, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return "", time.Time{}, "", 0, fmt.Errorf("option symbol %q strike: %w", symbol, err)
	}

	return underlying, expiry, side, float64(milli) / 1000, nil
}

// Closest finds the closest float64 in a sorted slice to the target value using binary search (sort.Search).
// It returns false for an empty slice.
func Closest(numList []float64, target float64) (float64, bool) {
	n := len(numList)
	if n == 0 {
		return 0, false
	}

	i := sort.Search(n, func(i int) bool {
		return numList[i] >= target
	})

	if i == 0 {
		return numList[0], true
	}
	if i == n {
		return numList[n-1], true
	}

	before := numList[i-1]
	after := numList[i]

	if math.Abs(before-target) <= math.Abs(after-target) {
		return before, true
	}
	return after, true
}
