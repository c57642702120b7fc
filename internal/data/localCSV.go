package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/contactkeval/covered-call/internal/logger"
)

// localFileDataProvider implements Data Provider from local CSV files:
//
//	<dir>/<TICKER>_daily.csv     date,open,high,low,close,volume
//	<dir>/<TICKER>_intraday.csv  timestamp,open,high,low,close,volume
//	<dir>/<TICKER>_options.csv   symbol,expiration,strike,side,bid,ask,last,open_interest,implied_vol,underlying_price
//
// Columns are located by header name; extra columns are ignored.
type localFileDataProvider struct {
	dir       string
	secondary Provider
}

// NewLocalFileDataProvider convenience constructor.
func NewLocalFileDataProvider(dir string, secondary Provider) *localFileDataProvider {
	return &localFileDataProvider{dir: dir, secondary: secondary}
}

func (localFileDataProv *localFileDataProvider) Name() string { return "csv" }

func (localFileDataProv *localFileDataProvider) Secondary() Provider {
	return localFileDataProv.secondary
}

func (localFileDataProv *localFileDataProvider) GetBars(ctx context.Context, underlying string, fromDate, toDate time.Time, timespan int, multiplier string) ([]Bar, error) {
	kind := "intraday"
	if multiplier == "day" {
		kind = "daily"
	}

	rows, err := localFileDataProv.readTable(underlying, kind)
	if err != nil {
		return nil, err
	}

	var out []Bar
	for _, row := range rows {
		ts, err := parseTimestamp(row["date"] + row["timestamp"])
		if err != nil {
			logger.Tracef("event=csv_skip_row ticker=%s kind=%s err=%v", underlying, kind, err)
			continue
		}
		if ts.Before(fromDate) || ts.After(endOfDay(toDate)) {
			continue
		}
		out = append(out, Bar{
			Date:  ts,
			Open:  parseFloat(row["open"]),
			High:  parseFloat(row["high"]),
			Low:   parseFloat(row["low"]),
			Close: parseFloat(row["close"]),
			Vol:   parseFloat(row["volume"]),
		})
	}
	return out, nil
}

func (localFileDataProv *localFileDataProvider) GetOptionChain(ctx context.Context, underlying string, asOf time.Time, maxDTE int) (*OptionChain, error) {
	rows, err := localFileDataProv.readTable(underlying, "options")
	if err != nil {
		return nil, err
	}

	chain := &OptionChain{Underlying: underlying, AsOf: asOf}
	for _, row := range rows {
		q := OptionQuote{
			Symbol:          row["symbol"],
			Side:            strings.ToLower(row["side"]),
			Strike:          parseFloat(row["strike"]),
			Bid:             parseFloat(row["bid"]),
			Ask:             parseFloat(row["ask"]),
			Last:            parseFloat(row["last"]),
			OpenInterest:    parseFloat(row["open_interest"]),
			ImpliedVol:      parseFloat(row["implied_vol"]),
			UnderlyingPrice: parseFloat(row["underlying_price"]),
		}

		if exp, err := time.Parse("2006-01-02", row["expiration"]); err == nil {
			q.Expiration = exp
		} else if q.Symbol != "" {
			_, exp, side, strike, perr := ParseOptionSymbol(q.Symbol)
			if perr != nil {
				continue
			}
			q.Expiration, q.Side, q.Strike = exp, side, strike
		} else {
			continue
		}

		q.DTE = DaysToExpiry(asOf, q.Expiration)
		if q.DTE < 0 || q.DTE > maxDTE {
			continue
		}
		if q.UnderlyingPrice > 0 {
			chain.Spot = q.UnderlyingPrice
		}
		chain.Quotes = append(chain.Quotes, q)
	}

	if len(chain.Quotes) == 0 {
		return nil, ErrNoData
	}
	return chain, nil
}

// readTable loads <dir>/<TICKER>_<kind>.csv into header-keyed rows.
func (localFileDataProv *localFileDataProvider) readTable(underlying, kind string) ([]map[string]string, error) {
	path := filepath.Join(localFileDataProv.dir, fmt.Sprintf("%s_%s.csv", strings.ToUpper(underlying), kind))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoData)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoData)
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, v := range rec {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseFloat treats blanks and garbage as zero, which cleaning later rejects.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
