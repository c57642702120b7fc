package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/covered-call/internal/analysis"
	"github.com/contactkeval/covered-call/internal/backtest"
	"github.com/contactkeval/covered-call/internal/optimizer"
)

var recommendationHeaders = []string{
	"expiration", "dte", "strike", "bid", "ask", "effective_price", "net_premium", "open_interest",
	"p_otm", "p_lcb", "p_touch", "iv", "iv_source", "delta", "resistance", "resistance_label",
	"yield", "score",
}

func money(v float64) string { return decimal.NewFromFloat(v).StringFixed(2) }

func ratio(v float64) string { return decimal.NewFromFloat(v).StringFixed(4) }

// WriteJSON writes <TICKER>_recommendations.json into outdir.
func WriteJSON(res *analysis.Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, strings.ToUpper(res.Ticker)+"_recommendations.json"), b, 0644)
}

// WriteCSV writes <TICKER>_recommendations.csv into outdir.
func WriteCSV(ticker string, recs []optimizer.Recommendation, outdir string) error {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outdir, strings.ToUpper(ticker)+"_recommendations.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	return EncodeCSV(f, recs)
}

// EncodeCSV writes one row per recommendation; money has two decimals and
// probabilities four.
func EncodeCSV(out io.Writer, recs []optimizer.Recommendation) error {
	w := csv.NewWriter(out)
	if err := w.Write(recommendationHeaders); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Expiration.Format("2006-01-02"),
			fmt.Sprintf("%d", r.DTE),
			money(r.Strike),
			money(r.Bid),
			money(r.Ask),
			ratio(r.EffectivePrice),
			money(r.NetPremium),
			fmt.Sprintf("%.0f", r.OpenInterest),
			ratio(r.POTM),
			ratio(r.PLCB),
			ratio(r.PTouch),
			ratio(r.ImpliedVol),
			r.IVSource,
			ratio(r.Delta),
			money(r.Resistance),
			r.ResistanceLabel,
			ratio(r.Yield),
			ratio(r.Score),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// PrintRecommendations renders a console table.
func PrintRecommendations(out io.Writer, res *analysis.Result) error {
	fmt.Fprintf(out, "%s spot=%s run=%s\n", res.Ticker, money(res.Spot), res.RunID)
	if len(res.Recommendations) == 0 {
		_, err := fmt.Fprintln(out, "no strike passed every constraint")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXPIRY\tDTE\tSTRIKE\tNET\tP(OTM)\tLCB\tTOUCH\tDELTA\tRESIST\tSCORE")
	for _, r := range res.Recommendations {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%.1f%%\t%.1f%%\t%.1f%%\t%.3f\t%s (%s)\t%.4f\n",
			r.Expiration.Format("2006-01-02"), r.DTE, money(r.Strike), money(r.NetPremium),
			r.POTM*100, r.PLCB*100, r.PTouch*100, r.Delta, money(r.Resistance), r.ResistanceLabel, r.Score)
	}
	return tw.Flush()
}

// PrintCalibration renders the calibration table.
func PrintCalibration(out io.Writer, res *backtest.Result) error {
	fmt.Fprintf(out, "%s horizon=%dd windows=%d skipped=%d hist_vol=%.1f%%\n",
		res.Ticker, res.Horizon, res.Windows, res.Skipped, res.HistVol*100)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tREALIZED\tBRIER\tSTATUS")
	for _, row := range res.Rows {
		fmt.Fprintf(tw, "%.0f%%\t%.1f%%\t%.4f\t%s\n", row.Target*100, row.Realized*100, row.Brier, row.Status)
	}
	return tw.Flush()
}

// WriteCalibrationCSV writes <TICKER>_calibration.csv into outdir.
func WriteCalibrationCSV(res *backtest.Result, outdir string) error {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outdir, strings.ToUpper(res.Ticker)+"_calibration.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"target", "hits", "total", "realized", "brier", "status"}); err != nil {
		return err
	}
	for _, row := range res.Rows {
		_ = w.Write([]string{
			ratio(row.Target), fmt.Sprintf("%d", row.Hits), fmt.Sprintf("%d", row.Total),
			ratio(row.Realized), ratio(row.Brier), row.Status,
		})
	}
	w.Flush()
	return w.Error()
}
