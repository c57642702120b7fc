// covered-call recommends covered-call strikes from a simulated volatility
// model, resistance levels and the live option chain.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactkeval/covered-call/internal/analysis"
	"github.com/contactkeval/covered-call/internal/backtest"
	"github.com/contactkeval/covered-call/internal/config"
	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/logger"
	"github.com/contactkeval/covered-call/internal/metrics"
	"github.com/contactkeval/covered-call/internal/report"
	"github.com/contactkeval/covered-call/internal/storage"
)

var (
	configPath string
	verbosity  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "covered-call",
		Short:         "Covered-call strike recommender",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", -1, "0=errors 1=info 2=debug 3=trace (overrides config)")

	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, configures logging and builds the provider chain.
func setup() (*config.Config, data.Provider, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbosity >= 0 {
		cfg.Verbosity = verbosity
	}
	logger.Configure(cfg.LogFormat, os.Stderr)
	logger.SetVerbosity(cfg.Verbosity)

	prov, err := data.New(cfg.DataOptions())
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("event=provider_ready provider=%s secondary=%s", cfg.Data.Provider, cfg.Data.Secondary)
	return cfg, prov, nil
}

func tickers(cfg *config.Config, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if cfg.Ticker != "" {
		return []string{cfg.Ticker}, nil
	}
	return nil, errors.New("no ticker given on the command line or in the config")
}

func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("as-of must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func openStore(path string) (*storage.Store, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	db, err := storage.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.InitSchema(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return storage.NewStore(db), func() { db.Close() }, nil
}

func recommendCmd() *cobra.Command {
	var (
		outDir string
		dbPath string
		asOf   string
	)
	cmd := &cobra.Command{
		Use:   "recommend [TICKER...]",
		Short: "Recommend one strike per expiry for each ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, prov, err := setup()
			if err != nil {
				return err
			}
			if outDir != "" {
				cfg.Output.Dir = outDir
			}
			if dbPath != "" {
				cfg.Output.DB = dbPath
			}
			at, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			names, err := tickers(cfg, args)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg.Output.DB)
			if err != nil {
				return err
			}
			defer closeStore()

			analyzer := analysis.New(cfg, prov, nil)
			var failed []string
			for _, ticker := range names {
				ticker = strings.ToUpper(ticker)
				res, err := analyzer.Run(cmd.Context(), ticker, at)
				if err != nil {
					logger.Errorf("event=run_failed ticker=%s err=%v", ticker, err)
					failed = append(failed, ticker)
					continue
				}
				if err := report.PrintRecommendations(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if err := report.WriteJSON(res, cfg.Output.Dir); err != nil {
					return err
				}
				if err := report.WriteCSV(ticker, res.Recommendations, cfg.Output.Dir); err != nil {
					return err
				}
				if store != nil {
					if err := store.SaveRecommendations(res.RunID, ticker, time.Now().UTC(), res.Recommendations); err != nil {
						return err
					}
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("analysis failed for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "output directory (overrides config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite file for recommendation history (overrides config)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "analysis date YYYY-MM-DD (default today)")
	return cmd
}

func backtestCmd() *cobra.Command {
	var (
		horizon int
		step    int
		asOf    string
	)
	cmd := &cobra.Command{
		Use:   "backtest [TICKER]",
		Short: "Check calibration of simulated percentiles against realized closes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, prov, err := setup()
			if err != nil {
				return err
			}
			if horizon > 0 {
				cfg.Backtest.Horizon = horizon
			}
			if step > 0 {
				cfg.Backtest.Step = step
			}
			at, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			names, err := tickers(cfg, args)
			if err != nil {
				return err
			}
			ticker := strings.ToUpper(names[0])

			start := time.Now()
			res, err := backtest.NewEngine(cfg, prov).Run(cmd.Context(), ticker, at)
			if err != nil {
				return err
			}
			if err := report.PrintCalibration(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if err := report.WriteCalibrationCSV(res, cfg.Output.Dir); err != nil {
				return err
			}
			logger.Infof("event=backtest_written ticker=%s dir=%s elapsed=%s", ticker, cfg.Output.Dir, time.Since(start))
			return nil
		},
	}
	cmd.Flags().IntVar(&horizon, "horizon", 0, "days ahead to score (overrides config)")
	cmd.Flags().IntVar(&step, "step", 0, "bars between windows (overrides config)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "history cut-off YYYY-MM-DD (default today)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recommendations over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, prov, err := setup()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			store, closeStore, err := openStore(cfg.Output.DB)
			if err != nil {
				return err
			}
			defer closeStore()

			return serve(cmd.Context(), cfg.Server.Addr, newServer(cfg, prov, metrics.New(), store))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
