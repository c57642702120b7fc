// Package config holds every tunable of the recommender in one value object.
//
// Load starts from `default` struct tags, overlays a YAML file, applies
// environment overrides and validates the result. Nothing outside
// this package supplies defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/optimizer"
)

var validate = validator.New()

type Config struct {
	Ticker    string `yaml:"ticker"`
	Seed      uint64 `yaml:"seed"` // 0 picks a time based seed per run
	Verbosity int    `yaml:"verbosity" default:"1" validate:"gte=0,lte=3"`
	LogFormat string `yaml:"log_format" default:"console" validate:"oneof=console json"`

	Data      DataConfig      `yaml:"data"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Output    OutputConfig    `yaml:"output"`
	Server    ServerConfig    `yaml:"server"`
}

type DataConfig struct {
	Provider  string `yaml:"provider" default:"synthetic" validate:"oneof=massive polygon csv local synthetic"`
	Secondary string `yaml:"secondary" validate:"omitempty,oneof=massive polygon csv local synthetic"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	CSVDir    string `yaml:"csv_dir" default:"./data"`

	LookbackYears int `yaml:"lookback_years" default:"6" validate:"gte=1"`
	IntradayDays  int `yaml:"intraday_days" default:"60" validate:"gte=0"`
	IntradaySpan  int `yaml:"intraday_span" default:"60" validate:"gte=1"` // minutes per intraday bar
	MaxDTE        int `yaml:"max_dte" default:"45" validate:"gte=0"`
}

type AnalysisConfig struct {
	MinHistory   int     `yaml:"min_history" default:"252" validate:"gte=50"`
	Paths        int     `yaml:"mc_paths" default:"50000" validate:"gte=100"`
	Workers      int     `yaml:"workers" validate:"gte=0"` // 0 uses GOMAXPROCS
	AlphaLCB     float64 `yaml:"alpha_lcb" default:"0.05" validate:"gt=0,lt=1"`
	DTEGrid      []int   `yaml:"dte_grid" default:"[0,5,7,14,21,28,35,42]" validate:"min=1,dive,gte=0"`
	DTETolerance int     `yaml:"dte_tolerance" default:"2" validate:"gte=0"`
	ZoneWidth    float64 `yaml:"res_zone_width" default:"0.01" validate:"gt=0"`
	DefaultIV    float64 `yaml:"default_iv" default:"0.5" validate:"gt=0"`
	CleanMinOI   float64 `yaml:"clean_min_oi" default:"10" validate:"gte=0"`
	CleanMinMid  float64 `yaml:"clean_min_mid" default:"0.05" validate:"gte=0"`
}

type OptimizerConfig struct {
	TargetMin        float64 `yaml:"p_target_min" default:"0.75" validate:"gt=0,lt=1"`
	TargetMax        float64 `yaml:"p_target_max" default:"0.80" validate:"gtefield=TargetMin,lt=1"`
	MinOpenInterest  float64 `yaml:"min_oi" default:"100" validate:"gte=0"`
	MinBid           float64 `yaml:"min_bid" default:"0.05" validate:"gte=0"`
	MaxSpreadPct     float64 `yaml:"max_spread_pct" default:"0.5" validate:"gt=0"`
	SpreadThreshold  float64 `yaml:"spread_thresh" default:"0.05" validate:"gte=0"`
	CrossingFactor   float64 `yaml:"crossing_factor" default:"0.2" validate:"gte=0,lte=1"`
	Commission       float64 `yaml:"commission" default:"0.65" validate:"gte=0"`
	MinNetPremium    float64 `yaml:"min_premium" default:"5.0" validate:"gte=0"`
	TouchCap         float64 `yaml:"touch_cap" default:"0.40" validate:"gte=0,lte=1"`
	MaxDelta         float64 `yaml:"max_delta" default:"0.30" validate:"gt=0,lte=1"`
	RiskFreeRate     float64 `yaml:"risk_free" default:"0.04"`
	LambdaResistance float64 `yaml:"lambda_res" default:"0.5" validate:"gte=0"`
	LambdaRisk       float64 `yaml:"lambda_risk" default:"1.0" validate:"gte=0"`
	ScoreExpression  string  `yaml:"score_expression"`
}

type BacktestConfig struct {
	Horizon       int       `yaml:"horizon" default:"7" validate:"gte=1"`
	Step          int       `yaml:"step" default:"5" validate:"gte=1"`
	Paths         int       `yaml:"paths" default:"10000" validate:"gte=100"`
	Targets       []float64 `yaml:"targets" default:"[0.60,0.65,0.70,0.75,0.80]" validate:"min=1,dive,gt=0,lt=1"`
	LookbackYears int       `yaml:"lookback_years" default:"4" validate:"gte=1"`
	Start         time.Time `yaml:"start"` // first window on or after, optional
	End           time.Time `yaml:"end"`   // history cut-off, optional
}

type OutputConfig struct {
	Dir string `yaml:"dir" default:"./out"`
	DB  string `yaml:"db"` // sqlite path, empty disables persistence
}

type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// Default returns a config with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load applies defaults, then the YAML file at path (when non-empty), then
// .env and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	// yaml only overwrites keys present in the file, so an explicit 0 survives
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// a missing .env is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COVERED_CALL_PROVIDER"); v != "" {
		c.Data.Provider = strings.ToLower(v)
	}
	if c.Data.APIKey != "" {
		return
	}
	if v := os.Getenv("MASSIVE_API_KEY"); v != "" {
		c.Data.APIKey = v
	} else if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		c.Data.APIKey = v
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if (c.Data.Provider == "massive" || c.Data.Provider == "polygon") && c.Data.APIKey == "" {
		return fmt.Errorf("data.api_key is required for provider %q", c.Data.Provider)
	}
	if err := optimizer.CompileScore(c.Optimizer.ScoreExpression); err != nil {
		return err
	}
	return nil
}

// Constraints maps the optimizer section onto optimizer.Constraints.
func (c *Config) Constraints() optimizer.Constraints {
	o := c.Optimizer
	return optimizer.Constraints{
		TargetMin:        o.TargetMin,
		TargetMax:        o.TargetMax,
		MinOpenInterest:  o.MinOpenInterest,
		MinBid:           o.MinBid,
		MaxSpreadPct:     o.MaxSpreadPct,
		SpreadThreshold:  o.SpreadThreshold,
		CrossingFactor:   o.CrossingFactor,
		Commission:       o.Commission,
		MinNetPremium:    o.MinNetPremium,
		TouchCap:         o.TouchCap,
		MaxDelta:         o.MaxDelta,
		RiskFreeRate:     o.RiskFreeRate,
		LambdaResistance: o.LambdaResistance,
		LambdaRisk:       o.LambdaRisk,
		ScoreExpression:  o.ScoreExpression,
	}
}

// SimWorkers is the simulation goroutine count, with 0 meaning GOMAXPROCS.
func (a AnalysisConfig) SimWorkers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// DataOptions maps the data section onto provider factory options.
func (c *Config) DataOptions() data.Options {
	return data.Options{
		Provider:  c.Data.Provider,
		Secondary: c.Data.Secondary,
		APIKey:    c.Data.APIKey,
		BaseURL:   c.Data.BaseURL,
		CSVDir:    c.Data.CSVDir,
		Seed:      c.Seed,
	}
}
