// Package config assembles the run configuration from environment
// variables and an optional YAML (or JSON) file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/contactkeval/vol-surface/internal/logger"
	"github.com/contactkeval/vol-surface/internal/pricing"
	"github.com/contactkeval/vol-surface/internal/rootfind"
	"github.com/contactkeval/vol-surface/internal/surface"
)

// SolverConfig bounds the implied-volatility search.
type SolverConfig struct {
	Method    string  `yaml:"method" json:"method"` // brent or bisection
	LowVol    float64 `yaml:"low_vol" json:"low_vol"`
	HighVol   float64 `yaml:"high_vol" json:"high_vol"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

// SurfaceConfig shapes the output grid.
type SurfaceConfig struct {
	Resolution int    `yaml:"resolution" json:"resolution"` // points per axis
	Method     string `yaml:"method" json:"method"`         // linear or nearest
	Rescale    bool   `yaml:"rescale" json:"rescale"`       // normalise axes before triangulating
}

// DataConfig selects where quotes come from.
type DataConfig struct {
	Provider       string   `yaml:"provider" json:"provider"` // massive, csv or synthetic
	Fallback       string   `yaml:"fallback" json:"fallback"` // provider used when the primary fails
	Dir            string   `yaml:"dir" json:"dir"`           // csv provider directory
	Expirations    []string `yaml:"expirations" json:"expirations"`
	MaxExpirations int      `yaml:"max_expirations" json:"max_expirations"` // 0 = all
	Concurrency    int      `yaml:"concurrency" json:"concurrency"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// ServerConfig is the REST mode listener.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// RunConfiguration is everything one surface build needs.
type RunConfiguration struct {
	Underlying string       `yaml:"underlying" json:"underlying"`
	Kind       pricing.Kind `yaml:"-" json:"kind"`
	KindName   string       `yaml:"kind" json:"-"`

	// RiskFreeRate is fetched from the Treasury when nil.
	RiskFreeRate  *float64 `yaml:"risk_free_rate" json:"risk_free_rate,omitempty"`
	DividendYield float64  `yaml:"dividend_yield" json:"dividend_yield"`

	Solver  SolverConfig  `yaml:"solver" json:"solver"`
	Surface SurfaceConfig `yaml:"surface" json:"surface"`
	Data    DataConfig    `yaml:"data" json:"data"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	ReportDir string `yaml:"report_dir" json:"report_dir"`
}

// Default returns the configuration before any environment or file
// overrides: TSLA calls, Treasury rate, no dividend.
func Default() *RunConfiguration {
	return &RunConfiguration{
		Underlying: "TSLA",
		Kind:       pricing.Call,
		KindName:   "call",
		Solver: SolverConfig{
			Method:    "brent",
			LowVol:    pricing.DefaultLowVol,
			HighVol:   pricing.DefaultHighVol,
			Tolerance: pricing.DefaultTolerance,
		},
		Surface:   SurfaceConfig{Resolution: surface.DefaultResolution, Method: "linear"},
		Data:      DataConfig{Provider: "massive", Concurrency: 4},
		Logging:   LoggingConfig{Level: "info"},
		Server:    ServerConfig{Addr: ":8080"},
		ReportDir: "reports",
	}
}

// Load builds the configuration from defaults, then environment
// variables, then the file at path (skipped when path is empty), and
// validates the result.
func Load(path string) (*RunConfiguration, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *RunConfiguration) applyEnv() error {
	cfg.Underlying = getEnv("VS_TICKER", cfg.Underlying)
	cfg.KindName = getEnv("VS_OPTION_TYPE", cfg.KindName)
	cfg.DividendYield = getEnvFloat("VS_DIVIDEND_YIELD", cfg.DividendYield)
	if v := os.Getenv("VS_RISK_FREE_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("VS_RISK_FREE_RATE: %w", err)
		}
		cfg.RiskFreeRate = &r
	}

	cfg.Solver.Method = getEnv("VS_SOLVER", cfg.Solver.Method)
	cfg.Surface.Resolution = getEnvInt("VS_RESOLUTION", cfg.Surface.Resolution)
	cfg.Surface.Method = getEnv("VS_INTERPOLATION", cfg.Surface.Method)
	cfg.Surface.Rescale = getEnvBool("VS_RESCALE", cfg.Surface.Rescale)

	cfg.Data.Provider = getEnv("VS_PROVIDER", cfg.Data.Provider)
	cfg.Data.Fallback = getEnv("VS_FALLBACK_PROVIDER", cfg.Data.Fallback)
	cfg.Data.Dir = getEnv("VS_DATA_DIR", cfg.Data.Dir)
	cfg.Data.MaxExpirations = getEnvInt("VS_MAX_EXPIRATIONS", cfg.Data.MaxExpirations)
	cfg.Data.Concurrency = getEnvInt("VS_CONCURRENCY", cfg.Data.Concurrency)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)
	cfg.Server.Addr = getEnv("VS_ADDR", cfg.Server.Addr)
	cfg.ReportDir = getEnv("VS_REPORT_DIR", cfg.ReportDir)
	return nil
}

// loadFile overlays the fields present in the file. JSON files are
// accepted too since JSON is valid YAML.
func (cfg *RunConfiguration) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	logger.Debugf("loaded configuration from %s", path)
	return nil
}

// Validate resolves KindName and rejects settings no run could use.
func (cfg *RunConfiguration) Validate() error {
	var errs []error

	cfg.Underlying = strings.ToUpper(strings.TrimSpace(cfg.Underlying))
	if cfg.Underlying == "" {
		errs = append(errs, errors.New("underlying is required"))
	}
	if kind, err := pricing.ParseKind(cfg.KindName); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Kind = kind
	}

	if r := cfg.RiskFreeRate; r != nil && (math.IsNaN(*r) || math.IsInf(*r, 0)) {
		errs = append(errs, fmt.Errorf("risk_free_rate must be finite, got %v", *r))
	}
	if !(cfg.DividendYield >= 0) || math.IsInf(cfg.DividendYield, 0) {
		errs = append(errs, fmt.Errorf("dividend_yield must be a non-negative decimal, got %v", cfg.DividendYield))
	}

	if _, ok := rootfind.New(cfg.Solver.Method); !ok {
		errs = append(errs, fmt.Errorf("unknown solver %q", cfg.Solver.Method))
	}
	// same domain pricing.ImpliedVolatility accepts
	if !(cfg.Solver.LowVol >= 0) || !(cfg.Solver.HighVol > cfg.Solver.LowVol) || math.IsInf(cfg.Solver.HighVol, 0) {
		errs = append(errs, fmt.Errorf("solver bounds must satisfy 0 <= low_vol < high_vol, got [%v, %v]", cfg.Solver.LowVol, cfg.Solver.HighVol))
	}
	if !(cfg.Solver.Tolerance > 0) {
		errs = append(errs, fmt.Errorf("solver tolerance must be positive, got %v", cfg.Solver.Tolerance))
	}

	if cfg.Surface.Resolution < 1 {
		errs = append(errs, fmt.Errorf("surface resolution must be at least 1, got %d", cfg.Surface.Resolution))
	}
	if _, err := surface.NewInterpolator(cfg.Surface.Method, cfg.Surface.Rescale); err != nil {
		errs = append(errs, err)
	}

	if cfg.Data.MaxExpirations < 0 {
		errs = append(errs, fmt.Errorf("max_expirations must not be negative, got %d", cfg.Data.MaxExpirations))
	}
	if cfg.Data.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Data.Concurrency))
	}
	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// IVOptions translates the solver settings for pricing.ImpliedVolatility.
func (cfg *RunConfiguration) IVOptions() []pricing.IVOption {
	opts := []pricing.IVOption{
		pricing.WithBounds(cfg.Solver.LowVol, cfg.Solver.HighVol),
		pricing.WithTolerance(cfg.Solver.Tolerance),
	}
	if s, ok := rootfind.New(cfg.Solver.Method); ok {
		opts = append(opts, pricing.WithSolver(s))
	}
	return opts
}

// Interpolator returns the configured surface interpolator.
func (cfg *RunConfiguration) Interpolator() surface.Interpolator {
	in, err := surface.NewInterpolator(cfg.Surface.Method, cfg.Surface.Rescale)
	if err != nil {
		return surface.Linear{Rescale: cfg.Surface.Rescale}
	}
	return in
}

// Clone returns a deep copy, so per-request overrides leave cfg intact.
func (cfg *RunConfiguration) Clone() *RunConfiguration {
	c := *cfg
	if cfg.RiskFreeRate != nil {
		r := *cfg.RiskFreeRate
		c.RiskFreeRate = &r
	}
	c.Data.Expirations = append([]string(nil), cfg.Data.Expirations...)
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
