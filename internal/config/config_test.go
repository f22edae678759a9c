package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contactkeval/vol-surface/internal/pricing"
	"github.com/contactkeval/vol-surface/internal/surface"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VS_TICKER", "VS_OPTION_TYPE", "VS_DIVIDEND_YIELD", "VS_RISK_FREE_RATE",
		"VS_SOLVER", "VS_RESOLUTION", "VS_INTERPOLATION", "VS_RESCALE",
		"VS_PROVIDER", "VS_FALLBACK_PROVIDER", "VS_DATA_DIR", "VS_MAX_EXPIRATIONS",
		"VS_CONCURRENCY", "LOG_LEVEL", "LOG_FILE", "VS_ADDR", "VS_REPORT_DIR",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Underlying != "TSLA" || cfg.Kind != pricing.Call {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RiskFreeRate != nil {
		t.Fatalf("risk-free rate should default to fetched, got %v", *cfg.RiskFreeRate)
	}
	if cfg.Solver.LowVol != 1e-4 || cfg.Solver.HighVol != 4.0 || cfg.Solver.Tolerance != 1e-6 {
		t.Fatalf("unexpected solver defaults %+v", cfg.Solver)
	}
	if cfg.Surface.Resolution != 50 {
		t.Fatalf("expected 50x50 grid, got %d", cfg.Surface.Resolution)
	}
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VS_TICKER", "aapl")
	t.Setenv("VS_OPTION_TYPE", "Put")
	t.Setenv("VS_RISK_FREE_RATE", "0.045")
	t.Setenv("VS_DIVIDEND_YIELD", "0.005")
	t.Setenv("VS_RESOLUTION", "20")
	t.Setenv("VS_RESCALE", "true")
	t.Setenv("VS_CONCURRENCY", "not a number") // ignored, default kept

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Underlying != "AAPL" || cfg.Kind != pricing.Put {
		t.Fatalf("unexpected underlying/kind %s/%s", cfg.Underlying, cfg.Kind)
	}
	if cfg.RiskFreeRate == nil || *cfg.RiskFreeRate != 0.045 {
		t.Fatalf("unexpected rate %v", cfg.RiskFreeRate)
	}
	if cfg.DividendYield != 0.005 || cfg.Surface.Resolution != 20 || !cfg.Surface.Rescale {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Data.Concurrency != 4 {
		t.Fatalf("expected default concurrency, got %d", cfg.Data.Concurrency)
	}

	t.Setenv("VS_RISK_FREE_RATE", "five")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for malformed rate")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("VS_TICKER", "MSFT") // the file wins over the environment

	path := writeConfig(t, "surface.yaml", `
underlying: spy
kind: put
risk_free_rate: 0.05
dividend_yield: 0.013
solver:
  method: bisection
  low_vol: 0.001
  high_vol: 3
  tolerance: 0.0000001
surface:
  resolution: 30
  method: nearest
data:
  provider: csv
  dir: ./testdata
  expirations: ["2025-01-17", "2025-02-21"]
  max_expirations: 6
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Underlying != "SPY" || cfg.Kind != pricing.Put {
		t.Fatalf("unexpected %s/%s", cfg.Underlying, cfg.Kind)
	}
	if *cfg.RiskFreeRate != 0.05 || cfg.DividendYield != 0.013 {
		t.Fatalf("unexpected rates %v %v", *cfg.RiskFreeRate, cfg.DividendYield)
	}
	if cfg.Solver.Method != "bisection" || cfg.Solver.HighVol != 3 {
		t.Fatalf("unexpected solver %+v", cfg.Solver)
	}
	if len(cfg.Data.Expirations) != 2 || cfg.Data.MaxExpirations != 6 || cfg.Data.Provider != "csv" {
		t.Fatalf("unexpected data %+v", cfg.Data)
	}
	// untouched keys keep their defaults
	if cfg.Data.Concurrency != 4 || cfg.Server.Addr != ":8080" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if _, ok := cfg.Interpolator().(surface.Nearest); !ok {
		t.Fatalf("expected nearest interpolator, got %T", cfg.Interpolator())
	}
	if len(cfg.IVOptions()) != 3 {
		t.Fatalf("expected bounds, tolerance and solver options")
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "surface.json", `{"underlying": "qqq", "kind": "call", "surface": {"resolution": 10}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Underlying != "QQQ" || cfg.Surface.Resolution != 10 {
		t.Fatalf("unexpected %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RunConfiguration)
		want   string
	}{
		{"kind", func(c *RunConfiguration) { c.KindName = "straddle" }, "straddle"},
		{"underlying", func(c *RunConfiguration) { c.Underlying = " " }, "underlying"},
		{"dividend", func(c *RunConfiguration) { c.DividendYield = -0.01 }, "dividend_yield"},
		{"bounds", func(c *RunConfiguration) { c.Solver.LowVol = 2; c.Solver.HighVol = 1 }, "low_vol"},
		{"negative low", func(c *RunConfiguration) { c.Solver.LowVol = -0.01 }, "low_vol"},
		{"tolerance", func(c *RunConfiguration) { c.Solver.Tolerance = 0 }, "tolerance"},
		{"solver", func(c *RunConfiguration) { c.Solver.Method = "newton" }, "newton"},
		{"resolution", func(c *RunConfiguration) { c.Surface.Resolution = 0 }, "resolution"},
		{"interpolation", func(c *RunConfiguration) { c.Surface.Method = "cubic" }, "cubic"},
		{"concurrency", func(c *RunConfiguration) { c.Data.Concurrency = 0 }, "concurrency"},
		{"max expirations", func(c *RunConfiguration) { c.Data.MaxExpirations = -1 }, "max_expirations"},
		{"log level", func(c *RunConfiguration) { c.Logging.Level = "loud" }, "loud"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateZeroLowVol(t *testing.T) {
	cfg := Default()
	cfg.Solver.LowVol = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero low_vol must validate: %v", err)
	}

	// the solver must accept what the config accepts
	p := pricing.Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: pricing.Call}
	iv, ok, err := pricing.ImpliedVolatility(10.450583572185565, p, cfg.IVOptions()...)
	if err != nil || !ok {
		t.Fatalf("solve with zero low_vol: ok=%v err=%v", ok, err)
	}
	if math.Abs(iv-0.2) > 1e-5 {
		t.Fatalf("expected 0.2, got %v", iv)
	}
}

func TestClone(t *testing.T) {
	cfg := Default()
	r := 0.03
	cfg.RiskFreeRate = &r
	cfg.Data.Expirations = []string{"2025-01-17"}

	c := cfg.Clone()
	*c.RiskFreeRate = 0.07
	c.Data.Expirations[0] = "2030-01-01"
	if *cfg.RiskFreeRate != 0.03 || cfg.Data.Expirations[0] != "2025-01-17" {
		t.Fatalf("clone shares state with the original")
	}
}
