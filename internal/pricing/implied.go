package pricing

import (
	"math"

	"github.com/contactkeval/vol-surface/internal/rootfind"
)

// Default search settings for ImpliedVolatility.
const (
	DefaultLowVol    = 1e-4
	DefaultHighVol   = 4.0
	DefaultTolerance = 1e-6
)

type ivConfig struct {
	low, high, tol float64
	solver         rootfind.Solver
}

// IVOption customises an ImpliedVolatility call.
type IVOption func(*ivConfig)

// WithBounds sets the volatility search interval.
func WithBounds(low, high float64) IVOption {
	return func(c *ivConfig) { c.low, c.high = low, high }
}

// WithTolerance sets the absolute tolerance on sigma.
func WithTolerance(tol float64) IVOption {
	return func(c *ivConfig) { c.tol = tol }
}

// WithSolver replaces the default Brent root-finder.
func WithSolver(s rootfind.Solver) IVOption {
	return func(c *ivConfig) {
		if s != nil {
			c.solver = s
		}
	}
}

// ImpliedVolatility finds the volatility at which Price reproduces
// marketPrice. p.Volatility is ignored.
//
// The objective f(sigma) = Price(p, sigma) - marketPrice is searched on
// [low, high] (default [1e-4, 4.0]) with a bracketing root-finder
// (default Brent, tolerance 1e-6 on sigma).
//
// Returns:
//   - vol, true, nil: the implied volatility
//   - 0, false, nil: no answer for this quote. The price lies outside the
//     range attainable on [low, high] (for instance below intrinsic value),
//     the search did not converge, or marketPrice is not finite.
//   - 0, false, err: the pricing parameters or the search settings are
//     invalid (err matches ErrInvalidParameter)
func ImpliedVolatility(marketPrice float64, p Params, opts ...IVOption) (float64, bool, error) {
	cfg := ivConfig{
		low:    DefaultLowVol,
		high:   DefaultHighVol,
		tol:    DefaultTolerance,
		solver: rootfind.Brent{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case !(cfg.low >= 0) || math.IsInf(cfg.low, 0):
		return 0, false, invalidValue("low_vol", cfg.low, "must be non-negative and finite")
	case !(cfg.high > cfg.low) || math.IsInf(cfg.high, 0):
		return 0, false, invalidValue("high_vol", cfg.high, "must be finite and above low_vol")
	case !(cfg.tol > 0):
		return 0, false, invalidValue("tolerance", cfg.tol, "must be positive")
	}

	p.Volatility = cfg.low
	if err := p.Validate(); err != nil {
		return 0, false, err
	}
	if math.IsNaN(marketPrice) || math.IsInf(marketPrice, 0) {
		return 0, false, nil
	}

	objective := func(sigma float64) float64 {
		price, err := Price(p.WithVolatility(sigma))
		if err != nil {
			return math.NaN()
		}
		return price - marketPrice
	}

	vol, ok := cfg.solver.Solve(objective, cfg.low, cfg.high, cfg.tol)
	if !ok || math.IsNaN(vol) || vol < 0 {
		return 0, false, nil
	}
	return vol, true, nil
}
