// Package engine runs one volatility-surface build: fetch the chain,
// solve every quote for its implied volatility and grid the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/contactkeval/vol-surface/internal/config"
	"github.com/contactkeval/vol-surface/internal/data"
	"github.com/contactkeval/vol-surface/internal/logger"
	"github.com/contactkeval/vol-surface/internal/pricing"
	"github.com/contactkeval/vol-surface/internal/surface"
)

// Skip reasons recorded on quotes that produce no sample.
const (
	ReasonExpired      = "expired"
	ReasonEmptyQuote   = "empty_quote"
	ReasonCrossedQuote = "crossed_quote"
	ReasonInvalidInput = "invalid_input"
	ReasonNoSolution   = "no_solution"
)

// Sample is one quote with a defined implied volatility.
// Volatilities are in percent.
type Sample struct {
	Symbol       string    `json:"symbol"`
	Expiration   time.Time `json:"expiration"`
	Strike       float64   `json:"strike"`
	TimeToExpiry float64   `json:"time_to_expiry"`
	MidPrice     float64   `json:"mid_price"`
	Moneyness    float64   `json:"moneyness"` // spot / strike
	ImpliedVol   float64   `json:"implied_vol"`
	ProviderIV   *float64  `json:"provider_iv,omitempty"`
}

// SkippedQuote is a quote left out of the surface and why.
type SkippedQuote struct {
	Symbol     string    `json:"symbol"`
	Expiration time.Time `json:"expiration"`
	Strike     float64   `json:"strike"`
	Reason     string    `json:"reason"`
}

// FailedExpiration is an expiration whose chain could not be fetched.
type FailedExpiration struct {
	Expiration time.Time `json:"expiration"`
	Error      string    `json:"error"`
}

// Result is the outcome of one run.
type Result struct {
	RunID         string         `json:"run_id"`
	Underlying    string         `json:"underlying"`
	Kind          pricing.Kind   `json:"kind"`
	AsOf          time.Time      `json:"as_of"`
	Spot          float64        `json:"spot"`
	RiskFreeRate  float64        `json:"risk_free_rate"`
	DividendYield float64        `json:"dividend_yield"`
	Expirations   []time.Time    `json:"expirations"`
	Samples       []Sample       `json:"samples"`
	Skipped       []SkippedQuote `json:"skipped"`

	// FailedExpirations lists chains left out because the provider failed.
	FailedExpirations []FailedExpiration `json:"failed_expirations,omitempty"`

	// Grid holds implied volatility in percent.
	Grid *surface.Grid `json:"grid"`
}

// SkippedCount is the number of quotes without a sample.
func (r *Result) SkippedCount() int { return len(r.Skipped) }

// Engine builds surfaces for one configuration.
type Engine struct {
	cfg   *config.RunConfiguration
	prov  data.Provider
	rates data.RateSource
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for reproducible time to expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires a configuration to its data sources. rates is only
// consulted when cfg.RiskFreeRate is nil.
func NewEngine(cfg *config.RunConfiguration, prov data.Provider, rates data.RateSource, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, prov: prov, rates: rates, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the configuration the engine runs with.
func (e *Engine) Config() *config.RunConfiguration { return e.cfg }

// WithConfig returns an engine sharing e's data sources and clock but
// running cfg.
func (e *Engine) WithConfig(cfg *config.RunConfiguration) *Engine {
	c := *e
	c.cfg = cfg
	return &c
}

type job struct {
	quote data.OptionQuote
	tte   float64
}

type outcome struct {
	iv     float64
	mid    float64
	reason string
}

// Run builds the surface.
//
// Steps:
//  1. resolve the risk-free rate (config, else the rate source)
//  2. fetch spot and the expirations (filtered and limited by config)
//  3. fetch each expiration's chain concurrently
//  4. solve each quote's implied volatility concurrently
//  5. interpolate the solved samples, in percent, onto the grid
//
// Quotes that cannot be solved are reported in Result.Skipped and chains
// that cannot be fetched in Result.FailedExpirations. Run fails when the
// rate, the spot, the expirations or every chain cannot be fetched, or
// when no quote yields a volatility (surface.ErrInsufficientData).
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	cfg := e.cfg
	now := e.now()
	res := &Result{
		RunID:         uuid.NewString(),
		Underlying:    cfg.Underlying,
		Kind:          cfg.Kind,
		AsOf:          now,
		DividendYield: cfg.DividendYield,
	}
	logger.Infof("run %s: %s %s surface", res.RunID, cfg.Underlying, cfg.Kind)

	rate, err := e.riskFreeRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk-free rate: %w", err)
	}
	res.RiskFreeRate = rate

	spot, err := e.prov.GetSpotPrice(ctx, cfg.Underlying)
	if err != nil {
		return nil, fmt.Errorf("spot price for %s: %w", cfg.Underlying, err)
	}
	res.Spot = spot
	logger.Infof("spot=%.4f rate=%.4f%% dividend=%.4f%%", spot, rate*100, cfg.DividendYield*100)

	exps, err := e.expirations(ctx, now)
	if err != nil {
		return nil, err
	}
	res.Expirations = exps

	jobs, failed, err := e.fetchChains(ctx, exps, now)
	if err != nil {
		return nil, err
	}
	res.FailedExpirations = failed
	logger.Infof("fetched %d quotes over %d expirations (%d failed)", len(jobs), len(exps), len(failed))

	outcomes, err := e.solve(ctx, jobs, spot, rate)
	if err != nil {
		return nil, err
	}

	points := make([]surface.Sample, 0, len(jobs))
	for i, j := range jobs {
		strike, _ := j.quote.Strike.Float64()
		o := outcomes[i]
		if o.reason != "" {
			res.Skipped = append(res.Skipped, SkippedQuote{
				Symbol:     j.quote.Symbol,
				Expiration: j.quote.Expiration,
				Strike:     strike,
				Reason:     o.reason,
			})
			continue
		}

		s := Sample{
			Symbol:       j.quote.Symbol,
			Expiration:   j.quote.Expiration,
			Strike:       strike,
			TimeToExpiry: j.tte,
			MidPrice:     o.mid,
			Moneyness:    spot / strike,
			ImpliedVol:   o.iv * 100,
		}
		if piv := j.quote.ProviderIV; !math.IsNaN(piv) && !math.IsInf(piv, 0) {
			pct := piv * 100
			s.ProviderIV = &pct
		}
		res.Samples = append(res.Samples, s)
		points = append(points, surface.Sample{Strike: strike, TimeToExpiry: j.tte, ImpliedVol: s.ImpliedVol, Valid: true})
	}
	logger.Infof("solved %d quotes, skipped %d", len(res.Samples), res.SkippedCount())

	grid, err := surface.NewBuilder(
		surface.WithResolution(cfg.Surface.Resolution),
		surface.WithInterpolator(cfg.Interpolator()),
	).Build(points)
	if err != nil {
		return nil, fmt.Errorf("building surface for %s: %w", cfg.Underlying, err)
	}
	res.Grid = grid
	logger.Debugf("grid %dx%d, %d points defined", len(grid.Maturities()), len(grid.Strikes()), grid.Defined())
	return res, nil
}

func (e *Engine) riskFreeRate(ctx context.Context) (float64, error) {
	if e.cfg.RiskFreeRate != nil {
		return *e.cfg.RiskFreeRate, nil
	}
	if e.rates == nil {
		return 0, fmt.Errorf("no risk-free rate configured and no rate source")
	}
	return e.rates.RiskFreeRate(ctx)
}

// expirations lists the provider's expirations, keeps those requested by
// the configuration (all when none are) and drops past dates, then
// applies MaxExpirations.
func (e *Engine) expirations(ctx context.Context, now time.Time) ([]time.Time, error) {
	all, err := e.prov.GetExpirations(ctx, e.cfg.Underlying)
	if err != nil {
		return nil, fmt.Errorf("expirations for %s: %w", e.cfg.Underlying, err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })

	wanted := make(map[string]bool, len(e.cfg.Data.Expirations))
	for _, d := range e.cfg.Data.Expirations {
		wanted[d] = true
	}

	var out []time.Time
	for _, exp := range all {
		if len(wanted) > 0 && !wanted[exp.Format(data.DateLayout)] {
			continue
		}
		if data.TimeToExpiry(exp, now) <= 0 {
			logger.Debugf("dropping past expiration %s", exp.Format(data.DateLayout))
			continue
		}
		out = append(out, exp)
	}
	if n := e.cfg.Data.MaxExpirations; n > 0 && len(out) > n {
		out = out[:n]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable expirations for %s: %w", e.cfg.Underlying, surface.ErrInsufficientData)
	}
	return out, nil
}

// fetchChains downloads every chain, at most Data.Concurrency at a time,
// and flattens them in expiration order. A chain that fails is reported
// and left out; only the failure of every chain is an error.
func (e *Engine) fetchChains(ctx context.Context, exps []time.Time, now time.Time) ([]job, []FailedExpiration, error) {
	chains := make([][]data.OptionQuote, len(exps))
	errs := make([]error, len(exps))

	var g errgroup.Group
	g.SetLimit(e.cfg.Data.Concurrency)
	for i, exp := range exps {
		i, exp := i, exp
		g.Go(func() error {
			quotes, err := e.prov.GetOptionChain(ctx, e.cfg.Underlying, exp, e.cfg.Kind)
			if err != nil {
				errs[i] = fmt.Errorf("%s chain for %s: %w", e.cfg.Kind, exp.Format(data.DateLayout), err)
				return nil
			}
			logger.Tracef("expiration %s: %d quotes", exp.Format(data.DateLayout), len(quotes))
			chains[i] = quotes
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var failed []FailedExpiration
	for i, err := range errs {
		if err == nil {
			continue
		}
		logger.Errorf("%v", err)
		failed = append(failed, FailedExpiration{Expiration: exps[i], Error: err.Error()})
	}
	if len(failed) == len(exps) {
		return nil, failed, fmt.Errorf("every %s chain for %s failed: %w", e.cfg.Kind, e.cfg.Underlying, errors.Join(errs...))
	}

	var jobs []job
	for _, quotes := range chains {
		for _, q := range quotes {
			jobs = append(jobs, job{quote: q, tte: data.TimeToExpiry(q.Expiration, now)})
		}
	}
	return jobs, failed, nil
}

// solve computes one outcome per job. Workers only write their own slot,
// so the result order matches jobs regardless of scheduling.
func (e *Engine) solve(ctx context.Context, jobs []job, spot, rate float64) ([]outcome, error) {
	out := make([]outcome, len(jobs))
	opts := e.cfg.IVOptions()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Data.Concurrency)
	const batch = 64
	for start := 0; start < len(jobs); start += batch {
		start, end := start, min(start+batch, len(jobs))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[i] = e.solveOne(jobs[i], spot, rate, opts)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) solveOne(j job, spot, rate float64, opts []pricing.IVOption) outcome {
	q := j.quote
	if j.tte <= 0 {
		return outcome{reason: ReasonExpired}
	}
	if q.Bid.IsZero() && q.Ask.IsZero() {
		return outcome{reason: ReasonEmptyQuote}
	}
	if q.Ask.LessThan(q.Bid) {
		return outcome{reason: ReasonCrossedQuote}
	}

	mid, _ := q.Mid().Float64()
	strike, _ := q.Strike.Float64()
	iv, ok, err := pricing.ImpliedVolatility(mid, pricing.Params{
		Spot:          spot,
		Strike:        strike,
		TimeToExpiry:  j.tte,
		Rate:          rate,
		DividendYield: e.cfg.DividendYield,
		Kind:          e.cfg.Kind,
	}, opts...)
	switch {
	case err != nil:
		logger.Debugf("%s: %v", q.Symbol, err)
		return outcome{mid: mid, reason: ReasonInvalidInput}
	case !ok:
		logger.Tracef("%s: no volatility reproduces mid %.4f", q.Symbol, mid)
		return outcome{mid: mid, reason: ReasonNoSolution}
	}
	return outcome{iv: iv, mid: mid}
}
