package pricing

import (
	"math"
	"strings"
)

const sqrt2Pi = 2.5066282746310002

// Kind identifies the option right.
type Kind int

const (
	Call Kind = iota
	Put
)

// String returns the lower-case name used in configs and reports.
func (k Kind) String() string {
	switch k {
	case Call:
		return "call"
	case Put:
		return "put"
	}
	return "unknown"
}

// ParseKind converts "call"/"put" (any case, surrounding spaces ignored)
// into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return 0, &ParamError{Name: "kind", Reason: "must be call or put, got " + s}
}

// MarshalText lets Kind appear as "call"/"put" in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) {
	if k != Call && k != Put {
		return nil, invalidKind(k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Params holds the inputs of the Black-Scholes-Merton model.
//
// Rates, volatility and dividend yield are annualised decimals
// (0.05 for 5%). TimeToExpiry is in years.
type Params struct {
	Spot          float64
	Strike        float64
	TimeToExpiry  float64
	Rate          float64
	Volatility    float64
	DividendYield float64
	Kind          Kind
}

// WithVolatility returns a copy of p priced at sigma.
func (p Params) WithVolatility(sigma float64) Params {
	p.Volatility = sigma
	return p
}

// Validate checks the domain of every argument and returns a *ParamError
// naming the first offending one.
func (p Params) Validate() error {
	switch {
	case !(p.Spot > 0) || math.IsInf(p.Spot, 0):
		return invalidValue("spot", p.Spot, "must be positive and finite")
	case !(p.Strike > 0) || math.IsInf(p.Strike, 0):
		return invalidValue("strike", p.Strike, "must be positive and finite")
	case !(p.TimeToExpiry >= 0) || math.IsInf(p.TimeToExpiry, 0):
		return invalidValue("time_to_expiry", p.TimeToExpiry, "must be non-negative and finite")
	case !(p.Volatility >= 0) || math.IsInf(p.Volatility, 0):
		return invalidValue("volatility", p.Volatility, "must be non-negative and finite")
	case math.IsNaN(p.Rate) || math.IsInf(p.Rate, 0):
		return invalidValue("risk_free_rate", p.Rate, "must be finite")
	case math.IsNaN(p.DividendYield) || math.IsInf(p.DividendYield, 0):
		return invalidValue("dividend_yield", p.DividendYield, "must be finite")
	case p.Kind != Call && p.Kind != Put:
		return invalidKind(p.Kind)
	}
	return nil
}

// Price calculates the price of a European option using the
// Black-Scholes-Merton model with a continuous dividend yield.
//
// Parameters:
//   - p: spot, strike, time to expiry (years), risk-free rate, volatility,
//     dividend yield and option kind
//
// Returns:
//
//	The theoretical option price. When time to expiry or volatility is zero
//	the price is the intrinsic value, max(0, S-K) for a call and
//	max(0, K-S) for a put.
//
// Errors:
//
//	A *ParamError (matching ErrInvalidParameter) when an argument is out of
//	its domain. Invalid values are rejected, never clamped.
func Price(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	// d1 divides by sigma*sqrt(T), so the degenerate cases never reach it.
	if degenerate(p) {
		return Intrinsic(p.Kind, p.Spot, p.Strike), nil
	}

	d1, d2 := dOneTwo(p)
	fwdSpot := p.Spot * math.Exp(-p.DividendYield*p.TimeToExpiry)
	discStrike := p.Strike * math.Exp(-p.Rate*p.TimeToExpiry)

	if p.Kind == Call {
		return fwdSpot*normCDF(d1) - discStrike*normCDF(d2), nil
	}
	return discStrike*normCDF(-d2) - fwdSpot*normCDF(-d1), nil
}

// Intrinsic returns the immediate-exercise payoff.
func Intrinsic(kind Kind, spot, strike float64) float64 {
	if kind == Put {
		return math.Max(0, strike-spot)
	}
	return math.Max(0, spot-strike)
}

// Vega calculates the sensitivity of the option price to volatility,
// per unit of volatility (not per 1%). It is identical for calls and puts.
// Returns 0 in the degenerate case (T or sigma equal to zero).
func Vega(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if degenerate(p) {
		return 0, nil
	}

	d1, _ := dOneTwo(p)
	return p.Spot * math.Exp(-p.DividendYield*p.TimeToExpiry) * normPDF(d1) * math.Sqrt(p.TimeToExpiry), nil
}

// degenerate also covers sigma*sqrt(T) underflowing to zero.
func degenerate(p Params) bool {
	return p.TimeToExpiry == 0 || p.Volatility == 0 || p.Volatility*math.Sqrt(p.TimeToExpiry) == 0
}

func dOneTwo(p Params) (float64, float64) {
	volSqrtT := p.Volatility * math.Sqrt(p.TimeToExpiry)
	d1 := (math.Log(p.Spot/p.Strike) + (p.Rate-p.DividendYield+0.5*p.Volatility*p.Volatility)*p.TimeToExpiry) / volSqrtT
	return d1, d1 - volSqrtT
}

// normPDF is exp(-x^2/2) / sqrt(2π).
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// normCDF computes the standard normal cumulative distribution function
// through the error function, Φ(x) = (1 + erf(x/√2)) / 2.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
