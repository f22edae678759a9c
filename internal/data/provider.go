package data

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/vol-surface/internal/logger"
	"github.com/contactkeval/vol-surface/internal/pricing"
)

// DateLayout is the wire format of expiration dates in every source.
const DateLayout = "2006-01-02"

// secondsPerYear is the ACT/365 year used for time to expiry.
const secondsPerYear = 365 * 24 * 60 * 60

// Provider supplies market data
type Provider interface {
	// Secondary is consulted when a call on this provider fails.
	Secondary() Provider
	GetSpotPrice(ctx context.Context, underlying string) (float64, error)
	GetExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time, kind pricing.Kind) ([]OptionQuote, error)
}

// OptionQuote is one listed contract of an option chain.
type OptionQuote struct {
	Symbol     string          `json:"symbol"`
	Kind       pricing.Kind    `json:"kind"`
	Expiration time.Time       `json:"expiration"`
	Strike     decimal.Decimal `json:"strike"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`

	// ProviderIV is the vendor's own implied volatility, NaN when absent.
	ProviderIV float64 `json:"-"`
}

var half = decimal.NewFromFloat(0.5)

// Mid returns (bid + ask) / 2 without rounding.
func (q OptionQuote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Mul(half)
}

// NewProvider builds the provider registered under name, falling back to
// the provider named fallback (if any) when a call fails.
//
// Known names: "massive" (needs MASSIVE_API_KEY), "csv" (reads dir) and
// "synthetic".
func NewProvider(name, fallback, dir string) (Provider, error) {
	var secondary Provider
	if fallback != "" {
		if strings.EqualFold(fallback, name) {
			return nil, fmt.Errorf("fallback provider %q equals the primary", fallback)
		}
		p, err := NewProvider(fallback, "", dir)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		secondary = p
	}

	switch strings.ToLower(name) {
	case "", "massive":
		key := os.Getenv("MASSIVE_API_KEY")
		if key == "" {
			key = os.Getenv("POLYGON_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("massive provider needs MASSIVE_API_KEY")
		}
		return NewMassiveDataProvider(key, secondary), nil
	case "csv", "local":
		if dir == "" {
			return nil, fmt.Errorf("csv provider needs a data directory")
		}
		return NewLocalCSVProvider(dir, secondary), nil
	case "synthetic":
		return NewSyntheticProvider(), nil
	}
	return nil, fmt.Errorf("unknown data provider %q", name)
}

// withSecondary retries a failed call on p's secondary provider.
func withSecondary[T any](p Provider, what string, err error, call func(Provider) (T, error)) (T, error) {
	if p.Secondary() == nil {
		var zero T
		return zero, err
	}
	logger.Infof("%s failed (%v), delegating to secondary provider", what, err)
	return call(p.Secondary())
}

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

// OptionSymbolFromParts: OCC-like formatter
func OptionSymbolFromParts(underlying string, expiryDate time.Time, kind pricing.Kind, strike float64) string {
	// OCC: <root><YYMMDD><C|P><strike*1000 padded to 8 digits>
	expDt := expiryDate.Format("060102")
	optType := "C"
	if kind == pricing.Put {
		optType = "P"
	}
	strikeInt := int(math.Round(strike * 1000))
	return fmt.Sprintf("O:%s%s%s%08d", strings.ToUpper(underlying), expDt, optType, strikeInt)
}

// ParseExpiration reads a YYYY-MM-DD date as midnight in loc.
func ParseExpiration(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiration %q: %w", s, err)
	}
	return t, nil
}

// TimeToExpiry returns the years from now until expiration on an
// ACT/365 basis. It is negative once the expiration has passed.
func TimeToExpiry(expiration, now time.Time) float64 {
	return expiration.Sub(now).Seconds() / secondsPerYear
}

func dedupeDates(dates []time.Time) []time.Time {
	seen := make(map[string]bool, len(dates))
	out := dates[:0]
	for _, d := range dates {
		key := d.Format(DateLayout)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}
