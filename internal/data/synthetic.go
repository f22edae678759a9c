package data

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/vol-surface/internal/pricing"
)

// SyntheticProvider generates a deterministic option market priced with
// Black-Scholes-Merton from a parametric smile:
//
//	sigma(K, T) = ATMVol + Skew*m + Smile*m^2 + TermSlope*sqrt(T),  m = ln(K/Spot)
//
// floored at 1%. It needs no network and is used for offline runs and
// end-to-end tests, where the solver must recover Volatility exactly.
type SyntheticProvider struct {
	Spot          float64
	Rate          float64
	DividendYield float64

	ATMVol    float64
	Skew      float64
	Smile     float64
	TermSlope float64

	// ExpiryDays are calendar days from Now's midnight.
	ExpiryDays []int
	// Moneyness lists strikes as fractions of Spot.
	Moneyness []float64
	// HalfSpread is subtracted from and added to the model price for the
	// bid and ask.
	HalfSpread float64

	Now func() time.Time
}

// NewSyntheticProvider returns a provider quoting a 100-dollar underlying
// with a downward skew.
func NewSyntheticProvider() *SyntheticProvider {
	moneyness := make([]float64, 0, 17)
	for m := 0.6; m <= 1.4+1e-9; m += 0.05 {
		moneyness = append(moneyness, math.Round(m*100)/100)
	}
	return &SyntheticProvider{
		Spot:       100,
		Rate:       0.04,
		ATMVol:     0.22,
		Skew:       -0.15,
		Smile:      0.25,
		TermSlope:  -0.02,
		ExpiryDays: []int{7, 14, 30, 60, 91, 182, 365, 730},
		Moneyness:  moneyness,
		Now:        time.Now,
	}
}

func (synthDataProv *SyntheticProvider) Secondary() Provider { return nil }

func (synthDataProv *SyntheticProvider) now() time.Time {
	if synthDataProv.Now == nil {
		return time.Now()
	}
	return synthDataProv.Now()
}

// Volatility is the smile the chain is priced with.
func (synthDataProv *SyntheticProvider) Volatility(strike, tte float64) float64 {
	m := math.Log(strike / synthDataProv.Spot)
	v := synthDataProv.ATMVol + synthDataProv.Skew*m + synthDataProv.Smile*m*m + synthDataProv.TermSlope*math.Sqrt(math.Max(tte, 0))
	return math.Max(v, 0.01)
}

func (synthDataProv *SyntheticProvider) GetSpotPrice(ctx context.Context, underlying string) (float64, error) {
	return synthDataProv.Spot, nil
}

func (synthDataProv *SyntheticProvider) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	now := synthDataProv.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	out := make([]time.Time, 0, len(synthDataProv.ExpiryDays))
	for _, d := range synthDataProv.ExpiryDays {
		out = append(out, midnight.AddDate(0, 0, d))
	}
	return out, nil
}

func (synthDataProv *SyntheticProvider) GetOptionChain(ctx context.Context, underlying string, expiration time.Time, kind pricing.Kind) ([]OptionQuote, error) {
	tte := TimeToExpiry(expiration, synthDataProv.now())
	if tte < 0 {
		return nil, nil
	}

	out := make([]OptionQuote, 0, len(synthDataProv.Moneyness))
	for _, m := range synthDataProv.Moneyness {
		strike := math.Round(synthDataProv.Spot*m*100) / 100
		price, err := pricing.Price(pricing.Params{
			Spot:          synthDataProv.Spot,
			Strike:        strike,
			TimeToExpiry:  tte,
			Rate:          synthDataProv.Rate,
			Volatility:    synthDataProv.Volatility(strike, tte),
			DividendYield: synthDataProv.DividendYield,
			Kind:          kind,
		})
		if err != nil {
			return nil, fmt.Errorf("synthetic %s K=%.2f: %w", kind, strike, err)
		}
		mid := decimal.NewFromFloat(price)
		half := decimal.NewFromFloat(synthDataProv.HalfSpread)
		bid := decimal.Max(mid.Sub(half), decimal.Zero)
		out = append(out, OptionQuote{
			Symbol:     OptionSymbolFromParts(underlying, expiration, kind, strike),
			Kind:       kind,
			Expiration: expiration,
			Strike:     decimal.NewFromFloat(strike),
			Bid:        bid,
			Ask:        mid.Add(half),
			ProviderIV: synthDataProv.Volatility(strike, tte),
		})
	}
	return out, nil
}
