package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/contactkeval/vol-surface/internal/rootfind"
)

func TestImpliedVolatilityReferenceCase(t *testing.T) {
	p := Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: Call}

	iv, ok, err := ImpliedVolatility(10.450583572185565, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a solution")
	}
	if !almostEqual(iv, 0.2, 1e-6) {
		t.Fatalf("implied vol mismatch: got=%v", iv)
	}
}

func TestImpliedVolatilityRoundTrip(t *testing.T) {
	solvers := map[string]rootfind.Solver{
		"brent":     rootfind.Brent{},
		"bisection": rootfind.Bisection{},
	}

	for name, solver := range solvers {
		for _, kind := range []Kind{Call, Put} {
			for _, strike := range []float64{80, 100, 120} {
				for _, T := range []float64{0.25, 1, 2} {
					for _, sigma := range []float64{0.1, 0.2, 0.6, 1.5, 3.5} {
						p := Params{Spot: 100, Strike: strike, TimeToExpiry: T, Rate: 0.03, DividendYield: 0.01, Kind: kind}

						price, err := Price(p.WithVolatility(sigma))
						if err != nil {
							t.Fatalf("price err: %v", err)
						}

						iv, ok, err := ImpliedVolatility(price, p, WithSolver(solver))
						if err != nil || !ok {
							t.Fatalf("%s %s K=%v T=%v sigma=%v: ok=%v err=%v", name, kind, strike, T, sigma, ok, err)
						}
						if !almostEqual(iv, sigma, 1e-5) {
							t.Fatalf("%s %s K=%v T=%v: round trip %v -> %v", name, kind, strike, T, sigma, iv)
						}
					}
				}
			}
		}
	}
}

func TestImpliedVolatilityUnbracketed(t *testing.T) {
	tests := []struct {
		name   string
		price  float64
		params Params
	}{
		// below max(0, S-K) for a call
		{"call below intrinsic", 15, Params{Spot: 100, Strike: 80, TimeToExpiry: 1, Rate: 0.05, Kind: Call}},
		// below max(0, K-S) for a put
		{"put below intrinsic", 5, Params{Spot: 90, Strike: 100, TimeToExpiry: 0.5, Rate: 0.01, Kind: Put}},
		// a call is never worth more than the spot
		{"call above spot", 150, Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: Call}},
		{"negative price", -1, Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: Put}},
		{"NaN price", math.NaN(), Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: Call}},
		{"infinite price", math.Inf(1), Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: Call}},
		// at expiry the price no longer depends on sigma
		{"expired", 3, Params{Spot: 100, Strike: 100, TimeToExpiry: 0, Rate: 0.05, Kind: Call}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			iv, ok, err := ImpliedVolatility(tc.price, tc.params)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if ok {
				t.Fatalf("expected undefined, got %v", iv)
			}
			if iv != 0 || math.IsNaN(iv) {
				t.Fatalf("undefined result must not carry a value, got %v", iv)
			}
		})
	}
}

func TestImpliedVolatilityInvalidInputs(t *testing.T) {
	p := Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: Call}

	tests := []struct {
		name   string
		params Params
		opts   []IVOption
		arg    string
	}{
		{"bad spot", Params{Spot: 0, Strike: 100, TimeToExpiry: 1, Kind: Call}, nil, "spot"},
		{"negative time", Params{Spot: 100, Strike: 100, TimeToExpiry: -1, Kind: Call}, nil, "time_to_expiry"},
		{"bad kind", Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Kind: Kind(9)}, nil, "kind"},
		{"inverted bounds", p, []IVOption{WithBounds(2, 1)}, "high_vol"},
		{"negative low", p, []IVOption{WithBounds(-0.1, 1)}, "low_vol"},
		{"zero tolerance", p, []IVOption{WithTolerance(0)}, "tolerance"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := ImpliedVolatility(10, tc.params, tc.opts...)
			if ok {
				t.Fatalf("expected no solution")
			}
			var pe *ParamError
			if !errors.As(err, &pe) || pe.Name != tc.arg {
				t.Fatalf("expected ParamError for %q, got %v", tc.arg, err)
			}
		})
	}
}

func TestImpliedVolatilityCustomBounds(t *testing.T) {
	p := Params{Spot: 100, Strike: 100, TimeToExpiry: 1, Rate: 0.05, Kind: Call}
	price, _ := Price(p.WithVolatility(0.2))

	// the true vol lies outside [0.3, 1]
	if _, ok, err := ImpliedVolatility(price, p, WithBounds(0.3, 1)); ok || err != nil {
		t.Fatalf("expected undefined outside bounds, ok=%v err=%v", ok, err)
	}

	iv, ok, err := ImpliedVolatility(price, p, WithBounds(0.1, 0.5), WithTolerance(1e-10))
	if err != nil || !ok {
		t.Fatalf("expected solution, ok=%v err=%v", ok, err)
	}
	if !almostEqual(iv, 0.2, 1e-8) {
		t.Fatalf("tight tolerance mismatch: got=%v", iv)
	}
}

func TestImpliedVolatilityDeterministic(t *testing.T) {
	p := Params{Spot: 250, Strike: 270, TimeToExpiry: 0.4, Rate: 0.045, DividendYield: 0.015, Kind: Put}
	first, ok1, _ := ImpliedVolatility(27.5, p)
	for i := 0; i < 10; i++ {
		again, ok2, _ := ImpliedVolatility(27.5, p)
		if again != first || ok1 != ok2 {
			t.Fatalf("non-deterministic result: %v/%v vs %v/%v", first, ok1, again, ok2)
		}
	}
}
