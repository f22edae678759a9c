package surface

import (
	"encoding/json"
	"math"
)

// Sample is one solved quote: the implied volatility observed at a strike
// and time to expiry. Valid is false when the solver found no volatility
// for the quote; such samples are ignored by the builder.
type Sample struct {
	Strike       float64 `json:"strike"`
	TimeToExpiry float64 `json:"time_to_expiry"`
	ImpliedVol   float64 `json:"implied_vol"`
	Valid        bool    `json:"valid"`
}

// Point is a location in (strike, time to expiry) space.
type Point struct {
	X float64 // strike
	Y float64 // time to expiry, years
}

// Grid is a volatility surface sampled on a rectangular lattice.
//
// Values are indexed [maturity][strike], the layout of a meshgrid with
// maturities along the rows. Missing values are NaN. A Grid is never
// modified after Build returns it; accessors hand out copies.
type Grid struct {
	strikes    []float64
	maturities []float64
	values     [][]float64
}

func newGrid(strikes, maturities []float64, values [][]float64) *Grid {
	return &Grid{strikes: strikes, maturities: maturities, values: values}
}

// Strikes returns a copy of the strike axis.
func (g *Grid) Strikes() []float64 { return append([]float64(nil), g.strikes...) }

// Maturities returns a copy of the time-to-expiry axis.
func (g *Grid) Maturities() []float64 { return append([]float64(nil), g.maturities...) }

// Values returns a copy of the value matrix, [maturity][strike].
func (g *Grid) Values() [][]float64 {
	out := make([][]float64, len(g.values))
	for i, row := range g.values {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// At returns the value at maturity index i and strike index j, with ok
// false when the point lies outside the sampled region.
func (g *Grid) At(i, j int) (float64, bool) {
	v := g.values[i][j]
	return v, !math.IsNaN(v)
}

// Defined counts grid points carrying a value.
func (g *Grid) Defined() int {
	n := 0
	for _, row := range g.values {
		for _, v := range row {
			if !math.IsNaN(v) {
				n++
			}
		}
	}
	return n
}

// Scale returns a new grid with every defined value multiplied by f,
// e.g. Scale(100) for percentage points.
func (g *Grid) Scale(f float64) *Grid {
	values := g.Values()
	for _, row := range values {
		for j := range row {
			row[j] *= f
		}
	}
	return newGrid(g.Strikes(), g.Maturities(), values)
}

type gridJSON struct {
	Strikes    []float64    `json:"strikes"`
	Maturities []float64    `json:"maturities"`
	Values     [][]*float64 `json:"values"`
}

// MarshalJSON encodes missing values as null; JSON has no NaN.
func (g *Grid) MarshalJSON() ([]byte, error) {
	out := gridJSON{Strikes: g.strikes, Maturities: g.maturities, Values: make([][]*float64, len(g.values))}
	for i, row := range g.values {
		out.Values[i] = make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				v := row[j]
				out.Values[i][j] = &v
			}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the MarshalJSON form, null becoming NaN.
func (g *Grid) UnmarshalJSON(b []byte) error {
	var in gridJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	values := make([][]float64, len(in.Values))
	for i, row := range in.Values {
		values[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				values[i][j] = math.NaN()
			} else {
				values[i][j] = *v
			}
		}
	}
	*g = Grid{strikes: in.Strikes, maturities: in.Maturities, values: values}
	return nil
}
