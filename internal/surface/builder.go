// Package surface turns scattered implied-volatility samples into a
// regular (strike, time to expiry) grid suitable for 3-D rendering.
package surface

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultResolution is the number of points on each axis.
const DefaultResolution = 50

var (
	// ErrInsufficientData is returned when no sample carries a volatility.
	ErrInsufficientData = errors.New("insufficient data: no samples with a defined implied volatility")

	// ErrInvalidResolution is returned for a resolution below one.
	ErrInvalidResolution = errors.New("invalid grid resolution")
)

// Builder resamples implied-volatility samples onto a grid.
type Builder struct {
	Resolution   int
	Interpolator Interpolator
}

// Option configures a Builder.
type Option func(*Builder)

// WithResolution sets the number of points per axis.
func WithResolution(n int) Option {
	return func(b *Builder) { b.Resolution = n }
}

// WithInterpolator swaps the interpolation strategy.
func WithInterpolator(in Interpolator) Option {
	return func(b *Builder) { b.Interpolator = in }
}

// NewBuilder returns a builder with a 50x50 linear grid unless overridden.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{Resolution: DefaultResolution, Interpolator: Linear{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build is shorthand for NewBuilder(WithResolution(resolution)).Build.
func Build(samples []Sample, resolution int) (*Grid, error) {
	return NewBuilder(WithResolution(resolution)).Build(samples)
}

// Build constructs the surface from samples.
//
// Invalid samples and samples with a non-finite volatility are dropped.
// The strike and maturity axes each span the [min, max] of the remaining
// samples with Resolution evenly spaced points, and every grid point is
// interpolated from the scattered samples. Grid points outside the convex
// hull of the samples are NaN.
//
// Errors:
//   - ErrInsufficientData: no usable sample
//   - ErrInvalidResolution: Resolution < 1
func (b *Builder) Build(samples []Sample) (*Grid, error) {
	if b.Resolution < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, b.Resolution)
	}
	interp := b.Interpolator
	if interp == nil {
		interp = Linear{}
	}

	points := make([]Point, 0, len(samples))
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Valid || math.IsNaN(s.ImpliedVol) || math.IsInf(s.ImpliedVol, 0) {
			continue
		}
		points = append(points, Point{X: s.Strike, Y: s.TimeToExpiry})
		values = append(values, s.ImpliedVol)
	}
	if len(points) == 0 {
		return nil, ErrInsufficientData
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	strikes := axis(floats.Min(xs), floats.Max(xs), b.Resolution)
	maturities := axis(floats.Min(ys), floats.Max(ys), b.Resolution)

	values2d, err := interp.Interpolate(points, values, strikes, maturities)
	if err != nil {
		return nil, fmt.Errorf("interpolating surface: %w", err)
	}
	return newGrid(strikes, maturities, values2d), nil
}

// axis returns n evenly spaced values from lo to hi inclusive.
func axis(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	return floats.Span(out, lo, hi)
}
