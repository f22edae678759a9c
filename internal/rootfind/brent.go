// Package rootfind provides bracketing root-finders for scalar functions.
//
// A root-finder is handed f together with an interval [low, high] on which
// f changes sign, and narrows the bracket until its width falls under the
// requested absolute tolerance. Failure to bracket, a NaN from f, or
// exhausting the iteration cap are all reported as ok == false rather than
// as errors: callers treat an unsolvable input as "no answer" and move on.
package rootfind

import "math"

// DefaultMaxIter is the iteration cap used when a solver's MaxIter is zero.
const DefaultMaxIter = 100

// relTol is the relative part of the stopping criterion, four machine
// epsilons, so huge roots still terminate.
const relTol = 4 * 2.220446049250313e-16

// Func is a scalar function of one variable.
type Func func(x float64) float64

// Solver locates a zero of f inside [low, high] to within tol.
type Solver interface {
	Solve(f Func, low, high, tol float64) (root float64, ok bool)
}

// Brent is Brent's method in the form used by netlib's zeroin / scipy's
// brentq: inverse quadratic interpolation or secant steps, falling back to
// bisection whenever the interpolated step is not short enough.
type Brent struct {
	MaxIter int
}

// Solve implements Solver.
//
// Returns:
//   - root: the abscissa whose bracket is narrower than tol (+ 4ε|root|)
//   - ok: false if f(low) and f(high) share a sign, if f yields NaN, if the
//     interval is malformed, or if MaxIter iterations were not enough
func (b Brent) Solve(f Func, low, high, tol float64) (float64, bool) {
	if !validInterval(low, high, tol) {
		return 0, false
	}
	maxIter := b.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}

	xpre, xcur := low, high
	fpre, fcur := f(xpre), f(xcur)
	if math.IsNaN(fpre) || math.IsNaN(fcur) {
		return 0, false
	}
	if fpre == 0 {
		return xpre, true
	}
	if fcur == 0 {
		return xcur, true
	}
	if math.Signbit(fpre) == math.Signbit(fcur) {
		return 0, false
	}

	var xblk, fblk, spre, scur float64
	for i := 0; i < maxIter; i++ {
		if fpre != 0 && fcur != 0 && math.Signbit(fpre) != math.Signbit(fcur) {
			xblk, fblk = xpre, fpre
			spre = xcur - xpre
			scur = spre
		}
		// keep xcur as the best estimate
		if math.Abs(fblk) < math.Abs(fcur) {
			xpre, xcur, xblk = xcur, xblk, xcur
			fpre, fcur, fblk = fcur, fblk, fcur
		}

		delta := (tol + relTol*math.Abs(xcur)) / 2
		sbis := (xblk - xcur) / 2
		if fcur == 0 || math.Abs(sbis) < delta {
			return xcur, true
		}

		if math.Abs(spre) > delta && math.Abs(fcur) < math.Abs(fpre) {
			var stry float64
			if xpre == xblk {
				// secant
				stry = -fcur * (xcur - xpre) / (fcur - fpre)
			} else {
				// inverse quadratic
				dpre := (fpre - fcur) / (xpre - xcur)
				dblk := (fblk - fcur) / (xblk - xcur)
				stry = -fcur * (fblk*dblk - fpre*dpre) / (dblk * dpre * (fblk - fpre))
			}
			if 2*math.Abs(stry) < math.Min(math.Abs(spre), 3*math.Abs(sbis)-delta) {
				spre, scur = scur, stry
			} else {
				spre, scur = sbis, sbis
			}
		} else {
			spre, scur = sbis, sbis
		}

		xpre, fpre = xcur, fcur
		if math.Abs(scur) > delta {
			xcur += scur
		} else if sbis > 0 {
			xcur += delta
		} else {
			xcur -= delta
		}

		fcur = f(xcur)
		if math.IsNaN(fcur) {
			return 0, false
		}
	}
	return 0, false
}

// Bisection halves the bracket each iteration. It converges linearly and is
// kept as a slow but unconditionally robust alternative to Brent.
type Bisection struct {
	MaxIter int
}

// Solve implements Solver.
func (b Bisection) Solve(f Func, low, high, tol float64) (float64, bool) {
	if !validInterval(low, high, tol) {
		return 0, false
	}
	maxIter := b.MaxIter
	if maxIter <= 0 {
		// enough halvings to shrink any float64 interval below tol
		maxIter = 2 * DefaultMaxIter
	}

	flo, fhi := f(low), f(high)
	if math.IsNaN(flo) || math.IsNaN(fhi) {
		return 0, false
	}
	if flo == 0 {
		return low, true
	}
	if fhi == 0 {
		return high, true
	}
	if math.Signbit(flo) == math.Signbit(fhi) {
		return 0, false
	}

	for i := 0; i < maxIter; i++ {
		mid := low + (high-low)/2
		if high-low < tol {
			return mid, true
		}
		fmid := f(mid)
		switch {
		case math.IsNaN(fmid):
			return 0, false
		case fmid == 0:
			return mid, true
		case math.Signbit(fmid) == math.Signbit(flo):
			low, flo = mid, fmid
		default:
			high = mid
		}
	}
	return 0, false
}

// New returns the solver registered under name ("brent" or "bisection").
func New(name string) (Solver, bool) {
	switch name {
	case "", "brent":
		return Brent{}, true
	case "bisection", "bisect":
		return Bisection{}, true
	}
	return nil, false
}

func validInterval(low, high, tol float64) bool {
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return false
	}
	return low < high && tol > 0
}
