package numdiff

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use central difference in interior points and the second order accuracy
	// forward or backward difference near the boundary.
	Central
)

// Bound is the [lower, upper] range of one variable. NaN means no bound.
type Bound [2]float64

var (
	ErrMethod    = errors.New("numdiff: unknown method")
	ErrDimension = errors.New("numdiff: dimension mismatch")
	ErrBound     = errors.New("numdiff: invalid bound range")
	ErrOutside   = errors.New("numdiff: x0 violates bound constraints")
)

// Approx estimates the derivatives of a function by finite differences.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// An Approx keeps scratch buffers between calls and must not be shared between goroutines.
type Approx struct {
	// Finite difference method to use.
	Method Method
	// Lower and upper bounds on independent variables.
	// Use it to limit the range of function evaluation.
	Bounds []Bound
	// Relative step size used to compute absolute step size.
	// The default absolute step size is h = ε·sign(x0)·max(1,|x0|) with ε selected by Method.
	// Otherwise, absolute step size is computed as h = RelStep·sign(x0)·|x0|.
	RelStep float64
	// Absolute step size to use, possibly adjusted to fit into the bounds.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	// Don't check if x0 is out of bounds.
	NotChkBnd bool

	lb, ub  []float64
	h       []float64
	oneSide []bool
	xt      []float64
	f0      []float64
	f1, f2  []float64
}

// Jacobian stores the m×n Jacobian of f at x0 into dst, where f writes the m-vector f(x) into y.
func (a *Approx) Jacobian(dst *mat.Dense, f func(y, x []float64), x0 []float64) error {
	m, n := dst.Dims()
	if err := a.prepare(x0, m); err != nil {
		return err
	}
	if n != len(x0) {
		return ErrDimension
	}
	a.approx(f, x0, func(j, i int, d float64) { dst.Set(j, i, d) })
	return nil
}

// Gradient stores the gradient of the scalar function f at x0 into dst.
func (a *Approx) Gradient(dst []float64, f func(x []float64) float64, x0 []float64) error {
	if err := a.prepare(x0, 1); err != nil {
		return err
	}
	if len(dst) != len(x0) {
		return ErrDimension
	}
	fun := func(y, x []float64) { y[0] = f(x) }
	a.approx(fun, x0, func(_, i int, d float64) { dst[i] = d })
	return nil
}

// prepare checks the parameters and sizes the scratch buffers for n variables and m outputs.
func (a *Approx) prepare(x0 []float64, m int) error {
	n := len(x0)
	switch {
	case n == 0 || m <= 0:
		return ErrDimension
	case a.Method != Forward && a.Method != Central:
		return ErrMethod
	case a.Bounds != nil && len(a.Bounds) != n:
		return ErrDimension
	}

	a.lb, a.ub = resize(a.lb, n), resize(a.ub, n)
	for i := range x0 {
		l, u := math.Inf(-1), math.Inf(1)
		if a.Bounds != nil {
			if b := a.Bounds[i]; !math.IsNaN(b[0]) {
				l = b[0]
			}
			if b := a.Bounds[i]; !math.IsNaN(b[1]) {
				u = b[1]
			}
		}
		if l > u {
			return ErrBound
		}
		if !a.NotChkBnd && (x0[i] < l || x0[i] > u) {
			return ErrOutside
		}
		a.lb[i], a.ub[i] = l, u
	}

	a.h = resize(a.h, n)
	a.xt = resize(a.xt, n)
	a.f0, a.f1, a.f2 = resize(a.f0, m), resize(a.f1, m), resize(a.f2, m)
	if a.Method == Central {
		if len(a.oneSide) != n {
			a.oneSide = make([]bool, n)
		}
	} else {
		a.oneSide = a.oneSide[:0]
	}
	return nil
}

func (a *Approx) bounded() bool {
	for i, l := range a.lb {
		if !math.IsInf(l, -1) || !math.IsInf(a.ub[i], 1) {
			return true
		}
	}
	return false
}

func (a *Approx) approx(f func(y, x []float64), x0 []float64, set func(j, i int, d float64)) {
	a.absoluteStep(x0)
	a.adjustToBounds(x0, a.bounded())

	xt, f0, f1, f2 := a.xt, a.f0, a.f1, a.f2
	copy(xt, x0)
	f(f0, xt)

	for i, s := range a.h {
		x := x0[i]
		switch {
		case a.Method == Forward:
			xt[i] = x + s
			f(f1, xt)
			d := 1.0 / s
			for j := range f0 {
				set(j, i, (f1[j]-f0[j])*d)
			}
		case a.oneSide[i]:
			// second order one-sided difference near a bound
			xt[i] = x + s
			f(f1, xt)
			xt[i] = x + 2*s
			f(f2, xt)
			d := 1.0 / (2 * s)
			for j := range f0 {
				set(j, i, (4*f1[j]-3*f0[j]-f2[j])*d)
			}
		default:
			xt[i] = x - s
			f(f1, xt)
			xt[i] = x + s
			f(f2, xt)
			d := 1.0 / (2 * s)
			for j := range f0 {
				set(j, i, (f2[j]-f1[j])*d)
			}
		}
		xt[i] = x
	}
}

func (a *Approx) absoluteStep(x0 []float64) {
	h := a.h
	eps := sqrtEps
	if a.Method == Central {
		eps = cubeEps
	}

	if a.AbsStep == 0 && a.RelStep == 0 {
		for i, v := range x0 {
			h[i] = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		return
	}
	for i, v := range x0 {
		s := a.AbsStep
		if s == 0 {
			s = math.Copysign(a.RelStep, v) * math.Abs(v)
		}
		if (v+s)-v == 0 {
			s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		h[i] = s
	}
}

func (a *Approx) adjustToBounds(x0 []float64, bnd bool) {
	h, o := a.h, a.oneSide
	if a.Method == Central {
		for i, v := range h {
			h[i] = math.Abs(v)
			o[i] = false
		}
	}
	if !bnd {
		return
	}

	for i, x := range x0 {
		ld, ud := x-a.lb[i], a.ub[i]-x
		if a.Method == Forward {
			h0 := h[i]
			xh := x + h0
			violated := xh < a.lb[i] || xh > a.ub[i]
			fitting := math.Abs(h0) < math.Max(ld, ud)
			switch {
			case violated && fitting:
				h[i] = -h0
			case !fitting && ud >= ld:
				h[i] = ud
			case !fitting:
				h[i] = -ld
			}
			continue
		}

		central := ld >= h[i] && ud >= h[i]
		if !central {
			if ud >= ld {
				h[i] = math.Min(h[i], 0.5*ud)
			} else {
				h[i] = -math.Min(h[i], 0.5*ld)
			}
			o[i] = true
			if minDist := math.Min(ud, ld); math.Abs(h[i]) <= minDist {
				h[i] = minDist
				o[i] = false
			}
		}
	}
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}
