package numdiff

import (
	"errors"
	"math"
	"reflect"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func objV2(y, x []float64) {
	y[0] = x[0] * math.Sin(x[1])
	y[1] = x[1] * math.Cos(x[0])
	y[2] = math.Pow(x[0], 3) * math.Pow(x[1], -0.5)
}

func jacV2(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]), x[0] * math.Cos(x[1]),
		-x[1] * math.Sin(x[0]), math.Cos(x[0]),
		3 * math.Pow(x[0], 2) * math.Pow(x[1], -0.5), -0.5 * math.Pow(x[0], 3) * math.Pow(x[1], -1.5),
	}
}

func relativeEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol*math.Max(1, math.Abs(b[i])) {
			return false
		}
	}
	return true
}

// Case Sources : https://github.com/scipy/scipy/blob/main/scipy/optimize/tests/test__numdiff.py (TestAdjustSchemeToBounds)
func TestAdjustToBnd(t *testing.T) {

	// test_no_bounds
	{
		x0 := slices.Repeat([]float64{0}, 3)
		h0 := slices.Repeat([]float64{0.01}, 3)

		a := Approx{Method: Forward}
		_ = a.prepare(x0, 1)
		copy(a.h, h0)
		a.adjustToBounds(x0, false)

		switch {
		case !relativeEqual(a.h, h0, 0):
			t.Fatal("unexpected adjust step")
		case len(a.oneSide) > 0:
			t.Fatal("unexpected side flag")
		}

		a.Method = Central
		_ = a.prepare(x0, 1)
		copy(a.h, h0)
		a.adjustToBounds(x0, false)

		switch {
		case !relativeEqual(a.h, h0, 0):
			t.Fatal("unexpected adjust step")
		case len(a.oneSide) != 3 || slices.Index(a.oneSide, true) != -1:
			t.Fatal("unexpected side flag")
		}
	}

	// test_with_bound
	{
		x0 := []float64{0, 0.85, -0.85}
		h0 := []float64{0.1, 0.1, -0.1}

		a := Approx{Method: Forward, Bounds: []Bound{{-1, 1}, {-1, 1}, {-1, 1}}}
		_ = a.prepare(x0, 1)
		copy(a.h, h0)
		a.adjustToBounds(x0, true)

		if !relativeEqual(a.h, h0, 0) {
			t.Fatal("unexpected adjust step")
		}

		a.Method = Central
		_ = a.prepare(x0, 1)
		copy(a.h, h0)
		a.adjustToBounds(x0, true)

		switch {
		case !relativeEqual(a.h, []float64{0.1, 0.1, 0.1}, 0):
			t.Fatal("unexpected adjust step")
		case slices.Index(a.oneSide, true) != -1:
			t.Fatal("unexpected side flag")
		}
	}

	// test_tight_bounds
	{
		x0 := []float64{0.0, 0.03}
		h0 := []float64{-0.1, -0.1}

		a := Approx{Method: Forward, Bounds: []Bound{{-0.03, 0.05}, {-0.03, 0.05}}}
		_ = a.prepare(x0, 1)
		copy(a.h, h0)
		a.adjustToBounds(x0, true)

		if !relativeEqual(a.h, []float64{0.05, -0.06}, 0) {
			t.Fatal("unexpected adjust step")
		}

		a.Method = Central
		_ = a.prepare(x0, 1)
		copy(a.h, h0)
		a.adjustToBounds(x0, true)

		switch {
		case !relativeEqual(a.h, []float64{0.03, -0.03}, 0):
			t.Fatal("unexpected adjust step")
		case !reflect.DeepEqual(a.oneSide, []bool{false, true}):
			t.Fatal("unexpected side flag")
		}
	}
}

// Case Sources : https://github.com/scipy/scipy/blob/main/scipy/optimize/tests/test__numdiff.py (test_absolute_step_sign)
func TestAbsoluteStep(t *testing.T) {

	x0 := []float64{1e-5, 0, 1, 1e5}

	for method, eps := range map[Method]float64{
		Forward: sqrtEps,
		Central: cubeEps,
	} {
		want := []float64{eps, eps, eps, eps * math.Abs(x0[3])}

		a := Approx{Method: method}
		_ = a.prepare(x0, 1)
		a.absoluteStep(x0)
		if !relativeEqual(a.h, want, 1e-12) {
			t.Fatalf("unexpected abs step for method %d", method)
		}
	}

	// user-specified relative step falls back to ε when the step vanishes
	a := Approx{Method: Forward, RelStep: 0.1}
	_ = a.prepare(x0, 1)
	a.absoluteStep(x0)
	want := []float64{0.1 * x0[0], sqrtEps, 0.1 * x0[2], 0.1 * x0[3]}
	if !relativeEqual(a.h, want, 1e-12) {
		t.Fatal("unexpected relative step")
	}
}

func TestJacobian(t *testing.T) {

	x0 := []float64{1.0, 0.5}
	keep := slices.Clone(x0)
	want := jacV2(x0)

	for method, tol := range map[Method]float64{
		Forward: 1e-6,
		Central: 1e-8,
	} {
		a := Approx{Method: method}
		jac := mat.NewDense(3, 2, nil)
		if err := a.Jacobian(jac, objV2, x0); err != nil {
			t.Fatal(err)
		}
		switch {
		case !relativeEqual(jac.RawMatrix().Data, want, tol):
			t.Fatalf("bad jacobian for method %d: %v", method, jac.RawMatrix().Data)
		case !slices.Equal(x0, keep):
			t.Fatal("x0 modified")
		}
	}
}

func TestJacobianNearBound(t *testing.T) {

	x0 := []float64{1.0, 0.5}
	a := Approx{Method: Central, Bounds: []Bound{{0.9, 1.0}, {math.NaN(), math.NaN()}}}
	jac := mat.NewDense(3, 2, nil)
	if err := a.Jacobian(jac, objV2, x0); err != nil {
		t.Fatal(err)
	}
	if !relativeEqual(jac.RawMatrix().Data, jacV2(x0), 1e-7) {
		t.Fatalf("bad one-sided jacobian: %v", jac.RawMatrix().Data)
	}
	if !a.oneSide[0] || a.h[0] >= 0 {
		t.Fatal("expected backward one-sided step at the upper bound")
	}
}

func TestGradient(t *testing.T) {

	rosen := func(x []float64) float64 {
		return 100*math.Pow(x[1]-x[0]*x[0], 2) + math.Pow(1-x[0], 2)
	}
	x0 := []float64{-1.2, 1}
	want := []float64{
		-400*(x0[1]-x0[0]*x0[0])*x0[0] - 2*(1-x0[0]),
		200 * (x0[1] - x0[0]*x0[0]),
	}

	a := Approx{Method: Central}
	g := make([]float64, 2)
	if err := a.Gradient(g, rosen, x0); err != nil {
		t.Fatal(err)
	}
	if !relativeEqual(g, want, 1e-7) {
		t.Fatalf("bad gradient: %v", g)
	}
}

func TestCheck(t *testing.T) {

	x0 := []float64{0, 0}
	jac := mat.NewDense(1, 2, nil)
	f := func(y, x []float64) { y[0] = x[0] + x[1] }

	cases := []struct {
		a    Approx
		want error
	}{
		{Approx{Method: Method(7)}, ErrMethod},
		{Approx{Bounds: []Bound{{0, 1}}}, ErrDimension},
		{Approx{Bounds: []Bound{{1, 0}, {0, 1}}}, ErrBound},
		{Approx{Bounds: []Bound{{1, 2}, {0, 1}}}, ErrOutside},
	}
	for i, c := range cases {
		if err := c.a.Jacobian(jac, f, x0); !errors.Is(err, c.want) {
			t.Fatalf("case %d: got %v want %v", i, err, c.want)
		}
	}

	a := Approx{Bounds: []Bound{{1, 2}, {0, 1}}, NotChkBnd: true}
	if err := a.Jacobian(jac, f, x0); err != nil {
		t.Fatal("out of bound x0 should be accepted")
	}
	if err := a.Gradient(make([]float64, 3), func(x []float64) float64 { return 0 }, x0); !errors.Is(err, ErrDimension) {
		t.Fatal("gradient dimension not checked")
	}
}
