// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rocket

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trajopt/numdiff"
	"github.com/curioloop/trajopt/sqp"
)

func newModel(t *testing.T) *Model {
	t.Helper()
	r, err := New(DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestJacobian(t *testing.T) {

	r := newModel(t)
	n, m := r.Dims()

	for _, u := range [][]float64{
		r.Start(),
		{0.5, 0.3, -0.2, 0.1, 0, 0.4, -0.5, 0.2, 0.25, -1},
	} {
		c := make([]float64, m)
		jac := mat.NewDense(m, n, nil)
		if err := r.Constraints(u, c, jac); err != nil {
			t.Fatal(err)
		}

		approx := mat.NewDense(m, n, nil)
		diff := numdiff.Approx{Method: numdiff.Central}
		err := diff.Jacobian(approx, func(y, x []float64) {
			if e := r.Constraints(x, y, nil); e != nil {
				t.Fatal(e)
			}
		}, u)
		if err != nil {
			t.Fatal(err)
		}

		if !mat.EqualApprox(jac, approx, 1e-7) {
			t.Fatalf("TestJacobian: exact\n%v\nfinite difference\n%v",
				mat.Formatted(jac), mat.Formatted(approx))
		}

		// values alone agree with the sensitivity pass
		plain := make([]float64, m)
		if err = r.Constraints(u, plain, nil); err != nil {
			t.Fatal(err)
		}
		if !floats.Equal(c, plain) {
			t.Fatalf("TestJacobian: constraint values differ %v %v", c, plain)
		}
	}
}

func TestObjective(t *testing.T) {
	r := newModel(t)
	u := []float64{1, 2, 0, 0, 0, 0, 0, 0, 0, -2}
	g := make([]float64, len(u))
	f, err := r.Objective(u, g)
	switch {
	case err != nil:
		t.Fatal(err)
	case f != 4.5:
		t.Fatalf("TestObjective: f = %g", f)
	case !floats.Equal(g, u):
		t.Fatalf("TestObjective: grad = %v", g)
	}
}

func TestSimulate(t *testing.T) {

	r := newModel(t)

	// no thrust, no motion
	tr, err := r.Simulate(make([]float64, 10))
	switch {
	case err != nil:
		t.Fatal(err)
	case len(tr.S) != 101 || len(tr.A) != 100:
		t.Fatal("TestSimulate: bad length")
	case tr.S[100] != 0 || tr.V[100] != 0 || tr.M[100] != 1:
		t.Fatal("TestSimulate: rocket moved without thrust")
	case math.Abs(tr.T[100]-10) > 1e-12:
		t.Fatalf("TestSimulate: horizon %g", tr.T[100])
	}

	// the terminal state matches the constraint values
	u := r.Start()
	tr, err = r.Simulate(u)
	if err != nil {
		t.Fatal(err)
	}
	c := make([]float64, 2)
	if err = r.Constraints(u, c, nil); err != nil {
		t.Fatal(err)
	}
	switch {
	case c[0] != tr.S[100]-10 || c[1] != tr.V[100]:
		t.Fatalf("TestSimulate: %v vs (%g, %g)", c, tr.S[100], tr.V[100])
	case !(tr.M[100] < 1):
		t.Fatal("TestSimulate: no fuel burnt")
	case tr.A[0] != 0.4 || tr.A[99] != 0.4:
		t.Fatal("TestSimulate: bad thrust profile")
	}

	if _, err = r.Simulate([]float64{1}); err == nil {
		t.Fatal("TestSimulate: dimension not checked")
	}
}

func TestMassDepleted(t *testing.T) {
	r := newModel(t)
	u := make([]float64, 10)
	u[0] = 10 // 𝒎₁ = 1 - 0.1·0.1·100 = 0
	c := make([]float64, 2)
	if err := r.Constraints(u, c, nil); !errors.Is(err, ErrMassDepleted) {
		t.Fatalf("TestMassDepleted: got %v", err)
	}
	if _, err := r.Simulate(u); !errors.Is(err, ErrMassDepleted) {
		t.Fatalf("TestMassDepleted: got %v", err)
	}
}

func TestValidate(t *testing.T) {
	for i, modify := range []func(*Params){
		func(p *Params) { p.Steps = 0 },
		func(p *Params) { p.Controls = 0 },
		func(p *Params) { p.Controls = 7 },
		func(p *Params) { p.Dt = 0 },
		func(p *Params) { p.M0 = -1 },
		func(p *Params) { p.Drag = -1 },
		func(p *Params) { p.Lower = 1 },
	} {
		p := DefaultParams()
		modify(&p)
		if _, err := New(p); err == nil {
			t.Fatalf("TestValidate: case %d accepted", i)
		}
	}
}

func TestSolve(t *testing.T) {

	r := newModel(t)
	x0 := r.Start()

	c0 := make([]float64, 2)
	if err := r.Constraints(x0, c0, nil); err != nil {
		t.Fatal(err)
	}

	p := sqp.Problem{Model: r}
	o, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Fit(x0, o.Init())

	switch {
	case err != nil:
		t.Fatal(err)
	case res.Violation > 1e-6:
		t.Fatalf("TestSolve: violation %g after %d iterations (%v)", res.Violation, res.NumIter, res.Status)
	case res.Violation >= floats.Norm(c0, 1):
		t.Fatal("TestSolve: no progress")
	}

	tr, err := r.Simulate(res.X)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(tr.S[100]-10) > 1e-6 || math.Abs(tr.V[100]) > 1e-6 {
		t.Fatalf("TestSolve: terminal state (%g, %g)", tr.S[100], tr.V[100])
	}
}
