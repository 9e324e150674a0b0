// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var solvers = map[string]Solver{
	"kkt":   KKT{},
	"range": RangeSpace{},
}

func equalityQP(h *mat.SymDense, g []float64, a *mat.Dense, b []float64) *Subproblem {
	return &Subproblem{H: h, G: g, A: a, LowerA: b, UpperA: b}
}

func eye(n int) *mat.SymDense {
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		h.SetSym(i, i, 1)
	}
	return h
}

func TestToy(t *testing.T) {

	// minimize ½(p₁² + p₂²) subject to p₁ + p₂ = 2
	sp := equalityQP(eye(2), []float64{0, 0}, mat.NewDense(1, 2, []float64{1, 1}), []float64{2})

	for name, s := range solvers {
		sol, err := s.Solve(sp)
		switch {
		case err != nil:
			t.Fatalf("%s: %v", name, err)
		case !floats.EqualApprox(sol.X, []float64{1, 1}, 1e-14):
			t.Fatalf("%s: bad step %v", name, sol.X)
		case math.Abs(sol.Lambda[0]-1) > 1e-14:
			t.Fatalf("%s: bad multiplier %v", name, sol.Lambda)
		}
	}
}

func TestRandomStationary(t *testing.T) {

	const n, m = 6, 3
	rnd := rand.New(rand.NewPCG(1, 2))

	// 𝐇 = 𝐌ᵀ𝐌 + 𝐈
	mm := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			mm.Set(i, j, rnd.NormFloat64())
		}
	}
	h := mat.NewSymDense(n, nil)
	h.SymOuterK(1, mm.T())
	for i := 0; i < n; i++ {
		h.SetSym(i, i, h.At(i, i)+1)
	}

	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rnd.NormFloat64())
		}
	}
	g := make([]float64, n)
	b := make([]float64, m)
	for i := range g {
		g[i] = rnd.NormFloat64()
	}
	for i := range b {
		b[i] = rnd.NormFloat64()
	}

	sp := equalityQP(h, g, a, b)
	var prev *Solution
	for _, name := range []string{"kkt", "range"} {
		sol, err := solvers[name].Solve(sp)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		// 𝐇𝐩 + 𝐠 - 𝐀ᵀ𝛌 = 0
		var res, atl mat.VecDense
		res.MulVec(h, mat.NewVecDense(n, sol.X))
		res.AddVec(&res, mat.NewVecDense(n, g))
		atl.MulVec(a.T(), mat.NewVecDense(m, sol.Lambda))
		res.SubVec(&res, &atl)
		// 𝐀𝐩 = 𝐛
		var feas mat.VecDense
		feas.MulVec(a, mat.NewVecDense(n, sol.X))
		feas.SubVec(&feas, mat.NewVecDense(m, b))

		switch {
		case mat.Norm(&res, 2) > 1e-10:
			t.Fatalf("%s: not stationary %v", name, mat.Norm(&res, 2))
		case mat.Norm(&feas, 2) > 1e-10:
			t.Fatalf("%s: not feasible %v", name, mat.Norm(&feas, 2))
		case prev != nil && !floats.EqualApprox(prev.X, sol.X, 1e-9):
			t.Fatalf("%s: solvers disagree", name)
		}
		prev = sol
	}
}

func TestErrors(t *testing.T) {

	dup := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	for name, s := range solvers {
		if _, err := s.Solve(equalityQP(eye(2), []float64{0, 0}, dup, []float64{1, 1})); !errors.Is(err, ErrSingular) {
			t.Fatalf("%s: rank deficient constraints: %v", name, err)
		}

		sp := equalityQP(eye(2), []float64{0, 0}, mat.NewDense(1, 2, []float64{1, 1}), []float64{1})
		sp.UpperA = []float64{2}
		if _, err := s.Solve(sp); !errors.Is(err, ErrInfeasible) {
			t.Fatalf("%s: inequality row accepted: %v", name, err)
		}

		sp = equalityQP(eye(2), []float64{0, 0}, mat.NewDense(1, 2, []float64{1, 1}), []float64{1})
		sp.LowerX = []float64{0, math.Inf(-1)}
		if _, err := s.Solve(sp); !errors.Is(err, ErrInfeasible) {
			t.Fatalf("%s: finite bound accepted: %v", name, err)
		}

		sp.LowerX = []float64{math.Inf(-1), math.Inf(-1)}
		sp.UpperX = []float64{math.Inf(1), math.Inf(1)}
		if _, err := s.Solve(sp); err != nil {
			t.Fatalf("%s: infinite bounds rejected: %v", name, err)
		}

		sp = equalityQP(eye(3), []float64{0, 0}, mat.NewDense(1, 2, []float64{1, 1}), []float64{1})
		if _, err := s.Solve(sp); !errors.Is(err, ErrDimension) {
			t.Fatalf("%s: dimension mismatch accepted: %v", name, err)
		}
	}

	indef := mat.NewSymDense(2, []float64{1, 0, 0, -1})
	sp := equalityQP(indef, []float64{0, 0}, mat.NewDense(1, 2, []float64{1, 0}), []float64{1})
	if _, err := (RangeSpace{}).Solve(sp); !errors.Is(err, ErrNotConvex) {
		t.Fatalf("indefinite hessian accepted: %v", err)
	}
}
