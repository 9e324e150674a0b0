// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qp solves the quadratic sub-problem of an SQP iteration:
//
// minimize ½ 𝐩ᵀ𝐇𝐩 + 𝐠ᵀ𝐩 subject to
//   - 𝒍ₐ ≤ 𝐀𝐩 ≤ 𝒖ₐ
//   - 𝒍ₓ ≤ 𝐩 ≤ 𝒖ₓ
//
// The solvers in this package handle the equality case 𝒍ₐ = 𝒖ₐ with unbounded 𝐩,
// which is how the SQP driver linearizes 𝒄(𝐱 + 𝐩) = 0.
// The multipliers 𝛌 follow the convention 𝐇𝐩 + 𝐠 - 𝐀ᵀ𝛌 = 0.
package qp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimension input sizes are inconsistent.
	ErrDimension = errors.New("qp: dimension mismatch")
	// ErrSingular the KKT system is singular (rank-deficient constraints).
	ErrSingular = errors.New("qp: singular kkt system")
	// ErrNotConvex the Hessian is not positive definite.
	ErrNotConvex = errors.New("qp: hessian not positive definite")
	// ErrInfeasible the constraints cannot be handled as equalities.
	ErrInfeasible = errors.New("qp: infeasible sub-problem")
	// ErrUnbounded the solution is not finite.
	ErrUnbounded = errors.New("qp: unbounded sub-problem")
)

// Subproblem is one QP instance. It is transient and owned by the caller.
type Subproblem struct {
	H      *mat.SymDense // n×n quadratic term
	G      []float64     // n linear term
	A      *mat.Dense    // m×n constraint matrix
	LowerA []float64     // m
	UpperA []float64     // m
	// Optional variable bounds, nil or ±∞ means unbounded.
	LowerX, UpperX []float64
}

// Solution holds the primal step and the multipliers of the rows of A.
type Solution struct {
	X      []float64
	Lambda []float64
}

// Solver computes a stationary point of a convex QP.
type Solver interface {
	Solve(sp *Subproblem) (*Solution, error)
}

// equality reduces sp to 𝐀𝐩 = 𝐛 and returns 𝐛.
func (sp *Subproblem) equality() (n, m int, b []float64, err error) {
	if sp.H == nil || sp.A == nil {
		return 0, 0, nil, ErrDimension
	}
	n = sp.H.SymmetricDim()
	r, c := sp.A.Dims()
	m = r
	switch {
	case c != n || len(sp.G) != n:
		return 0, 0, nil, ErrDimension
	case len(sp.LowerA) != m || len(sp.UpperA) != m:
		return 0, 0, nil, ErrDimension
	case sp.LowerX != nil && len(sp.LowerX) != n:
		return 0, 0, nil, ErrDimension
	case sp.UpperX != nil && len(sp.UpperX) != n:
		return 0, 0, nil, ErrDimension
	}
	for _, l := range sp.LowerX {
		if !math.IsInf(l, -1) {
			return 0, 0, nil, ErrInfeasible
		}
	}
	for _, u := range sp.UpperX {
		if !math.IsInf(u, 1) {
			return 0, 0, nil, ErrInfeasible
		}
	}
	b = make([]float64, m)
	for j, l := range sp.LowerA {
		if u := sp.UpperA[j]; l != u || math.IsInf(l, 0) || math.IsNaN(l) {
			return 0, 0, nil, ErrInfeasible
		}
		b[j] = l
	}
	return
}

func checkSolution(sol *Solution) (*Solution, error) {
	for _, v := range sol.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrUnbounded
		}
	}
	for _, v := range sol.Lambda {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrUnbounded
		}
	}
	return sol, nil
}

