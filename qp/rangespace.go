// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"gonum.org/v1/gonum/mat"
)

// RangeSpace eliminates 𝐩 = 𝐇⁻¹(𝐀ᵀ𝛌 - 𝐠) and solves the Schur complement system
//
//	𝐀𝐇⁻¹𝐀ᵀ𝛌 = 𝐛 + 𝐀𝐇⁻¹𝐠
//
// with two Cholesky factorizations. 𝐇 must be positive definite (ErrNotConvex otherwise)
// and 𝐀 must have full row rank (ErrSingular otherwise).
type RangeSpace struct{}

func (RangeSpace) Solve(sp *Subproblem) (*Solution, error) {
	n, m, b, err := sp.equality()
	if err != nil {
		return nil, err
	}

	var ch mat.Cholesky
	if ok := ch.Factorize(sp.H); !ok {
		return nil, ErrNotConvex
	}

	// 𝐖 = 𝐇⁻¹𝐀ᵀ
	var w mat.Dense
	if err = ch.SolveTo(&w, sp.A.T()); err != nil {
		return nil, ErrNotConvex
	}
	// 𝐇⁻¹𝐠
	hg := mat.NewVecDense(n, nil)
	if err = ch.SolveVecTo(hg, mat.NewVecDense(n, append([]float64(nil), sp.G...))); err != nil {
		return nil, ErrNotConvex
	}

	// 𝐒 = 𝐀𝐖, symmetrized against round-off
	var s mat.Dense
	s.Mul(sp.A, &w)
	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sym.SetSym(i, j, (s.At(i, j)+s.At(j, i))/2)
		}
	}

	var cs mat.Cholesky
	if ok := cs.Factorize(sym); !ok {
		return nil, ErrSingular
	}

	r := mat.NewVecDense(m, nil)
	r.MulVec(sp.A, hg)
	r.AddVec(r, mat.NewVecDense(m, b))

	lambda := mat.NewVecDense(m, nil)
	if err = cs.SolveVecTo(lambda, r); err != nil {
		return nil, ErrSingular
	}

	x := mat.NewVecDense(n, nil)
	x.MulVec(&w, lambda)
	x.SubVec(x, hg)

	return checkSolution(&Solution{
		X:      x.RawVector().Data,
		Lambda: lambda.RawVector().Data,
	})
}
