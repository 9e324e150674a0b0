// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"gonum.org/v1/gonum/mat"
)

// KKT solves the full-space optimality system by LU factorization:
//
//	⎡ 𝐇  -𝐀ᵀ ⎤⎡ 𝐩 ⎤   ⎡ -𝐠 ⎤
//	⎣ 𝐀   𝐎  ⎦⎣ 𝛌 ⎦ = ⎣  𝐛 ⎦
//
// It only requires the reduced Hessian to be positive definite,
// and reports ErrSingular when the system is (numerically) singular.
type KKT struct{}

func (KKT) Solve(sp *Subproblem) (*Solution, error) {
	n, m, b, err := sp.equality()
	if err != nil {
		return nil, err
	}

	k := mat.NewDense(n+m, n+m, nil)
	rhs := mat.NewVecDense(n+m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k.Set(i, j, sp.H.At(i, j))
		}
		rhs.SetVec(i, -sp.G[i])
	}
	for r := 0; r < m; r++ {
		for c := 0; c < n; c++ {
			a := sp.A.At(r, c)
			k.Set(n+r, c, a)
			k.Set(c, n+r, -a)
		}
		rhs.SetVec(n+r, b[r])
	}

	var lu mat.LU
	lu.Factorize(k)
	z := mat.NewVecDense(n+m, nil)
	if err = lu.SolveVecTo(z, false, rhs); err != nil {
		return nil, ErrSingular
	}

	raw := z.RawVector().Data
	return checkSolution(&Solution{
		X:      append([]float64(nil), raw[:n]...),
		Lambda: append([]float64(nil), raw[n:]...),
	})
}
