// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Secant selects the vector blended with 𝐁𝐬 in the damped BFGS update.
type Secant int

const (
	// SecantStep uses 𝐫 = 𝛉𝐬 + (1-𝛉)𝐁𝐬.
	SecantStep Secant = iota
	// SecantLagrangian uses 𝐫 = 𝛉𝐲 + (1-𝛉)𝐁𝐬 (Powell damping).
	SecantLagrangian
)

func (s Secant) String() string {
	switch s {
	case SecantStep:
		return "step"
	case SecantLagrangian:
		return "lagrangian"
	}
	return fmt.Sprintf("secant(%d)", int(s))
}

// ParseSecant returns the Secant named by s.
func ParseSecant(s string) (Secant, error) {
	switch s {
	case "", "step":
		return SecantStep, nil
	case "lagrangian":
		return SecantLagrangian, nil
	}
	return 0, fmt.Errorf("sqp: unknown secant %q", s)
}

// maxCond bounds the condition number of an accepted 𝐁ᵏ⁺¹.
const maxCond = 1e12

// hessian keeps 𝐁 = 𝐔ᵀ𝐔 by its Cholesky factor 𝐔 and forms the dense 𝐁 for the QP sub-problem.
// Updating the factor keeps 𝐔 nonsingular, so 𝐁 stays positive definite in floating point.
type hessian struct {
	chol  mat.Cholesky  // 𝐁ᵏ
	trial mat.Cholesky  // candidate 𝐁ᵏ⁺¹
	sym   *mat.SymDense // 𝐔ᵀ𝐔
	eye   *mat.TriDense
	us    *mat.VecDense // 𝐔𝐬
	bs    *mat.VecDense // 𝐁𝐬
	r     *mat.VecDense
}

func newHessian(n int) *hessian {
	h := &hessian{
		sym: mat.NewSymDense(n, nil),
		eye: mat.NewTriDense(n, mat.Upper, nil),
		us:  mat.NewVecDense(n, nil),
		bs:  mat.NewVecDense(n, nil),
		r:   mat.NewVecDense(n, nil),
	}
	for i := 0; i < n; i++ {
		h.eye.SetTri(i, i, one)
	}
	h.reset()
	return h
}

// reset sets 𝐁 = 𝐈.
func (h *hessian) reset() {
	h.chol.SetFromU(h.eye)
	h.chol.ToSym(h.sym)
}

// update applies the modified BFGS formula to 𝐁:
//   - 𝐁ᵏ⁺¹ = 𝐁ᵏ - 𝐁ᵏ𝐬𝐬ᵀ𝐁ᵏ/𝐬ᵀ𝐁ᵏ𝐬 + 𝐫𝐫ᵀ/𝐫ᵀ𝐬
//   - 𝐬 = 𝐱ᵏ⁺¹ - 𝐱ᵏ
//   - 𝐲 = 𝜵ℒ(𝐱ᵏ⁺¹,𝛌ᵏ⁺¹) - 𝜵ℒ(𝐱ᵏ,𝛌̂)
//   - 𝐫 = 𝛉𝐬 + (1-𝛉)𝐁ᵏ𝐬 (or 𝛉𝐲 + (1-𝛉)𝐁ᵏ𝐬 for SecantLagrangian)
//   - if 𝐬ᵀ𝐲 ≥ ⅕ 𝐬ᵀ𝐁ᵏ𝐬 : 𝛉 = 1
//   - otherwise : 𝛉 = ⅘ 𝐬ᵀ𝐁ᵏ𝐬 / (𝐬ᵀ𝐁ᵏ𝐬 - 𝐬ᵀ𝐲)
//
// The rank-one terms are applied to the factor as an update by 𝐫 followed by a downdate by 𝐁ᵏ𝐬.
// When 𝐬ᵀ𝐁ᵏ𝐬 or 𝐫ᵀ𝐬 is not safely positive, or the downdated factor is not positive definite
// or has condition number above maxCond, 𝐁 is left unchanged and ErrDegenerateUpdate is returned.
//
// # Reference
//
// Nocedal, Wright: "Numerical Optimization", 2nd ed., Procedure 18.2.
// Gill, Golub, Murray, Saunders: "Methods for modifying matrix factorizations", 1974.
func (h *hessian) update(dx, y []float64, secant Secant) (theta float64, err error) {
	n := len(dx)
	s := mat.NewVecDense(n, dx)

	u := h.chol.RawU()
	h.us.MulVec(u, s)
	h.bs.MulVec(u.T(), h.us)   // 𝐁𝐬 = 𝐔ᵀ𝐔𝐬
	sBs := mat.Dot(h.us, h.us) // 𝐬ᵀ𝐁𝐬
	sy := floats.Dot(dx, y)    // 𝐬ᵀ𝐲
	ss := floats.Dot(dx, dx)   // 𝐬ᵀ𝐬

	if !(sBs > eps*ss) || math.IsInf(sBs, 0) || math.IsNaN(sy) {
		return 0, ErrDegenerateUpdate
	}

	theta = one
	if sy < 0.2*sBs {
		theta = 0.8 * sBs / (sBs - sy)
	}

	if secant == SecantLagrangian {
		h.r.ScaleVec(theta, mat.NewVecDense(n, y))
	} else {
		h.r.ScaleVec(theta, s)
	}
	h.r.AddScaledVec(h.r, one-theta, h.bs)

	rs := mat.Dot(h.r, s) // 𝐫ᵀ𝐬
	if !(rs > zero) || math.IsInf(rs, 0) {
		return theta, ErrDegenerateUpdate
	}

	h.trial.SymRankOne(&h.chol, one/rs, h.r)
	if !h.trial.SymRankOne(&h.trial, -one/sBs, h.bs) || !(h.trial.Cond() <= maxCond) {
		return theta, ErrDegenerateUpdate
	}

	h.chol.Clone(&h.trial)
	h.chol.ToSym(h.sym)
	return theta, nil
}
