// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

// LineSearch specifies the L1 merit function and the backtracking search.
type LineSearch struct {
	// Weight 𝛔 of the curvature term in the quadratic merit model (𝐁 > 0 makes 𝛔 = 1 valid).
	Sigma float64
	// Fraction 𝛒 of the modelled decrease the penalty must guarantee, 0 < 𝛒 < 1.
	Rho float64
	// Factor applied to the penalty lower bound when the penalty is raised, ≥ 1.
	Safety float64
	// Armijo constant 𝛈, 0 < 𝛈 < 1.
	Eta float64
	// Backtracking factor 𝛕, 0 < 𝛕 < 1.
	Tau float64
	// Number of rejected trials after which the search fails.
	MaxIterations int
}

// DefaultLineSearch returns σ=1, ρ=0.5, safety=1.1, η=1e-4, τ=0.2 and 100 trials.
func DefaultLineSearch() LineSearch {
	return LineSearch{
		Sigma:         1,
		Rho:           0.5,
		Safety:        1.1,
		Eta:           1e-4,
		Tau:           0.2,
		MaxIterations: 100,
	}
}

// penalty raises 𝛍 to make 𝐩 a descent direction of 𝐓₁(𝐱;𝛍) = 𝒇(𝐱) + 𝛍‖𝒄(𝐱)‖₁.
//
// The quadratic model of the merit decrease yields the lower bound
//
//	𝛍 ≥ (𝜵𝒇ᵀ𝐩 + ½𝛔𝐩ᵀ𝐁𝐩) / ((1-𝛒)‖𝒄(𝐱)‖₁)
//
// The penalty is never lowered, and left unchanged at a feasible point where no bound exists.
func (ls *LineSearch) penalty(mu, gp, pBp, viol float64) float64 {
	if viol <= zero {
		return mu
	}
	lb := (gp + ls.Sigma/2*pBp) / ((one - ls.Rho) * viol)
	if mu < lb {
		mu = lb * ls.Safety
	}
	return mu
}

// backtrack finds 𝛂 = 𝛕ʲ satisfying the Armijo condition
//
//	𝐓₁(𝐱 + 𝛂𝐩) ≤ 𝐓₁(𝐱) + 𝛈𝛂D𝐓₁
//
// where phi(𝛂) evaluates 𝐓₁(𝐱 + 𝛂𝐩), t0 = 𝐓₁(𝐱) and dt = D𝐓₁ = 𝜵𝒇ᵀ𝐩 - 𝛍‖𝒄(𝐱)‖₁.
// It returns the accepted step, its merit value and the number of rejected trials.
func (ls *LineSearch) backtrack(phi func(alpha float64) (float64, error), t0, dt float64) (alpha, t float64, trials int, err error) {
	alpha = one
	for {
		if t, err = phi(alpha); err != nil {
			return
		}
		if t <= t0+ls.Eta*alpha*dt {
			return
		}
		if trials++; trials >= ls.MaxIterations {
			err = &LineSearchError{
				Trials: trials,
				Alpha:  alpha,
				Merit0: t0,
				Merit:  t,
				Slope:  dt,
			}
			return
		}
		alpha *= ls.Tau
	}
}
