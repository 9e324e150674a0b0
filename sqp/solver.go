// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trajopt/nlp"
	"github.com/curioloop/trajopt/qp"
)

// sqpSolver solve NLP(equality constrained NonLinear optimization Problem) with SQP(Sequential Quadratic Programming)
//
// minimize 𝒇(𝐱) subject to 𝒄ⱼ(𝐱) = 0  (j = 1 ··· m)
//
// # Direction
//
// The Lagrangian function of NLP is given by ℒ(𝐱,𝛌) = 𝒇(𝐱) - ∑𝛌ⱼ𝒄ⱼ(𝐱).
// A quadratic approximation of ℒ(𝐱,𝛌) at location 𝐱ᵏ gives the QP sub-problem:
//
// minimize ½ 𝐩ᵀ𝐁ᵏ𝐩 + 𝜵𝒇(𝐱ᵏ)ᵀ𝐩 subject to 𝜵𝒄ⱼ(𝐱ᵏ)𝐩 + 𝒄ⱼ(𝐱ᵏ) = 0  (j = 1 ··· m)
//
// whose solution provides the search direction 𝐩 and the multiplier estimate 𝛌̂.
// The QP solver is a black box (see package qp) fed with the row bounds -𝒄(𝐱ᵏ) ≤ 𝒄′(𝐱ᵏ)𝐩 ≤ -𝒄(𝐱ᵏ).
//
// # Step
//
// The step length 𝛂 is chosen along 𝐩 with the L1 exact penalty merit function
//
//	𝐓₁(𝐱;𝛍) = 𝒇(𝐱) + 𝛍‖𝒄(𝐱)‖₁
//
// The penalty 𝛍 only grows, it is raised whenever 𝐩 would not be a sufficient descent direction (see LineSearch.penalty).
// Backtracking 𝛂 = 1, 𝛕, 𝛕², ··· stops at the first 𝛂 satisfying the Armijo condition.
//
// Then the iterate is updated by
//   - 𝐱ᵏ⁺¹ = 𝐱ᵏ + 𝛂𝐩
//   - 𝛌ᵏ⁺¹ = 𝛂𝛌̂ + (1-𝛂)𝛌ᵏ
//
// # Hessian
//
// 𝐁⁰ = 𝐈 and 𝐁ᵏ⁺¹ comes from the damped BFGS update (see hessian.update), which keeps 𝐁 > 0
// so that the QP sub-problem is always convex.
//
// # Convergence Criteria
//
// After each accepted step:
//   - C𝑠𝑡𝑝 = ‖𝛂𝐩‖₂ < 𝚝𝚘𝚕𝚍𝚡
//   - C𝑜𝑝𝑡 = ‖𝜵𝒇(𝐱ᵏ) - 𝒄′(𝐱ᵏ)ᵀ𝛌̂‖₂ < 𝚝𝚘𝚕𝚐𝙻
//
// The model is evaluated at 𝐱ᵏ⁺¹ only when neither holds, then the iteration limit is checked.
//
// # Reference
//
// Nocedal, Wright: "Numerical Optimization", 2nd ed., Chapter 18.
type sqpSolver struct {
	optimizer *Optimizer
	workspace *Workspace
}

// protect converts a panic in the model into an evaluation error.
func protect(iter int, x []float64, what string, err *error) {
	if r := recover(); r != nil {
		*err = &EvaluationError{
			Iter: iter,
			X:    append([]float64(nil), x...),
			What: what,
			Err:  fmt.Errorf("panic: %v", r),
		}
	}
}

// evalLoc evaluates 𝒇, 𝜵𝒇, 𝒄 and 𝒄′ at 𝐱 into the workspace location.
func (ss *sqpSolver) evalLoc(x []float64) (err error) {
	o, w := ss.optimizer, ss.workspace
	loc, iter := &w.loc, w.k+1
	defer protect(iter, x, "model", &err)

	w.numEval++
	fail := func(what string, cause error) error {
		return &EvaluationError{Iter: iter, X: append([]float64(nil), x...), What: what, Err: cause}
	}

	f, err := o.Model.Objective(x, loc.grad)
	switch {
	case err != nil:
		return fail("objective", err)
	case math.IsNaN(f) || math.IsInf(f, 0):
		return fail("objective", nil)
	case !nlp.Finite(loc.grad):
		return fail("gradient", nil)
	}
	loc.f = f

	if err = o.Model.Constraints(x, loc.c, loc.jac); err != nil {
		return fail("constraints", err)
	}
	switch {
	case !nlp.Finite(loc.c):
		return fail("constraints", nil)
	case !nlp.FiniteMatrix(loc.jac):
		return fail("jacobian", nil)
	}
	return nil
}

// evalMerit evaluates 𝒇 and 𝒄 without derivatives at 𝐱, storing 𝒄 into w.ct.
func (ss *sqpSolver) evalMerit(x []float64) (f, viol float64, err error) {
	o, w := ss.optimizer, ss.workspace
	iter := w.k + 1
	defer protect(iter, x, "model", &err)

	fail := func(what string, cause error) error {
		return &EvaluationError{Iter: iter, X: append([]float64(nil), x...), What: what, Err: cause}
	}

	if f, err = o.Model.Objective(x, nil); err != nil {
		return f, viol, fail("objective", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, viol, fail("objective", nil)
	}
	if err = o.Model.Constraints(x, w.ct, nil); err != nil {
		return f, viol, fail("constraints", err)
	}
	if !nlp.Finite(w.ct) {
		return f, viol, fail("constraints", nil)
	}
	return f, nlp.Violation(w.ct), nil
}

// lagrangian stores 𝜵ℒ = 𝜵𝒇 - 𝒄′ᵀ𝛌 into dst.
func (ss *sqpSolver) lagrangian(dst, lambda []float64) {
	w := ss.workspace
	v := mat.NewVecDense(w.n, dst)
	v.MulVec(w.loc.jac.T(), mat.NewVecDense(w.m, lambda))
	floats.SubTo(dst, w.loc.grad, dst)
}

func (ss *sqpSolver) mainLoop() (Status, error) {

	o, w := ss.optimizer, ss.workspace
	st, loc := &w.state, &w.loc
	n, m := w.n, w.m

	// EvaluateModel at 𝐱⁰
	if err := ss.evalLoc(st.x); err != nil {
		return Failed, err
	}

	for {
		// SolveQP: minimize ½𝐩ᵀ𝐁𝐩 + 𝜵𝒇ᵀ𝐩 subject to 𝒄′𝐩 = -𝒄
		for j, c := range loc.c {
			w.negc[j] = -c
		}
		w.numQP++
		sol, err := o.QP.Solve(&qp.Subproblem{
			H:      st.hess.sym,
			G:      loc.grad,
			A:      loc.jac,
			LowerA: w.negc,
			UpperA: w.negc,
		})
		if err == nil && (len(sol.X) != n || len(sol.Lambda) != m) {
			err = qp.ErrDimension
		}
		if err != nil {
			return Failed, &QPError{Iter: st.k + 1, Err: err}
		}
		p, lhat := sol.X, sol.Lambda

		// 𝜵ℒ(𝐱ᵏ,𝛌̂) = 𝜵𝒇(𝐱ᵏ) - 𝒄′(𝐱ᵏ)ᵀ𝛌̂
		ss.lagrangian(w.gradL, lhat)

		// LineSearch on 𝐓₁(𝐱;𝛍) = 𝒇(𝐱) + 𝛍‖𝒄(𝐱)‖₁
		viol := nlp.Violation(loc.c)
		gp := floats.Dot(loc.grad, p)
		pv := mat.NewVecDense(n, p)
		st.mu = o.Line.penalty(st.mu, gp, mat.Inner(pv, st.hess.sym, pv), viol)
		t0 := loc.f + st.mu*viol
		dt := gp - st.mu*viol

		var ft float64
		alpha, t1, trials, err := o.Line.backtrack(func(alpha float64) (float64, error) {
			floats.ScaleTo(w.dx, alpha, p)
			floats.AddTo(w.xt, st.x, w.dx)
			f, v, err := ss.evalMerit(w.xt)
			ft = f
			return f + st.mu*v, err
		}, t0, dt)
		if err != nil {
			var lse *LineSearchError
			if errors.As(err, &lse) {
				lse.Iter, lse.Mu = st.k+1, st.mu
			}
			return Failed, err
		}

		// AcceptStep: w.dx and w.xt hold 𝛂𝐩 and 𝐱ᵏ + 𝛂𝐩 of the accepted trial
		copy(st.x, w.xt)
		for j, l := range lhat {
			st.lambda[j] = alpha*l + (one-alpha)*st.lambda[j]
		}
		st.k++
		loc.f = ft
		copy(loc.c, w.ct)

		it := Iteration{
			Iter:            st.k,
			LineSearchIters: trials,
			StepNorm:        floats.Norm(w.dx, 2),
			GradNorm:        floats.Norm(w.gradL, 2),
			Violation:       viol,
			Alpha:           alpha,
			Penalty:         st.mu,
			Merit0:          t0,
			Merit:           t1,
			Slope:           dt,
			Multiplier:      lhat,
		}
		ss.record(&it)

		// CheckConvergence
		if it.StepNorm < o.Stop.StepTolerance {
			return ConvergedStep, nil
		}
		if it.GradNorm < o.Stop.GradTolerance {
			return ConvergedGradient, nil
		}

		// EvaluateModel at 𝐱ᵏ⁺¹
		if err = ss.evalLoc(st.x); err != nil {
			return Failed, err
		}

		if st.k >= o.Stop.MaxIterations {
			return MaxIterations, nil
		}

		// BFGSUpdate with 𝐲 = 𝜵ℒ(𝐱ᵏ⁺¹,𝛌ᵏ⁺¹) - 𝜵ℒ(𝐱ᵏ,𝛌̂)
		ss.lagrangian(w.gradLNew, st.lambda)
		floats.SubTo(w.y, w.gradLNew, w.gradL)
		ss.updateHessian()
	}
}

// updateHessian applies the damped BFGS update with 𝐬 = w.dx and 𝐲 = w.y, skipping degenerate updates.
func (ss *sqpSolver) updateHessian() {
	o, w := ss.optimizer, ss.workspace
	if _, err := w.hess.update(w.dx, w.y, o.Secant); err != nil {
		w.skipped++
		if o.logger.enable(LogIter) {
			o.logger.log("    skip BFGS update at iteration %d: %v\n", w.k, err)
		}
	}
}

func (ss *sqpSolver) record(it *Iteration) {
	o, w := ss.optimizer, ss.workspace
	l := o.logger

	if l.enable(LogIter) {
		if it.Iter == 1 {
			l.log(" k  nls | dx         gradL      eq viol\n")
		}
		l.log("%3d %3d |%0.4e %0.4e %0.4e\n", it.Iter, it.LineSearchIters, it.StepNorm, it.GradNorm, it.Violation)
	}
	if l.enable(LogVerbose) {
		l.log("    alpha = %.4e  mu = %.4e  T1 = %.6e -> %.6e\n", it.Alpha, it.Penalty, it.Merit0, it.Merit)
		l.log("    x = %v\n", w.x)
		l.log("    lambda = %v\n", w.lambda)
	}

	if o.Recorder != nil {
		it.X = append([]float64(nil), w.x...)
		it.Lambda = append([]float64(nil), w.lambda...)
		it.Multiplier = append([]float64(nil), it.Multiplier...)
		o.Recorder(it)
	}
}

func (ss *sqpSolver) report(status Status, err error) {
	l := ss.optimizer.logger
	if !l.enable(LogLast) {
		return
	}
	switch status {
	case ConvergedStep:
		l.log("Convergence (small dx)\n")
	case ConvergedGradient:
		l.log("Convergence (small gradL)\n")
	case MaxIterations:
		l.log("Maximum number of SQP iterations reached!\n")
	case Failed:
		l.log("SQP failed: %v\n", err)
	}
	l.log("SQP algorithm terminated after %d iterations\n", ss.workspace.k)
}
