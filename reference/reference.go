// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reference computes an independent solution of an equality-constrained
// program to cross-check the SQP result.
//
// It uses the augmented Lagrangian method with a quadratic penalty for simple bounds:
//
//	ℒ𝐀(𝐱;𝛌,𝛒) = 𝒇(𝐱) - 𝛌ᵀ𝒄(𝐱) + ½𝛒‖𝒄(𝐱)‖² + ½𝛒‖𝐝(𝐱)‖²
//
// where 𝐝ᵢ(𝐱) = max(𝐱ᵢ - 𝐮ᵢ, 0) - max(𝐥ᵢ - 𝐱ᵢ, 0) is the bound violation.
// Each outer iteration minimizes ℒ𝐀 with gonum BFGS, then updates 𝛌 ← 𝛌 - 𝛒𝒄(𝐱)
// and grows 𝛒 when the violation did not shrink enough.
package reference

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/curioloop/trajopt/nlp"
)

// ErrNotConverged the violation stayed above the tolerance after all outer iterations.
var ErrNotConverged = errors.New("reference: not converged")

// Settings controls the augmented Lagrangian iteration.
type Settings struct {
	OuterIterations   int       // outer iteration limit
	Tolerance         float64   // target for ‖𝒄‖₁ + ‖𝐝‖₁
	Penalty           float64   // initial 𝛒
	PenaltyGrowth     float64   // factor applied to 𝛒 on slow progress
	GradientThreshold float64   // inner BFGS stopping threshold
	MajorIterations   int       // inner BFGS iteration limit
	Lower, Upper      []float64 // optional simple bounds, nil means unbounded
}

// DefaultSettings returns the settings used for the trajectory cross-check.
func DefaultSettings() Settings {
	return Settings{
		OuterIterations:   50,
		Tolerance:         1e-8,
		Penalty:           10,
		PenaltyGrowth:     10,
		GradientThreshold: 1e-10,
		MajorIterations:   1000,
	}
}

// Result holds the reference solution.
type Result struct {
	X               []float64
	F               float64
	Lambda          []float64
	Violation       float64 // ‖𝒄(𝐱)‖₁ + ‖𝐝(𝐱)‖₁
	Penalty         float64
	OuterIterations int
	InnerIterations int
	Status          optimize.Status // status of the last inner solve
}

type augmented struct {
	model nlp.Model
	n, m  int
	s     *Settings

	lambda []float64
	rho    float64

	c, g, w []float64
	jac     *mat.Dense
	err     error
}

func (a *augmented) boundViolation(x []float64, i int) float64 {
	var d float64
	if a.s.Upper != nil && x[i] > a.s.Upper[i] {
		d = x[i] - a.s.Upper[i]
	}
	if a.s.Lower != nil && x[i] < a.s.Lower[i] {
		d = x[i] - a.s.Lower[i]
	}
	return d
}

func (a *augmented) eval(x, grad []float64) float64 {
	if a.err != nil {
		return math.Inf(1)
	}
	var jac *mat.Dense
	var g []float64
	if grad != nil {
		jac, g = a.jac, a.g
	}
	f, err := a.model.Objective(x, g)
	if err == nil {
		err = a.model.Constraints(x, a.c, jac)
	}
	if err != nil {
		a.err = err
		return math.Inf(1)
	}

	// 𝐰 = 𝛒𝒄 - 𝛌 so that 𝜵ℒ𝐀 = 𝜵𝒇 + 𝒄′ᵀ𝐰 + 𝛒𝐝
	for j, c := range a.c {
		a.w[j] = a.rho*c - a.lambda[j]
	}
	v := f + floats.Dot(a.w, a.c) - a.rho/2*floats.Dot(a.c, a.c)
	for i := range x {
		d := a.boundViolation(x, i)
		v += a.rho / 2 * d * d
	}

	if grad != nil {
		gv := mat.NewVecDense(a.n, grad)
		gv.MulVec(jac.T(), mat.NewVecDense(a.m, a.w))
		floats.Add(grad, g)
		for i := range x {
			grad[i] += a.rho * a.boundViolation(x, i)
		}
	}
	return v
}

func (a *augmented) violation(x []float64) (float64, error) {
	if _, err := a.model.Objective(x, nil); err != nil {
		return 0, err
	}
	if err := a.model.Constraints(x, a.c, nil); err != nil {
		return 0, err
	}
	v := floats.Norm(a.c, 1)
	for i := range x {
		v += math.Abs(a.boundViolation(x, i))
	}
	return v, nil
}

// Solve minimizes the model from x0.
// The returned Result is nil only when the first evaluation fails.
func Solve(model nlp.Model, x0 []float64, s Settings) (*Result, error) {

	n, m := model.Dims()
	def := DefaultSettings()
	if s.OuterIterations == 0 {
		s.OuterIterations = def.OuterIterations
	}
	if s.Tolerance == 0 {
		s.Tolerance = def.Tolerance
	}
	if s.Penalty == 0 {
		s.Penalty = def.Penalty
	}
	if s.PenaltyGrowth == 0 {
		s.PenaltyGrowth = def.PenaltyGrowth
	}
	if s.GradientThreshold == 0 {
		s.GradientThreshold = def.GradientThreshold
	}
	if s.MajorIterations == 0 {
		s.MajorIterations = def.MajorIterations
	}

	switch {
	case len(x0) != n:
		return nil, fmt.Errorf("reference: %d initial values given, want %d", len(x0), n)
	case s.Lower != nil && len(s.Lower) != n, s.Upper != nil && len(s.Upper) != n:
		return nil, errors.New("reference: bound dimension mismatch")
	case s.Penalty < 0 || s.PenaltyGrowth < 1:
		return nil, errors.New("reference: penalty must be positive and growth at least 1")
	}

	a := &augmented{
		model: model, n: n, m: m, s: &s,
		lambda: make([]float64, m),
		rho:    s.Penalty,
		c:      make([]float64, m),
		g:      make([]float64, n),
		w:      make([]float64, m),
		jac:    mat.NewDense(m, n, nil),
	}

	prev, err := a.violation(x0)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	res := &Result{X: append([]float64(nil), x0...)}
	problem := optimize.Problem{
		Func: func(x []float64) float64 { return a.eval(x, nil) },
		Grad: func(grad, x []float64) { a.eval(x, grad) },
	}
	settings := &optimize.Settings{
		GradientThreshold: s.GradientThreshold,
		MajorIterations:   s.MajorIterations,
	}

	for res.OuterIterations < s.OuterIterations {
		res.OuterIterations++

		inner, err := optimize.Minimize(problem, res.X, settings, &optimize.BFGS{})
		if a.err != nil {
			return res, fmt.Errorf("reference: %w", a.err)
		}
		if inner == nil {
			return res, fmt.Errorf("reference: inner solve: %w", err)
		}
		// a stalled line search still leaves a usable iterate
		copy(res.X, inner.X)
		res.Status = inner.Status
		res.InnerIterations += inner.Stats.MajorIterations

		viol, err := a.violation(res.X)
		if err != nil {
			return res, fmt.Errorf("reference: %w", err)
		}
		for j, c := range a.c {
			a.lambda[j] -= a.rho * c
		}
		if viol < s.Tolerance {
			break
		}
		if viol > 0.25*prev {
			a.rho *= s.PenaltyGrowth
		}
		prev = viol
	}

	res.F, err = model.Objective(res.X, nil)
	if err != nil {
		return res, fmt.Errorf("reference: %w", err)
	}
	if res.Violation, err = a.violation(res.X); err != nil {
		return res, fmt.Errorf("reference: %w", err)
	}
	res.Lambda = append([]float64(nil), a.lambda...)
	res.Penalty = a.rho
	if res.Violation >= s.Tolerance {
		return res, fmt.Errorf("%w: violation %g after %d iterations", ErrNotConverged, res.Violation, res.OuterIterations)
	}
	return res, nil
}
