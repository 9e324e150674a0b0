// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nlp defines the equality-constrained nonlinear program consumed by the solvers:
//
// minimize 𝒇(𝐱) subject to 𝒄(𝐱) = 0
//   - 𝒇(𝐱) : ℝⁿ → ℝ
//   - 𝒄(𝐱) : ℝⁿ → ℝᵐ
//   - 𝒇′(𝐱) : ℝⁿ → ℝⁿ (objective gradient)
//   - 𝒄′(𝐱) : ℝⁿ → ℝᵐˣⁿ (constraint Jacobian)
package nlp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trajopt/numdiff"
)

// Model evaluates the objective and the equality constraints of a problem.
// Implementations must be deterministic and free of side effects for a given 𝐱.
type Model interface {
	// Dims returns the number of variables n and equality constraints m.
	Dims() (n, m int)
	// Objective returns 𝒇(𝐱) and stores 𝜵𝒇(𝐱) into grad unless grad is nil.
	Objective(x, grad []float64) (float64, error)
	// Constraints stores 𝒄(𝐱) into c and 𝒄′(𝐱) into jac unless jac is nil.
	Constraints(x, c []float64, jac *mat.Dense) error
}

// Funcs builds a Model from plain functions.
// Missing derivatives are approximated by central finite differences.
type Funcs struct {
	N, M int
	// Object returns 𝒇(𝐱).
	Object func(x []float64) float64
	// Gradient stores 𝜵𝒇(𝐱) into g. Optional.
	Gradient func(g, x []float64)
	// Equality stores 𝒄(𝐱) into c.
	Equality func(c, x []float64)
	// Jacobian stores 𝒄′(𝐱) into jac. Optional.
	Jacobian func(jac *mat.Dense, x []float64)

	diff numdiff.Approx
}

// Check reports whether the functions are usable.
func (fs *Funcs) Check() (err error) {
	switch {
	case fs.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case fs.M <= 0:
		err = errors.New("equality constraint number must greater than 0")
	case fs.Object == nil:
		err = errors.New("objective function is required")
	case fs.Equality == nil:
		err = errors.New("equality constraint function is required")
	}
	return
}

func (fs *Funcs) Dims() (n, m int) { return fs.N, fs.M }

func (fs *Funcs) Objective(x, grad []float64) (float64, error) {
	f := fs.Object(x)
	if grad == nil {
		return f, nil
	}
	if fs.Gradient != nil {
		fs.Gradient(grad, x)
		return f, nil
	}
	fs.diff.Method = numdiff.Central
	return f, fs.diff.Gradient(grad, fs.Object, x)
}

func (fs *Funcs) Constraints(x, c []float64, jac *mat.Dense) error {
	fs.Equality(c, x)
	if jac == nil {
		return nil
	}
	if fs.Jacobian != nil {
		fs.Jacobian(jac, x)
		return nil
	}
	fs.diff.Method = numdiff.Central
	return fs.diff.Jacobian(jac, fs.Equality, x)
}

// Finite reports whether all elements of v are finite.
func Finite(v []float64) bool {
	for _, e := range v {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return false
		}
	}
	return true
}

// FiniteMatrix reports whether all elements of a are finite.
func FiniteMatrix(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Violation returns the feasibility violation ‖𝒄(𝐱)‖₁.
func Violation(c []float64) float64 {
	return floats.Norm(c, 1)
}
