// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	zero = 0.0
	one  = 1.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

// Status is the terminal state of the driver.
type Status int

const (
	// Running the driver has not reached a terminal state.
	Running Status = iota
	// ConvergedStep the step ‖𝐝𝐱‖₂ fell below the step tolerance.
	ConvergedStep
	// ConvergedGradient the Lagrangian gradient ‖𝜵ℒ‖₂ fell below the gradient tolerance.
	ConvergedGradient
	// MaxIterations the iteration limit was reached before convergence.
	MaxIterations
	// Failed a fatal error stopped the iteration.
	Failed
)

var statusNames = [...]string{
	Running:           "running",
	ConvergedStep:     "converged_dx",
	ConvergedGradient: "converged_gradL",
	MaxIterations:     "maxiter",
	Failed:            "failed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("sqp: unknown status %q", text)
}

// Converged reports whether the status is a convergence status.
func (s Status) Converged() bool {
	return s == ConvergedStep || s == ConvergedGradient
}

var (
	// ErrEvaluation the problem model failed or returned non-finite values.
	ErrEvaluation = errors.New("sqp: model evaluation failed")
	// ErrQPSolve the QP sub-problem solver failed.
	ErrQPSolve = errors.New("sqp: qp sub-problem failed")
	// ErrLineSearch no step length satisfied the Armijo condition.
	ErrLineSearch = errors.New("sqp: line search failed")
	// ErrDegenerateUpdate the BFGS update is undefined for the given step.
	ErrDegenerateUpdate = errors.New("sqp: degenerate bfgs update")
)

// EvaluationError reports a failed or non-finite model evaluation.
type EvaluationError struct {
	Iter int       // iteration during which the evaluation happened
	X    []float64 // the evaluated location
	What string    // "objective", "gradient", "constraints" or "jacobian"
	Err  error     // model error, nil for non-finite output
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sqp: %s evaluation failed at iteration %d: %v", e.What, e.Iter, e.Err)
	}
	return fmt.Sprintf("sqp: non-finite %s at iteration %d", e.What, e.Iter)
}

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }
func (e *EvaluationError) Unwrap() error        { return e.Err }

// QPError reports a failure of the QP sub-problem solver.
type QPError struct {
	Iter int
	Err  error
}

func (e *QPError) Error() string {
	return fmt.Sprintf("sqp: qp sub-problem failed at iteration %d: %v", e.Iter, e.Err)
}

func (e *QPError) Is(target error) bool { return target == ErrQPSolve }
func (e *QPError) Unwrap() error        { return e.Err }

// LineSearchError reports a backtracking search that exhausted its trials.
type LineSearchError struct {
	Iter   int
	Trials int     // number of rejected trials
	Alpha  float64 // last attempted step length
	Merit0 float64 // 𝐓₁(𝐱)
	Merit  float64 // 𝐓₁(𝐱 + 𝛂𝐩) at the last trial
	Slope  float64 // directional derivative D𝐓₁
	Mu     float64 // penalty parameter
}

func (e *LineSearchError) Error() string {
	return fmt.Sprintf("sqp: line search failed at iteration %d after %d trials "+
		"(alpha=%g, T1=%g, T1(x+alpha p)=%g, DT1=%g, mu=%g)",
		e.Iter, e.Trials, e.Alpha, e.Merit0, e.Merit, e.Slope, e.Mu)
}

func (e *LineSearchError) Is(target error) bool { return target == ErrLineSearch }

// state is the driver-owned iterate. It is never shared outside the driver.
type state struct {
	x      []float64 // 𝐱ᵏ
	hess   *hessian  // 𝐁ᵏ
	lambda []float64 // 𝛌ᵏ
	mu     float64   // merit penalty 𝛍
	k      int       // iteration counter
}

// location holds the model evaluation at 𝐱ᵏ.
type location struct {
	f    float64
	grad []float64  // 𝜵𝒇(𝐱ᵏ)
	c    []float64  // 𝒄(𝐱ᵏ)
	jac  *mat.Dense // 𝒄′(𝐱ᵏ)
}
