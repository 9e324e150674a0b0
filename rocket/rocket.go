// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rocket implements the minimum-fuel rocket trajectory problem.
//
// A rocket of unit mass starts at rest and must come to rest at distance 𝒔𝒇.
// The thrust 𝒂 is piecewise constant on equal segments of the horizon and drives
// the explicit Euler recursion
//
//	𝒔ₖ₊₁ = 𝒔ₖ + 𝚫𝒕·𝒗ₖ
//	𝒗ₖ₊₁ = 𝒗ₖ + 𝚫𝒕/𝒎ₖ·(𝒂ₖ - 𝛂𝒗ₖ²)
//	𝒎ₖ₊₁ = 𝒎ₖ - 𝚫𝒕·𝛃𝒂ₖ²
//
// The program is
//
//	minimize ½‖𝐮‖² subject to 𝒔_N - 𝒔𝒇 = 0, 𝒗_N - 𝒗𝒇 = 0
package rocket

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrMassDepleted the burn consumed the whole mass of the rocket.
var ErrMassDepleted = errors.New("rocket: mass depleted")

// Params describes the rocket and the discretization.
type Params struct {
	Steps    int     `yaml:"steps"`    // Euler steps N
	Controls int     `yaml:"controls"` // piecewise constant segments, divides Steps
	Dt       float64 `yaml:"dt"`       // step length 𝚫𝒕
	Drag     float64 `yaml:"drag"`     // friction coefficient 𝛂
	Burn     float64 `yaml:"burn"`     // fuel consumption 𝛃
	S0       float64 `yaml:"s0"`
	V0       float64 `yaml:"v0"`
	M0       float64 `yaml:"m0"`
	SF       float64 `yaml:"sf"`
	VF       float64 `yaml:"vf"`
	Guess    float64 `yaml:"guess"` // initial thrust on every segment
	Lower    float64 `yaml:"lower"` // thrust bounds, used by the reference solve
	Upper    float64 `yaml:"upper"`
}

// DefaultParams returns the classic setting: 10 controls over 100 steps of 0.1s,
// 𝛂 = 0.05, 𝛃 = 0.1, from (0, 0, 1) to 𝒔 = 10 at rest.
func DefaultParams() Params {
	return Params{
		Steps:    100,
		Controls: 10,
		Dt:       0.1,
		Drag:     0.05,
		Burn:     0.1,
		S0:       0,
		V0:       0,
		M0:       1,
		SF:       10,
		VF:       0,
		Guess:    0.4,
		Lower:    -1,
		Upper:    0.5,
	}
}

// Validate checks the parameters are consistent.
func (p *Params) Validate() (err error) {
	switch {
	case p.Steps <= 0:
		err = errors.New("rocket: steps must greater than 0")
	case p.Controls <= 0:
		err = errors.New("rocket: controls must greater than 0")
	case p.Steps%p.Controls != 0:
		err = fmt.Errorf("rocket: %d controls do not divide %d steps", p.Controls, p.Steps)
	case !(p.Dt > 0):
		err = errors.New("rocket: dt must greater than 0")
	case !(p.M0 > 0):
		err = errors.New("rocket: initial mass must greater than 0")
	case p.Drag < 0 || p.Burn < 0:
		err = errors.New("rocket: drag and burn must not less than 0")
	case p.Lower > p.Upper:
		err = errors.New("rocket: lower thrust bound greater than upper")
	}
	return
}

// Model is the trajectory problem as an nlp.Model with exact derivatives.
// A Model keeps sensitivity buffers and is not safe for concurrent use.
type Model struct {
	p Params
	// sensitivities ∂𝒔/∂𝐮, ∂𝒗/∂𝐮, ∂𝒎/∂𝐮 of the current state
	ds, dv, dm []float64
}

// New creates the model for validated parameters.
func New(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Controls
	return &Model{
		p:  p,
		ds: make([]float64, n),
		dv: make([]float64, n),
		dm: make([]float64, n),
	}, nil
}

// Params returns the model parameters.
func (r *Model) Params() Params { return r.p }

// Dims returns the number of controls and the two terminal constraints.
func (r *Model) Dims() (n, m int) { return r.p.Controls, 2 }

// Objective returns ½‖𝐮‖² with gradient 𝐮.
func (r *Model) Objective(u, grad []float64) (float64, error) {
	if grad != nil {
		copy(grad, u)
	}
	return floats.Dot(u, u) / 2, nil
}

// Constraints stores the terminal defects [𝒔_N - 𝒔𝒇, 𝒗_N - 𝒗𝒇] and their Jacobian,
// propagating the forward sensitivities of the Euler recursion alongside the state.
func (r *Model) Constraints(u, c []float64, jac *mat.Dense) error {
	p := &r.p
	per := p.Steps / p.Controls
	sens := jac != nil
	if sens {
		clear(r.ds)
		clear(r.dv)
		clear(r.dm)
	}

	s, v, m := p.S0, p.V0, p.M0
	for k := 0; k < p.Steps; k++ {
		j := k / per
		a := u[j]
		if !(m > 0) {
			return fmt.Errorf("%w at step %d (m=%g)", ErrMassDepleted, k, m)
		}
		if sens {
			acc := (a - p.Drag*v*v) / (m * m)
			for i := range r.ds {
				da := 0.0
				if i == j {
					da = 1
				}
				r.ds[i] += p.Dt * r.dv[i]
				r.dv[i] += p.Dt * ((da-2*p.Drag*v*r.dv[i])/m - acc*r.dm[i])
				r.dm[i] -= p.Dt * p.Burn * 2 * a * da
			}
		}
		s, v, m = s+p.Dt*v, v+p.Dt/m*(a-p.Drag*v*v), m-p.Dt*p.Burn*a*a
	}

	c[0] = s - p.SF
	c[1] = v - p.VF
	if sens {
		jac.SetRow(0, r.ds)
		jac.SetRow(1, r.dv)
	}
	return nil
}

// Start returns the initial guess with every segment at the guessed thrust.
func (r *Model) Start() []float64 {
	u := make([]float64, r.p.Controls)
	for i := range u {
		u[i] = r.p.Guess
	}
	return u
}

// Bounds returns the thrust bounds on every segment.
func (r *Model) Bounds() (lower, upper []float64) {
	lower, upper = make([]float64, r.p.Controls), make([]float64, r.p.Controls)
	for i := range lower {
		lower[i], upper[i] = r.p.Lower, r.p.Upper
	}
	return
}

// Trajectory is the simulated state history, one entry per Euler node.
type Trajectory struct {
	T, S, V, M []float64 // N+1 nodes
	A          []float64 // N thrust values
}

// Simulate integrates the dynamics under the controls u.
func (r *Model) Simulate(u []float64) (*Trajectory, error) {
	p := &r.p
	if len(u) != p.Controls {
		return nil, fmt.Errorf("rocket: %d controls given, want %d", len(u), p.Controls)
	}
	per := p.Steps / p.Controls
	tr := &Trajectory{
		T: make([]float64, p.Steps+1),
		S: make([]float64, p.Steps+1),
		V: make([]float64, p.Steps+1),
		M: make([]float64, p.Steps+1),
		A: make([]float64, p.Steps),
	}
	tr.S[0], tr.V[0], tr.M[0] = p.S0, p.V0, p.M0
	for k := 0; k < p.Steps; k++ {
		a, s, v, m := u[k/per], tr.S[k], tr.V[k], tr.M[k]
		if !(m > 0) {
			return tr, fmt.Errorf("%w at step %d (m=%g)", ErrMassDepleted, k, m)
		}
		tr.A[k] = a
		tr.T[k+1] = float64(k+1) * p.Dt
		tr.S[k+1] = s + p.Dt*v
		tr.V[k+1] = v + p.Dt/m*(a-p.Drag*v*v)
		tr.M[k+1] = m - p.Dt*p.Burn*a*a
	}
	return tr, nil
}
