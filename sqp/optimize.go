// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trajopt/nlp"
	"github.com/curioloop/trajopt/qp"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated
	LogNoop LogLevel = -1
	// LogLast print only the termination message
	LogLast LogLevel = 0
	// LogIter print one line per iteration: k, line-search trials, ‖𝐝𝐱‖₂, ‖𝜵ℒ‖₂ and ‖𝒄‖₁, and skipped BFGS updates
	LogIter LogLevel = 1
	// LogVerbose print also 𝐱, 𝛌, the step length and the penalty
	LogVerbose LogLevel = 99
)

// Logger handles logging output for the optimizer.
// Note the writer must be thread-safe when shared by several workspaces.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Termination specifies the stopping criteria for the SQP iteration.
type Termination struct {
	// The iteration stops when the number of iterations reaches the limit.
	MaxIterations int
	// The iteration stops when ‖𝐱ᵏ⁺¹ - 𝐱ᵏ‖₂ < 𝚝𝚘𝚕𝚍𝚡 (zero selects the default)
	StepTolerance float64
	// The iteration stops when ‖𝜵𝒇(𝐱ᵏ) - 𝒄′(𝐱ᵏ)ᵀ𝛌̂‖₂ < 𝚝𝚘𝚕𝚐𝙻 (zero selects the default)
	GradTolerance float64
}

// DefaultTermination returns maxiter=100, toldx=1e-12 and tolgL=1e-12.
func DefaultTermination() Termination {
	return Termination{
		MaxIterations: 100,
		StepTolerance: 1e-12,
		GradTolerance: 1e-12,
	}
}

// Iteration is the record of one completed SQP step.
type Iteration struct {
	Iter            int       // k after the step
	LineSearchIters int       // rejected line-search trials
	StepNorm        float64   // ‖𝐝𝐱‖₂
	GradNorm        float64   // ‖𝜵ℒ(𝐱ᵏ,𝛌̂)‖₂
	Violation       float64   // ‖𝒄(𝐱ᵏ)‖₁ before the step
	Alpha           float64   // accepted step length
	Penalty         float64   // merit penalty 𝛍
	Merit0          float64   // 𝐓₁(𝐱ᵏ)
	Merit           float64   // 𝐓₁(𝐱ᵏ + 𝛂𝐩)
	Slope           float64   // D𝐓₁
	X               []float64 // 𝐱ᵏ⁺¹
	Lambda          []float64 // 𝛌ᵏ⁺¹
	Multiplier      []float64 // QP multiplier 𝛌̂
}

// Problem specifies the problem for the SQP optimizer.
// Zero-valued options take the defaults of DefaultTermination and DefaultLineSearch.
type Problem struct {
	Model    nlp.Model        // Objective, constraints and their derivatives
	QP       qp.Solver        // QP sub-problem solver, qp.KKT when nil
	Stop     Termination      // Stop condition
	Line     LineSearch       // Merit function and line-search option
	Secant   Secant           // Damped BFGS variant
	Recorder func(*Iteration) // Optional per-iteration callback
}

// New creates a new SQP optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	if p.Model == nil {
		return nil, errors.New("problem model is required")
	}

	n, m := p.Model.Dims()
	stop, line, solver := p.Stop, p.Line, p.QP
	def, dls := DefaultTermination(), DefaultLineSearch()

	if solver == nil {
		solver = qp.KKT{}
	}
	if stop.MaxIterations == 0 {
		stop.MaxIterations = def.MaxIterations
	}
	if stop.StepTolerance == zero {
		stop.StepTolerance = def.StepTolerance
	}
	if stop.GradTolerance == zero {
		stop.GradTolerance = def.GradTolerance
	}
	if line.Sigma == zero {
		line.Sigma = dls.Sigma
	}
	if line.Rho == zero {
		line.Rho = dls.Rho
	}
	if line.Safety == zero {
		line.Safety = dls.Safety
	}
	if line.Eta == zero {
		line.Eta = dls.Eta
	}
	if line.Tau == zero {
		line.Tau = dls.Tau
	}
	if line.MaxIterations == 0 {
		line.MaxIterations = dls.MaxIterations
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case m <= 0:
		err = errors.New("equality constrains number must greater than 0")
	case m > n:
		err = errors.New("equality constrains number must not greater than n")
	case stop.MaxIterations < 0:
		err = errors.New("max iteration must greater than 0")
	case stop.StepTolerance < zero:
		err = errors.New("step tolerance must not less than 0")
	case stop.GradTolerance < zero:
		err = errors.New("gradient tolerance must not less than 0")
	case line.Sigma < zero:
		err = errors.New("line search sigma must greater than 0")
	case line.Rho < zero || line.Rho >= one:
		err = errors.New("line search rho must in (0,1)")
	case line.Safety < one:
		err = errors.New("penalty safety factor must not less than 1")
	case line.Eta < zero || line.Eta >= one:
		err = errors.New("line search eta must in (0,1)")
	case line.Tau < zero || line.Tau >= one:
		err = errors.New("line search tau must in (0,1)")
	case line.MaxIterations < 0:
		err = errors.New("line search iteration must greater than 0")
	case p.Secant != SecantLagrangian && p.Secant != SecantStep:
		err = errors.New("unknown secant update")
	}

	if err != nil {
		return
	}

	optimizer = &Optimizer{
		sqpSpec{
			n: n, m: m,
			logger: logger,
			Problem: Problem{
				Model:    p.Model,
				QP:       solver,
				Stop:     stop,
				Line:     line,
				Secant:   p.Secant,
				Recorder: p.Recorder,
			},
		},
	}
	return
}

type sqpSpec struct {
	// the number of variables
	n int
	// the number of equality constraints
	m int
	// output of the optimizer
	logger *Logger
	Problem
}

// Optimizer implemented using the SQP algorithm.
type Optimizer struct {
	sqpSpec
}

// Workspace contains the state of the optimization process.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
type Workspace struct {
	n, m int
	state
	loc location
	// -𝒄(𝐱ᵏ) as both QP row bounds
	negc []float64
	// trial point 𝐱ᵏ + 𝛂𝐩 and its constraint values
	xt, ct []float64
	// step 𝐝𝐱 = 𝛂𝐩
	dx []float64
	// Lagrangian gradients before and after the step and their difference
	gradL, gradLNew, y []float64
	// counters
	numEval, numQP, skipped int
}

// Result contains the final result of the optimization process.
type Result struct {
	Status    Status        // Final driver status.
	F         float64       // Objective at X.
	X         []float64     // Final iterate.
	Lambda    []float64     // Final multiplier estimate.
	B         *mat.SymDense // Final Hessian approximation.
	Penalty   float64       // Final merit penalty 𝛍.
	Violation float64       // ‖𝒄(X)‖₁
	Summary                 // Optimization summary.
}

// OK reports whether the optimization converged.
func (r *Result) OK() bool { return r.Status.Converged() }

// Summary contains a summary of the optimization process.
type Summary struct {
	NumIter        int // Number of completed SQP steps.
	NumEval        int // Number of model evaluations with derivatives.
	NumQP          int // Number of QP sub-problems solved.
	SkippedUpdates int // Number of degenerate BFGS updates skipped.
}

// Init allocate the workspace for SQP optimizer.
func (o *Optimizer) Init() *Workspace {
	n, m := o.n, o.m
	return &Workspace{
		n: n, m: m,
		state: state{
			x:      make([]float64, n),
			hess:   newHessian(n),
			lambda: make([]float64, m),
		},
		loc: location{
			grad: make([]float64, n),
			c:    make([]float64, m),
			jac:  mat.NewDense(m, n, nil),
		},
		negc:     make([]float64, m),
		xt:       make([]float64, n),
		ct:       make([]float64, m),
		dx:       make([]float64, n),
		gradL:    make([]float64, n),
		gradLNew: make([]float64, n),
		y:        make([]float64, n),
	}
}

// reset puts the workspace into the initial state 𝐱 = 𝐱₀, 𝐁 = 𝐈, 𝛌 = 0, 𝛍 = 0, k = 0.
func (w *Workspace) reset(x0 []float64) {
	copy(w.x, x0)
	w.hess.reset()
	clear(w.lambda)
	w.mu = zero
	w.k = 0
	w.numEval, w.numQP, w.skipped = 0, 0, 0
}

// Fit runs the optimization process using the initial guess x and workspace w.
// The returned Result is never nil; err is non-nil exactly when the status is Failed.
func (o *Optimizer) Fit(x []float64, w *Workspace) (*Result, error) {

	if len(x) != o.n {
		panic("initial x dimension not match optimizer")
	}

	if w.n != o.n || w.m != o.m {
		panic("workspace dimension not match optimizer")
	}

	w.reset(x)
	solver := sqpSolver{
		optimizer: o,
		workspace: w,
	}

	status, err := solver.mainLoop()
	solver.report(status, err)

	return &Result{
		Status:    status,
		F:         w.loc.f,
		X:         append([]float64(nil), w.x...),
		Lambda:    append([]float64(nil), w.lambda...),
		B:         mat.NewSymDense(o.n, append([]float64(nil), w.hess.sym.RawSymmetric().Data...)),
		Penalty:   w.mu,
		Violation: nlp.Violation(w.loc.c),
		Summary: Summary{
			NumIter:        w.k,
			NumEval:        w.numEval,
			NumQP:          w.numQP,
			SkippedUpdates: w.skipped,
		},
	}, err
}
