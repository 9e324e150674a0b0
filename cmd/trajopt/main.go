// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// trajopt solves the minimum-fuel rocket trajectory problem with SQP and
// prints the iteration table followed by a YAML summary of the solution.
//
// Usage:
//
//	trajopt [flags]
//
// Settings come from the YAML file given by --config (or TRAJOPT_CONFIG);
// flags override the file.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/curioloop/trajopt/internal/config"
	"github.com/curioloop/trajopt/internal/render"
	"github.com/curioloop/trajopt/reference"
	"github.com/curioloop/trajopt/rocket"
	"github.com/curioloop/trajopt/sqp"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usage(format string, a ...any) error {
	return &usageError{fmt.Errorf(format, a...)}
}

func run(args []string, stdout, stderr io.Writer) error {

	var (
		configPath string
		maxIter    int
		tolDx      float64
		tolGL      float64
		qpName     string
		secant     string
		table      string
		withRef    bool
		plotPath   string
		logLevel   string
		logFormat  string
		format     string
	)

	flagSet := pflag.NewFlagSet("trajopt", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML configuration (default: $"+config.EnvVar+")")
	flagSet.IntVar(&maxIter, "maxiter", 0, "maximum number of SQP iterations")
	flagSet.Float64Var(&tolDx, "toldx", 0, "stopping tolerance on the step length")
	flagSet.Float64Var(&tolGL, "tolgl", 0, "stopping tolerance on the Lagrangian gradient")
	flagSet.StringVar(&qpName, "qp", "", "QP sub-problem solver: kkt or range")
	flagSet.StringVar(&secant, "secant", "", "damped BFGS variant: step or lagrangian")
	flagSet.StringVar(&table, "table", "", "iteration table: none, last, iter or verbose")
	flagSet.BoolVar(&withRef, "reference", false, "cross-check with the augmented Lagrangian reference solve")
	flagSet.StringVar(&plotPath, "plot", "", "write the thrust and trajectory plot to this PNG file")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVar(&logFormat, "log-format", "", "log format: text or json")
	flagSet.StringVar(&format, "output", "", "result format: yaml or none")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &usageError{err}
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return usage("unexpected argument: %s", rest[0])
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	overrides := []struct {
		flag  string
		apply func()
	}{
		{"maxiter", func() { cfg.Solver.MaxIter = maxIter }},
		{"toldx", func() { cfg.Solver.TolDx = tolDx }},
		{"tolgl", func() { cfg.Solver.TolGL = tolGL }},
		{"qp", func() { cfg.Solver.QP = qpName }},
		{"secant", func() { cfg.Solver.Secant = secant }},
		{"table", func() { cfg.Output.Table = table }},
		{"reference", func() { cfg.Reference.Enabled = withRef }},
		{"plot", func() { cfg.Output.Plot = plotPath }},
		{"log-level", func() { cfg.Output.LogLevel = logLevel }},
		{"log-format", func() { cfg.Output.LogFormat = logFormat }},
		{"output", func() { cfg.Output.Format = format }},
	}
	for _, o := range overrides {
		if flagSet.Changed(o.flag) {
			o.apply()
		}
	}
	if err = cfg.Validate(); err != nil {
		return &usageError{err}
	}

	logger, err := newLogger(stderr, cfg.Output)
	if err != nil {
		return &usageError{err}
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	return solve(cfg, logger, runID, stdout)
}

func newLogger(w io.Writer, out config.OutputConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(out.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", out.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	if out.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// report is the YAML result document.
type report struct {
	RunID          string     `yaml:"run_id"`
	Status         sqp.Status `yaml:"status"`
	Iterations     int        `yaml:"iterations"`
	Evaluations    int        `yaml:"evaluations"`
	QPSolves       int        `yaml:"qp_solves"`
	SkippedUpdates int        `yaml:"skipped_updates"`
	Objective      float64    `yaml:"objective"`
	Violation      float64    `yaml:"violation"`
	Penalty        float64    `yaml:"penalty"`
	Controls       []float64  `yaml:"controls"`
	Multipliers    []float64  `yaml:"multipliers"`
	Final          *terminal  `yaml:"final,omitempty"`
	Reference      *crossRef  `yaml:"reference,omitempty"`
	Error          string     `yaml:"error,omitempty"`
}

type terminal struct {
	Position float64 `yaml:"position"`
	Velocity float64 `yaml:"velocity"`
	Mass     float64 `yaml:"mass"`
}

type crossRef struct {
	Objective  float64   `yaml:"objective"`
	Violation  float64   `yaml:"violation"`
	Iterations int       `yaml:"iterations"`
	Controls   []float64 `yaml:"controls"`
	Distance   float64   `yaml:"distance"`
}

func solve(cfg *config.Config, logger *slog.Logger, runID string, stdout io.Writer) error {

	model, err := rocket.New(cfg.Rocket)
	if err != nil {
		return err
	}
	problem, err := cfg.Problem(model)
	if err != nil {
		return err
	}
	problem.Recorder = func(it *sqp.Iteration) {
		logger.Debug("sqp iteration",
			"k", it.Iter,
			"nls", it.LineSearchIters,
			"dx", it.StepNorm,
			"gradL", it.GradNorm,
			"eq_viol", it.Violation,
			"alpha", it.Alpha,
			"mu", it.Penalty)
	}

	level, _ := cfg.TableLevel()
	optimizer, err := problem.New(&sqp.Logger{Level: level, Msg: stdout})
	if err != nil {
		return err
	}

	logger.Info("solving rocket trajectory",
		"controls", cfg.Rocket.Controls,
		"steps", cfg.Rocket.Steps,
		"qp", cfg.Solver.QP,
		"secant", cfg.Solver.Secant)

	x0 := model.Start()
	res, fitErr := optimizer.Fit(x0, optimizer.Init())

	doc := report{
		RunID:          runID,
		Status:         res.Status,
		Iterations:     res.NumIter,
		Evaluations:    res.NumEval,
		QPSolves:       res.NumQP,
		SkippedUpdates: res.SkippedUpdates,
		Objective:      res.F,
		Violation:      res.Violation,
		Penalty:        res.Penalty,
		Controls:       res.X,
		Multipliers:    res.Lambda,
	}

	if fitErr != nil {
		logger.Error("sqp failed", "status", res.Status, "iterations", res.NumIter, "error", fitErr)
		doc.Error = fitErr.Error()
	} else {
		logger.Info("sqp finished",
			"status", res.Status,
			"iterations", res.NumIter,
			"objective", res.F,
			"violation", res.Violation,
			"skipped_updates", res.SkippedUpdates)
	}

	tr, simErr := model.Simulate(res.X)
	if simErr == nil {
		n := len(tr.S) - 1
		doc.Final = &terminal{Position: tr.S[n], Velocity: tr.V[n], Mass: tr.M[n]}
	} else {
		logger.Warn("cannot simulate final controls", "error", simErr)
	}

	if cfg.Reference.Enabled {
		lower, upper := model.Bounds()
		ref, err := reference.Solve(model, x0, cfg.ReferenceSettings(lower, upper))
		if ref != nil {
			doc.Reference = &crossRef{
				Objective:  ref.F,
				Violation:  ref.Violation,
				Iterations: ref.OuterIterations,
				Controls:   ref.X,
				Distance:   floats.Distance(ref.X, res.X, 2),
			}
		}
		if err != nil {
			logger.Warn("reference solve incomplete", "error", err)
		} else {
			logger.Info("reference solve finished",
				"objective", ref.F,
				"violation", ref.Violation,
				"distance", doc.Reference.Distance)
		}
	}

	if cfg.Output.Plot != "" && simErr == nil {
		if err = render.Save(cfg.Output.Plot, tr, "Rocket trajectory optimization"); err != nil {
			return err
		}
		logger.Info("plot written", "path", cfg.Output.Plot)
	}

	if cfg.Output.Format == "yaml" {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err = enc.Encode(&doc); err != nil {
			return err
		}
		if err = enc.Close(); err != nil {
			return err
		}
	}
	return fitErr
}
