// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the trajopt configuration.
//
// Configuration comes from a single YAML file named by the --config flag
// or the TRAJOPT_CONFIG environment variable. Keys absent from the file
// keep the values of Default; unknown keys are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/curioloop/trajopt/nlp"
	"github.com/curioloop/trajopt/qp"
	"github.com/curioloop/trajopt/reference"
	"github.com/curioloop/trajopt/rocket"
	"github.com/curioloop/trajopt/sqp"
)

// EnvVar names the environment variable consulted by Load.
const EnvVar = "TRAJOPT_CONFIG"

// Config is the complete run configuration.
type Config struct {
	Solver     SolverConfig     `yaml:"solver"`
	LineSearch LineSearchConfig `yaml:"linesearch"`
	Rocket     rocket.Params    `yaml:"rocket"`
	Reference  ReferenceConfig  `yaml:"reference"`
	Output     OutputConfig     `yaml:"output"`
}

// SolverConfig configures the SQP driver.
type SolverConfig struct {
	MaxIter int     `yaml:"maxiter"`
	TolDx   float64 `yaml:"toldx"`
	TolGL   float64 `yaml:"tolgL"`
	// QP selects the sub-problem solver: "kkt" or "range".
	QP string `yaml:"qp"`
	// Secant selects the damped BFGS variant: "step" or "lagrangian".
	Secant string `yaml:"secant"`
}

// LineSearchConfig configures the merit function and the backtracking search.
type LineSearchConfig struct {
	Sigma    float64 `yaml:"sigma"`
	Rho      float64 `yaml:"rho"`
	MuSafety float64 `yaml:"mu_safety"`
	Eta      float64 `yaml:"eta"`
	Tau      float64 `yaml:"tau"`
	MaxIter  int     `yaml:"maxiter"`
}

// ReferenceConfig configures the cross-check solve.
type ReferenceConfig struct {
	Enabled         bool    `yaml:"enabled"`
	OuterIterations int     `yaml:"outer_iterations"`
	Tolerance       float64 `yaml:"tolerance"`
	Penalty         float64 `yaml:"penalty"`
	PenaltyGrowth   float64 `yaml:"penalty_growth"`
}

// OutputConfig configures what the command prints and writes.
type OutputConfig struct {
	// Table is the level of the iteration table: "none", "last", "iter" or "verbose".
	Table string `yaml:"table"`
	// Format of the result document: "yaml" or "none".
	Format string `yaml:"format"`
	// Plot is the image path for the control and trajectory plot, empty for none.
	Plot string `yaml:"plot"`
	// LogLevel is the slog level: "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level"`
	// LogFormat is the slog handler: "text" or "json".
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration of the classic rocket run.
func Default() *Config {
	stop, line := sqp.DefaultTermination(), sqp.DefaultLineSearch()
	ref := reference.DefaultSettings()
	return &Config{
		Solver: SolverConfig{
			MaxIter: stop.MaxIterations,
			TolDx:   stop.StepTolerance,
			TolGL:   stop.GradTolerance,
			QP:      "kkt",
			Secant:  sqp.SecantStep.String(),
		},
		LineSearch: LineSearchConfig{
			Sigma:    line.Sigma,
			Rho:      line.Rho,
			MuSafety: line.Safety,
			Eta:      line.Eta,
			Tau:      line.Tau,
			MaxIter:  line.MaxIterations,
		},
		Rocket: rocket.DefaultParams(),
		Reference: ReferenceConfig{
			Enabled:         false,
			OuterIterations: ref.OuterIterations,
			Tolerance:       ref.Tolerance,
			Penalty:         ref.Penalty,
			PenaltyGrowth:   ref.PenaltyGrowth,
		},
		Output: OutputConfig{
			Table:     "iter",
			Format:    "yaml",
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Load loads the file named by TRAJOPT_CONFIG, or returns Default when it is not set.
func Load() (*Config, error) {
	if path := os.Getenv(EnvVar); path != "" {
		return LoadFile(path)
	}
	return Default(), nil
}

// LoadFile loads and validates the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that the solvers would otherwise reject late.
func (c *Config) Validate() error {
	if _, err := c.QPSolver(); err != nil {
		return err
	}
	if _, err := sqp.ParseSecant(c.Solver.Secant); err != nil {
		return err
	}
	if _, err := c.TableLevel(); err != nil {
		return err
	}
	switch {
	case c.Solver.MaxIter <= 0:
		return errors.New("solver.maxiter must greater than 0")
	case !(c.Solver.TolDx > 0):
		return errors.New("solver.toldx must greater than 0")
	case !(c.Solver.TolGL > 0):
		return errors.New("solver.tolgL must greater than 0")
	case c.LineSearch.MaxIter <= 0:
		return errors.New("linesearch.maxiter must greater than 0")
	case c.Output.Format != "yaml" && c.Output.Format != "none":
		return fmt.Errorf("unknown output.format %q", c.Output.Format)
	case c.Output.LogFormat != "text" && c.Output.LogFormat != "json":
		return fmt.Errorf("unknown output.log_format %q", c.Output.LogFormat)
	}
	return c.Rocket.Validate()
}

// QPSolver returns the configured QP sub-problem solver.
func (c *Config) QPSolver() (qp.Solver, error) {
	switch c.Solver.QP {
	case "", "kkt":
		return qp.KKT{}, nil
	case "range":
		return qp.RangeSpace{}, nil
	}
	return nil, fmt.Errorf("unknown solver.qp %q", c.Solver.QP)
}

// TableLevel maps output.table to the solver log level.
func (c *Config) TableLevel() (sqp.LogLevel, error) {
	switch c.Output.Table {
	case "none":
		return sqp.LogNoop, nil
	case "last":
		return sqp.LogLast, nil
	case "", "iter":
		return sqp.LogIter, nil
	case "verbose":
		return sqp.LogVerbose, nil
	}
	return sqp.LogNoop, fmt.Errorf("unknown output.table %q", c.Output.Table)
}

// Problem builds the SQP problem for model. The recorder is left to the caller.
func (c *Config) Problem(model nlp.Model) (*sqp.Problem, error) {
	solver, err := c.QPSolver()
	if err != nil {
		return nil, err
	}
	secant, err := sqp.ParseSecant(c.Solver.Secant)
	if err != nil {
		return nil, err
	}
	ls := c.LineSearch
	return &sqp.Problem{
		Model: model,
		QP:    solver,
		Stop: sqp.Termination{
			MaxIterations: c.Solver.MaxIter,
			StepTolerance: c.Solver.TolDx,
			GradTolerance: c.Solver.TolGL,
		},
		Line: sqp.LineSearch{
			Sigma:         ls.Sigma,
			Rho:           ls.Rho,
			Safety:        ls.MuSafety,
			Eta:           ls.Eta,
			Tau:           ls.Tau,
			MaxIterations: ls.MaxIter,
		},
		Secant: secant,
	}, nil
}

// ReferenceSettings returns the cross-check settings with the given bounds.
func (c *Config) ReferenceSettings(lower, upper []float64) reference.Settings {
	s := reference.DefaultSettings()
	r := c.Reference
	s.OuterIterations = r.OuterIterations
	s.Tolerance = r.Tolerance
	s.Penalty = r.Penalty
	s.PenaltyGrowth = r.PenaltyGrowth
	s.Lower, s.Upper = lower, upper
	return s
}
