// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/curioloop/trajopt/internal/config"
)

func TestRun(t *testing.T) {
	t.Setenv(config.EnvVar, "")

	plot := filepath.Join(t.TempDir(), "rocket.png")
	var stdout, stderr bytes.Buffer
	err := run([]string{"--table", "iter", "--log-level", "debug", "--log-format", "json", "--plot", plot}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("TestRun: %v\n%s", err, stderr.String())
	}

	out := stdout.String()
	idx := strings.Index(out, "run_id:")
	switch {
	case !strings.Contains(out, " k  nls | dx         gradL      eq viol"):
		t.Fatalf("TestRun: missing iteration table\n%s", out)
	case idx < 0:
		t.Fatalf("TestRun: missing result document\n%s", out)
	case !strings.Contains(stderr.String(), `"msg":"sqp iteration"`):
		t.Fatalf("TestRun: iterations not logged\n%s", stderr.String())
	}

	var doc report
	if err = yaml.Unmarshal([]byte(out[idx:]), &doc); err != nil {
		t.Fatal(err)
	}
	switch {
	case doc.RunID == "":
		t.Fatal("TestRun: empty run id")
	case len(doc.Controls) != 10 || len(doc.Multipliers) != 2:
		t.Fatalf("TestRun: controls %v multipliers %v", doc.Controls, doc.Multipliers)
	case doc.Violation > 1e-6 || doc.Final == nil:
		t.Fatalf("TestRun: violation %g", doc.Violation)
	}

	if _, err = os.Stat(plot); err != nil {
		t.Fatalf("TestRun: plot not written: %v", err)
	}
}

func TestRunConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajopt.yaml")
	cfg := "solver:\n  maxiter: 2\n  qp: range\noutput:\n  table: none\n  log_level: warn\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--config", path}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	switch out := stdout.String(); {
	case strings.Contains(out, "nls"):
		t.Fatal("TestRunConfigFile: table printed")
	case !strings.Contains(out, "iterations: 2"):
		t.Fatalf("TestRunConfigFile: iteration limit ignored\n%s", out)
	}
}

func TestRunUsage(t *testing.T) {
	t.Setenv(config.EnvVar, "")

	for _, args := range [][]string{
		{"--bogus"},
		{"extra"},
		{"--qp", "ipopt"},
		{"--log-level", "loud"},
		{"--toldx", "0"},
	} {
		var stdout, stderr bytes.Buffer
		err := run(args, &stdout, &stderr)
		var ue *usageError
		if !errors.As(err, &ue) {
			t.Fatalf("TestRunUsage: %v gives %v", args, err)
		}
	}

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	var ue *usageError
	if err == nil || errors.As(err, &ue) {
		t.Fatalf("TestRunUsage: missing config gives %v", err)
	}
}
