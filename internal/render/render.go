// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render draws the optimal thrust and the resulting trajectory.
package render

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/curioloop/trajopt/rocket"
)

// Size of the rendered figure.
var (
	Width  = 8 * vg.Inch
	Height = 8 * vg.Inch
)

// Figure builds the thrust plot above the state plot.
func Figure(tr *rocket.Trajectory, title string) ([][]*plot.Plot, error) {
	n := len(tr.A)
	if n == 0 || len(tr.T) != n+1 || len(tr.S) != n+1 || len(tr.V) != n+1 || len(tr.M) != n+1 {
		return nil, errors.New("render: malformed trajectory")
	}

	thrust := plot.New()
	thrust.Title.Text = title
	thrust.X.Label.Text = "time"
	thrust.Y.Label.Text = "thrust u"
	thrust.Add(plotter.NewGrid())

	pts := make(plotter.XYs, n+1)
	for k := 0; k <= n; k++ {
		pts[k].X = tr.T[k]
		pts[k].Y = tr.A[min(k, n-1)]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.StepStyle = plotter.PostStep
	line.LineStyle.Width = vg.Points(2)
	thrust.Add(line)

	state := plot.New()
	state.X.Label.Text = "time"
	state.Y.Label.Text = "state"
	state.Add(plotter.NewGrid())
	state.Legend.Top = true

	series := func(ys []float64) plotter.XYs {
		xy := make(plotter.XYs, len(ys))
		for k, y := range ys {
			xy[k].X, xy[k].Y = tr.T[k], y
		}
		return xy
	}
	if err = plotutil.AddLines(state,
		"position s", series(tr.S),
		"velocity v", series(tr.V),
		"mass m", series(tr.M),
	); err != nil {
		return nil, err
	}

	return [][]*plot.Plot{{thrust}, {state}}, nil
}

// WritePNG renders the figure as PNG into w.
func WritePNG(w io.Writer, tr *rocket.Trajectory, title string) error {
	plots, err := Figure(tr, title)
	if err != nil {
		return err
	}

	img := vgimg.NewWith(vgimg.UseWH(Width, Height), vgimg.UseDPI(96))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      4 * vg.Millimeter,
		PadTop:    2 * vg.Millimeter,
		PadBottom: 2 * vg.Millimeter,
		PadLeft:   2 * vg.Millimeter,
		PadRight:  2 * vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	png := vgimg.PngCanvas{Canvas: img}
	_, err = png.WriteTo(w)
	return err
}

// Save writes the PNG figure to path, creating the parent directory.
func Save(path string, tr *rocket.Trajectory, title string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err = WritePNG(bw, tr, title); err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
