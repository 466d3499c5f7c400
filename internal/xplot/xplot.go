// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xplot draws spectra, code histograms and linearity plots.
package xplot // import "github.com/go-lpc/cryosar/internal/xplot"

import (
	"fmt"
	"math"

	"github.com/go-lpc/cryosar/linearity"
	"github.com/go-lpc/cryosar/spectrum"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	width  = 20 * vg.Centimeter
	height = 10 * vg.Centimeter

	floor = -200 // dBc, for empty bins
)

// PSD saves the power spectral density of res to fname.
func PSD(fname, title string, res spectrum.Result) error {
	xys := make(plotter.XYs, len(res.Freq))
	for i := range xys {
		xys[i].X = res.Freq[i] * 1e-6
		xys[i].Y = math.Max(res.PSD[i], floor)
	}

	p := hplot.New()
	p.Title.Text = fmt.Sprintf(
		"%s -- ENOB=%.2f, SNDR=%.2f dB, SFDR=%.2f dBc",
		title, res.ENOB, res.SNDR, res.SFDR,
	)
	p.X.Label.Text = "Frequency [MHz]"
	p.Y.Label.Text = "PSD [dBc]"

	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("xplot: could not create PSD line: %w", err)
	}
	p.Add(line, hplot.NewGrid())

	return save(p, fname)
}

// Histogram saves the code histogram h to fname.
func Histogram(fname, title string, h *hbook.H1D) error {
	p := hplot.New()
	p.Title.Text = fmt.Sprintf(
		"%s -- entries=%d, std-dev=%.3f LSB",
		title, h.Entries(), h.XStdDev(),
	)
	p.X.Label.Text = "Code"
	p.Y.Label.Text = "Entries"
	p.Add(hplot.NewH1D(h), hplot.NewGrid())

	return save(p, fname)
}

// Linearity saves the DNL and INL of lin to dnl and inl.
func Linearity(dnl, inl string, lin linearity.Linearity) error {
	for _, v := range []struct {
		fname string
		label string
		xs    []float64
		ys    []float64
	}{
		{dnl, "DNL [LSB]", lin.Codes[1:], lin.DNL},
		{inl, "INL [LSB]", lin.Codes, lin.INL},
	} {
		xys := make(plotter.XYs, len(v.ys))
		for i := range xys {
			xys[i].X = v.xs[i]
			xys[i].Y = v.ys[i]
		}

		p := hplot.New()
		p.X.Label.Text = "Code"
		p.Y.Label.Text = v.label

		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("xplot: could not create %s line: %w", v.label, err)
		}
		p.Add(line, hplot.NewGrid())

		err = save(p, v.fname)
		if err != nil {
			return err
		}
	}
	return nil
}

func save(p *hplot.Plot, fname string) error {
	err := p.Save(width, height, fname)
	if err != nil {
		return fmt.Errorf("xplot: could not save %q: %w", fname, err)
	}
	return nil
}
