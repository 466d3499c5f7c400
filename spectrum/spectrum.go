// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spectrum computes the dynamic figures of merit of an ADC from
// the single-sided spectrum of a sine-wave capture.
package spectrum // import "github.com/go-lpc/cryosar/spectrum"

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/go-lpc/cryosar/sar"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DCBins is the number of bins, starting at DC, dropped from the
// spectrum.
const DCBins = 1

// Result holds the figures of merit of a capture.
type Result struct {
	ENOB float64 // effective number of bits
	SNDR float64 // signal to noise and distortion ratio, in dB
	SFDR float64 // spurious-free dynamic range, in dBc
	SNR  float64 // signal to noise ratio, in dB
	SDR  float64 // signal to distortion ratio, in dB

	Freq []float64 // bin frequencies, in Hz
	PSD  []float64 // power spectral density relative to the fundamental, in dBc

	Fund      int   // index of the fundamental in Freq
	Harmonics []int // indices of the harmonics 2, 3, ... in Freq
}

type config struct {
	numharm int
	numbins int
	fund    int
	forced  bool // fund set with WithFundamental
}

// Option configures the analysis.
type Option func(*config)

// WithHarmonics sets the number of tones, fundamental included, counted
// as distortion. The default is 9.
func WithHarmonics(n int) Option {
	return func(cfg *config) {
		cfg.numharm = n
	}
}

// WithSignalBins sets the number of bins on each side of a tone counted
// as part of that tone. The default is 0.
func WithSignalBins(n int) Option {
	return func(cfg *config) {
		cfg.numbins = n
	}
}

// WithFundamental forces the index (in Result.Freq) of the fundamental.
// By default, the largest bin is used.
func WithFundamental(i int) Option {
	return func(cfg *config) {
		cfg.fund = i
		cfg.forced = true
	}
}

// Analyze computes the spectrum of data sampled at fs Hz and its figures
// of merit. No window is applied: the capture is expected to be
// coherently sampled.
//
// Analyze fails with sar.ErrDegenerate whenever a figure of merit is not
// a finite number.
func Analyze(data []float64, fs float64, opts ...Option) (Result, error) {
	cfg := config{
		numharm: 9,
		numbins: 0,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		n     = len(data)
		nbins = n/2 - DCBins
	)
	switch {
	case !(fs > 0):
		return Result{}, fmt.Errorf("spectrum: invalid sampling frequency %g: %w", fs, sar.ErrRange)
	case cfg.numbins < 0:
		return Result{}, fmt.Errorf("spectrum: invalid number of signal bins %d: %w", cfg.numbins, sar.ErrRange)
	case nbins < 1:
		return Result{}, fmt.Errorf("spectrum: not enough samples (n=%d): %w", n, sar.ErrDegenerate)
	case cfg.numharm < 2:
		return Result{}, fmt.Errorf("spectrum: no harmonics to compute distortion (numharm=%d): %w", cfg.numharm, sar.ErrDegenerate)
	case cfg.forced && (cfg.fund < 0 || cfg.fund >= nbins):
		return Result{}, fmt.Errorf("spectrum: invalid fundamental bin %d (nbins=%d): %w", cfg.fund, nbins, sar.ErrRange)
	}

	var (
		mean = stat.Mean(data, nil)
		xs   = make([]float64, n)
	)
	for i, v := range data {
		xs[i] = v - mean
	}
	coeffs := fourier.NewFFT(n).Coefficients(nil, xs)

	var (
		res = Result{
			Freq: make([]float64, nbins),
			PSD:  make([]float64, nbins),
		}
		mag = make([]float64, nbins)
		df  = fs / float64(n)
	)
	for i := range mag {
		k := i + DCBins
		mag[i] = 2 * cmplx.Abs(coeffs[k]) / float64(n)
		res.Freq[i] = float64(k) * df
	}

	res.Fund = cfg.fund
	if !cfg.forced {
		res.Fund = floats.MaxIdx(mag)
	}
	fmag := mag[res.Fund]
	if !(fmag > 0) {
		return res, fmt.Errorf("spectrum: null fundamental: %w", sar.ErrDegenerate)
	}
	for i := range mag {
		mag[i] /= fmag
		res.PSD[i] = 20 * math.Log10(mag[i])
	}

	lo, hi := window(res.Fund, cfg.numbins, nbins)

	var (
		spur = math.Inf(-1)
		sig  float64
		oth  float64
	)
	for i, v := range mag {
		if lo <= i && i <= hi {
			sig += v * v
			continue
		}
		oth += v * v
		if res.PSD[i] > spur {
			spur = res.PSD[i]
		}
	}
	if lo == 0 && hi == nbins-1 {
		return res, fmt.Errorf("spectrum: no bins outside of the signal window: %w", sar.ErrDegenerate)
	}
	res.SFDR = -spur

	var (
		fnyq = 0.5 * fs
		ff   = res.Freq[res.Fund]
		harm float64
	)
	res.Harmonics = make([]int, 0, cfg.numharm-1)
	for h := 2; h <= cfg.numharm; h++ {
		f := ff * float64(h)
		alias := math.Mod(f, fnyq)
		if zone := math.Floor(f / fnyq); math.Mod(zone, 2) != 0 {
			alias = fnyq - alias
		}
		idx := int(math.Round(alias/df)) - DCBins
		switch {
		case idx < 0:
			idx = 0
		case idx > nbins-1:
			idx = nbins - 1
		}
		res.Harmonics = append(res.Harmonics, idx)

		lo, hi := window(idx, cfg.numbins, nbins)
		for _, v := range mag[lo : hi+1] {
			harm += v * v
		}
	}

	switch {
	case !(oth > 0):
		return res, fmt.Errorf("spectrum: null noise and distortion power: %w", sar.ErrDegenerate)
	case !(harm > 0):
		return res, fmt.Errorf("spectrum: null distortion power: %w", sar.ErrDegenerate)
	case !(oth-harm > 0):
		return res, fmt.Errorf(
			"spectrum: non-positive noise power (noise+distortion=%g, distortion=%g): %w",
			oth, harm, sar.ErrDegenerate,
		)
	}

	res.SNDR = 10 * math.Log10(sig/oth)
	res.ENOB = (res.SNDR - 1.76) / 6.02
	res.SNR = 10 * math.Log10(sig/(oth-harm))
	res.SDR = 10 * math.Log10(sig/harm)

	for _, v := range []float64{res.ENOB, res.SNDR, res.SFDR, res.SNR, res.SDR} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return res, fmt.Errorf("spectrum: non-finite figure of merit: %w", sar.ErrDegenerate)
		}
	}

	return res, nil
}

// window returns the inclusive range of bins around i, clipped to [0, n).
func window(i, w, n int) (lo, hi int) {
	lo = i - w
	if lo < 0 {
		lo = 0
	}
	hi = i + w
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}
