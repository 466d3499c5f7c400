// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linearity computes static figures of merit of an ADC from its
// output codes: pedestal noise, code coverage and sine-histogram DNL/INL.
package linearity // import "github.com/go-lpc/cryosar/linearity"

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-lpc/cryosar/sar"
	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// OverRangeFraction is the fraction of the full scale above which a
// capture is flagged as over-range (-1 dBFS).
const OverRangeFraction = 0.9

// Stats summarizes a capture of rounded codes.
type Stats struct {
	N         int     // number of samples
	Mean      float64 // mean code
	StdDev    float64 // population standard deviation, in LSB
	Min, Max  float64
	Range     float64 // peak-to-peak, in LSB
	Unique    int     // number of distinct codes
	Coverage  float64 // distinct codes over the code span, in percent
	FullScale float64 // sum of the weights
	OverRange bool    // Range exceeds OverRangeFraction of FullScale
}

// Round returns a copy of codes rounded to the nearest integer.
func Round(codes []float64) []float64 {
	out := make([]float64, len(codes))
	for i, v := range codes {
		out[i] = math.Round(v)
	}
	return out
}

// Summarize computes the statistics of codes, after rounding, decoded
// with the weights w.
func Summarize(codes []float64, w sar.Weights) Stats {
	st := Stats{
		N:         len(codes),
		FullScale: w.Sum(),
	}
	if len(codes) == 0 {
		return st
	}

	xs := Round(codes)
	st.Mean, st.StdDev = stat.PopMeanStdDev(xs, nil)
	st.Min = floats.Min(xs)
	st.Max = floats.Max(xs)
	st.Range = st.Max - st.Min

	sort.Float64s(xs)
	st.Unique = 1
	for i := 1; i < len(xs); i++ {
		if xs[i] != xs[i-1] {
			st.Unique++
		}
	}
	st.Coverage = 100 * float64(st.Unique) / (st.Range + 1)
	st.OverRange = st.Range > OverRangeFraction*st.FullScale
	return st
}

// Histogram returns the histogram of the rounded codes, with one bin per
// integer code between the smallest and the largest one.
func Histogram(codes []float64) *hbook.H1D {
	xs := Round(codes)
	if len(xs) == 0 {
		return hbook.NewH1D(1, -0.5, +0.5)
	}
	var (
		min = floats.Min(xs)
		max = floats.Max(xs)
		h   = hbook.NewH1D(int(max-min)+1, min-0.5, max+0.5)
	)
	for _, x := range xs {
		h.Fill(x, 1)
	}
	return h
}

// Linearity holds the differential and integral non-linearity of an ADC
// measured with the sine-histogram method.
type Linearity struct {
	Codes       []float64 // code j of the transition j -> j+1
	Transitions []float64 // estimated transition levels, in LSB
	DNL         []float64 // DNL of code Codes[j]+1
	INL         []float64 // Transitions minus their least-squares line

	Offset float64 // intercept of the least-squares line
	Gain   float64 // slope of the least-squares line
}

// SineHistogram computes DNL and INL from the rounded codes of a sine
// wave spanning the converter range.
//
// The transition level between codes j and j+1 is estimated from the
// cumulative distribution of the codes, inverting the arcsine density
// of a sine wave of amplitude A=(max-min)/2:
//
//	V[j] = -A cos(pi CDF[j])
func SineHistogram(codes []float64) (Linearity, error) {
	h := Histogram(codes)
	n := h.Len()
	if n < 3 {
		return Linearity{}, fmt.Errorf(
			"linearity: code span too small for a sine histogram (%d codes): %w",
			n, sar.ErrDegenerate,
		)
	}

	var (
		bins = h.Binning.Bins
		min  = bins[0].XMid()
		amp  = float64(n-1) / 2
		tot  = h.SumW()
		cdf  float64
		lin  = Linearity{
			Codes:       make([]float64, n-1),
			Transitions: make([]float64, n-1),
			DNL:         make([]float64, n-2),
			INL:         make([]float64, n-1),
		}
	)
	for j := range lin.Transitions {
		cdf += h.Value(j) / tot
		lin.Codes[j] = min + float64(j)
		lin.Transitions[j] = -amp * math.Cos(math.Pi*cdf)
	}
	for j := range lin.DNL {
		lin.DNL[j] = lin.Transitions[j+1] - lin.Transitions[j] - 1
	}

	lin.Offset, lin.Gain = stat.LinearRegression(lin.Codes, lin.Transitions, nil, false)
	for j, v := range lin.Transitions {
		lin.INL[j] = v - (lin.Offset + lin.Gain*lin.Codes[j])
	}

	return lin, nil
}

// Peak returns the largest absolute DNL and INL.
func (lin Linearity) Peak() (dnl, inl float64) {
	for _, v := range lin.DNL {
		dnl = math.Max(dnl, math.Abs(v))
	}
	for _, v := range lin.INL {
		inl = math.Max(inl, math.Abs(v))
	}
	return dnl, inl
}
