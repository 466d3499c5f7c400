// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linearity

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/go-lpc/cryosar/sar"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

func TestSummarize(t *testing.T) {
	for _, tc := range []struct {
		name  string
		codes []float64
		w     sar.Weights
		want  Stats
	}{
		{
			name:  "empty",
			codes: nil,
			w:     sar.DefaultWeights,
			want:  Stats{FullScale: 4547},
		},
		{
			name:  "pedestal",
			codes: []float64{1.2, 1.8, 3, 3, 5},
			w:     sar.DefaultWeights,
			want: Stats{
				N:         5,
				Mean:      2.8,
				StdDev:    math.Sqrt(1.76),
				Min:       1,
				Max:       5,
				Range:     4,
				Unique:    4,
				Coverage:  80,
				FullScale: 4547,
			},
		},
		{
			name:  "over-range",
			codes: []float64{0, 1, 2, 3, 4},
			w:     sar.Weights{15: 4},
			want: Stats{
				N:         5,
				Mean:      2,
				StdDev:    math.Sqrt(2),
				Min:       0,
				Max:       4,
				Range:     4,
				Unique:    5,
				Coverage:  100,
				FullScale: 4,
				OverRange: true,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Summarize(tc.codes, tc.w)
			if !scalar.EqualWithinAbs(got.StdDev, tc.want.StdDev, 1e-12) {
				t.Fatalf("invalid std-dev: got=%v, want=%v", got.StdDev, tc.want.StdDev)
			}
			if !scalar.EqualWithinAbs(got.Mean, tc.want.Mean, 1e-12) {
				t.Fatalf("invalid mean: got=%v, want=%v", got.Mean, tc.want.Mean)
			}
			got.StdDev = tc.want.StdDev
			got.Mean = tc.want.Mean
			if got != tc.want {
				t.Fatalf("invalid stats:\ngot= %+v\nwant=%+v", got, tc.want)
			}
		})
	}
}

func TestHistogram(t *testing.T) {
	for _, tc := range []struct {
		codes []float64
		min   float64
		want  []float64
	}{
		{
			codes: []float64{-1.4, 0.2, 0.6, 2},
			min:   -1,
			want:  []float64{1, 1, 1, 1},
		},
		{
			codes: []float64{0.4, 0.6, 0.6, 3},
			min:   0,
			want:  []float64{1, 2, 0, 1},
		},
		{
			codes: []float64{7, 7, 7},
			min:   7,
			want:  []float64{3},
		},
	} {
		t.Run("", func(t *testing.T) {
			h := Histogram(tc.codes)
			if got, want := h.Len(), len(tc.want); got != want {
				t.Fatalf("invalid number of bins: got=%d, want=%d", got, want)
			}
			got := make([]float64, h.Len())
			for i := range got {
				got[i] = h.Value(i)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid histogram: got=%v, want=%v", got, tc.want)
			}
			if got, want := h.Binning.Bins[0].XMid(), tc.min; got != want {
				t.Fatalf("invalid first code: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestSineHistogram(t *testing.T) {
	const (
		n      = 1 << 20
		cycles = 1009
		amp    = 100.3
	)
	codes := make([]float64, n)
	for i := range codes {
		codes[i] = math.Round(amp * math.Sin(2*math.Pi*cycles*float64(i)/n+0.3))
	}

	lin, err := SineHistogram(codes)
	if err != nil {
		t.Fatalf("could not compute linearity: %+v", err)
	}

	if got, want := len(lin.Transitions), 200; got != want {
		t.Fatalf("invalid number of transitions: got=%d, want=%d", got, want)
	}
	if got, want := len(lin.DNL), 199; got != want {
		t.Fatalf("invalid DNL size: got=%d, want=%d", got, want)
	}
	if got, want := lin.Codes[0], -100.0; got != want {
		t.Fatalf("invalid first code: got=%v, want=%v", got, want)
	}

	dnl, inl := lin.Peak()
	if dnl > 0.02 {
		t.Fatalf("invalid ideal DNL: got=%v", dnl)
	}
	if inl > 0.02 {
		t.Fatalf("invalid ideal INL: got=%v", inl)
	}
	if got, want := lin.Gain, 100/amp; math.Abs(got-want) > 1e-3 {
		t.Fatalf("invalid gain: got=%v, want=%v", got, want)
	}
	if got := floats.Sum(lin.INL); math.Abs(got) > 1e-9 {
		t.Fatalf("INL residuals do not sum to zero: got=%v", got)
	}
}

func TestSineHistogramMissingCode(t *testing.T) {
	const (
		n      = 1 << 16
		cycles = 127
		amp    = 20.3
	)
	codes := make([]float64, n)
	for i := range codes {
		v := math.Round(amp * math.Sin(2*math.Pi*cycles*float64(i)/n))
		if v == 5 {
			v = 6
		}
		codes[i] = v
	}

	lin, err := SineHistogram(codes)
	if err != nil {
		t.Fatalf("could not compute linearity: %+v", err)
	}

	// code 5 is missing: transitions 4->5 and 5->6 coincide.
	j := int(4 - lin.Codes[0])
	for _, tc := range []struct {
		code int
		dnl  float64
		want float64
	}{
		{4, lin.DNL[j-1], 0},
		{5, lin.DNL[j], -1},
		{6, lin.DNL[j+1], +1},
	} {
		if math.Abs(tc.dnl-tc.want) > 0.05 {
			t.Fatalf("invalid DNL of code %d: got=%v, want=%v", tc.code, tc.dnl, tc.want)
		}
	}
}

func TestSineHistogramErrors(t *testing.T) {
	for _, codes := range [][]float64{
		nil,
		{3, 3, 3},
		{1, 2, 2, 1},
	} {
		_, err := SineHistogram(codes)
		if !errors.Is(err, sar.ErrDegenerate) {
			t.Fatalf("invalid error for %v: got=%+v, want=%+v", codes, err, sar.ErrDegenerate)
		}
	}
}
