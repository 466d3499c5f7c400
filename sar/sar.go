// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sar holds the data model of the CryoSAR1 successive-approximation
// ADC: raw sample words, bit weights, offset-DAC codes and configuration fields.
package sar // import "github.com/go-lpc/cryosar/sar"

import (
	"fmt"
	"strconv"
	"strings"
)

// NumBits is the number of bits of a raw sample word.
// Bit 0 (the MSB) is the validity flag, bits 1 to 15 carry the conversion.
const NumBits = 16

// Weights holds the analog contribution of each bit of a sample word,
// indexed MSB-first. Weights[0] is always 0.
type Weights [NumBits]float64

// DefaultWeights are the design-time weights of the CryoSAR1 capacitor array.
var DefaultWeights = Weights{
	0, 1940, 1110, 635, 365, 210, 120, 70, 40, 24, 14, 8, 5, 3, 2, 1,
}

// Sum returns the full-scale span of the weights.
func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Scale returns the weights multiplied by f.
func (w Weights) Scale(f float64) Weights {
	for i := range w {
		w[i] *= f
	}
	return w
}

// Mean returns the element-wise mean of w and o.
func (w Weights) Mean(o Weights) Weights {
	for i := range w {
		w[i] = 0.5 * (w[i] + o[i])
	}
	return w
}

// Mask returns a copy of w where only the n least significant bits
// are kept.
func (w Weights) Mask(n int) Weights {
	var o Weights
	for i := NumBits - n; i < NumBits; i++ {
		if i < 1 {
			continue
		}
		o[i] = w[i]
	}
	return o
}

// String formats weights the way calibration records store them.
func (w Weights) String() string {
	o := new(strings.Builder)
	o.WriteString("[")
	for i, v := range w {
		if i > 0 {
			o.WriteString(", ")
		}
		fmt.Fprintf(o, "%.8f", v)
	}
	o.WriteString("]")
	return o.String()
}

// ParseWeights parses weights formatted by Weights.String.
func ParseWeights(s string) (Weights, error) {
	var w Weights
	txt := strings.TrimSpace(s)
	txt = strings.TrimPrefix(txt, "[")
	txt = strings.TrimSuffix(txt, "]")
	toks := strings.Split(txt, ",")
	if len(toks) != NumBits {
		return w, fmt.Errorf("sar: invalid number of weights (got=%d, want=%d): %w", len(toks), NumBits, ErrConfig)
	}
	for i, tok := range toks {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			return w, fmt.Errorf("sar: could not parse weight %d %q: %w", i, tok, err)
		}
		w[i] = v
	}
	return w, nil
}

// Bit returns the i-th bit (MSB-first) of the raw word.
func Bit(raw uint16, i int) uint16 {
	return (raw >> (NumBits - 1 - i)) & 1
}

// Decode converts a raw sample word into a code.
//
// With nil weights, the raw word is returned as is and is always valid.
// Otherwise the code is the sum of the data bits weighted by w.
// In bipolar mode, data bits are mapped from {0,1} to {-1,+1} first.
// The validity flag never contributes to the code.
func Decode(raw uint16, w *Weights, bipolar bool) (code float64, valid bool) {
	if w == nil {
		return float64(raw), true
	}
	valid = Bit(raw, 0) == 1
	for i := 1; i < NumBits; i++ {
		b := float64(Bit(raw, i))
		if bipolar {
			b = 2*b - 1
		}
		code += b * w[i]
	}
	return code, valid
}

// Batch is the result of a data acquisition.
type Batch struct {
	Codes []float64 // decoded samples
	Raw   []uint16  // undecoded sample words
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Codes) }
