// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakechip provides an in-memory CryoSAR1 chip and acquisition
// board, for tests.
package fakechip // import "github.com/go-lpc/cryosar/internal/fakechip"

import (
	"math"
	"math/rand"
	"sync"

	"github.com/go-lpc/cryosar/sar"
)

// Chip is a fake chip answering acquisitions with a noisy sine tone or
// a noisy pedestal.
//
// Output codes scale with the full-scale span of the decoding weights.
type Chip struct {
	Tone   bool    // sine input when true, pedestal otherwise
	Cycles int     // number of sine periods per batch
	Amp    float64 // sine amplitude, in LSB
	Offset float64 // pedestal, in LSB
	Sigma  float64 // gaussian noise, in LSB

	mu   sync.Mutex
	rnd  *rand.Rand
	odac sar.Odac
	cfgs [][]sar.Field
}

// New returns a fake chip with a reproducible noise sequence.
func New(seed int64) *Chip {
	return &Chip{
		Cycles: 67,
		Amp:    1000,
		Offset: 2048,
		Sigma:  0.5,
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

// Apply records the programmed fields.
func (c *Chip) Apply(fields ...sar.Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range fields {
		if f.Name != sar.OdacCode {
			continue
		}
		v, err := sar.ParseOdac(f.Bits)
		if err != nil {
			return err
		}
		c.odac = v
	}
	c.cfgs = append(c.cfgs, fields)
	return nil
}

// Odac returns the last programmed offset-DAC code.
func (c *Chip) Odac() sar.Odac {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.odac
}

// Configs returns all the programmed field batches.
func (c *Chip) Configs() [][]sar.Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfgs
}

// TakeData returns mult batches of n samples.
func (c *Chip) TakeData(src sar.Source, n int, w *sar.Weights, bipolar bool, mult int) (sar.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	scale := 1.0
	if w != nil {
		scale = w.Sum() / sar.DefaultWeights.Sum()
	}

	out := sar.Batch{
		Codes: make([]float64, 0, n*mult),
		Raw:   make([]uint16, 0, n*mult),
	}
	for j := 0; j < mult; j++ {
		for i := 0; i < n; i++ {
			v := c.Offset + c.Sigma*c.rnd.NormFloat64()
			if c.Tone {
				v += c.Amp * math.Sin(2*math.Pi*float64(c.Cycles*i)/float64(n))
			}
			code := math.Round(v * scale)
			out.Codes = append(out.Codes, code)
			out.Raw = append(out.Raw, 0x8000|uint16(int(code))&0x7fff)
		}
	}
	return out, nil
}
