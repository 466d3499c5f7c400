// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"fmt"

	"github.com/go-lpc/cryosar/sar"
)

// half is one of the two differential halves of the capacitor array.
type half struct {
	name string
	bsel uint64
}

var (
	halfP = half{name: "P-DAC", bsel: 0}
	halfN = half{name: "N-DAC", bsel: 1}
)

func (h half) fields(dir uint64, force, sliceen string, odac sar.Odac) []sar.Field {
	var (
		none   = sar.Bits(0, WeightsWidth)
		forceP = force
		forceN = none
		sliceP = sliceen
		sliceN = none
	)
	if h.bsel == 1 {
		forceP, forceN = forceN, forceP
		sliceP, sliceN = sliceN, sliceP
	}
	return []sar.Field{
		sar.F(sar.CalEn, 1, 1),
		sar.F(sar.BSel, h.bsel, 1),
		sar.F(sar.CalDirP, dir, 1),
		sar.F(sar.CalDirN, dir, 1),
		{Name: sar.CalForceP, Bits: forceP},
		{Name: sar.CalForceN, Bits: forceN},
		{Name: sar.SliceEnP, Bits: sliceP},
		{Name: sar.SliceEnN, Bits: sliceN},
		odac.Field(),
	}
}

// WeightStep is the measurement of one slice.
type WeightStep struct {
	Slice   int    // slice index, counted from the LSB (1)
	Force   string // CAL_FORCE vector
	SliceEn string // SLICE_EN vector
	P, N    float64
}

// WeightsResult is the outcome of a weight calibration.
type WeightsResult struct {
	P       sar.Weights // weights measured on the P half
	N       sar.Weights // weights measured on the N half
	Weights sar.Weights // composite weights
	Steps   []WeightStep
}

// Seed returns the weights the weight calibration starts from: the
// seeded weights of the slices below WeightsStart, zero elsewhere.
func (c *Calibrator) Seed() sar.Weights {
	return c.seed.Mask(WeightsStart - 1)
}

// CalibrateWeights measures the weights of the slices WeightsStart to
// WeightsEnd, from the LSB side, on both halves of the array.
//
// Each slice is forced in both directions with all the slices below it
// enabled; half the difference of the mean outputs is the slice weight.
// The output is decoded with the weights calibrated so far on the same
// half. The composite weights are stored into c.State.Weights.
// The chip is programmed with c.State.Odac.
func (c *Calibrator) CalibrateWeights() (WeightsResult, error) {
	var (
		res  = WeightsResult{P: c.Seed(), N: c.Seed()}
		odac = c.State.Odac
	)
	for k := WeightsStart; k <= WeightsEnd; k++ {
		var (
			force   = sar.Bits(1<<uint(k-1), WeightsWidth)
			sliceen = sar.Bits(1<<uint(k)-1, WeightsWidth)
			idx     = sar.NumBits - k
		)
		c.msg.Printf("== BIT %d ==", k)
		c.msg.Printf("cal force vector:    %s", force)
		c.msg.Printf("slice enable vector: %s", sliceen)

		wp, err := c.weight(halfP, force, sliceen, odac, &res.P)
		if err != nil {
			return res, fmt.Errorf("calib: could not measure slice %d: %w", k, err)
		}
		res.P[idx] = wp
		c.msg.Printf("measured P-DAC weight: %g", wp)

		wn, err := c.weight(halfN, force, sliceen, odac, &res.N)
		if err != nil {
			return res, fmt.Errorf("calib: could not measure slice %d: %w", k, err)
		}
		res.N[idx] = wn
		c.msg.Printf("measured N-DAC weight: %g", wn)

		res.Weights = res.P.Mean(res.N)
		c.msg.Printf("composite weights: %v", res.Weights)

		res.Steps = append(res.Steps, WeightStep{
			Slice:   k,
			Force:   force,
			SliceEn: sliceen,
			P:       wp,
			N:       wn,
		})
	}

	c.State.Weights = res.Weights
	c.msg.Printf("calibrated weights: %v", res.Weights)

	return res, nil
}

func (c *Calibrator) weight(h half, force, sliceen string, odac sar.Odac, w *sar.Weights) (float64, error) {
	var m [2]float64
	for dir := range m {
		v, err := c.mean(h.fields(uint64(dir), force, sliceen, odac), w, c.mult)
		if err != nil {
			return 0, fmt.Errorf("%s direction %d: %w", h.name, dir, err)
		}
		m[dir] = v
	}
	return 0.5 * (m[1] - m[0]), nil
}
