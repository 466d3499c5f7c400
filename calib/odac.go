// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"fmt"

	"github.com/go-lpc/cryosar/sar"
)

// ODACMethod selects the comparison path observed while searching the
// offset-DAC code.
type ODACMethod uint8

const (
	// ODACHalfP observes the 4 LSB slices of the P half.
	ODACHalfP ODACMethod = iota
	// ODACHalfN observes the 4 LSB slices of the N half.
	ODACHalfN
	// ODACLSB observes the flipping statistics of the LSB slice alone.
	ODACLSB
)

func (m ODACMethod) String() string {
	switch m {
	case ODACHalfP:
		return "half-p"
	case ODACHalfN:
		return "half-n"
	case ODACLSB:
		return "lsb"
	}
	return fmt.Sprintf("ODACMethod(%d)", uint8(m))
}

// ParseODACMethod returns the method named s.
func ParseODACMethod(s string) (ODACMethod, error) {
	for _, m := range []ODACMethod{ODACHalfP, ODACHalfN, ODACLSB} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("calib: invalid ODAC method %q: %w", s, sar.ErrConfig)
}

// ODACStep is one iteration of the ODAC search.
type ODACStep struct {
	Code sar.Odac // programmed code
	Mean float64  // observed mean
	Next int      // unsaturated code for the next iteration
}

// ODACResult is the outcome of an ODAC search.
type ODACResult struct {
	Method ODACMethod
	Code   sar.Odac
	Steps  []ODACStep
	Final  float64 // mean observed at Code
}

// odacPlan parametrizes the binary search for a given method.
type odacPlan struct {
	fields  func(code sar.Odac) []sar.Field
	weights sar.Weights
	decr    func(mean float64) bool // whether the code must decrease
}

func (c *Calibrator) odacPlan(m ODACMethod) (odacPlan, error) {
	var (
		none    = sar.Bits(0, WeightsWidth)
		sliceen = sar.Bits(1<<ODACStart-1, WeightsWidth)
		seed    = c.seed.Mask(odacSeedBits)
	)
	switch m {
	case ODACHalfP:
		return odacPlan{
			fields: func(code sar.Odac) []sar.Field {
				return []sar.Field{
					sar.F(sar.CalEn, 1, 1),
					sar.F(sar.BSel, 0, 1),
					sar.F(sar.CalDirP, 0, 1),
					sar.F(sar.CalDirN, 0, 1),
					{Name: sar.CalForceP, Bits: none},
					{Name: sar.CalForceN, Bits: none},
					{Name: sar.SliceEnP, Bits: sliceen},
					{Name: sar.SliceEnN, Bits: none},
					code.Field(),
				}
			},
			weights: seed,
			decr:    func(mean float64) bool { return mean > 0 },
		}, nil
	case ODACHalfN:
		return odacPlan{
			fields: func(code sar.Odac) []sar.Field {
				return []sar.Field{
					sar.F(sar.CalEn, 1, 1),
					sar.F(sar.BSel, 1, 1),
					sar.F(sar.CalDirP, 0, 1),
					sar.F(sar.CalDirN, 0, 1),
					{Name: sar.CalForceP, Bits: none},
					{Name: sar.CalForceN, Bits: none},
					{Name: sar.SliceEnP, Bits: none},
					{Name: sar.SliceEnN, Bits: sliceen},
					code.Field(),
				}
			},
			weights: seed,
			decr:    func(mean float64) bool { return !(mean > 0) },
		}, nil
	case ODACLSB:
		lsb := sar.Bits(1, WeightsWidth)
		return odacPlan{
			fields: func(code sar.Odac) []sar.Field {
				return []sar.Field{
					sar.F(sar.CalEn, 1, 1),
					{Name: sar.SliceEnP, Bits: lsb},
					{Name: sar.SliceEnN, Bits: lsb},
					code.Field(),
				}
			},
			weights: sar.Weights{sar.NumBits - 1: 1},
			decr:    func(mean float64) bool { return mean > 0 },
		}, nil
	}
	return odacPlan{}, fmt.Errorf("calib: invalid ODAC method %v: %w", m, sar.ErrConfig)
}

// CalibrateODAC searches the offset-DAC code nulling the comparator
// offset, with ODACIter binary-search iterations.
//
// The search starts at code 0 with a step of half the ODAC range and
// halves the step at each iteration. Programmed codes saturate to the
// ODAC range. The resulting code is stored into c.State.Odac and a last
// acquisition at that code is made for diagnostics.
func (c *Calibrator) CalibrateODAC(m ODACMethod) (ODACResult, error) {
	plan, err := c.odacPlan(m)
	if err != nil {
		return ODACResult{}, err
	}

	var (
		res   = ODACResult{Method: m}
		value = 0
		step  = 1 << (sar.OdacWidth - 1)
	)
	for i := 0; i < ODACIter; i++ {
		code := saturate(value)
		mean, err := c.mean(plan.fields(code), &plan.weights, 1)
		if err != nil {
			return res, fmt.Errorf(
				"calib: ODAC iteration %d (code=%v): %w", i, code, err,
			)
		}
		if plan.decr(mean) {
			value -= step
		} else {
			value += step
		}
		step >>= 1

		c.msg.Printf("== ITERATION %d ==", i)
		c.msg.Printf("mean: %g", mean)
		c.msg.Printf("ODAC: %d (%v)", value, saturate(value))
		res.Steps = append(res.Steps, ODACStep{Code: code, Mean: mean, Next: value})
	}

	res.Code = saturate(value)
	res.Final, err = c.mean(plan.fields(res.Code), &plan.weights, 1)
	if err != nil {
		return res, fmt.Errorf("calib: ODAC final check (code=%v): %w", res.Code, err)
	}
	c.State.Odac = res.Code

	c.msg.Printf("final mean: %g", res.Final)
	c.msg.Printf("calibrated ODAC (%v): %q", m, res.Code.String())

	return res, nil
}

func saturate(v int) sar.Odac {
	switch {
	case v < 0:
		return 0
	case v > 1<<sar.OdacWidth-1:
		return 1<<sar.OdacWidth - 1
	}
	return sar.Odac(v)
}
