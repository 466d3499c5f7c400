// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"errors"
	"fmt"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/cryosar/sar"
)

// fakeChip models the chip behind the slow-control and the readout.
//
// With no slice forced, the output mean is given by the odac response
// function. With a slice forced, the chip converts the forced charge
// with an ideal bipolar SAR over the enabled slices below it, using the
// true weights of the array.
type fakeChip struct {
	cfg   map[string]string
	odac  func(mode string, code int) float64
	truth sar.Weights

	applies int
	weights []sar.Weights
	fail    error
	acqFail error
}

func newFakeChip(cstar int) *fakeChip {
	return &fakeChip{
		cfg: make(map[string]string),
		odac: func(mode string, code int) float64 {
			v := float64(code-cstar) + 0.5
			if mode == "N" {
				v = -v
			}
			return v
		},
	}
}

func (chip *fakeChip) Apply(fields ...sar.Field) error {
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		}
		chip.cfg[f.Name] = f.Bits
	}
	chip.applies++
	return chip.fail
}

func (chip *fakeChip) TakeData(src sar.Source, n int, w *sar.Weights, bipolar bool, mult int) (sar.Batch, error) {
	if chip.acqFail != nil {
		return sar.Batch{}, chip.acqFail
	}
	if src != sar.SourceData || !bipolar || w == nil {
		return sar.Batch{}, fmt.Errorf("invalid acquisition request (src=%v, bipolar=%v)", src, bipolar)
	}
	chip.weights = append(chip.weights, *w)

	code, err := chip.sample(w)
	if err != nil {
		return sar.Batch{}, err
	}
	codes := make([]float64, n*mult)
	for i := range codes {
		codes[i] = code
	}
	return sar.Batch{Codes: codes}, nil
}

func (chip *fakeChip) sample(w *sar.Weights) (float64, error) {
	odac, err := sar.ParseOdac(chip.cfg[sar.OdacCode])
	if err != nil {
		return 0, err
	}

	lsb := sar.Bits(1, WeightsWidth)
	if chip.cfg[sar.SliceEnP] == lsb && chip.cfg[sar.SliceEnN] == lsb {
		return chip.odac("LSB", int(odac)), nil
	}

	var (
		mode    = "P"
		force   = chip.cfg[sar.CalForceP]
		sliceen = chip.cfg[sar.SliceEnP]
		other   = chip.cfg[sar.SliceEnN]
	)
	if chip.cfg[sar.BSel] == "1" {
		mode = "N"
		force = chip.cfg[sar.CalForceN]
		sliceen = chip.cfg[sar.SliceEnN]
		other = chip.cfg[sar.SliceEnP]
	}
	if strings.Contains(other, "1") {
		return 0, fmt.Errorf("slices enabled on both halves")
	}

	if !strings.Contains(force, "1") {
		return chip.odac(mode, int(odac)), nil
	}

	k := strings.Count(sliceen, "1")
	if want := sar.Bits(1<<uint(k-1), WeightsWidth); force != want {
		return 0, fmt.Errorf("invalid force vector %q for slice-enable %q", force, sliceen)
	}
	if chip.cfg[sar.CalDirP] != chip.cfg[sar.CalDirN] {
		return 0, fmt.Errorf("inconsistent force directions")
	}
	dir := chip.cfg[sar.CalDirP] == "1"

	code, _ := sar.Decode(chip.convert(k, dir), w, true)
	return code, nil
}

func (chip *fakeChip) convert(k int, dir bool) uint16 {
	var (
		idx = sar.NumBits - k
		raw = uint16(0x8000)
		r   = chip.truth[idx]
	)
	if dir {
		raw |= 1 << uint(sar.NumBits-1-idx)
	} else {
		r = -r
	}
	for i := idx + 1; i < sar.NumBits; i++ {
		if r > 0 {
			raw |= 1 << uint(sar.NumBits-1-i)
			r -= chip.truth[i]
			continue
		}
		r += chip.truth[i]
	}
	return raw
}

func newTestCalibrator(chip *fakeChip, opts ...Option) *Calibrator {
	opts = append([]Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithSamples(16),
	}, opts...)
	return New(chip, chip, opts...)
}

func TestCalibrateODACConverges(t *testing.T) {
	modes := map[ODACMethod]string{
		ODACHalfP: "P",
		ODACHalfN: "N",
		ODACLSB:   "LSB",
	}
	for _, m := range []ODACMethod{ODACHalfP, ODACHalfN, ODACLSB} {
		t.Run(m.String(), func(t *testing.T) {
			for cstar := 0; cstar < 1<<sar.OdacWidth; cstar++ {
				chip := newFakeChip(cstar)
				cal := newTestCalibrator(chip)

				res, err := cal.CalibrateODAC(m)
				if err != nil {
					t.Fatalf("code*=%d: could not calibrate: %+v", cstar, err)
				}
				if d := int(res.Code) - cstar; d < -1 || d > 1 {
					t.Fatalf("code*=%d: search did not converge: got=%d", cstar, res.Code)
				}
				if got, want := len(res.Steps), ODACIter; got != want {
					t.Fatalf("code*=%d: invalid number of iterations: got=%d, want=%d", cstar, got, want)
				}
				if got, want := chip.applies, ODACIter+1; got != want {
					t.Fatalf("code*=%d: invalid number of programmings: got=%d, want=%d", cstar, got, want)
				}
				if got, want := cal.State.Odac, res.Code; got != want {
					t.Fatalf("code*=%d: state not updated: got=%d, want=%d", cstar, got, want)
				}
				if got, want := res.Final, chip.odac(modes[m], int(res.Code)); got != want {
					t.Fatalf("code*=%d: invalid final mean: got=%v, want=%v", cstar, got, want)
				}
			}
		})
	}
}

func TestCalibrateODACSteps(t *testing.T) {
	chip := newFakeChip(133)
	cal := newTestCalibrator(chip)

	res, err := cal.CalibrateODAC(ODACHalfP)
	if err != nil {
		t.Fatalf("could not calibrate: %+v", err)
	}

	var codes []sar.Odac
	for _, step := range res.Steps {
		codes = append(codes, step.Code)
	}
	want := []sar.Odac{0, 128, 192, 160, 144, 136, 132, 134}
	if !reflect.DeepEqual(codes, want) {
		t.Fatalf("invalid search trajectory:\ngot= %v\nwant=%v", codes, want)
	}
	if got, want := res.Code.String(), "10000101"; got != want {
		t.Fatalf("invalid code: got=%q, want=%q", got, want)
	}

	if got, want := chip.weights[0], (sar.Weights{13: 3, 14: 2, 15: 1}); got != want {
		t.Fatalf("invalid ODAC search weights:\ngot= %v\nwant=%v", got, want)
	}

	wantCfg := map[string]string{
		"CAL_EN":      "1",
		"B_SEL":       "0",
		"CAL_DIR_P":   "0",
		"CAL_DIR_N":   "0",
		"CAL_FORCE_P": "000000000000000",
		"CAL_FORCE_N": "000000000000000",
		"SLICE_EN_P":  "000000000001111",
		"SLICE_EN_N":  "000000000000000",
		"ODAC_CODE":   "10000101",
	}
	if !reflect.DeepEqual(chip.cfg, wantCfg) {
		t.Fatalf("invalid configuration:\ngot= %v\nwant=%v", chip.cfg, wantCfg)
	}
}

func TestCalibrateODACLSBWeights(t *testing.T) {
	chip := newFakeChip(42)
	cal := newTestCalibrator(chip)

	_, err := cal.CalibrateODAC(ODACLSB)
	if err != nil {
		t.Fatalf("could not calibrate: %+v", err)
	}
	for i, w := range chip.weights {
		if want := (sar.Weights{15: 1}); w != want {
			t.Fatalf("acquisition %d: invalid weights: got=%v, want=%v", i, w, want)
		}
	}
}

func TestCalibrateODACDeterministic(t *testing.T) {
	var codes []sar.Odac
	for i := 0; i < 2; i++ {
		cal := newTestCalibrator(newFakeChip(77))
		res, err := cal.CalibrateODAC(ODACHalfN)
		if err != nil {
			t.Fatalf("could not calibrate: %+v", err)
		}
		codes = append(codes, res.Code)
	}
	if codes[0] != codes[1] {
		t.Fatalf("non-deterministic search: %v", codes)
	}
}

func TestCalibrateODACErrors(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		chip := newFakeChip(10)
		chip.fail = sar.ErrConfig
		_, err := newTestCalibrator(chip).CalibrateODAC(ODACHalfP)
		if !errors.Is(err, sar.ErrConfig) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrConfig)
		}
	})

	t.Run("acquisition", func(t *testing.T) {
		chip := newFakeChip(10)
		chip.acqFail = sar.ErrInvalidSample
		_, err := newTestCalibrator(chip).CalibrateODAC(ODACHalfP)
		if !errors.Is(err, sar.ErrInvalidSample) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrInvalidSample)
		}
	})

	t.Run("method", func(t *testing.T) {
		_, err := newTestCalibrator(newFakeChip(10)).CalibrateODAC(ODACMethod(42))
		if !errors.Is(err, sar.ErrConfig) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrConfig)
		}
	})
}

func TestODACMethod(t *testing.T) {
	for _, m := range []ODACMethod{ODACHalfP, ODACHalfN, ODACLSB} {
		got, err := ParseODACMethod(m.String())
		if err != nil {
			t.Fatalf("could not parse %q: %+v", m, err)
		}
		if got != m {
			t.Fatalf("invalid method: got=%v, want=%v", got, m)
		}
	}
	if _, err := ParseODACMethod("msb"); !errors.Is(err, sar.ErrConfig) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got, want := ODACMethod(42).String(), "ODACMethod(42)"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
}

// binaryTruth returns an array where each calibrated slice weighs the sum
// of all the slices below it, on top of binary seeded slices.
func binaryTruth() sar.Weights {
	var w sar.Weights
	for k := 1; k < WeightsStart; k++ {
		w[sar.NumBits-k] = float64(int(1) << uint(k-1))
	}
	for i := sar.NumBits - WeightsStart; i > 0; i-- {
		var sum float64
		for _, v := range w[i+1:] {
			sum += v
		}
		w[i] = sum
	}
	return w
}

func TestCalibrateWeights(t *testing.T) {
	truth := binaryTruth()
	if got, want := truth[1], 16256.0; got != want {
		t.Fatalf("invalid test truth: got=%v, want=%v", got, want)
	}

	chip := newFakeChip(0)
	chip.truth = truth
	cal := newTestCalibrator(chip, WithSeed(truth), WithMult(3))
	cal.State.Odac = 133

	if got, want := cal.Seed(), truth.Mask(WeightsStart-1); got != want {
		t.Fatalf("invalid seed:\ngot= %v\nwant=%v", got, want)
	}

	res, err := cal.CalibrateWeights()
	if err != nil {
		t.Fatalf("could not calibrate weights: %+v", err)
	}

	if res.Weights != truth {
		t.Fatalf("invalid weights:\ngot= %v\nwant=%v", res.Weights, truth)
	}
	if res.P != truth || res.N != truth {
		t.Fatalf("invalid half weights:\nP=   %v\nN=   %v\nwant=%v", res.P, res.N, truth)
	}
	if got, want := cal.State.Weights, truth; got != want {
		t.Fatalf("state not updated:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := cal.State.Odac, sar.Odac(133); got != want {
		t.Fatalf("ODAC modified: got=%v, want=%v", got, want)
	}

	if got, want := len(res.Steps), WeightsEnd-WeightsStart+1; got != want {
		t.Fatalf("invalid number of steps: got=%d, want=%d", got, want)
	}
	first := res.Steps[0]
	if got, want := first.Force, "000000010000000"; got != want {
		t.Fatalf("invalid force vector: got=%q, want=%q", got, want)
	}
	if got, want := first.SliceEn, "000000011111111"; got != want {
		t.Fatalf("invalid slice-enable vector: got=%q, want=%q", got, want)
	}
	last := res.Steps[len(res.Steps)-1]
	if got, want := last.SliceEn, "111111111111111"; got != want {
		t.Fatalf("invalid slice-enable vector: got=%q, want=%q", got, want)
	}

	// 2 halves x 2 directions per slice.
	if got, want := chip.applies, 4*len(res.Steps); got != want {
		t.Fatalf("invalid number of programmings: got=%d, want=%d", got, want)
	}
	if got, want := chip.cfg[sar.OdacCode], "10000101"; got != want {
		t.Fatalf("invalid ODAC code: got=%q, want=%q", got, want)
	}

	// weights are fed forward slice after slice.
	if got, want := chip.weights[4][sar.NumBits-WeightsStart], truth[sar.NumBits-WeightsStart]; got != want {
		t.Fatalf("calibrated weight not fed forward: got=%v, want=%v", got, want)
	}
	if got := chip.weights[4][sar.NumBits-WeightsStart-1]; got != 0 {
		t.Fatalf("uncalibrated weight not zeroed: got=%v", got)
	}
}

func TestCalibrateWeightsErrors(t *testing.T) {
	chip := newFakeChip(0)
	chip.truth = binaryTruth()
	chip.acqFail = sar.ErrInvalidSample

	cal := newTestCalibrator(chip)
	_, err := cal.CalibrateWeights()
	if !errors.Is(err, sar.ErrInvalidSample) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrInvalidSample)
	}
	if got, want := cal.State, DefaultState(); got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}
