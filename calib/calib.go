// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib implements the foreground self-calibration of the
// CryoSAR1 ADC: the comparator offset DAC (ODAC) search and the
// measurement of the capacitor array bit weights.
package calib // import "github.com/go-lpc/cryosar/calib"

import (
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/cryosar/sar"
	"gonum.org/v1/gonum/stat"
)

const (
	NumSamples = 32768 // samples per acquisition
	Mult       = 10    // acquisitions averaged per weight measurement

	ODACIter  = 8 // binary-search iterations, at most sar.OdacWidth
	ODACStart = 4 // number of LSB slices enabled during the ODAC search

	WeightsWidth = 15 // number of calibrate-able slices
	WeightsStart = 8  // first calibrated slice, counted from the LSB (1)
	WeightsEnd   = 15 // last calibrated slice

	odacSeedBits = 3 // LSB weights kept while searching the ODAC code
)

// Configurer applies chip configuration fields on top of the base
// configuration. All the fields of a call are programmed and verified
// as one batch.
type Configurer interface {
	Apply(fields ...sar.Field) error
}

// Acquirer acquires batches of decoded samples.
type Acquirer interface {
	TakeData(src sar.Source, n int, w *sar.Weights, bipolar bool, mult int) (sar.Batch, error)
}

// State is the outcome of a calibration.
type State struct {
	Odac    sar.Odac
	Weights sar.Weights
}

// DefaultState returns the state of an uncalibrated chip.
func DefaultState() State {
	return State{
		Odac:    sar.OdacDefault,
		Weights: sar.DefaultWeights,
	}
}

// Calibrator runs the calibration procedures against a chip.
// Procedures are not safe for concurrent use: they own the chip for
// their whole duration.
type Calibrator struct {
	msg *log.Logger
	cfg Configurer
	daq Acquirer

	nsamples int
	mult     int
	seed     sar.Weights

	// State holds the current calibration. It starts as DefaultState
	// and is updated by CalibrateODAC and CalibrateWeights.
	State State
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithLogger sets the logger of the calibrator.
func WithLogger(msg *log.Logger) Option {
	return func(c *Calibrator) {
		c.msg = msg
	}
}

// WithSamples sets the number of samples per acquisition.
func WithSamples(n int) Option {
	return func(c *Calibrator) {
		c.nsamples = n
	}
}

// WithMult sets the number of acquisitions averaged per weight
// measurement.
func WithMult(n int) Option {
	return func(c *Calibrator) {
		c.mult = n
	}
}

// WithSeed sets the externally measured weights used for the slices
// that are not calibrated.
func WithSeed(w sar.Weights) Option {
	return func(c *Calibrator) {
		c.seed = w
	}
}

// New returns a calibrator configuring the chip with cfg and reading
// it out with daq.
func New(cfg Configurer, daq Acquirer, opts ...Option) *Calibrator {
	c := &Calibrator{
		msg:      log.New(os.Stdout, "calib: ", 0),
		cfg:      cfg,
		daq:      daq,
		nsamples: NumSamples,
		mult:     Mult,
		seed:     sar.DefaultWeights,
		State:    DefaultState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// mean programs the fields and returns the mean of mult acquisitions
// decoded in bipolar mode with the weights w.
func (c *Calibrator) mean(fields []sar.Field, w *sar.Weights, mult int) (float64, error) {
	err := c.cfg.Apply(fields...)
	if err != nil {
		return 0, fmt.Errorf("could not configure chip: %w", err)
	}

	b, err := c.daq.TakeData(sar.SourceData, c.nsamples, w, true, mult)
	if err != nil {
		return 0, fmt.Errorf("could not take data: %w", err)
	}

	return stat.Mean(b.Codes, nil), nil
}
