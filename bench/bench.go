// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bench runs the characterization procedures of a CryoSAR1 chip
// on the test bench: calibration, sine-wave dynamic performance,
// pedestal noise and sine-histogram linearity.
package bench // import "github.com/go-lpc/cryosar/bench"

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/fpga"
	"github.com/go-lpc/cryosar/linearity"
	"github.com/go-lpc/cryosar/sar"
	"github.com/go-lpc/cryosar/spectrum"
)

// Stimulus is the sine-wave source driving the ADC input.
type Stimulus interface {
	ConfigureSine(freq, vpp float64) error
	SetOutput(on bool) error
}

// Operator performs the manual steps of a procedure.
type Operator interface {
	Confirm(msg string) error
}

// Thermometer measures the board temperature.
type Thermometer interface {
	Temperature() (float64, error)
}

// Tone is a sine-wave stimulus.
type Tone struct {
	Freq float64 // frequency, in Hz
	Vpp  float64 // amplitude, in Vpp
}

// Tones used for the dynamic characterization.
var (
	Tone1MHz = Tone{Freq: 1.002670288e6, Vpp: 1.77}
	Tone8MHz = Tone{Freq: 7.997146606e6, Vpp: 2.00}
)

// Bench bundles the instruments of the test bench.
type Bench struct {
	msg *log.Logger
	cfg calib.Configurer
	daq calib.Acquirer
	cal *calib.Calibrator

	awg  Stimulus
	op   Operator
	temp Thermometer

	fs       float64
	nsamples int
	odac     calib.ODACMethod
	settle   time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// Option configures a Bench.
type Option func(*Bench)

// WithLogger sets the logger of the bench.
func WithLogger(msg *log.Logger) Option {
	return func(b *Bench) {
		b.msg = msg
	}
}

// WithStimulus sets the sine-wave source. Without a stimulus, the
// operator is asked to connect the input source.
func WithStimulus(awg Stimulus) Option {
	return func(b *Bench) {
		b.awg = awg
	}
}

// WithOperator sets the operator performing manual steps.
func WithOperator(op Operator) Option {
	return func(b *Bench) {
		b.op = op
	}
}

// WithThermometer sets the sensor stamping calibration records.
func WithThermometer(temp Thermometer) Option {
	return func(b *Bench) {
		b.temp = temp
	}
}

// WithSampleRate sets the sample rate of the ADC, in Hz.
func WithSampleRate(fs float64) Option {
	return func(b *Bench) {
		b.fs = fs
	}
}

// WithSamples sets the number of samples per capture.
func WithSamples(n int) Option {
	return func(b *Bench) {
		b.nsamples = n
	}
}

// WithODACMethod sets the ODAC calibration method.
func WithODACMethod(m calib.ODACMethod) Option {
	return func(b *Bench) {
		b.odac = m
	}
}

// WithSettle sets the delay between enabling the stimulus and the first
// capture.
func WithSettle(d time.Duration) Option {
	return func(b *Bench) {
		b.settle = d
	}
}

// WithCalibrator sets the calibrator used by Calibrate.
func WithCalibrator(cal *calib.Calibrator) Option {
	return func(b *Bench) {
		b.cal = cal
	}
}

// New creates a bench configuring the chip with cfg and reading it out
// with daq.
func New(cfg calib.Configurer, daq calib.Acquirer, opts ...Option) *Bench {
	b := &Bench{
		msg:      log.New(os.Stdout, "bench: ", 0),
		cfg:      cfg,
		daq:      daq,
		fs:       fpga.SerRate / fpga.SerWidth,
		nsamples: fpga.FIFODepth,
		odac:     calib.ODACHalfP,
		settle:   2 * time.Second,
		sleep:    time.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cal == nil {
		b.cal = calib.New(cfg, daq, calib.WithLogger(b.msg))
	}
	return b
}

func (b *Bench) confirm(msg string) error {
	if b.op == nil {
		return nil
	}
	err := b.op.Confirm(msg)
	if err != nil {
		return fmt.Errorf("bench: operator did not confirm %q: %w", msg, err)
	}
	return nil
}

// stimulus enables a sine tone, or asks the operator to connect one.
func (b *Bench) stimulus(tone Tone) error {
	if b.awg == nil {
		return b.confirm(fmt.Sprintf(
			"Attach signal input source (%g Hz, %g Vpp).", tone.Freq, tone.Vpp,
		))
	}
	err := b.awg.ConfigureSine(tone.Freq, tone.Vpp)
	if err != nil {
		return fmt.Errorf("bench: could not configure stimulus: %w", err)
	}
	err = b.awg.SetOutput(true)
	if err != nil {
		return fmt.Errorf("bench: could not enable stimulus: %w", err)
	}
	b.sleep(b.settle)
	return nil
}

func (b *Bench) quiet() error {
	if b.awg == nil {
		return nil
	}
	err := b.awg.SetOutput(false)
	if err != nil {
		return fmt.Errorf("bench: could not disable stimulus: %w", err)
	}
	return nil
}

// Calibrate runs the ODAC and weight calibrations with the input
// source disconnected and returns the resulting record. Soft anomalies
// are logged and kept in the record.
func (b *Bench) Calibrate() (calib.Record, error) {
	err := b.confirm("CALIBRATION: Disconnect any input source and attach a 50 Ohm SMA cap.")
	if err != nil {
		return calib.Record{}, err
	}
	err = b.quiet()
	if err != nil {
		return calib.Record{}, err
	}

	_, err = b.cal.CalibrateODAC(b.odac)
	if err != nil {
		return calib.Record{}, fmt.Errorf("bench: could not calibrate ODAC: %w", err)
	}

	_, err = b.cal.CalibrateWeights()
	if err != nil {
		return calib.Record{}, fmt.Errorf("bench: could not calibrate weights: %w", err)
	}

	rec := calib.NewRecord(b.cal.State, b.now())
	if b.temp != nil {
		t, err := b.temp.Temperature()
		if err != nil {
			b.msg.Printf("could not read board temperature: %+v", err)
		} else {
			rec.Temperature = t
		}
	}

	for _, msg := range rec.Warnings {
		b.msg.Printf("WARNING: %s", msg)
	}
	b.msg.Printf("calibrated ODAC: %q", rec.Odac.String())
	b.msg.Printf("calibrated weights: %v", rec.Weights)

	return rec, nil
}

// take programs the ODAC code of st and captures mult batches decoded
// with the weights of st.
func (b *Bench) take(st calib.State, mult int) (sar.Batch, error) {
	err := b.cfg.Apply(st.Odac.Field())
	if err != nil {
		return sar.Batch{}, fmt.Errorf("bench: could not program ODAC %q: %w", st.Odac.String(), err)
	}
	batch, err := b.daq.TakeData(sar.SourceData, b.nsamples, &st.Weights, false, mult)
	if err != nil {
		return batch, fmt.Errorf("bench: could not take data: %w", err)
	}
	return batch, nil
}

// Capture is a sine-wave capture and its spectral figures of merit.
type Capture struct {
	Name   string
	State  calib.State
	Batch  sar.Batch
	Result spectrum.Result
}

func (b *Bench) capture(name string, st calib.State) (Capture, error) {
	c := Capture{Name: name, State: st}
	batch, err := b.take(st, 1)
	if err != nil {
		return c, err
	}
	c.Batch = batch

	c.Result, err = spectrum.Analyze(batch.Codes, b.fs, spectrum.WithSignalBins(1))
	if err != nil {
		return c, fmt.Errorf("bench: could not analyze %s capture: %w", name, err)
	}
	b.msg.Printf(
		"%s: ENOB=%.3f SNDR=%.2f dB SFDR=%.2f dBc SNR=%.2f dB SDR=%.2f dB",
		name, c.Result.ENOB, c.Result.SNDR, c.Result.SFDR, c.Result.SNR, c.Result.SDR,
	)
	return c, nil
}

// Sine captures the sine tone with the calibration rec applied, then
// with the default (uncalibrated) ODAC code and weights.
func (b *Bench) Sine(rec calib.Record, tone Tone) (cal, uncal Capture, err error) {
	err = b.stimulus(tone)
	if err != nil {
		return cal, uncal, err
	}
	defer func() {
		e := b.quiet()
		if e != nil && err == nil {
			err = e
		}
	}()

	cal, err = b.capture("calibrated", rec.State())
	if err != nil {
		return cal, uncal, err
	}

	uncal, err = b.capture("uncalibrated", calib.DefaultState())
	if err != nil {
		return cal, uncal, err
	}

	return cal, uncal, nil
}

// Noise captures a pedestal, with the stimulus disabled and the
// calibration rec applied, and returns its statistics.
func (b *Bench) Noise(rec calib.Record) (linearity.Stats, sar.Batch, error) {
	err := b.quiet()
	if err != nil {
		return linearity.Stats{}, sar.Batch{}, err
	}

	batch, err := b.take(rec.State(), 1)
	if err != nil {
		return linearity.Stats{}, batch, err
	}

	st := linearity.Summarize(batch.Codes, rec.Weights)
	b.msg.Printf("pedestal std-dev: %.4f LSB (%d codes)", st.StdDev, st.Unique)
	return st, batch, nil
}

// Linear is the outcome of a sine-histogram linearity measurement.
type Linear struct {
	Stats     linearity.Stats
	Linearity linearity.Linearity
	Batch     sar.Batch
}

// Linearity captures mult batches of the sine tone with the calibration
// rec applied and computes the DNL and INL. The weights are divided by
// redundancy, merging that many LSBs into one code.
func (b *Bench) Linearity(rec calib.Record, tone Tone, mult int, redundancy float64) (lin Linear, err error) {
	if !(redundancy > 0) {
		return lin, fmt.Errorf("bench: invalid redundancy factor %g: %w", redundancy, sar.ErrRange)
	}

	err = b.stimulus(tone)
	if err != nil {
		return lin, err
	}
	defer func() {
		e := b.quiet()
		if e != nil && err == nil {
			err = e
		}
	}()

	st := rec.State()
	st.Weights = st.Weights.Scale(1 / redundancy)
	lin.Batch, err = b.take(st, mult)
	if err != nil {
		return lin, err
	}

	lin.Stats = linearity.Summarize(lin.Batch.Codes, st.Weights)
	b.msg.Printf("unique codes: %d", lin.Stats.Unique)
	b.msg.Printf("code coverage: %.2f%%", lin.Stats.Coverage)
	b.msg.Printf("std-dev: %.3f LSB, range: %g LSB", lin.Stats.StdDev, lin.Stats.Range)
	b.msg.Printf(
		"full scale (-1 dBFS): %g (%g) LSB",
		lin.Stats.FullScale, linearity.OverRangeFraction*lin.Stats.FullScale,
	)
	if lin.Stats.OverRange {
		b.msg.Printf("WARNING: exceeding %g%% of full scale", 100*linearity.OverRangeFraction)
	}

	lin.Linearity, err = linearity.SineHistogram(lin.Batch.Codes)
	if err != nil {
		return lin, fmt.Errorf("bench: could not compute linearity: %w", err)
	}
	dnl, inl := lin.Linearity.Peak()
	b.msg.Printf("peak |DNL|=%.3f LSB, |INL|=%.3f LSB", dnl, inl)

	return lin, nil
}
