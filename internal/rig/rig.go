// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rig opens the instruments of a test bench from its run
// configuration.
package rig // import "github.com/go-lpc/cryosar/internal/rig"

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-lpc/cryosar/awg"
	"github.com/go-lpc/cryosar/bench"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/conddb"
	"github.com/go-lpc/cryosar/fpga"
	"github.com/go-lpc/cryosar/internal/xcfg"
	"github.com/go-lpc/cryosar/slowctl"
	"github.com/go-lpc/cryosar/tmon"
)

// Rig holds the instruments of a test bench.
type Rig struct {
	Cfg xcfg.Config

	Ctl  *slowctl.Setter
	Dev  *fpga.Device
	AWG  *awg.Generator // nil when no generator is configured
	TMon *tmon.Sensor   // nil when no sensor is configured

	link *fpga.MemLink
}

// Open opens the instruments described by cfg.
// Instruments are not touched in no-connect mode.
func Open(cfg xcfg.Config) (*Rig, error) {
	rig := &Rig{Cfg: cfg}

	var (
		ctlOpts  []slowctl.Option
		fpgaOpts []fpga.Option
	)
	if cfg.NoConnect {
		ctlOpts = append(ctlOpts, slowctl.WithNoConnect())
		fpgaOpts = append(fpgaOpts, fpga.WithNoConnect())
	}
	rig.Ctl = slowctl.New(cfg.SControl.Tool, cfg.SControl.Config, ctlOpts...)

	var link fpga.Link
	if !cfg.NoConnect {
		lnk, err := fpga.OpenMemLink(cfg.Dev)
		if err != nil {
			return nil, fmt.Errorf("rig: could not open FPGA link %q: %w", cfg.Dev, err)
		}
		rig.link = lnk
		link = lnk
	}
	rig.Dev = fpga.New(link, fpgaOpts...)

	if cfg.AWG.Addr != "" && !cfg.NoConnect {
		gen, err := awg.Dial(cfg.AWG.Addr, awg.WithBaud(cfg.AWG.Baud))
		if err != nil {
			_ = rig.Close()
			return nil, fmt.Errorf("rig: could not dial function generator: %w", err)
		}
		rig.AWG = gen
		idn, err := gen.IDN()
		if err != nil {
			_ = rig.Close()
			return nil, fmt.Errorf("rig: could not identify function generator: %w", err)
		}
		log.Printf("function generator: %s", idn)
	}

	if cfg.TMon.Bus >= 0 && !cfg.NoConnect {
		sensor, err := tmon.Open(cfg.TMon.Bus, uint8(cfg.TMon.Addr))
		if err != nil {
			_ = rig.Close()
			return nil, fmt.Errorf("rig: could not open temperature sensor: %w", err)
		}
		rig.TMon = sensor
	}

	return rig, nil
}

// Close closes all the instruments of the rig.
// Close may be called multiple times.
func (rig *Rig) Close() error {
	var errs []error
	if rig.TMon != nil {
		errs = append(errs, rig.TMon.Close())
		rig.TMon = nil
	}
	if rig.AWG != nil {
		errs = append(errs, rig.AWG.Close())
		rig.AWG = nil
	}
	if rig.link != nil {
		errs = append(errs, rig.link.Close())
		rig.link = nil
	}
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("rig: could not close instruments: %w", err)
		}
	}
	return nil
}

// Bench creates a bench driving the rig instruments.
// The configured instruments are installed before opts are applied.
func (rig *Rig) Bench(op bench.Operator, opts ...bench.Option) (*bench.Bench, error) {
	m, err := calib.ParseODACMethod(rig.Cfg.ODAC)
	if err != nil {
		return nil, fmt.Errorf("rig: could not parse ODAC method: %w", err)
	}

	cal := calib.New(
		rig.Ctl, rig.Dev,
		calib.WithSamples(rig.Cfg.Samples),
		calib.WithMult(rig.Cfg.Mult),
	)

	base := []bench.Option{
		bench.WithCalibrator(cal),
		bench.WithSampleRate(rig.Cfg.FS),
		bench.WithSamples(rig.Cfg.Samples),
		bench.WithODACMethod(m),
		bench.WithSettle(rig.Cfg.AWG.Settle),
	}
	if op != nil {
		base = append(base, bench.WithOperator(op))
	}
	if rig.AWG != nil {
		base = append(base, bench.WithStimulus(rig.AWG))
	}
	if rig.TMon != nil {
		base = append(base, bench.WithThermometer(rig.TMon))
	}

	return bench.New(rig.Ctl, rig.Dev, append(base, opts...)...), nil
}

// Path returns the path of the named file in the output directory,
// creating the directory if needed.
func (rig *Rig) Path(name string) (string, error) {
	err := os.MkdirAll(rig.Cfg.Odir, 0755)
	if err != nil {
		return "", fmt.Errorf("rig: could not create output directory: %w", err)
	}
	return filepath.Join(rig.Cfg.Odir, name), nil
}

// Record returns the calibration record to apply to the chip: the one
// read from the named file if any, else the last one stored in the
// conditions database if configured, else a fresh calibration run on b.
func (rig *Rig) Record(b *bench.Bench, fname string) (calib.Record, error) {
	switch {
	case fname != "":
		log.Printf("loading calibration record from %q", fname)
		return LoadRecord(fname)

	case rig.Cfg.DB != "":
		log.Printf("loading calibration record of %q from %q", rig.Cfg.Chip, rig.Cfg.DB)
		db, err := conddb.Open(rig.Cfg.DB)
		if err != nil {
			return calib.Record{}, fmt.Errorf("rig: could not open conditions database: %w", err)
		}
		defer db.Close()

		rec, err := db.LastCalibration(context.Background(), rig.Cfg.Chip)
		if err != nil {
			return rec, fmt.Errorf("rig: could not retrieve calibration record: %w", err)
		}
		return rec, nil

	default:
		rec, err := b.Calibrate()
		if err != nil {
			return rec, fmt.Errorf("rig: could not calibrate: %w", err)
		}
		return rec, nil
	}
}

// LoadRecord reads a calibration record from the named file.
func LoadRecord(fname string) (calib.Record, error) {
	f, err := os.Open(fname)
	if err != nil {
		return calib.Record{}, fmt.Errorf("rig: could not open calibration record: %w", err)
	}
	defer f.Close()

	rec, err := calib.ReadRecord(f)
	if err != nil {
		return rec, fmt.Errorf("rig: could not read calibration record %q: %w", fname, err)
	}
	return rec, nil
}

// SaveRecord writes a calibration record to the named file.
func SaveRecord(fname string, rec calib.Record) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("rig: could not create calibration record: %w", err)
	}
	defer f.Close()

	_, err = rec.WriteTo(f)
	if err != nil {
		return fmt.Errorf("rig: could not write calibration record: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("rig: could not save calibration record %q: %w", fname, err)
	}
	return nil
}

// WriteCodes writes one code per line to the named file.
// Files with a ".gz" extension are gzip-compressed.
func WriteCodes(fname string, codes []float64) error {
	return write(fname, func(w io.Writer) error {
		for _, v := range codes {
			_, err := fmt.Fprintf(w, "%.18e\n", v)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteRaw writes one raw FIFO word per line, as a 16-bit binary
// string, to the named file.
// Files with a ".gz" extension are gzip-compressed.
func WriteRaw(fname string, raw []uint16) error {
	return write(fname, func(w io.Writer) error {
		for _, v := range raw {
			_, err := fmt.Fprintf(w, "%016b\n", v)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadCodes reads back a file written with WriteCodes.
func ReadCodes(fname string) ([]float64, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("rig: could not open codes file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(fname, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("rig: could not open gzip stream %q: %w", fname, err)
		}
		defer zr.Close()
		r = zr
	}

	var (
		codes []float64
		sc    = bufio.NewScanner(r)
	)
	for sc.Scan() {
		txt := strings.TrimSpace(sc.Text())
		if txt == "" {
			continue
		}
		v, err := strconv.ParseFloat(txt, 64)
		if err != nil {
			return nil, fmt.Errorf("rig: could not parse code %q: %w", txt, err)
		}
		codes = append(codes, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("rig: could not read codes file %q: %w", fname, err)
	}
	return codes, nil
}

func write(fname string, fct func(w io.Writer) error) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("rig: could not create %q: %w", fname, err)
	}
	defer f.Close()

	var (
		w  = bufio.NewWriter(f)
		zw *gzip.Writer
	)
	var o io.Writer = w
	if strings.HasSuffix(fname, ".gz") {
		zw = gzip.NewWriter(w)
		o = zw
	}

	err = fct(o)
	if err != nil {
		return fmt.Errorf("rig: could not write %q: %w", fname, err)
	}

	if zw != nil {
		err = zw.Close()
		if err != nil {
			return fmt.Errorf("rig: could not close gzip stream %q: %w", fname, err)
		}
	}

	err = w.Flush()
	if err != nil {
		return fmt.Errorf("rig: could not flush %q: %w", fname, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("rig: could not close %q: %w", fname, err)
	}
	return nil
}
