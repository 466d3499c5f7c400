// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sar-inldnl measures the differential and integral
// non-linearity of a calibrated CryoSAR1 chip with the sine-histogram
// method.
//
// The weights are divided by the redundancy factor, merging that many
// LSBs of the redundant SAR into one output code. Long captures
// (large -mult values) can be monitored with -pmon.
package main // import "github.com/go-lpc/cryosar/cmd/sar-inldnl"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-lpc/cryosar/bench"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/internal/operator"
	"github.com/go-lpc/cryosar/internal/rig"
	"github.com/go-lpc/cryosar/internal/xcfg"
	"github.com/go-lpc/cryosar/internal/xplot"
	"github.com/go-lpc/cryosar/linearity"
	"github.com/sbinet/pmon"
)

func main() {
	var (
		fname  = flag.String("cfg", "cryosar.yml", "path to run configuration file")
		cal    = flag.String("cal", "", "calibration record file (default: last record from -db, or calibrate)")
		odir   = flag.String("o", "", "output directory (overrides configuration)")
		tone   = flag.Int("tone", 0, "index of the configured tone")
		mult   = flag.Int("mult", 64, "number of consecutive FIFO batches")
		redund = flag.Float64("redundancy", 2, "redundancy factor of the weights")
		noconn = flag.Bool("no-connect", false, "dry run, without any hardware")
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
	)

	log.SetPrefix("sar-inldnl: ")
	log.SetFlags(0)

	flag.Parse()

	cfg, err := xcfg.Load(*fname)
	if err != nil {
		log.Fatalf("could not load run configuration: %+v", err)
	}
	if *odir != "" {
		cfg.Odir = *odir
	}
	if *noconn {
		cfg.NoConnect = true
	}

	t, err := cfg.Tone(*tone)
	if err != nil {
		log.Fatalf("could not select tone: %+v", err)
	}

	if *doMon {
		err = monitor(cfg.Odir, *doFreq)
		if err != nil {
			log.Fatalf("could not monitor sar-inldnl: %+v", err)
		}
	}

	op := operator.New()
	defer op.Close()

	dev, err := rig.Open(cfg)
	if err != nil {
		log.Fatalf("could not open bench: %+v", err)
	}
	defer dev.Close()

	b, err := dev.Bench(op)
	if err != nil {
		log.Fatalf("could not create bench: %+v", err)
	}

	rec, err := dev.Record(b, *cal)
	if err != nil {
		log.Fatalf("could not retrieve calibration: %+v", err)
	}

	err = run(b, rec, t, *mult, *redund, cfg.Odir, os.Stdout)
	if err != nil {
		log.Fatalf("could not run linearity test: %+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close bench: %+v", err)
	}
}

// monitor starts monitoring the resources used by the current process.
// Monitoring stops with the process.
func monitor(odir string, freq time.Duration) error {
	err := os.MkdirAll(odir, 0755)
	if err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}
	f, err := os.Create(filepath.Join(odir, "sar-inldnl-pmon.log"))
	if err != nil {
		return fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		log.Printf("run pmon (pid=%d)...", pid)
		err := p.Run()
		if err != nil {
			log.Printf("could not run monitoring: %+v", err)
		}
	}()

	return nil
}

func run(b *bench.Bench, rec calib.Record, tone bench.Tone, mult int, redundancy float64, odir string, stdout io.Writer) error {
	err := os.MkdirAll(odir, 0755)
	if err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	lin, err := b.Linearity(rec, tone, mult, redundancy)
	if err != nil {
		return fmt.Errorf("could not measure linearity: %w", err)
	}

	err = rig.WriteCodes(filepath.Join(odir, "inldnl.txt.gz"), lin.Batch.Codes)
	if err != nil {
		return fmt.Errorf("could not save codes: %w", err)
	}

	h := linearity.Histogram(linearity.Round(lin.Batch.Codes))
	err = xplot.Histogram(filepath.Join(odir, "inldnl_hist.png"), "sine histogram", h)
	if err != nil {
		return fmt.Errorf("could not plot code histogram: %w", err)
	}

	err = xplot.Linearity(
		filepath.Join(odir, "dnl.png"),
		filepath.Join(odir, "inl.png"),
		lin.Linearity,
	)
	if err != nil {
		return fmt.Errorf("could not plot linearity: %w", err)
	}

	var (
		st       = lin.Stats
		dnl, inl = lin.Linearity.Peak()
	)
	fmt.Fprintf(stdout, "samples:     %d\n", st.N)
	fmt.Fprintf(stdout, "codes:       %d (coverage=%.2f%%)\n", st.Unique, st.Coverage)
	fmt.Fprintf(stdout, "range:       %g LSB (full scale=%g LSB)\n", st.Range, st.FullScale)
	fmt.Fprintf(stdout, "peak DNL:    %.3f LSB\n", dnl)
	fmt.Fprintf(stdout, "peak INL:    %.3f LSB\n", inl)
	if st.OverRange {
		fmt.Fprintf(stdout, "WARNING: exceeding %g%% of full scale\n", 100*linearity.OverRangeFraction)
	}

	return nil
}
