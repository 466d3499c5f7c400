// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sar-noise measures the pedestal noise of a calibrated CryoSAR1
// chip, with its input terminated.
package main // import "github.com/go-lpc/cryosar/cmd/sar-noise"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/go-lpc/cryosar/bench"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/internal/operator"
	"github.com/go-lpc/cryosar/internal/rig"
	"github.com/go-lpc/cryosar/internal/xcfg"
	"github.com/go-lpc/cryosar/internal/xplot"
	"github.com/go-lpc/cryosar/linearity"
)

func main() {
	var (
		fname  = flag.String("cfg", "cryosar.yml", "path to run configuration file")
		cal    = flag.String("cal", "", "calibration record file (default: last record from -db, or calibrate)")
		odir   = flag.String("o", "", "output directory (overrides configuration)")
		noconn = flag.Bool("no-connect", false, "dry run, without any hardware")
	)

	log.SetPrefix("sar-noise: ")
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

	err = op.Confirm("NOISE: Disconnect any input source and attach a 50 Ohm SMA cap.")
	if err != nil {
		log.Fatalf("could not start noise run: %+v", err)
	}

	err = run(b, rec, cfg.Odir, os.Stdout)
	if err != nil {
		log.Fatalf("could not run noise test: %+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close bench: %+v", err)
	}
}

func run(b *bench.Bench, rec calib.Record, odir string, stdout io.Writer) error {
	err := os.MkdirAll(odir, 0755)
	if err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	st, batch, err := b.Noise(rec)
	if err != nil {
		return fmt.Errorf("could not capture pedestal: %w", err)
	}

	err = rig.WriteCodes(filepath.Join(odir, "noise.txt"), batch.Codes)
	if err != nil {
		return fmt.Errorf("could not save pedestal codes: %w", err)
	}

	err = rig.WriteRaw(filepath.Join(odir, "noise_raw.txt"), batch.Raw)
	if err != nil {
		return fmt.Errorf("could not save pedestal words: %w", err)
	}

	h := linearity.Histogram(linearity.Round(batch.Codes))
	err = xplot.Histogram(filepath.Join(odir, "noise.png"), "pedestal", h)
	if err != nil {
		return fmt.Errorf("could not plot pedestal histogram: %w", err)
	}

	fmt.Fprintf(stdout, "samples:  %d\n", st.N)
	fmt.Fprintf(stdout, "mean:     %.3f\n", st.Mean)
	fmt.Fprintf(stdout, "std-dev:  %.4f LSB\n", st.StdDev)
	fmt.Fprintf(stdout, "range:    [%g, %g] (%g LSB)\n", st.Min, st.Max, st.Range)
	fmt.Fprintf(stdout, "codes:    %d\n", st.Unique)

	return nil
}
