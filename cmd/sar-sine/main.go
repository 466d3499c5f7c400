// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sar-sine measures the dynamic performances of a CryoSAR1 chip
// with a sine-wave input, with and without calibration.
//
// Example:
//
//	$> sar-sine -cfg cryosar.yml -tone 1 -cal ./output/calibration_20230314_T150926.txt
package main // import "github.com/go-lpc/cryosar/cmd/sar-sine"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/go-lpc/cryosar/bench"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/internal/operator"
	"github.com/go-lpc/cryosar/internal/rig"
	"github.com/go-lpc/cryosar/internal/xcfg"
	"github.com/go-lpc/cryosar/internal/xplot"
)

func main() {
	var (
		fname  = flag.String("cfg", "cryosar.yml", "path to run configuration file")
		mkconf = flag.Bool("mkconf", false, "print the effective run configuration and exit")
		cal    = flag.String("cal", "", "calibration record file (default: last record from -db, or calibrate)")
		odir   = flag.String("o", "", "output directory (overrides configuration)")
		tone   = flag.Int("tone", 0, "index of the configured tone")
		noconn = flag.Bool("no-connect", false, "dry run, without any hardware")
	)

	log.SetPrefix("sar-sine: ")
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

	if *mkconf {
		err = xcfg.Write(os.Stdout, cfg)
		if err != nil {
			log.Fatalf("could not write run configuration: %+v", err)
		}
		return
	}

	t, err := cfg.Tone(*tone)
	if err != nil {
		log.Fatalf("could not select tone: %+v", err)
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

	err = run(b, rec, t, cfg.Odir, os.Stdout)
	if err != nil {
		log.Fatalf("could not run sine test: %+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close bench: %+v", err)
	}
}

func run(b *bench.Bench, rec calib.Record, tone bench.Tone, odir string, stdout io.Writer) error {
	err := os.MkdirAll(odir, 0755)
	if err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	cal, uncal, err := b.Sine(rec, tone)
	if err != nil {
		return fmt.Errorf("could not capture sine tone: %w", err)
	}

	for _, c := range []bench.Capture{cal, uncal} {
		err = save(c, tone, odir)
		if err != nil {
			return fmt.Errorf("could not save %s capture: %w", c.Name, err)
		}
	}

	return table(stdout, tone, cal, uncal)
}

func save(c bench.Capture, tone bench.Tone, odir string) error {
	err := rig.WriteCodes(filepath.Join(odir, "sine_"+c.Name+".txt"), c.Batch.Codes)
	if err != nil {
		return err
	}

	err = rig.WriteRaw(filepath.Join(odir, "sine_"+c.Name+"_raw.txt"), c.Batch.Raw)
	if err != nil {
		return err
	}

	title := fmt.Sprintf(
		"%s, %.3f MHz, ENOB=%.2f, SNDR=%.2f dB, SFDR=%.2f dBc",
		c.Name, tone.Freq*1e-6, c.Result.ENOB, c.Result.SNDR, c.Result.SFDR,
	)
	return xplot.PSD(filepath.Join(odir, "fft_"+c.Name+".png"), title, c.Result)
}

func table(w io.Writer, tone bench.Tone, cs ...bench.Capture) error {
	fmt.Fprintf(w, "tone: %g Hz, %g Vpp\n", tone.Freq, tone.Vpp)
	o := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(o, "capture\tODAC\tENOB\tSNDR (dB)\tSFDR (dBc)\tSNR (dB)\tSDR (dB)\t\n")
	for _, c := range cs {
		r := c.Result
		fmt.Fprintf(
			o, "%s\t%s\t%.3f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			c.Name, c.State.Odac, r.ENOB, r.SNDR, r.SFDR, r.SNR, r.SDR,
		)
	}
	err := o.Flush()
	if err != nil {
		return fmt.Errorf("could not write metrics table: %w", err)
	}
	return nil
}
