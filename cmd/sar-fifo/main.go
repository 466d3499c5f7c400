// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sar-fifo checks the readout chain of the FPGA: deserializer
// frame alignment, FIFO fill and, optionally, the serializer test
// pattern of the chip.
//
// Example:
//
//	$> sar-fifo -src frame
//	$> sar-fifo -src counter -n 32768 -mult 4
//	$> sar-fifo -src data -sertest
package main // import "github.com/go-lpc/cryosar/cmd/sar-fifo"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/fpga"
	"github.com/go-lpc/cryosar/internal/rig"
	"github.com/go-lpc/cryosar/internal/xcfg"
	"github.com/go-lpc/cryosar/sar"
)

func main() {
	var (
		fname   = flag.String("cfg", "cryosar.yml", "path to run configuration file")
		srcName = flag.String("src", "frame", "FIFO source (data, frame, counter)")
		nsample = flag.Int("n", fpga.FIFODepth, "number of words per batch")
		mult    = flag.Int("mult", 1, "number of consecutive batches")
		sertest = flag.Bool("sertest", false, "check the serializer test pattern of the data source")
		oname   = flag.String("o", "", "path to a file where to dump the FIFO words")
		noconn  = flag.Bool("no-connect", false, "dry run, without any hardware")
	)

	log.SetPrefix("sar-fifo: ")
	log.SetFlags(0)

	flag.Parse()

	cfg, err := xcfg.Load(*fname)
	if err != nil {
		log.Fatalf("could not load run configuration: %+v", err)
	}
	if *noconn {
		cfg.NoConnect = true
	}
	// FIFO checks do not involve the instruments.
	cfg.AWG.Addr = ""
	cfg.TMon.Bus = -1

	src, err := sar.ParseSource(*srcName)
	if err != nil {
		log.Fatalf("could not parse FIFO source: %+v", err)
	}

	dev, err := rig.Open(cfg)
	if err != nil {
		log.Fatalf("could not open bench: %+v", err)
	}
	defer dev.Close()

	raw, err := run(dev.Dev, src, *nsample, *mult, *sertest, os.Stdout)
	if *oname != "" && raw != nil {
		e := rig.WriteRaw(*oname, raw)
		if e != nil {
			log.Printf("could not dump FIFO words: %+v", e)
		}
	}
	if err != nil {
		log.Fatalf("FIFO check failed: %+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close bench: %+v", err)
	}
}

// maxWords is the maximum number of distinct words displayed.
const maxWords = 16

func run(daq calib.Acquirer, src sar.Source, n, mult int, sertest bool, stdout io.Writer) ([]uint16, error) {
	batch, err := daq.TakeData(src, n, nil, false, mult)
	if err != nil {
		return nil, fmt.Errorf("could not read FIFO: %w", err)
	}
	raw := batch.Raw

	uniq := fpga.Unique(raw)
	fmt.Fprintf(stdout, "source: %v, words: %d, distinct words: %d\n", src, len(raw), len(uniq))
	for i, v := range uniq {
		if i == maxWords {
			fmt.Fprintf(stdout, "  ...\n")
			break
		}
		fmt.Fprintf(stdout, "  0x%04x (%016b)\n", v, v)
	}

	switch src {
	case sar.SourceFrame:
		err = fpga.CheckPattern(raw, fpga.FramePattern)
	case sar.SourceCounter:
		// each batch restarts the counter.
		for i := 0; i < mult && err == nil; i++ {
			err = fpga.CheckCounter(raw[i*n:(i+1)*n], fpga.SerWidth)
		}
	case sar.SourceData:
		if sertest {
			err = fpga.CheckPattern(raw, fpga.SerTestPattern)
		}
	}
	if err != nil {
		return raw, fmt.Errorf("invalid %v words: %w", src, err)
	}

	fmt.Fprintf(stdout, "%v: OK\n", src)
	return raw, nil
}
