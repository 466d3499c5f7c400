// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/cryosar/bench"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/internal/fakechip"
	"github.com/go-lpc/cryosar/internal/rig"
	"gonum.org/v1/gonum/stat"
)

func TestRun(t *testing.T) {
	chip := fakechip.New(1234)
	chip.Sigma = 2

	b := bench.New(
		chip, chip,
		bench.WithLogger(log.New(io.Discard, "", 0)),
		bench.WithSamples(8192),
	)

	st := calib.DefaultState()
	st.Odac = 133
	rec := calib.Record{Odac: st.Odac, Weights: st.Weights}

	var (
		odir   = filepath.Join(t.TempDir(), "out")
		stdout = new(bytes.Buffer)
	)
	err := run(b, rec, odir, stdout)
	if err != nil {
		t.Fatalf("could not run noise test: %+v", err)
	}

	for _, name := range []string{"noise.txt", "noise_raw.txt", "noise.png"} {
		_, err := os.Stat(filepath.Join(odir, name))
		if err != nil {
			t.Fatalf("missing output file %q: %+v", name, err)
		}
	}

	codes, err := rig.ReadCodes(filepath.Join(odir, "noise.txt"))
	if err != nil {
		t.Fatalf("could not read back codes: %+v", err)
	}
	if got, want := len(codes), 8192; got != want {
		t.Fatalf("invalid number of codes: got=%d, want=%d", got, want)
	}

	// rounding adds a uniform noise of variance 1/12.
	want := math.Sqrt(4 + 1.0/12)
	if got := stat.PopStdDev(codes, nil); math.Abs(got-want) > 0.1 {
		t.Fatalf("invalid pedestal std-dev: got=%g, want=%g", got, want)
	}

	if got, want := chip.Odac(), st.Odac; got != want {
		t.Fatalf("invalid ODAC: got=%v, want=%v", got, want)
	}

	if !strings.Contains(stdout.String(), "std-dev:") {
		t.Fatalf("missing std-dev in output:\n%s", stdout.String())
	}
}
