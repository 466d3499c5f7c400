// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/cryosar/sar"
)

// TimeLayout is the layout of calibration record timestamps.
const TimeLayout = "20060102_T150405"

// Record is a persisted calibration.
type Record struct {
	Time        time.Time
	Odac        sar.Odac
	Weights     sar.Weights
	Temperature float64  // board temperature in Celsius, NaN if unknown
	Warnings    []string // soft anomalies detected in the calibration
}

// NewRecord creates a record of the calibration state st taken at time
// now. Soft anomalies are recorded as warnings and do not prevent the
// record from being created.
func NewRecord(st State, now time.Time) Record {
	return Record{
		Time:        now,
		Odac:        st.Odac,
		Weights:     st.Weights,
		Temperature: math.NaN(),
		Warnings:    Check(st),
	}
}

// State returns the calibration state held by the record.
func (rec Record) State() State {
	return State{Odac: rec.Odac, Weights: rec.Weights}
}

// Check returns the soft anomalies of a calibration state.
func Check(st State) []string {
	var msgs []string
	switch st.Odac {
	case 0, 1<<sar.OdacWidth - 1:
		msgs = append(msgs, fmt.Sprintf("ODAC code %q at a rail of its range", st.Odac.String()))
	}

	w := st.Weights
	for k := WeightsStart; k <= WeightsEnd; k++ {
		i := sar.NumBits - k
		if !(w[i] > 0) {
			msgs = append(msgs, fmt.Sprintf("non-positive weight[%d]=%.3f", i, w[i]))
			continue
		}
		if w[i] <= w[i+1] {
			msgs = append(msgs, fmt.Sprintf(
				"non-decreasing weights: weight[%d]=%.3f <= weight[%d]=%.3f",
				i, w[i], i+1, w[i+1],
			))
		}
	}
	return msgs
}

// WriteTo writes the record in the calibration file format.
func (rec Record) WriteTo(w io.Writer) (int64, error) {
	o := new(strings.Builder)
	fmt.Fprintf(o, "TIME\n%s\n", rec.Time.Format(TimeLayout))
	fmt.Fprintf(o, "ODAC\n%s\n", rec.Odac)
	fmt.Fprintf(o, "WEIGHTS\n%s\n", rec.Weights)
	if !math.IsNaN(rec.Temperature) {
		fmt.Fprintf(o, "TEMPERATURE\n%.2f\n", rec.Temperature)
	}
	if len(rec.Warnings) > 0 {
		o.WriteString("WARNINGS\n")
		for _, msg := range rec.Warnings {
			o.WriteString(msg + "\n")
		}
	}

	n, err := io.WriteString(w, o.String())
	if err != nil {
		return int64(n), fmt.Errorf("calib: could not write record: %w", err)
	}
	return int64(n), nil
}

// ReadRecord reads a record in the calibration file format.
func ReadRecord(r io.Reader) (Record, error) {
	var (
		rec  = Record{Temperature: math.NaN()}
		scan = bufio.NewScanner(r)
		sect string
		seen = make(map[string]bool)
		line int
	)
	for scan.Scan() {
		line++
		txt := strings.TrimSpace(scan.Text())
		switch {
		case txt == "", strings.HasPrefix(txt, "CAL:"):
			continue
		case txt == "TIME", txt == "ODAC", txt == "WEIGHTS", txt == "TEMPERATURE", txt == "WARNINGS":
			sect = txt
			continue
		}

		var err error
		switch sect {
		case "TIME":
			rec.Time, err = time.ParseInLocation(TimeLayout, txt, time.Local)
		case "ODAC":
			rec.Odac, err = sar.ParseOdac(txt)
		case "WEIGHTS":
			rec.Weights, err = sar.ParseWeights(txt)
		case "TEMPERATURE":
			rec.Temperature, err = strconv.ParseFloat(txt, 64)
		case "WARNINGS":
			rec.Warnings = append(rec.Warnings, txt)
		default:
			err = fmt.Errorf("value outside of any section")
		}
		if err != nil {
			return rec, fmt.Errorf("calib: invalid record (line:%d:%q): %w", line, txt, err)
		}
		seen[sect] = true
	}

	err := scan.Err()
	if err != nil {
		return rec, fmt.Errorf("calib: could not read record: %w", err)
	}

	for _, sect := range []string{"TIME", "ODAC", "WEIGHTS"} {
		if !seen[sect] {
			return rec, fmt.Errorf("calib: record without %s section: %w", sect, sar.ErrConfig)
		}
	}

	return rec, nil
}
