// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sar

import "fmt"

// Source selects the origin of the words pushed into the readout FIFO.
type Source uint8

const (
	SourceData    Source = iota // ADC conversions
	SourceFrame                 // deserializer frame pattern
	SourceCounter               // FPGA free-running counter
)

func (src Source) String() string {
	switch src {
	case SourceData:
		return "data"
	case SourceFrame:
		return "frame"
	case SourceCounter:
		return "fpgacounter"
	}
	return fmt.Sprintf("Source(%d)", uint8(src))
}

// ParseSource returns the source named s.
func ParseSource(s string) (Source, error) {
	switch s {
	case "data":
		return SourceData, nil
	case "frame":
		return SourceFrame, nil
	case "fpgacounter", "counter":
		return SourceCounter, nil
	}
	return 0, fmt.Errorf("sar: invalid source %q: %w", s, ErrConfig)
}
