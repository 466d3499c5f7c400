// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sar

import (
	"fmt"
	"strconv"
)

// OdacWidth is the number of bits of the offset-DAC code.
const OdacWidth = 8

// Odac is a code of the comparator offset-correction DAC.
type Odac uint8

// OdacDefault is the mid-scale offset-DAC code used when no calibration
// is available.
const OdacDefault Odac = 0b10000000

// String returns the code as an MSB-first bit string.
func (c Odac) String() string {
	return Bits(uint64(c), OdacWidth)
}

// Field returns the configuration field programming c.
func (c Odac) Field() Field {
	return Field{Name: OdacCode, Bits: c.String()}
}

// ParseOdac parses an MSB-first bit string into an offset-DAC code.
func ParseOdac(s string) (Odac, error) {
	if len(s) != OdacWidth {
		return 0, fmt.Errorf("sar: invalid ODAC bit string %q: %w", s, ErrConfig)
	}
	v, err := strconv.ParseUint(s, 2, OdacWidth)
	if err != nil {
		return 0, fmt.Errorf("sar: could not parse ODAC bit string %q: %w", s, err)
	}
	return Odac(v), nil
}
