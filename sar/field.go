// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sar

import (
	"fmt"
	"strconv"
	"strings"
)

// Names of the chip configuration fields driven by the calibration.
const (
	CalEn     = "CAL_EN"
	BSel      = "B_SEL"
	CalDirP   = "CAL_DIR_P"
	CalDirN   = "CAL_DIR_N"
	CalForceP = "CAL_FORCE_P"
	CalForceN = "CAL_FORCE_N"
	SliceEnP  = "SLICE_EN_P"
	SliceEnN  = "SLICE_EN_N"
	OdacCode  = "ODAC_CODE"
)

// Field is a named chip configuration field with its value as an
// MSB-first bit string.
type Field struct {
	Name string
	Bits string
}

// F creates a field named name holding the width-bit value v.
func F(name string, v uint64, width int) Field {
	return Field{Name: name, Bits: Bits(v, width)}
}

func (f Field) String() string {
	return f.Name + "," + f.Bits
}

// Validate checks the field has a name and a well-formed bit string.
func (f Field) Validate() error {
	if f.Name == "" || strings.ContainsAny(f.Name, ", \t\n") {
		return fmt.Errorf("sar: invalid field name %q: %w", f.Name, ErrConfig)
	}
	if f.Bits == "" || strings.Trim(f.Bits, "01") != "" {
		return fmt.Errorf("sar: invalid bit string %q for field %q: %w", f.Bits, f.Name, ErrConfig)
	}
	return nil
}

// Bits formats v as an MSB-first bit string of the given width.
// Bits of v beyond width are dropped.
func Bits(v uint64, width int) string {
	if width <= 0 {
		return ""
	}
	if width < 64 {
		v &= 1<<uint(width) - 1
	}
	s := strconv.FormatUint(v, 2)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}
