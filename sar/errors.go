// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sar

import "errors"

var (
	// ErrConfig is returned when the chip configuration could not be
	// applied or verified.
	ErrConfig = errors.New("sar: configuration error")

	// ErrInvalidSample is returned when an acquired batch holds at least
	// one sample with a cleared validity bit.
	ErrInvalidSample = errors.New("sar: invalid sample")

	// ErrRange is returned when a request is outside the hardware limits.
	ErrRange = errors.New("sar: value out of range")

	// ErrDegenerate is returned when a spectrum does not allow to compute
	// finite figures of merit.
	ErrDegenerate = errors.New("sar: degenerate spectrum")

	// ErrFIFOUnderfill is returned when the FIFO holds fewer samples
	// than requested.
	ErrFIFOUnderfill = errors.New("sar: FIFO under-filled")
)
