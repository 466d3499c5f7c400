// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"fmt"
	"sort"
)

// Patterns expected in the FIFO in the deserializer self-test modes.
const (
	FramePattern   = 0x009c // frame source
	SerTestPattern = 0x9894 // data source, chip in serializer test mode
)

// Unique returns the sorted set of distinct words.
func Unique(raw []uint16) []uint16 {
	set := make(map[uint16]struct{}, 4)
	for _, v := range raw {
		set[v] = struct{}{}
	}
	out := make([]uint16, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckPattern checks all words are equal to want.
func CheckPattern(raw []uint16, want uint16) error {
	for i, v := range raw {
		if v != want {
			return fmt.Errorf("fpga: invalid word at index %d: got=0x%04x, want=0x%04x", i, v, want)
		}
	}
	return nil
}

// CheckCounter checks consecutive words of the FPGA counter source
// increase by step, modulo 2^16.
// Any other increment means the FIFO was read past its fill level.
func CheckCounter(raw []uint16, step uint16) error {
	for i := 1; i < len(raw); i++ {
		if d := raw[i] - raw[i-1]; d != step {
			return fmt.Errorf(
				"fpga: counter discontinuity at index %d: 0x%04x -> 0x%04x (diff=%d, want=%d)",
				i, raw[i-1], raw[i], int16(d), step,
			)
		}
	}
	return nil
}
