// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"log"
	"time"
)

type config struct {
	msg *log.Logger

	noconn   bool
	strict   bool
	workers  int
	serRate  float64
	serWidth float64
	margin   float64
	settle   time.Duration
}

func newConfig() config {
	return config{
		serRate:  SerRate,
		serWidth: SerWidth,
		margin:   1.2,
		settle:   1 * time.Millisecond,
	}
}

// Option configures an acquisition device.
type Option func(*config)

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithNoConnect makes the device return null samples without
// accessing any hardware.
func WithNoConnect() Option {
	return func(cfg *config) {
		cfg.noconn = true
	}
}

// WithSerialization sets the serialization rate (in Hz) and the number
// of bits serialized per sample.
func WithSerialization(rate float64, width int) Option {
	return func(cfg *config) {
		cfg.serRate = rate
		cfg.serWidth = float64(width)
	}
}

// WithSettle sets the delay between the capture reset and start.
func WithSettle(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// WithWorkers sets the number of decoding workers.
// The default is the number of CPUs.
func WithWorkers(n int) Option {
	return func(cfg *config) {
		cfg.workers = n
	}
}

// WithStrictFill makes acquisitions fail with sar.ErrFIFOUnderfill when
// the link reports fewer words than requested.
// By default, an under-filled FIFO is only logged.
func WithStrictFill() Option {
	return func(cfg *config) {
		cfg.strict = true
	}
}
