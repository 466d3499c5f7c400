// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fpga drives the readout FPGA of the CryoSAR1 chip: it resets
// and starts the capture into the readout FIFO, waits for it to fill,
// transfers its content and decodes the sample words.
package fpga // import "github.com/go-lpc/cryosar/fpga"

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/go-lpc/cryosar/sar"
	"golang.org/x/sync/errgroup"
)

const (
	// FIFODepth is the number of words the readout FIFO can hold.
	FIFODepth = 32768

	// SerRate is the default serialization rate of the chip, in Hz.
	SerRate = 200e6
	// SerWidth is the number of bits serialized per sampling period.
	SerWidth = 8
)

// Link is the transport to the readout FIFO.
type Link interface {
	// Reset resets the capture logic of the given source.
	Reset(src sar.Source) error
	// Start starts capturing words from the given source into the FIFO.
	Start(src sar.Source) error
	// ReadFIFO transfers len(p) words out of the FIFO.
	ReadFIFO(p []uint16) error
}

// Leveler is implemented by links able to report the FIFO fill level.
type Leveler interface {
	Level() (int, error)
}

// Device acquires batches of samples through a Link.
type Device struct {
	msg  *log.Logger
	link Link
	cfg  config

	sleep func(time.Duration)
}

// New creates a new acquisition device using the provided link.
// A nil link is equivalent to WithNoConnect.
func New(link Link, opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if link == nil {
		cfg.noconn = true
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}

	msg := cfg.msg
	if msg == nil {
		msg = log.New(os.Stdout, "fpga: ", 0)
	}

	return &Device{
		msg:   msg,
		link:  link,
		cfg:   cfg,
		sleep: time.Sleep,
	}
}

// Wait returns the time needed to fill the FIFO with n words,
// including a 20% margin.
func (dev *Device) Wait(n int) time.Duration {
	secs := float64(n) * dev.cfg.margin / (dev.cfg.serRate / dev.cfg.serWidth)
	return time.Duration(secs * float64(time.Second))
}

// TakeData acquires mult consecutive batches of n samples from src and
// returns their concatenation.
//
// Samples from the data source are decoded with the weights w (raw
// words are returned when w is nil). Samples from the frame and counter
// sources are always returned raw.
// TakeData fails with sar.ErrRange before touching the hardware if n or
// mult are out of bounds, and with sar.ErrInvalidSample if any sample
// of any batch has its validity bit cleared.
func (dev *Device) TakeData(src sar.Source, n int, w *sar.Weights, bipolar bool, mult int) (sar.Batch, error) {
	if n < 1 || n > FIFODepth {
		return sar.Batch{}, fmt.Errorf(
			"fpga: invalid number of samples %d (want 1..%d): %w",
			n, FIFODepth, sar.ErrRange,
		)
	}
	if mult < 1 {
		return sar.Batch{}, fmt.Errorf("fpga: invalid number of batches %d: %w", mult, sar.ErrRange)
	}

	switch src {
	case sar.SourceData:
	case sar.SourceFrame, sar.SourceCounter:
		w = nil
	default:
		return sar.Batch{}, fmt.Errorf("fpga: invalid source %v: %w", src, sar.ErrConfig)
	}

	if dev.cfg.noconn {
		dev.msg.Printf("no connection: returning %d null samples", n*mult)
		return sar.Batch{
			Codes: make([]float64, n*mult),
			Raw:   make([]uint16, n*mult),
		}, nil
	}

	out := sar.Batch{
		Codes: make([]float64, 0, n*mult),
		Raw:   make([]uint16, 0, n*mult),
	}
	for i := 0; i < mult; i++ {
		b, err := dev.acquire(src, n, w, bipolar)
		if err != nil {
			return sar.Batch{}, fmt.Errorf(
				"fpga: could not acquire batch %d/%d from %v: %w",
				i+1, mult, src, err,
			)
		}
		out.Codes = append(out.Codes, b.Codes...)
		out.Raw = append(out.Raw, b.Raw...)
	}

	return out, nil
}

func (dev *Device) acquire(src sar.Source, n int, w *sar.Weights, bipolar bool) (sar.Batch, error) {
	err := dev.link.Reset(src)
	if err != nil {
		return sar.Batch{}, fmt.Errorf("could not reset capture: %w", err)
	}
	dev.sleep(dev.cfg.settle)

	err = dev.link.Start(src)
	if err != nil {
		return sar.Batch{}, fmt.Errorf("could not start capture: %w", err)
	}
	dev.sleep(dev.Wait(n))

	err = dev.checkFill(n)
	if err != nil {
		return sar.Batch{}, err
	}

	raw := make([]uint16, n)
	err = dev.link.ReadFIFO(raw)
	if err != nil {
		return sar.Batch{}, fmt.Errorf("could not read FIFO: %w", err)
	}

	codes, err := dev.decode(raw, w, bipolar)
	if err != nil {
		return sar.Batch{}, err
	}

	return sar.Batch{Codes: codes, Raw: raw}, nil
}

func (dev *Device) checkFill(n int) error {
	lvl, ok := dev.link.(Leveler)
	if !ok {
		return nil
	}
	v, err := lvl.Level()
	if err != nil {
		return fmt.Errorf("could not read FIFO level: %w", err)
	}
	if v >= n {
		return nil
	}
	if dev.cfg.strict {
		return fmt.Errorf("FIFO holds %d words, want %d: %w", v, n, sar.ErrFIFOUnderfill)
	}
	dev.msg.Printf("FIFO under-filled: level=%d, want=%d", v, n)
	return nil
}

// decode decodes raw words in parallel.
// Each worker owns a contiguous slice of the output, so the decoded
// samples keep the FIFO order.
func (dev *Device) decode(raw []uint16, w *sar.Weights, bipolar bool) ([]float64, error) {
	var (
		codes = make([]float64, len(raw))
		nwrk  = dev.cfg.workers
	)
	if nwrk > len(raw) {
		nwrk = len(raw)
	}
	var (
		chunk = (len(raw) + nwrk - 1) / nwrk
		bad   = make([]int, nwrk)
		first = make([]int, nwrk)
		grp   errgroup.Group
	)
	grp.SetLimit(nwrk)

	for i := 0; i < nwrk; i++ {
		i := i
		beg := i * chunk
		end := beg + chunk
		if end > len(raw) {
			end = len(raw)
		}
		first[i] = -1
		if beg >= end {
			continue
		}
		grp.Go(func() error {
			for j := beg; j < end; j++ {
				code, ok := sar.Decode(raw[j], w, bipolar)
				codes[j] = code
				if ok {
					continue
				}
				if first[i] < 0 {
					first[i] = j
				}
				bad[i]++
			}
			return nil
		})
	}
	_ = grp.Wait()

	var (
		nbad = 0
		ibad = -1
	)
	for i := range bad {
		nbad += bad[i]
		if ibad < 0 {
			ibad = first[i]
		}
	}
	if nbad > 0 {
		dev.msg.Printf("%d/%d invalid samples (first at index %d)", nbad, len(raw), ibad)
		return nil, fmt.Errorf(
			"%d/%d samples with cleared validity bit (first at index %d, word=0x%04x): %w",
			nbad, len(raw), ibad, raw[ibad], sar.ErrInvalidSample,
		)
	}

	return codes, nil
}
